package guestmem

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"unicode/utf16"

	"github.com/shopspring/decimal"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// TypeIDResolver maps a registered layout name to the stable IndexAscTypeId
// the APIHeader allocator protocol requires (spec.md §4.2: "Every
// heap-resident type declares a stable IndexAscTypeId"). Host-allocated
// objects without a registered id must fail allocation.
type TypeIDResolver interface {
	TypeID(layout string) (uint32, error)
}

// StaticTypeIDs is a TypeIDResolver backed by a fixed table, the shape a
// compiled subgraph manifest provides (one id per layout it declares).
type StaticTypeIDs map[string]uint32

func (t StaticTypeIDs) TypeID(layout string) (uint32, error) {
	id, ok := t[layout]
	if !ok {
		return 0, fmt.Errorf("guestmem: layout %q has no registered type id", layout)
	}
	return id, nil
}

// Allocator drives the guest's allocator entry point. Its shape is version
// dependent (spec.md §4.2): under APILegacy Memory requests exactly the
// object size; under APIHeader it requests the object size plus the fixed
// header, writes the header itself and uses the address just past it.
// APIHeader also requires the guest's start export to have run once after
// instantiation.
type Allocator func(size uint32) (Ptr, error)

// Memory is an accessor over one guest instance's linear memory, bound to
// its allocator and (for APIHeader) type-id resolver.
type Memory struct {
	data    []byte
	version APIVersion
	alloc   Allocator
	types   TypeIDResolver
}

// New wraps data (the live-mapped bytes of a guest instance's linear
// memory) with the allocation protocol selected by version.
func New(data []byte, version APIVersion, alloc Allocator, types TypeIDResolver) *Memory {
	return &Memory{data: data, version: version, alloc: alloc, types: types}
}

// Rebind refreshes the backing slice after the guest's memory has grown
// (wasmtime may reallocate the linear memory's backing array on growth).
func (m *Memory) Rebind(data []byte) { m.data = data }

func (m *Memory) bounds(offset Ptr, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(len(m.data)) {
		return newErr(ErrOutOfBounds, offset, fmt.Sprintf("size %d exceeds memory length %d", size, len(m.data)))
	}
	return nil
}

func (m *Memory) readBytes(offset Ptr, size uint32) ([]byte, error) {
	if err := m.bounds(offset, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, m.data[offset:uint32(offset)+size])
	return out, nil
}

func (m *Memory) writeBytes(offset Ptr, data []byte) error {
	if err := m.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

// allocate obtains size bytes of guest memory, writing the APIHeader
// header first when the bound protocol requires one (spec.md §4.2).
func (m *Memory) allocate(size uint32, layout string) (Ptr, error) {
	switch m.version {
	case APILegacy:
		return m.alloc(size)
	case APIHeader:
		typeID, err := m.types.TypeID(layout)
		if err != nil {
			return Null, err
		}
		total := headerSize + size
		base, err := m.alloc(total)
		if err != nil {
			return Null, err
		}
		header := Header{MMInfo: 0, GCInfo: 0, TypeID: typeID, ByteSize: size}
		if err := m.writeHeader(base, header); err != nil {
			return Null, err
		}
		return base + headerSize, nil
	default:
		return Null, fmt.Errorf("guestmem: unknown api version %d", m.version)
	}
}

func (m *Memory) writeHeader(base Ptr, h Header) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.MMInfo)
	binary.LittleEndian.PutUint32(buf[4:8], h.GCInfo)
	binary.LittleEndian.PutUint32(buf[8:12], h.TypeID)
	binary.LittleEndian.PutUint32(buf[12:16], h.ByteSize)
	return m.writeBytes(base, buf)
}

// ReadHeader reads the header preceding a payload pointer under APIHeader;
// it fails with ErrVersionMismatch under APILegacy, which has no header.
func (m *Memory) ReadHeader(payload Ptr) (Header, error) {
	if m.version != APIHeader {
		return Header{}, newErr(ErrVersionMismatch, payload, "header read requires API >= 0.0.5")
	}
	base := payload - headerSize
	raw, err := m.readBytes(base, headerSize)
	if err != nil {
		return Header{}, err
	}
	return Header{
		MMInfo:   binary.LittleEndian.Uint32(raw[0:4]),
		GCInfo:   binary.LittleEndian.Uint32(raw[4:8]),
		TypeID:   binary.LittleEndian.Uint32(raw[8:12]),
		ByteSize: binary.LittleEndian.Uint32(raw[12:16]),
	}, nil
}

// --- Primitive scalars ---

// WriteUint32 allocates and writes a little-endian u32, returning its
// pointer.
func (m *Memory) WriteUint32(v uint32) (Ptr, error) {
	p, err := m.allocate(4, "u32")
	if err != nil {
		return Null, err
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	if err := m.writeBytes(p, buf); err != nil {
		return Null, err
	}
	return p, nil
}

// ReadUint32 reads a little-endian u32 at p.
func (m *Memory) ReadUint32(p Ptr) (uint32, error) {
	raw, err := m.readBytes(p, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// WriteBool allocates and writes a 1-byte bool, padded per alignment
// (spec.md §4.2: "bool as 1 byte padded per alignment").
func (m *Memory) WriteBool(v bool) (Ptr, error) {
	p, err := m.allocate(1, "bool")
	if err != nil {
		return Null, err
	}
	b := byte(0)
	if v {
		b = 1
	}
	if err := m.writeBytes(p, []byte{b}); err != nil {
		return Null, err
	}
	return p, nil
}

// ReadBool reads a 1-byte bool at p.
func (m *Memory) ReadBool(p Ptr) (bool, error) {
	raw, err := m.readBytes(p, 1)
	if err != nil {
		return false, err
	}
	return raw[0] != 0, nil
}

// --- String (UTF-16) ---

// stringLengthPrefixSize is the byte size of the length prefix written
// before a string's UTF-16 code units under APILegacy, which has no header
// to carry byte_size (spec.md §4.2).
const stringLengthPrefixSize = 4

// WriteString encodes s as UTF-16 code units and writes it per the bound
// version's layout: a length prefix under APILegacy, or relying on the
// header's byte_size under APIHeader (spec.md §4.2).
func (m *Memory) WriteString(s string) (Ptr, error) {
	units := utf16.Encode([]rune(s))
	payload := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(payload[i*2:i*2+2], u)
	}

	switch m.version {
	case APILegacy:
		p, err := m.allocate(stringLengthPrefixSize+uint32(len(payload)), "string")
		if err != nil {
			return Null, err
		}
		lenBuf := make([]byte, stringLengthPrefixSize)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(units)))
		if err := m.writeBytes(p, lenBuf); err != nil {
			return Null, err
		}
		if err := m.writeBytes(p+stringLengthPrefixSize, payload); err != nil {
			return Null, err
		}
		return p + stringLengthPrefixSize, nil
	case APIHeader:
		p, err := m.allocate(uint32(len(payload)), "string")
		if err != nil {
			return Null, err
		}
		if err := m.writeBytes(p, payload); err != nil {
			return Null, err
		}
		return p, nil
	default:
		return Null, fmt.Errorf("guestmem: unknown api version %d", m.version)
	}
}

// ReadString decodes the UTF-16 string at p, taking its length from the
// version-appropriate source (spec.md §4.2).
func (m *Memory) ReadString(p Ptr) (string, error) {
	var byteLen uint32
	switch m.version {
	case APILegacy:
		lenBuf, err := m.readBytes(p-stringLengthPrefixSize, stringLengthPrefixSize)
		if err != nil {
			return "", err
		}
		byteLen = binary.LittleEndian.Uint32(lenBuf) * 2
	case APIHeader:
		h, err := m.ReadHeader(p)
		if err != nil {
			return "", err
		}
		byteLen = h.ByteSize
	default:
		return "", fmt.Errorf("guestmem: unknown api version %d", m.version)
	}

	if byteLen%2 != 0 {
		return "", newErr(ErrUTF16Decode, p, "odd byte length cannot hold whole UTF-16 units")
	}
	raw, err := m.readBytes(p, byteLen)
	if err != nil {
		return "", err
	}
	units := make([]uint16, byteLen/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

// --- BigInt / BigDecimal ---
//
// Carried as byte arrays of the numeric magnitude plus sign metadata;
// textual serialization is reserved for backend storage only (spec.md
// §4.2). The sign is folded into one leading byte, magnitude follows
// big-endian, matching the layout go-ethereum's math/big helpers already
// use for ABI-decoded values.

// legacyLengthPrefixSize is the byte size of the length prefix written
// before a variable-length payload (BigInt, BigDecimal, raw Bytes) under
// APILegacy, which has no header to carry byte_size — the same technique
// WriteString/ReadString already use for strings.
const legacyLengthPrefixSize = 4

// writeSized allocates payload under layout, returning a pointer to its
// first byte: under APILegacy the allocation is prefixed with payload's
// byte length so the size can be recovered on read; under APIHeader the
// header's byte_size already carries it (spec.md §4.2).
func (m *Memory) writeSized(payload []byte, layout string) (Ptr, error) {
	switch m.version {
	case APILegacy:
		p, err := m.allocate(legacyLengthPrefixSize+uint32(len(payload)), layout)
		if err != nil {
			return Null, err
		}
		lenBuf := make([]byte, legacyLengthPrefixSize)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
		if err := m.writeBytes(p, lenBuf); err != nil {
			return Null, err
		}
		if err := m.writeBytes(p+legacyLengthPrefixSize, payload); err != nil {
			return Null, err
		}
		return p + legacyLengthPrefixSize, nil
	case APIHeader:
		p, err := m.allocate(uint32(len(payload)), layout)
		if err != nil {
			return Null, err
		}
		if err := m.writeBytes(p, payload); err != nil {
			return Null, err
		}
		return p, nil
	default:
		return Null, fmt.Errorf("guestmem: unknown api version %d", m.version)
	}
}

// PayloadSize recovers the byte size of a writeSized payload at p, from the
// APILegacy length prefix or the APIHeader header's byte_size.
func (m *Memory) PayloadSize(p Ptr) (uint32, error) {
	switch m.version {
	case APILegacy:
		lenBuf, err := m.readBytes(p-legacyLengthPrefixSize, legacyLengthPrefixSize)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(lenBuf), nil
	case APIHeader:
		h, err := m.ReadHeader(p)
		if err != nil {
			return 0, err
		}
		return h.ByteSize, nil
	default:
		return 0, fmt.Errorf("guestmem: unknown api version %d", m.version)
	}
}

// WriteBigInt allocates and writes i as [sign byte][big-endian magnitude].
func (m *Memory) WriteBigInt(i *big.Int) (Ptr, error) {
	sign := byte(0)
	if i.Sign() < 0 {
		sign = 1
	}
	mag := new(big.Int).Abs(i).Bytes()
	payload := append([]byte{sign}, mag...)

	return m.writeSized(payload, "bigint")
}

// ReadBigInt reads the [sign byte][magnitude] layout written by WriteBigInt.
func (m *Memory) ReadBigInt(p Ptr, byteSize uint32) (*big.Int, error) {
	raw, err := m.readBytes(p, byteSize)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, newErr(ErrMisSizedRead, p, "empty BigInt payload")
	}
	mag := new(big.Int).SetBytes(raw[1:])
	if raw[0] != 0 {
		mag.Neg(mag)
	}
	return mag, nil
}

// WriteBigDecimal allocates and writes d as [sign byte][exponent
// i32][big-endian unscaled magnitude], mirroring WriteBigInt's layout with
// an added exponent field.
func (m *Memory) WriteBigDecimal(d decimal.Decimal) (Ptr, error) {
	coeff := d.Coefficient()
	sign := byte(0)
	if coeff.Sign() < 0 {
		sign = 1
	}
	mag := new(big.Int).Abs(coeff).Bytes()

	payload := make([]byte, 0, 1+4+len(mag))
	payload = append(payload, sign)
	expBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(expBuf, uint32(d.Exponent())) //nolint:gosec // exponents stay within int32 range
	payload = append(payload, expBuf...)
	payload = append(payload, mag...)

	return m.writeSized(payload, "bigdecimal")
}

// ReadBigDecimal reads the layout written by WriteBigDecimal.
func (m *Memory) ReadBigDecimal(p Ptr, byteSize uint32) (decimal.Decimal, error) {
	raw, err := m.readBytes(p, byteSize)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(raw) < 5 {
		return decimal.Decimal{}, newErr(ErrMisSizedRead, p, "BigDecimal payload shorter than sign+exponent prefix")
	}
	exponent := int32(binary.LittleEndian.Uint32(raw[1:5])) //nolint:gosec
	mag := new(big.Int).SetBytes(raw[5:])
	if raw[0] != 0 {
		mag.Neg(mag)
	}
	return decimal.NewFromBigInt(mag, exponent), nil
}

// --- Array<T> ---

// Array is the { buffer: P<bytes>, buffer_start: u32, length: u32 } layout
// of spec.md §4.2, with elements of elemSize laid out contiguously from
// buffer_start.
type Array struct {
	Buffer      Ptr
	BufferStart uint32
	Length      uint32
}

const arrayHeaderSize = 12

// WriteArray allocates the Array header for a contiguous elements buffer
// already written at buffer.
func (m *Memory) WriteArray(buffer Ptr, length uint32) (Ptr, error) {
	p, err := m.allocate(arrayHeaderSize, "array")
	if err != nil {
		return Null, err
	}
	buf := make([]byte, arrayHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(buffer))
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint32(buf[8:12], length)
	if err := m.writeBytes(p, buf); err != nil {
		return Null, err
	}
	return p, nil
}

// ReadArray reads the Array header at p.
func (m *Memory) ReadArray(p Ptr) (Array, error) {
	raw, err := m.readBytes(p, arrayHeaderSize)
	if err != nil {
		return Array{}, err
	}
	return Array{
		Buffer:      Ptr(binary.LittleEndian.Uint32(raw[0:4])),
		BufferStart: binary.LittleEndian.Uint32(raw[4:8]),
		Length:      binary.LittleEndian.Uint32(raw[8:12]),
	}, nil
}

// --- Tagged Value ---

// valueHeaderSize is the byte size of the { kind: u32, data: u64-or-pointer
// } tagged Value layout (spec.md §4.2).
const valueHeaderSize = 12

// WriteValue encodes a pkg/value.Value as the tagged layout: a u32 kind tag
// followed by either an inline 8-byte scalar or a pointer to out-of-line
// data (strings, bignums, lists).
func (m *Memory) WriteValue(v value.Value) (Ptr, error) {
	var data uint64
	switch v.Kind() {
	case value.KindNull:
		data = 0
	case value.KindInt:
		i, _ := v.AsInt()
		data = uint64(uint32(i)) //nolint:gosec
	case value.KindInt8:
		i, _ := v.AsInt8()
		data = uint64(i) //nolint:gosec
	case value.KindBool:
		b, _ := v.AsBool()
		if b {
			data = 1
		}
	case value.KindString:
		s, _ := v.AsString()
		p, err := m.WriteString(s)
		if err != nil {
			return Null, err
		}
		data = uint64(p)
	case value.KindBigInt:
		bi, _ := v.AsBigInt()
		p, err := m.WriteBigInt(bi)
		if err != nil {
			return Null, err
		}
		data = uint64(p)
	case value.KindBigDecimal:
		bd, _ := v.AsBigDecimal()
		p, err := m.WriteBigDecimal(bd)
		if err != nil {
			return Null, err
		}
		data = uint64(p)
	case value.KindBytes:
		b, _ := v.AsBytes()
		p, err := m.writeRawBytes(b)
		if err != nil {
			return Null, err
		}
		data = uint64(p)
	case value.KindList:
		list, _ := v.AsList()
		p, err := m.writeValueList(list)
		if err != nil {
			return Null, err
		}
		data = uint64(p)
	default:
		return Null, fmt.Errorf("guestmem: unsupported value kind %s", v.Kind())
	}

	p, err := m.allocate(valueHeaderSize, "value")
	if err != nil {
		return Null, err
	}
	buf := make([]byte, valueHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Kind()))
	binary.LittleEndian.PutUint64(buf[4:12], data)
	if err := m.writeBytes(p, buf); err != nil {
		return Null, err
	}
	return p, nil
}

func (m *Memory) writeRawBytes(b []byte) (Ptr, error) {
	return m.writeSized(b, "bytes")
}

func (m *Memory) writeValueList(list []value.Value) (Ptr, error) {
	elemPtrs := make([]byte, len(list)*4)
	for i, elem := range list {
		p, err := m.WriteValue(elem)
		if err != nil {
			return Null, err
		}
		binary.LittleEndian.PutUint32(elemPtrs[i*4:i*4+4], uint32(p))
	}
	buffer, err := m.writeRawBytes(elemPtrs)
	if err != nil {
		return Null, err
	}
	return m.WriteArray(buffer, uint32(len(list)))
}

// ReadValue decodes the tagged layout at p back into a pkg/value.Value.
func (m *Memory) ReadValue(p Ptr) (value.Value, error) {
	raw, err := m.readBytes(p, valueHeaderSize)
	if err != nil {
		return value.Value{}, err
	}
	kind := value.Kind(binary.LittleEndian.Uint32(raw[0:4]))
	data := binary.LittleEndian.Uint64(raw[4:12])

	switch kind {
	case value.KindNull:
		return value.Null(), nil
	case value.KindInt:
		return value.NewInt(int32(uint32(data))), nil
	case value.KindInt8:
		return value.NewInt8(int64(data)), nil
	case value.KindBool:
		return value.NewBool(data != 0), nil
	case value.KindString:
		s, err := m.ReadString(Ptr(data))
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(s), nil
	case value.KindBigInt:
		size, err := m.PayloadSize(Ptr(data))
		if err != nil {
			return value.Value{}, err
		}
		bi, err := m.ReadBigInt(Ptr(data), size)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBigInt(bi), nil
	case value.KindBigDecimal:
		size, err := m.PayloadSize(Ptr(data))
		if err != nil {
			return value.Value{}, err
		}
		bd, err := m.ReadBigDecimal(Ptr(data), size)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBigDecimal(bd), nil
	case value.KindBytes:
		size, err := m.PayloadSize(Ptr(data))
		if err != nil {
			return value.Value{}, err
		}
		b, err := m.readBytes(Ptr(data), size)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBytes(b), nil
	case value.KindList:
		arr, err := m.ReadArray(Ptr(data))
		if err != nil {
			return value.Value{}, err
		}
		elemPtrs, err := m.readBytes(arr.Buffer+Ptr(arr.BufferStart), arr.Length*4)
		if err != nil {
			return value.Value{}, err
		}
		elems := make([]value.Value, arr.Length)
		for i := range elems {
			elemPtr := Ptr(binary.LittleEndian.Uint32(elemPtrs[i*4 : i*4+4]))
			ev, err := m.ReadValue(elemPtr)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = ev
		}
		return value.NewList(elems), nil
	default:
		return value.Value{}, fmt.Errorf("guestmem: unsupported value kind tag %d", kind)
	}
}
