package sandbox

import (
	"fmt"
	"math/big"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/goran-ethernal/subgraphd/internal/facade"
	"github.com/goran-ethernal/subgraphd/internal/guestmem"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// LogLevel mirrors index.log.log's level argument (spec.md §4.3).
type LogLevel uint32

const (
	LogCritical LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
)

func i32Type() *wasmtime.ValType { return wasmtime.NewValType(wasmtime.KindI32) }

func funcType(params, results int) *wasmtime.FuncType {
	p := make([]*wasmtime.ValType, params)
	r := make([]*wasmtime.ValType, results)
	for i := range p {
		p[i] = i32Type()
	}
	for i := range r {
		r[i] = i32Type()
	}
	return wasmtime.NewFuncType(p, r)
}

func trap(format string, args ...interface{}) *wasmtime.Trap {
	return wasmtime.NewTrap(fmt.Sprintf(format, args...))
}

// defineHostBridge registers every namespaced host function a guest module
// may import (spec.md §4.3). Each runs to completion synchronously on the
// caller's execution context; an error aborts only the current guest
// invocation via a wasm trap, not the host process.
func (s *Sandbox) defineHostBridge(linker *wasmtime.Linker) error {
	defs := []struct {
		module, name string
		ty           *wasmtime.FuncType
		fn           func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap)
	}{
		{"env", "abort", funcType(4, 0), s.hostAbort},

		{"conversion", "bytesToString", funcType(1, 1), s.hostBytesToString},
		{"conversion", "bytesToHex", funcType(1, 1), s.hostBytesToHex},
		{"conversion", "bigIntToString", funcType(1, 1), s.hostBigIntToString},
		{"conversion", "bigIntToHex", funcType(1, 1), s.hostBigIntToHex},
		{"conversion", "stringToH160", funcType(1, 1), s.hostStringToH160},
		{"conversion", "bytesToBase58", funcType(1, 1), s.hostBytesToBase58},

		{"numbers.bigInt", "plus", funcType(2, 1), s.bigIntBinOp((*big.Int).Add)},
		{"numbers.bigInt", "minus", funcType(2, 1), s.bigIntBinOp((*big.Int).Sub)},
		{"numbers.bigInt", "times", funcType(2, 1), s.bigIntBinOp((*big.Int).Mul)},
		{"numbers.bigInt", "dividedBy", funcType(2, 1), s.hostBigIntDividedBy},
		{"numbers.bigInt", "dividedByDecimal", funcType(2, 1), s.hostBigIntDividedByDecimal},
		{"numbers.bigInt", "pow", funcType(2, 1), s.hostBigIntPow},
		{"numbers.bigInt", "mod", funcType(2, 1), s.hostBigIntMod},
		{"numbers.bigInt", "fromString", funcType(1, 1), s.hostBigIntFromString},
		{"numbers.bigInt", "bitOr", funcType(2, 1), s.bigIntBinOp((*big.Int).Or)},
		{"numbers.bigInt", "bitAnd", funcType(2, 1), s.bigIntBinOp((*big.Int).And)},
		{"numbers.bigInt", "leftShift", funcType(2, 1), s.hostBigIntLeftShift},
		{"numbers.bigInt", "rightShift", funcType(2, 1), s.hostBigIntRightShift},

		{"numbers.bigDecimal", "fromString", funcType(1, 1), s.hostBigDecimalFromString},
		{"numbers.bigDecimal", "toString", funcType(1, 1), s.hostBigDecimalToString},
		{"numbers.bigDecimal", "plus", funcType(2, 1), s.bigDecimalBinOp(decimal.Decimal.Add)},
		{"numbers.bigDecimal", "minus", funcType(2, 1), s.bigDecimalBinOp(decimal.Decimal.Sub)},
		{"numbers.bigDecimal", "times", funcType(2, 1), s.bigDecimalBinOp(decimal.Decimal.Mul)},
		{"numbers.bigDecimal", "dividedBy", funcType(2, 1), s.bigDecimalBinOp(decimal.Decimal.Div)},
		{"numbers.bigDecimal", "equals", funcType(2, 1), s.hostBigDecimalEquals},

		{"index.log", "log", funcType(2, 0), s.hostLogLog},

		{"index.store", "set", funcType(3, 0), s.hostStoreSet},
		{"index.store", "get", funcType(2, 1), s.hostStoreGet},
		{"index.store", "remove", funcType(2, 0), s.hostStoreRemove},
		{"index.store", "get_in_block", funcType(2, 1), s.hostStoreGetInBlock},
		{"index.store", "load_related", funcType(3, 1), s.hostStoreLoadRelated},
	}

	for _, d := range defs {
		if err := linker.FuncNew(d.module, d.name, d.ty, d.fn); err != nil {
			return fmt.Errorf("defining %s.%s: %w", d.module, d.name, err)
		}
	}
	return nil
}

func argPtr(args []wasmtime.Val, i int) guestmem.Ptr {
	return guestmem.Ptr(uint32(args[i].I32())) //nolint:gosec
}

func okResult(p guestmem.Ptr) []wasmtime.Val {
	return []wasmtime.Val{wasmtime.ValI32(int32(p))} //nolint:gosec
}

// hostAbort terminates the current guest invocation with a fatal error
// containing the decoded message/file location (spec.md §4.3).
func (s *Sandbox) hostAbort(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	message, _ := s.mem.ReadString(argPtr(args, 0))
	file, _ := s.mem.ReadString(argPtr(args, 1))
	line := args[2].I32()
	column := args[3].I32()
	return nil, trap("guest abort: %s at %s:%d:%d", message, file, line, column)
}

func (s *Sandbox) readBigInt(p guestmem.Ptr) (*big.Int, *wasmtime.Trap) {
	size, err := s.mem.PayloadSize(p)
	if err != nil {
		return nil, trap("reading BigInt: %v", err)
	}
	bi, err := s.mem.ReadBigInt(p, size)
	if err != nil {
		return nil, trap("reading BigInt: %v", err)
	}
	return bi, nil
}

func (s *Sandbox) readBigDecimal(p guestmem.Ptr) (decimal.Decimal, *wasmtime.Trap) {
	size, err := s.mem.PayloadSize(p)
	if err != nil {
		return decimal.Decimal{}, trap("reading BigDecimal: %v", err)
	}
	bd, err := s.mem.ReadBigDecimal(p, size)
	if err != nil {
		return decimal.Decimal{}, trap("reading BigDecimal: %v", err)
	}
	return bd, nil
}

func (s *Sandbox) hostBytesToString(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	v, err := s.mem.ReadValue(argPtr(args, 0))
	if err != nil {
		return nil, trap("bytesToString: %v", err)
	}
	b, ok := v.AsBytes()
	if !ok {
		return nil, trap("bytesToString: argument is not Bytes")
	}
	p, err := s.mem.WriteString(string(b))
	if err != nil {
		return nil, trap("bytesToString: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBytesToHex(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	v, err := s.mem.ReadValue(argPtr(args, 0))
	if err != nil {
		return nil, trap("bytesToHex: %v", err)
	}
	b, ok := v.AsBytes()
	if !ok {
		return nil, trap("bytesToHex: argument is not Bytes")
	}
	p, err := s.mem.WriteString(fmt.Sprintf("0x%x", b))
	if err != nil {
		return nil, trap("bytesToHex: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntToString(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	bi, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	p, err := s.mem.WriteString(bi.String())
	if err != nil {
		return nil, trap("bigIntToString: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntToHex(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	bi, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	p, err := s.mem.WriteString(fmt.Sprintf("0x%x", bi))
	if err != nil {
		return nil, trap("bigIntToHex: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostStringToH160(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	str, err := s.mem.ReadString(argPtr(args, 0))
	if err != nil {
		return nil, trap("stringToH160: %v", err)
	}
	addr := common.HexToAddress(str)
	p, err := s.mem.WriteValue(value.NewBytes(addr.Bytes()))
	if err != nil {
		return nil, trap("stringToH160: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBytesToBase58(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	v, err := s.mem.ReadValue(argPtr(args, 0))
	if err != nil {
		return nil, trap("bytesToBase58: %v", err)
	}
	b, ok := v.AsBytes()
	if !ok {
		return nil, trap("bytesToBase58: argument is not Bytes")
	}
	p, err := s.mem.WriteString(base58.Encode(b))
	if err != nil {
		return nil, trap("bytesToBase58: %v", err)
	}
	return okResult(p), nil
}

// bigIntBinOp builds a host function for a binary math/big.Int operation
// (plus, minus, times, bitOr, bitAnd share this shape).
func (s *Sandbox) bigIntBinOp(
	op func(z, x, y *big.Int) *big.Int,
) func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	return func(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
		a, tr := s.readBigInt(argPtr(args, 0))
		if tr != nil {
			return nil, tr
		}
		b, tr := s.readBigInt(argPtr(args, 1))
		if tr != nil {
			return nil, tr
		}
		result := op(new(big.Int), a, b)
		p, err := s.mem.WriteBigInt(result)
		if err != nil {
			return nil, trap("bigInt op: %v", err)
		}
		return okResult(p), nil
	}
}

func (s *Sandbox) hostBigIntDividedBy(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	b, tr := s.readBigInt(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	if b.Sign() == 0 {
		return nil, trap("bigInt.dividedBy: division by zero")
	}
	result := new(big.Int).Quo(a, b)
	p, err := s.mem.WriteBigInt(result)
	if err != nil {
		return nil, trap("bigInt.dividedBy: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntDividedByDecimal(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	b, tr := s.readBigDecimal(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	if b.IsZero() {
		return nil, trap("bigInt.dividedByDecimal: division by zero")
	}
	result := decimal.NewFromBigInt(a, 0).Div(b)
	p, err := s.mem.WriteBigDecimal(result)
	if err != nil {
		return nil, trap("bigInt.dividedByDecimal: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntPow(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	exp, tr := s.readBigInt(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	result := new(big.Int).Exp(a, exp, nil)
	p, err := s.mem.WriteBigInt(result)
	if err != nil {
		return nil, trap("bigInt.pow: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntMod(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	b, tr := s.readBigInt(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	if b.Sign() == 0 {
		return nil, trap("bigInt.mod: division by zero")
	}
	result := new(big.Int).Mod(a, b)
	p, err := s.mem.WriteBigInt(result)
	if err != nil {
		return nil, trap("bigInt.mod: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntFromString(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	str, err := s.mem.ReadString(argPtr(args, 0))
	if err != nil {
		return nil, trap("bigInt.fromString: %v", err)
	}
	v, err := value.BigIntFromString(str)
	if err != nil {
		return nil, trap("bigInt.fromString: %v", err)
	}
	bi, _ := v.AsBigInt()
	p, err := s.mem.WriteBigInt(bi)
	if err != nil {
		return nil, trap("bigInt.fromString: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntLeftShift(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	n, tr := s.readBigInt(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	result := new(big.Int).Lsh(a, uint(n.Uint64()))
	p, err := s.mem.WriteBigInt(result)
	if err != nil {
		return nil, trap("bigInt.leftShift: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigIntRightShift(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigInt(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	n, tr := s.readBigInt(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	result := new(big.Int).Rsh(a, uint(n.Uint64()))
	p, err := s.mem.WriteBigInt(result)
	if err != nil {
		return nil, trap("bigInt.rightShift: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigDecimalFromString(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	str, err := s.mem.ReadString(argPtr(args, 0))
	if err != nil {
		return nil, trap("bigDecimal.fromString: %v", err)
	}
	v, err := value.BigDecimalFromString(str)
	if err != nil {
		return nil, trap("bigDecimal.fromString: %v", err)
	}
	bd, _ := v.AsBigDecimal()
	p, err := s.mem.WriteBigDecimal(bd)
	if err != nil {
		return nil, trap("bigDecimal.fromString: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostBigDecimalToString(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	bd, tr := s.readBigDecimal(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	p, err := s.mem.WriteString(bd.String())
	if err != nil {
		return nil, trap("bigDecimal.toString: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) bigDecimalBinOp(
	op func(d, other decimal.Decimal) decimal.Decimal,
) func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	return func(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
		a, tr := s.readBigDecimal(argPtr(args, 0))
		if tr != nil {
			return nil, tr
		}
		b, tr := s.readBigDecimal(argPtr(args, 1))
		if tr != nil {
			return nil, tr
		}
		result := op(a, b)
		p, err := s.mem.WriteBigDecimal(result)
		if err != nil {
			return nil, trap("bigDecimal op: %v", err)
		}
		return okResult(p), nil
	}
}

func (s *Sandbox) hostBigDecimalEquals(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	a, tr := s.readBigDecimal(argPtr(args, 0))
	if tr != nil {
		return nil, tr
	}
	b, tr := s.readBigDecimal(argPtr(args, 1))
	if tr != nil {
		return nil, tr
	}
	p, err := s.mem.WriteBool(a.Equal(b))
	if err != nil {
		return nil, trap("bigDecimal.equals: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) hostLogLog(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	level := LogLevel(uint32(args[0].I32())) //nolint:gosec
	message, err := s.mem.ReadString(argPtr(args, 1))
	if err != nil {
		return nil, trap("log.log: %v", err)
	}
	switch level {
	case LogCritical, LogError:
		s.log.Error(message)
	case LogWarning:
		s.log.Warn(message)
	case LogDebug:
		s.log.Debug(message)
	default:
		s.log.Info(message)
	}
	return nil, nil
}

func (s *Sandbox) readEntityTypeAndID(args []wasmtime.Val) (string, string, *wasmtime.Trap) {
	entityType, err := s.mem.ReadString(argPtr(args, 0))
	if err != nil {
		return "", "", trap("store call: %v", err)
	}
	id, err := s.mem.ReadString(argPtr(args, 1))
	if err != nil {
		return "", "", trap("store call: %v", err)
	}
	return entityType, id, nil
}

func (s *Sandbox) hostStoreSet(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	entityType, err := s.mem.ReadString(argPtr(args, 0))
	if err != nil {
		return nil, trap("store.set: %v", err)
	}
	dataVal, err := s.mem.ReadValue(argPtr(args, 2))
	if err != nil {
		return nil, trap("store.set: %v", err)
	}
	data, err := rawEntityFromValue(dataVal)
	if err != nil {
		return nil, trap("store.set: %v", err)
	}
	_, err = s.agent.Handle(facade.Request{Kind: facade.RequestCreate, EntityType: entityType, Data: data})
	if err != nil {
		return nil, trap("store.set: %v", err)
	}
	return nil, nil
}

func (s *Sandbox) hostStoreGet(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	entityType, id, tr := s.readEntityTypeAndID(args)
	if tr != nil {
		return nil, tr
	}
	resp, err := s.agent.Handle(facade.Request{Kind: facade.RequestLoad, EntityType: entityType, ID: id})
	if err != nil {
		return nil, trap("store.get: %v", err)
	}
	return s.writeEntityResponse(resp)
}

func (s *Sandbox) hostStoreRemove(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	entityType, id, tr := s.readEntityTypeAndID(args)
	if tr != nil {
		return nil, tr
	}
	if _, err := s.agent.Handle(facade.Request{Kind: facade.RequestDelete, EntityType: entityType, ID: id}); err != nil {
		return nil, trap("store.remove: %v", err)
	}
	return nil, nil
}

func (s *Sandbox) hostStoreGetInBlock(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	entityType, id, tr := s.readEntityTypeAndID(args)
	if tr != nil {
		return nil, tr
	}
	resp, err := s.agent.Handle(facade.Request{Kind: facade.RequestLoadInBlock, EntityType: entityType, ID: id})
	if err != nil {
		return nil, trap("store.get_in_block: %v", err)
	}
	return s.writeEntityResponse(resp)
}

func (s *Sandbox) hostStoreLoadRelated(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	entityType, id, tr := s.readEntityTypeAndID(args)
	if tr != nil {
		return nil, tr
	}
	field, err := s.mem.ReadString(argPtr(args, 2))
	if err != nil {
		return nil, trap("store.load_related: %v", err)
	}
	resp, err := s.agent.Handle(facade.Request{
		Kind: facade.RequestLoadRelated, EntityType: entityType, ID: id, Field: field,
	})
	if err != nil {
		return nil, trap("store.load_related: %v", err)
	}
	elems := make([]value.Value, len(resp.Related))
	for i, e := range resp.Related {
		elems[i] = rawEntityToValue(e)
	}
	p, err := s.mem.WriteValue(value.NewList(elems))
	if err != nil {
		return nil, trap("store.load_related: %v", err)
	}
	return okResult(p), nil
}

func (s *Sandbox) writeEntityResponse(resp facade.Response) ([]wasmtime.Val, *wasmtime.Trap) {
	if !resp.Found {
		return okResult(guestmem.Null), nil
	}
	p, err := s.mem.WriteValue(rawEntityToValue(resp.Entity))
	if err != nil {
		return nil, trap("store call: %v", err)
	}
	return okResult(p), nil
}

// rawEntityFromValue and rawEntityToValue bridge between the guest-visible
// tagged Value encoding of a field map and pkg/value.RawEntity, using a
// Map<string,Value>-shaped List<List<Value>> of [key, value] pairs so the
// existing List layout carries entities without a dedicated Map codec.
func rawEntityFromValue(v value.Value) (value.RawEntity, error) {
	return ValueToEntity(v)
}

func rawEntityToValue(e value.RawEntity) value.Value {
	return EntityToValue(e)
}

// ValueToEntity is the exported form of rawEntityFromValue: it reads an
// entity value written in the [key, value] pair-list encoding that
// EntityToValue produces. No other package in this repo calls it.
func ValueToEntity(v value.Value) (value.RawEntity, error) {
	pairs, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("entity value must be a List of [key, value] pairs")
	}
	out := make(value.RawEntity, len(pairs))
	for _, pair := range pairs {
		kv, ok := pair.AsList()
		if !ok || len(kv) != 2 {
			return nil, fmt.Errorf("entity field entry must be a 2-element List")
		}
		key, ok := kv[0].AsString()
		if !ok {
			return nil, fmt.Errorf("entity field key must be a String")
		}
		out[key] = kv[1]
	}
	return out, nil
}

// EntityToValue is the exported form of rawEntityToValue, used by callers
// outside this package (internal/pipeline) that need to write a RawEntity
// into guest memory ahead of a handler invocation.
func EntityToValue(e value.RawEntity) value.Value {
	pairs := make([]value.Value, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, value.NewList([]value.Value{value.NewString(k), v}))
	}
	return value.NewList(pairs)
}
