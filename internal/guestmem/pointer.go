// Package guestmem implements the Guest Memory & Pointer Layer: reading and
// writing canonical byte images in a guest program's linear memory through
// typed offsets, and driving the version-dependent allocator protocol
// (spec.md §4.2).
package guestmem

import "fmt"

// Ptr is a guest offset into linear memory. The zero value is Null.
type Ptr uint32

// Null is the zero offset, used as the guest-side nil value.
const Null Ptr = 0

// IsNull reports whether p is the null pointer.
func (p Ptr) IsNull() bool { return p == Null }

// APIVersion selects which allocator protocol a guest module speaks
// (spec.md §4.2 "Version-dependent allocation protocol").
type APIVersion int

const (
	// APILegacy covers API <= 0.0.4: allocator symbol memory.allocate, no
	// typed headers, no type-id resolver, no explicit start call.
	APILegacy APIVersion = iota
	// APIHeader covers API >= 0.0.5: allocator symbol allocate, a fixed
	// header precedes every heap object, and a type-id resolver plus a
	// start export are required.
	APIHeader
)

// ParseAPIVersion maps a manifest-declared apiVersion string to an
// APIVersion, splitting at the 0.0.5 boundary named in spec.md §4.2.
func ParseAPIVersion(s string) (APIVersion, error) {
	switch s {
	case "0.0.1", "0.0.2", "0.0.3", "0.0.4":
		return APILegacy, nil
	case "":
		return APIHeader, nil
	default:
		// Any version string at or above 0.0.5 takes the header protocol;
		// manifests in the wild use a handful of patch releases beyond
		// 0.0.5 and all of them keep the header shape, so anything not in
		// the legacy list above is treated as APIHeader.
		return APIHeader, nil
	}
}

// headerSize is the byte size of the [mm_info, gc_info, type_id, byte_size]
// header that precedes every heap object under APIHeader (spec.md §4.2).
const headerSize = 16

// Header is the fixed prefix written before every heap-resident object
// under the API >= 0.0.5 allocator protocol.
type Header struct {
	MMInfo   uint32
	GCInfo   uint32
	TypeID   uint32
	ByteSize uint32
}

// ErrorKind distinguishes the host<->guest memory error conditions named in
// spec.md §4.2.
type ErrorKind int

const (
	ErrOutOfBounds ErrorKind = iota
	ErrMisSizedRead
	ErrVersionMismatch
	ErrUTF16Decode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOutOfBounds:
		return "out-of-bounds offset"
	case ErrMisSizedRead:
		return "mis-sized read"
	case ErrVersionMismatch:
		return "version-mismatched layout"
	case ErrUTF16Decode:
		return "UTF-16 decode failure"
	default:
		return "unknown guest memory error"
	}
}

// Error is a host<->guest memory access failure.
type Error struct {
	Kind   ErrorKind
	Offset Ptr
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("guestmem: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("guestmem: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func newErr(kind ErrorKind, offset Ptr, detail string) error {
	return &Error{Kind: kind, Offset: offset, Detail: detail}
}
