package value

import "fmt"

// IDField is the mandatory key every RawEntity must carry, bound to a String.
const IDField = "id"

// Reserved column names added when a RawEntity is persisted (spec.md §3).
const (
	FieldBlockPtrNumber = "block_ptr_number"
	FieldIsDeleted      = "is_deleted"
)

// RawEntity is a mapping from field name to Value, as produced by guest code.
type RawEntity map[string]Value

// ID returns the entity's "id" field as a string, failing if it is absent or
// not a String — the InvalidValue condition from spec.md §4.5.
func (e RawEntity) ID() (string, error) {
	v, ok := e[IDField]
	if !ok {
		return "", fmt.Errorf("raw entity: missing required field %q", IDField)
	}
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("raw entity: field %q must be a String, got %s", IDField, v.Kind())
	}
	return s, nil
}

// Clone returns a shallow copy of the entity's field map; Values themselves
// are immutable once constructed so copying the map is sufficient.
func (e RawEntity) Clone() RawEntity {
	out := make(RawEntity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// WithBlockPtr returns a copy of e with the two reserved housekeeping fields
// set, as happens when a row is persisted (spec.md §3).
func (e RawEntity) WithBlockPtr(blockNumber uint64, isDeleted bool) RawEntity {
	out := e.Clone()
	out[FieldBlockPtrNumber] = NewInt8(int64(blockNumber)) //nolint:gosec // block numbers fit in int64 for the foreseeable future
	out[FieldIsDeleted] = NewBool(isDeleted)
	return out
}

// BlockPtr identifies a block in the input stream (spec.md §3).
type BlockPtr struct {
	Number     uint64
	Hash       string
	ParentHash string
}

// Equal is the structural equality defined in spec.md §3.
func (p BlockPtr) Equal(o BlockPtr) bool {
	return p.Number == o.Number && p.Hash == o.Hash && p.ParentHash == o.ParentHash
}

// IsParentOf reports whether p is the parent of c: p.Number+1 == c.Number
// and p.Hash == c.ParentHash.
func (p BlockPtr) IsParentOf(c BlockPtr) bool {
	return p.Number+1 == c.Number && p.Hash == c.ParentHash
}

func (p BlockPtr) String() string {
	return fmt.Sprintf("#%d(%s<-%s)", p.Number, p.Hash, p.ParentHash)
}

// SourceDescriptor determines which blocks/logs a guest handler is
// interested in (spec.md §3).
type SourceDescriptor struct {
	Address    *[20]byte
	ABI        string
	StartBlock *uint64
}
