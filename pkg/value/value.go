// Package value defines the canonical tagged Value type that flows between
// the chain decoders, the guest sandbox, and the entity stores.
package value

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Kind identifies a Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindInt8
	KindBigInt
	KindBigDecimal
	KindBool
	KindBytes
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	case KindInt8:
		return "Int8"
	case KindBigInt:
		return "BigInt"
	case KindBigDecimal:
		return "BigDecimal"
	case KindBool:
		return "Bool"
	case KindBytes:
		return "Bytes"
	case KindList:
		return "List"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind resolves a Kind by its String() name, used by schema file
// loading to turn "Int8"/"BigDecimal"/etc. text into a Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range []Kind{
		KindNull, KindString, KindInt, KindInt8, KindBigInt,
		KindBigDecimal, KindBool, KindBytes, KindList,
	} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("value: unknown kind %q", name)
}

// Value is the tagged sum type described in spec.md §3. Only the field
// matching Kind is meaningful; callers must not read other fields.
type Value struct {
	kind    Kind
	str     string
	i32     int32
	i64     int64
	bigInt  *big.Int
	bigDec  decimal.Decimal
	boolean bool
	bytes   []byte
	list    []Value
}

func Null() Value                { return Value{kind: KindNull} }
func NewString(s string) Value   { return Value{kind: KindString, str: s} }
func NewInt(i int32) Value       { return Value{kind: KindInt, i32: i} }
func NewInt8(i int64) Value      { return Value{kind: KindInt8, i64: i} }
func NewBool(b bool) Value       { return Value{kind: KindBool, boolean: b} }
func NewBytes(b []byte) Value    { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func NewList(vs []Value) Value   { return Value{kind: KindList, list: vs} }

func NewBigInt(i *big.Int) Value {
	if i == nil {
		return Value{kind: KindBigInt, bigInt: big.NewInt(0)}
	}
	return Value{kind: KindBigInt, bigInt: new(big.Int).Set(i)}
}

func NewBigDecimal(d decimal.Decimal) Value {
	return Value{kind: KindBigDecimal, bigDec: d}
}

// BigIntFromString parses a decimal-string serialized BigInt per spec.md §3.
func BigIntFromString(s string) (Value, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Value{}, fmt.Errorf("value: invalid BigInt literal %q", s)
	}
	return NewBigInt(i), nil
}

// BigDecimalFromString parses a decimal-string serialized BigDecimal.
func BigDecimalFromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("value: invalid BigDecimal literal %q: %w", s, err)
	}
	return NewBigDecimal(d), nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsInt() (int32, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i32, true
}

func (v Value) AsInt8() (int64, bool) {
	if v.kind != KindInt8 {
		return 0, false
	}
	return v.i64, true
}

func (v Value) AsBigInt() (*big.Int, bool) {
	if v.kind != KindBigInt {
		return nil, false
	}
	return new(big.Int).Set(v.bigInt), true
}

func (v Value) AsBigDecimal() (decimal.Decimal, bool) {
	if v.kind != KindBigDecimal {
		return decimal.Decimal{}, false
	}
	return v.bigDec, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return append([]byte(nil), v.bytes...), true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Equal implements the structural equality required by spec.md §3: same
// variant, same content. Lists compare element-wise and recursively.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.i32 == o.i32
	case KindInt8:
		return v.i64 == o.i64
	case KindBigInt:
		return v.bigInt.Cmp(o.bigInt) == 0
	case KindBigDecimal:
		return v.bigDec.Equal(o.bigDec)
	case KindBool:
		return v.boolean == o.boolean
	case KindBytes:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a debug representation; not used for wire or storage
// serialization.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.i32)
	case KindInt8:
		return fmt.Sprintf("%d", v.i64)
	case KindBigInt:
		return v.bigInt.String()
	case KindBigDecimal:
		return v.bigDec.String()
	case KindBool:
		return fmt.Sprintf("%t", v.boolean)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.bytes)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	default:
		return "<invalid>"
	}
}
