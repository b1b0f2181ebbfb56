package value

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestKindStringAndParseKindRoundTrip(t *testing.T) {
	kinds := []Kind{
		KindNull, KindString, KindInt, KindInt8, KindBigInt,
		KindBigDecimal, KindBool, KindBytes, KindList,
	}
	for _, k := range kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
}

func TestParseKindRejectsUnknownName(t *testing.T) {
	_, err := ParseKind("NotAKind")
	require.Error(t, err)
}

func TestValueEqual(t *testing.T) {
	cases := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"same string", NewString("x"), NewString("x"), true},
		{"different string", NewString("x"), NewString("y"), false},
		{"different kind", NewInt(1), NewInt8(1), false},
		{"same bigint", NewBigInt(big.NewInt(42)), NewBigInt(big.NewInt(42)), true},
		{"different bigint", NewBigInt(big.NewInt(42)), NewBigInt(big.NewInt(43)), false},
		{"same bigdecimal", NewBigDecimal(decimal.RequireFromString("1.50")), NewBigDecimal(decimal.RequireFromString("1.5")), true},
		{"same bytes", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 2}), true},
		{"different length bytes", NewBytes([]byte{1, 2}), NewBytes([]byte{1}), false},
		{"same list", NewList([]Value{NewInt(1), NewString("a")}), NewList([]Value{NewInt(1), NewString("a")}), true},
		{"different length list", NewList([]Value{NewInt(1)}), NewList([]Value{NewInt(1), NewInt(2)}), false},
		{"null equals null", Null(), Null(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.equal, tc.a.Equal(tc.b))
		})
	}
}

func TestNewBigIntNilIsZero(t *testing.T) {
	v := NewBigInt(nil)
	bi, ok := v.AsBigInt()
	require.True(t, ok)
	require.Equal(t, 0, bi.Sign())
}

func TestAsBigIntReturnsIndependentCopy(t *testing.T) {
	src := big.NewInt(7)
	v := NewBigInt(src)
	src.SetInt64(99)

	got, ok := v.AsBigInt()
	require.True(t, ok)
	require.Equal(t, int64(7), got.Int64(), "NewBigInt must copy, not alias, its argument")

	got.SetInt64(123)
	got2, _ := v.AsBigInt()
	require.Equal(t, int64(7), got2.Int64(), "AsBigInt must return a fresh copy each call")
}

func TestAccessorsFailOnWrongKind(t *testing.T) {
	v := NewString("hi")

	_, ok := v.AsInt()
	require.False(t, ok)
	_, ok = v.AsBigInt()
	require.False(t, ok)
	_, ok = v.AsBool()
	require.False(t, ok)
	_, ok = v.AsBytes()
	require.False(t, ok)
	_, ok = v.AsList()
	require.False(t, ok)
}

func TestBigIntFromStringRoundTrip(t *testing.T) {
	v, err := BigIntFromString("-123456789012345678901234567890")
	require.NoError(t, err)
	bi, ok := v.AsBigInt()
	require.True(t, ok)
	require.Equal(t, "-123456789012345678901234567890", bi.String())

	_, err = BigIntFromString("not-a-number")
	require.Error(t, err)
}

func TestBigDecimalFromStringRoundTrip(t *testing.T) {
	v, err := BigDecimalFromString("3.14159")
	require.NoError(t, err)
	bd, ok := v.AsBigDecimal()
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("3.14159").Equal(bd))

	_, err = BigDecimalFromString("not-a-decimal")
	require.Error(t, err)
}

func TestRawEntityIDRequiresStringField(t *testing.T) {
	_, err := RawEntity{}.ID()
	require.Error(t, err)

	_, err = RawEntity{"id": NewInt(1)}.ID()
	require.Error(t, err)

	id, err := RawEntity{"id": NewString("a1")}.ID()
	require.NoError(t, err)
	require.Equal(t, "a1", id)
}

func TestRawEntityCloneIsIndependent(t *testing.T) {
	e := RawEntity{"id": NewString("a1")}
	clone := e.Clone()
	clone["id"] = NewString("a2")

	require.Equal(t, "a1", e["id"].String())
	require.Equal(t, "a2", clone["id"].String())
}

func TestRawEntityWithBlockPtr(t *testing.T) {
	e := RawEntity{"id": NewString("a1")}
	got := e.WithBlockPtr(42, true)

	num, ok := got[FieldBlockPtrNumber].AsInt8()
	require.True(t, ok)
	require.Equal(t, int64(42), num)
	deleted, ok := got[FieldIsDeleted].AsBool()
	require.True(t, ok)
	require.True(t, deleted)

	_, hasBlockPtr := e[FieldBlockPtrNumber]
	require.False(t, hasBlockPtr, "WithBlockPtr must not mutate the receiver")
}

func TestBlockPtrEqualAndIsParentOf(t *testing.T) {
	genesis := BlockPtr{Number: 0, Hash: "h0", ParentHash: ""}
	child := BlockPtr{Number: 1, Hash: "h1", ParentHash: "h0"}
	unrelated := BlockPtr{Number: 1, Hash: "h1", ParentHash: "other"}

	require.True(t, genesis.Equal(BlockPtr{Number: 0, Hash: "h0", ParentHash: ""}))
	require.False(t, genesis.Equal(child))

	require.True(t, genesis.IsParentOf(child))
	require.False(t, genesis.IsParentOf(unrelated))
	require.False(t, child.IsParentOf(genesis))
}
