package guestmem

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// newTestMemory returns a Memory backed by a fixed arena and a bump
// allocator, for both allocator protocols named in spec.md §4.2.
func newTestMemory(t *testing.T, version APIVersion) *Memory {
	t.Helper()
	buf := make([]byte, 1<<20)
	var cursor uint32
	alloc := func(size uint32) (Ptr, error) {
		p := cursor
		cursor += size
		return Ptr(p), nil
	}
	types := StaticTypeIDs{
		"u32": 1, "bool": 2, "string": 3, "bigint": 4,
		"bigdecimal": 5, "bytes": 6, "array": 7, "value": 8,
	}
	return New(buf, version, alloc, types)
}

// TestPointerRoundTripAllKinds exercises spec.md §8's Pointer round-trip
// property — read(write(v)) == v — for every Value Kind, under both
// allocator protocols.
func TestPointerRoundTripAllKinds(t *testing.T) {
	cases := []struct {
		name string
		v    value.Value
	}{
		{"null", value.Null()},
		{"string", value.NewString("hello, subgraph")},
		{"empty string", value.NewString("")},
		{"int", value.NewInt(-42)},
		{"int8", value.NewInt8(1234567890123)},
		{"bool true", value.NewBool(true)},
		{"bool false", value.NewBool(false)},
		{"bigint positive", value.NewBigInt(big.NewInt(123456789))},
		{"bigint negative", value.NewBigInt(big.NewInt(-987654321))},
		{"bigint zero", value.NewBigInt(big.NewInt(0))},
		{"bigdecimal", value.NewBigDecimal(decimal.RequireFromString("-123.456"))},
		{"bytes", value.NewBytes([]byte{0xde, 0xad, 0xbe, 0xef})},
		{"empty bytes", value.NewBytes(nil)},
		{"list", value.NewList([]value.Value{
			value.NewString("a"),
			value.NewInt(7),
			value.NewBigInt(big.NewInt(42)),
		})},
	}

	for _, version := range []APIVersion{APILegacy, APIHeader} {
		version := version
		for _, tc := range cases {
			tc := tc
			t.Run(versionName(version)+"/"+tc.name, func(t *testing.T) {
				m := newTestMemory(t, version)
				p, err := m.WriteValue(tc.v)
				require.NoError(t, err)

				got, err := m.ReadValue(p)
				require.NoError(t, err)
				requireValueEqual(t, tc.v, got)
			})
		}
	}
}

func versionName(v APIVersion) string {
	if v == APILegacy {
		return "APILegacy"
	}
	return "APIHeader"
}

func requireValueEqual(t *testing.T, want, got value.Value) {
	t.Helper()
	require.Equal(t, want.Kind(), got.Kind())
	switch want.Kind() {
	case value.KindNull:
	case value.KindString:
		ws, _ := want.AsString()
		gs, _ := got.AsString()
		require.Equal(t, ws, gs)
	case value.KindInt:
		wi, _ := want.AsInt()
		gi, _ := got.AsInt()
		require.Equal(t, wi, gi)
	case value.KindInt8:
		wi, _ := want.AsInt8()
		gi, _ := got.AsInt8()
		require.Equal(t, wi, gi)
	case value.KindBool:
		wb, _ := want.AsBool()
		gb, _ := got.AsBool()
		require.Equal(t, wb, gb)
	case value.KindBigInt:
		wi, _ := want.AsBigInt()
		gi, _ := got.AsBigInt()
		require.Equal(t, 0, wi.Cmp(gi))
	case value.KindBigDecimal:
		wd, _ := want.AsBigDecimal()
		gd, _ := got.AsBigDecimal()
		require.True(t, wd.Equal(gd))
	case value.KindBytes:
		wb, _ := want.AsBytes()
		gb, _ := got.AsBytes()
		require.Equal(t, wb, gb)
	case value.KindList:
		wl, _ := want.AsList()
		gl, _ := got.AsList()
		require.Len(t, gl, len(wl))
		for i := range wl {
			requireValueEqual(t, wl[i], gl[i])
		}
	}
}

// TestReadStringRoundTrip covers the String layout directly, independent of
// the tagged Value wrapper.
func TestReadStringRoundTrip(t *testing.T) {
	for _, version := range []APIVersion{APILegacy, APIHeader} {
		m := newTestMemory(t, version)
		p, err := m.WriteString("subgraph indexer")
		require.NoError(t, err)
		got, err := m.ReadString(p)
		require.NoError(t, err)
		require.Equal(t, "subgraph indexer", got)
	}
}

// TestReadHeaderFailsUnderAPILegacy documents that APILegacy has no header
// to read, distinct from the BigInt/BigDecimal/Bytes length-prefix path
// which recovers size without one.
func TestReadHeaderFailsUnderAPILegacy(t *testing.T) {
	m := newTestMemory(t, APILegacy)
	p, err := m.WriteBigInt(big.NewInt(1))
	require.NoError(t, err)
	_, err = m.ReadHeader(p)
	require.Error(t, err)
}
