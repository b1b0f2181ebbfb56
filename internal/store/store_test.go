package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/internal/db"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/pkg/config"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "store_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()

	sqlDB, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
		os.Remove(dbPath)
	})

	lookup := schema.NewLookup(map[string]schema.EntitySchema{
		"Account": {
			"id":      schema.FieldKind{Kind: value.KindString},
			"balance": schema.FieldKind{Kind: value.KindInt},
		},
	})

	s := New(sqlDB, lookup, logger.NewNopLogger())
	require.NoError(t, s.EnsureSchema())
	return s
}

func account(id string, balance int32) value.RawEntity {
	return value.RawEntity{"id": value.NewString(id), "balance": value.NewInt(balance)}
}

// TestStoreRoundTrip exercises spec.md §8's Store round-trip property:
// inserting at block b and loading at b returns the entity augmented with
// block_ptr_number and is_deleted.
func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	blockPtr := value.BlockPtr{Number: 10, Hash: "h10", ParentHash: "h9"}
	require.NoError(t, s.CreateEntity(blockPtr, "Account", account("a1", 5)))

	got, ok, err := s.LoadEntity(blockPtr, "Account", "a1")
	require.NoError(t, err)
	require.True(t, ok)

	balance, _ := got["balance"].AsInt()
	require.Equal(t, int32(5), balance)
	num, _ := got[value.FieldBlockPtrNumber].AsInt8()
	require.Equal(t, int64(10), num)
	deleted, _ := got[value.FieldIsDeleted].AsBool()
	require.False(t, deleted)
}

// TestLoadEntityLatestExcludesDeleted exercises spec.md §8's "Latest
// excludes deleted" property: soft-deleting at a later block hides the id
// from load_entity_latest, while the earlier-block row is unaffected.
func TestLoadEntityLatestExcludesDeleted(t *testing.T) {
	s := newTestStore(t)

	b5 := value.BlockPtr{Number: 5, Hash: "h5", ParentHash: "h4"}
	b7 := value.BlockPtr{Number: 7, Hash: "h7", ParentHash: "h6"}

	require.NoError(t, s.CreateEntity(b5, "Account", account("a1", 1)))

	latest, ok, err := s.LoadEntityLatest("Account", "a1")
	require.NoError(t, err)
	require.True(t, ok)
	balance, _ := latest["balance"].AsInt()
	require.Equal(t, int32(1), balance)

	require.NoError(t, s.SoftDeleteEntity(b7, "Account", "a1"))

	_, ok, err = s.LoadEntityLatest("Account", "a1")
	require.NoError(t, err)
	require.False(t, ok, "soft-deleted id must be excluded from load_entity_latest")

	// The earlier-block row itself is untouched.
	earlier, ok, err := s.LoadEntity(b5, "Account", "a1")
	require.NoError(t, err)
	require.True(t, ok)
	deleted, _ := earlier[value.FieldIsDeleted].AsBool()
	require.False(t, deleted)
}

// TestRevertFromBlockInvariant exercises spec.md §8's Revert invariant:
// after revert_from_block(B), no entity or block_ptr row with
// block_ptr_number/block_number >= B remains, and rows below B survive.
func TestRevertFromBlockInvariant(t *testing.T) {
	s := newTestStore(t)

	for n := uint64(1); n <= 5; n++ {
		bp := value.BlockPtr{Number: n, Hash: hashFor(n), ParentHash: hashFor(n - 1)}
		require.NoError(t, s.CreateEntity(bp, "Account", account("a1", int32(n))))
		require.NoError(t, s.SaveBlockPtr(bp))
	}

	require.NoError(t, s.RevertFromBlock(context.Background(), 3))

	for n := uint64(1); n <= 2; n++ {
		bp := value.BlockPtr{Number: n, Hash: hashFor(n), ParentHash: hashFor(n - 1)}
		_, ok, err := s.LoadEntity(bp, "Account", "a1")
		require.NoError(t, err)
		require.True(t, ok, "rows below the revert point must survive")
	}
	for n := uint64(3); n <= 5; n++ {
		bp := value.BlockPtr{Number: n, Hash: hashFor(n), ParentHash: hashFor(n - 1)}
		_, ok, err := s.LoadEntity(bp, "Account", "a1")
		require.NoError(t, err)
		require.False(t, ok, "rows at or above the revert point must be gone")
	}

	earliest, ok, err := s.GetEarliestBlockPtr()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), earliest.Number)

	recent, err := s.LoadRecentBlockPtrs(10)
	require.NoError(t, err)
	for _, bp := range recent {
		require.Less(t, bp.Number, uint64(3))
	}
}

func hashFor(n uint64) string {
	if n == 0 {
		return "genesis"
	}
	return "h" + string(rune('0'+n))
}
