package facade

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/internal/db"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/memstore"
	"github.com/goran-ethernal/subgraphd/internal/store"
	"github.com/goran-ethernal/subgraphd/pkg/config"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	lookup := schema.NewLookup(map[string]schema.EntitySchema{})
	return New(memstore.New(), nil, lookup, logger.NewNopLogger())
}

// newTestFacadeWithStore backs the Facade with a real External Store, for
// tests that exercise Migrate's drain-to-backend path.
func newTestFacadeWithStore(t *testing.T) *Facade {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "facade_test_*.db")
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

	ext := store.New(sqlDB, lookup, logger.NewNopLogger())
	require.NoError(t, ext.EnsureSchema())

	return New(memstore.New(), ext, lookup, logger.NewNopLogger())
}

// TestMigrateTwoTierCoherence exercises spec.md §8's Two-tier coherence
// property: after migrate(b), load_entity_latest against the External Store
// matches the value that was buffered in the Memory Store, and the Memory
// Store is drained.
func TestMigrateTwoTierCoherence(t *testing.T) {
	f := newTestFacadeWithStore(t)

	_, err := f.Create("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(9)})
	require.NoError(t, err)

	blockPtr := value.BlockPtr{Number: 3, Hash: "h3", ParentHash: "h2"}
	require.NoError(t, f.Migrate(context.Background(), blockPtr))

	_, ok := f.LoadInBlock("Account", "a1")
	require.False(t, ok, "Memory Store must be cleared after a successful migrate")

	got, ok, err := f.Load("Account", "a1")
	require.NoError(t, err)
	require.True(t, ok)
	balance, _ := got["balance"].AsInt()
	require.Equal(t, int32(9), balance)
}

// TestUpdateIsAliasOfCreate exercises spec.md §9's open question: Update
// re-inserts exactly like Create, last write winning within the block.
func TestUpdateIsAliasOfCreate(t *testing.T) {
	f := newTestFacade(t)

	_, err := f.Create("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(1)})
	require.NoError(t, err)

	_, err = f.Update("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(2)})
	require.NoError(t, err)

	got, ok := f.LoadInBlock("Account", "a1")
	require.True(t, ok)
	balance, ok := got["balance"].AsInt()
	require.True(t, ok)
	require.Equal(t, int32(2), balance)
}

// TestSameBlockCreateThenDeleteLastWriteWins exercises spec.md §9's other
// open question: a Create immediately followed by a Delete within the same
// block leaves the entity deleted, not resurrected, for reads within that
// block.
func TestSameBlockCreateThenDeleteLastWriteWins(t *testing.T) {
	f := newTestFacade(t)

	_, err := f.Create("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(1)})
	require.NoError(t, err)

	f.Delete("Account", "a1")

	_, ok := f.LoadInBlock("Account", "a1")
	require.False(t, ok, "deleted entity must not be visible within the same block")
}

// TestSameBlockDeleteThenCreateLastWriteWins covers the opposite ordering:
// a Delete followed by a Create within the same block resurrects the
// entity, since Create always overwrites the in-memory row.
func TestSameBlockDeleteThenCreateLastWriteWins(t *testing.T) {
	f := newTestFacade(t)

	_, err := f.Create("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(1)})
	require.NoError(t, err)

	f.Delete("Account", "a1")

	_, err = f.Create("Account", value.RawEntity{"id": value.NewString("a1"), "balance": value.NewInt(3)})
	require.NoError(t, err)

	got, ok := f.LoadInBlock("Account", "a1")
	require.True(t, ok)
	balance, ok := got["balance"].AsInt()
	require.True(t, ok)
	require.Equal(t, int32(3), balance)
}
