// Package facade implements the Store Facade and its Agent: the single
// owner of one Memory Store and one External Store, reached synchronously
// by guest-originated store calls and asynchronously by the pipeline's
// migrate/clear at block boundaries (spec.md §4.5).
package facade

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/memstore"
	"github.com/goran-ethernal/subgraphd/internal/store"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Facade owns one Memory Store and one External Store (spec.md §4.5).
type Facade struct {
	mem     *memstore.Store
	ext     *store.Store
	schemas *schema.Lookup
	log     *logger.Logger
}

// New creates a Facade over mem and ext, resolving relation fields through
// schemas.
func New(mem *memstore.Store, ext *store.Store, schemas *schema.Lookup, log *logger.Logger) *Facade {
	return &Facade{mem: mem, ext: ext, schemas: schemas, log: log.WithComponent(common.ComponentFacade)}
}

// Create writes to Memory Store only and returns the id as a string; fails
// InvalidValue if data["id"] is absent or not a String (spec.md §4.5).
func (f *Facade) Create(entityType string, data value.RawEntity) (string, error) {
	id, err := f.mem.CreateEntity(entityType, data)
	if err != nil {
		return "", fmt.Errorf("facade: create %s: InvalidValue: %w", entityType, err)
	}
	return id, nil
}

// Update is an alias of Create (spec.md §4.5, §9 open question): the same
// (id, block) re-insert semantics apply whether or not id already existed.
func (f *Facade) Update(entityType string, data value.RawEntity) (string, error) {
	return f.Create(entityType, data)
}

// Load looks in Memory Store; on miss, queries External Store's
// load_entity_latest; on hit in external, populates Memory Store before
// returning (spec.md §4.5).
func (f *Facade) Load(entityType, id string) (value.RawEntity, bool, error) {
	if e, ok := f.mem.LoadEntityLatest(entityType, id); ok {
		return e, true, nil
	}

	e, ok, err := f.ext.LoadEntityLatest(entityType, id)
	if err != nil {
		return nil, false, fmt.Errorf("facade: load %s/%s: %w", entityType, id, err)
	}
	if !ok {
		return nil, false, nil
	}

	if _, err := f.mem.CreateEntity(entityType, e); err != nil {
		return nil, false, fmt.Errorf("facade: backfilling memory store for %s/%s: %w", entityType, id, err)
	}
	return e, true, nil
}

// LoadInBlock reads Memory Store only; it never touches the backend
// (spec.md §4.5).
func (f *Facade) LoadInBlock(entityType, id string) (value.RawEntity, bool) {
	return f.mem.LoadEntityLatest(entityType, id)
}

// Delete soft-deletes in Memory Store only; flush later propagates the
// tombstone to the backend (spec.md §4.5).
func (f *Facade) Delete(entityType, id string) {
	f.mem.SoftDelete(entityType, id)
}

// LoadRelated resolves field via the schema's relation map, collects ids
// (accepting String or List<String>), fetches each from Memory Store, sends
// any misses to External Store in one bulk call, and backfills Memory Store
// with what it retrieves (spec.md §4.5).
func (f *Facade) LoadRelated(entityType, id, field string) ([]value.RawEntity, error) {
	rel, err := f.schemas.ResolveRelation(entityType, field)
	if err != nil {
		return nil, fmt.Errorf("facade: load_related %s/%s.%s: %w", entityType, id, field, err)
	}

	source, ok := f.mem.LoadEntityLatest(entityType, id)
	if !ok {
		var extErr error
		source, ok, extErr = f.ext.LoadEntityLatest(entityType, id)
		if extErr != nil {
			return nil, fmt.Errorf("facade: load_related %s/%s.%s: %w", entityType, id, field, extErr)
		}
		if !ok {
			return nil, nil
		}
	}

	targetIDs, err := relatedIDs(source, field)
	if err != nil {
		return nil, fmt.Errorf("facade: load_related %s/%s.%s: %w", entityType, id, field, err)
	}

	var out []value.RawEntity
	var misses []string
	for _, tid := range targetIDs {
		if e, ok := f.mem.LoadEntityLatest(rel.TargetEntity, tid); ok {
			out = append(out, e)
			continue
		}
		misses = append(misses, tid)
	}

	if len(misses) > 0 {
		fetched, err := f.ext.LoadEntities(rel.TargetEntity, misses)
		if err != nil {
			return nil, fmt.Errorf("facade: load_related %s/%s.%s bulk fetch: %w", entityType, id, field, err)
		}
		for _, tid := range misses {
			e, ok := fetched[tid]
			if !ok {
				continue
			}
			if _, err := f.mem.CreateEntity(rel.TargetEntity, e); err != nil {
				return nil, fmt.Errorf("facade: backfilling %s/%s: %w", rel.TargetEntity, tid, err)
			}
			out = append(out, e)
		}
	}

	return out, nil
}

func relatedIDs(e value.RawEntity, field string) ([]string, error) {
	v, ok := e[field]
	if !ok {
		return nil, nil
	}
	if s, ok := v.AsString(); ok {
		return []string{s}, nil
	}
	if list, ok := v.AsList(); ok {
		ids := make([]string, 0, len(list))
		for _, elem := range list {
			s, ok := elem.AsString()
			if !ok {
				return nil, fmt.Errorf("relation field %q list element is not a String", field)
			}
			ids = append(ids, s)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("relation field %q must be String or List<String>, got %s", field, v.Kind())
}

// Migrate drains Memory Store, calls batch_insert_entities with blockPtr,
// and on success calls save_block_ptr. On failure the block is not
// advanced: the caller must not clear Memory Store (spec.md §4.5, §4.6).
func (f *Facade) Migrate(ctx context.Context, blockPtr value.BlockPtr) error {
	entries := f.mem.ExtractData()
	if len(entries) == 0 {
		return f.ext.SaveBlockPtr(blockPtr)
	}

	items := make([]store.Item, len(entries))
	for i, e := range entries {
		items[i] = store.Item{EntityType: e.EntityType, Entity: e.Entity}
	}

	if err := f.ext.BatchInsertEntities(ctx, blockPtr, items); err != nil {
		return fmt.Errorf("facade: migrate(%s): batch_insert_entities failed, block not advanced: %w", blockPtr, err)
	}

	if err := f.ext.SaveBlockPtr(blockPtr); err != nil {
		return fmt.Errorf("facade: migrate(%s): entities flushed but save_block_ptr failed, run is degraded: %w",
			blockPtr, err)
	}

	f.mem.Clear()
	return nil
}

// RevertAndClear invokes External Store's revert_from_block and clears
// Memory Store, the ForkBlock recovery path (spec.md §4.6 step 1).
func (f *Facade) RevertAndClear(ctx context.Context, fromBlock uint64) error {
	if err := f.ext.RevertFromBlock(ctx, fromBlock); err != nil {
		return fmt.Errorf("facade: revert_from_block(%d): %w", fromBlock, err)
	}
	f.mem.Clear()
	return nil
}

// ClearInMemory discards buffered Memory Store writes without touching the
// backend.
func (f *Facade) ClearInMemory() {
	f.mem.Clear()
}
