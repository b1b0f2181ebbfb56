// Package memstore implements the Memory Store: the write-buffer tier of
// the two-tier entity store (spec.md §4.4). It holds guest-originated
// mutations for the block currently in flight and is drained into the
// External Store at the block boundary.
package memstore

import (
	"fmt"
	"sync"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Entry pairs a RawEntity with its entity type, the shape extract_data
// drains the store into for flush (spec.md §4.4).
type Entry struct {
	EntityType string
	Entity     value.RawEntity
}

// Store is the Memory Store: entity_type -> (id -> RawEntity). It is owned
// by the orchestrator and mutated only from its task (spec.md §5), but
// guards its map with a mutex since guest store calls reach it through the
// Agent's synchronous entry point on the same goroutine that may overlap
// with LoadRelated's backfill path.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string]value.RawEntity
}

// New creates an empty Memory Store.
func New() *Store {
	return &Store{data: make(map[string]map[string]value.RawEntity)}
}

// CreateEntity writes entity under (entityType, id), overwriting any prior
// in-memory value for the id. This implements both Create and Update,
// since spec.md §9 specifies Update as an alias of Create.
func (s *Store) CreateEntity(entityType string, entity value.RawEntity) (string, error) {
	id, err := entity.ID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[entityType]
	if !ok {
		bucket = make(map[string]value.RawEntity)
		s.data[entityType] = bucket
	}
	row := entity.Clone()
	if _, present := row[value.FieldIsDeleted]; !present {
		row[value.FieldIsDeleted] = value.NewBool(false)
	}
	bucket[id] = row
	return id, nil
}

// LoadEntityLatest returns the in-memory row for (entityType, id), if any.
// A row marked is_deleted is reported as a miss (nil, false), the same as
// an absent row; see SoftDelete.
func (s *Store) LoadEntityLatest(entityType, id string) (value.RawEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[entityType]
	if !ok {
		return nil, false
	}
	e, ok := bucket[id]
	if !ok {
		return nil, false
	}
	if deleted, _ := e[value.FieldIsDeleted].AsBool(); deleted {
		return nil, false
	}
	return e.Clone(), true
}

// SoftDelete marks (entityType, id) deleted without removing it from the
// map; it is a no-op if the id is not present in memory (spec.md §4.5:
// "Delete — soft-delete in Memory Store only").
func (s *Store) SoftDelete(entityType, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[entityType]
	if !ok {
		return
	}
	e, ok := bucket[id]
	if !ok {
		return
	}
	out := e.Clone()
	out[value.FieldIsDeleted] = value.NewBool(true)
	bucket[id] = out
}

// ExtractData returns a snapshot of the store's contents as a flat slice of
// entries, suitable for Agent.migrate's batch_insert_entities call
// (spec.md §4.4: "extract_data ... for flush"). It does not clear the
// store — spec.md §4.5 requires Memory Store to be cleared only after a
// successful flush, so the caller calls Clear itself once the backend
// write has committed.
func (s *Store) ExtractData() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for entityType, bucket := range s.data {
		for _, e := range bucket {
			out = append(out, Entry{EntityType: entityType, Entity: e.Clone()})
		}
	}
	return out
}

// Clear empties the store without returning its contents, used when a
// ForkBlock classification discards buffered writes (spec.md §4.6 step 1).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]value.RawEntity)
}

// Len reports the number of buffered entities across all types, used by
// tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, bucket := range s.data {
		n += len(bucket)
	}
	return n
}

// ErrMissingID is returned by callers that require an id and did not find
// one; RawEntity.ID already returns a descriptive error so this exists only
// to give that family of failure a name other packages can match on.
var ErrMissingID = fmt.Errorf("memstore: entity missing id field")
