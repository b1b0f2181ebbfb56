// Package store implements the External Store: the wide-column-style
// backend tier of the two-tier entity store (spec.md §4.4). No
// Cassandra/Scylla driver exists anywhere in the retrieval pack, so this
// emulates the wide-column semantics — composite (id, block_ptr_number)
// primary key, descending clustering, versioned rows — on top of the
// teacher's own storage choice: SQLite via mattn/go-sqlite3, with meddler
// for the fixed-shape block_ptr table (see blockptr.go) and hand-rolled SQL
// for entity tables, whose columns vary per registered schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/metrics"
	"github.com/goran-ethernal/subgraphd/internal/retry"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// batchChunkSize is the batch_insert_entities chunk size fixed by spec.md
// §4.4.
const batchChunkSize = 100

// Item is one entity write destined for batch_insert_entities, mirroring
// internal/memstore.Entry without importing it — External Store has no
// business knowing about the Memory Store's internals.
type Item struct {
	EntityType string
	Entity     value.RawEntity
}

// Store is the External Store.
type Store struct {
	db         *sql.DB
	schemas    *schema.Lookup
	log        *logger.Logger
	retryCfg   retry.Config
}

// New creates an External Store bound to db, with entity schemas resolved
// through schemas. Call EnsureSchema before first use.
func New(db *sql.DB, schemas *schema.Lookup, log *logger.Logger) *Store {
	metrics.ComponentHealthSet(common.ComponentExtStore, true)
	return &Store{
		db:       db,
		schemas:  schemas,
		log:      log.WithComponent(common.ComponentExtStore),
		retryCfg: retry.DefaultConfig(),
	}
}

func (s *Store) fieldOrder(entityType string) ([]string, schema.EntitySchema, error) {
	es, err := s.schemas.Schema(entityType)
	if err != nil {
		return nil, nil, err
	}
	fields := make([]string, 0, len(es))
	for f := range es {
		fields = append(fields, f)
	}
	return fields, es, nil
}

// insertRow inserts one fully-formed row (already carrying block_ptr_number
// and is_deleted) for entityType.
func (s *Store) insertRow(tx *sql.Tx, entityType string, row value.RawEntity) error {
	_, es, err := s.fieldOrder(entityType)
	if err != nil {
		return err
	}
	if _, ok := row[value.FieldIsDeleted]; !ok {
		return fmt.Errorf("store: entity %q row is missing required field %q (MissingField)",
			entityType, value.FieldIsDeleted)
	}

	cols := make([]string, 0, len(es)+2)
	placeholders := make([]string, 0, len(es)+2)
	args := make([]interface{}, 0, len(es)+2)

	for field, fk := range es {
		v, present := row[field]
		if !present {
			continue
		}
		encoded, err := encodeValue(v, fk)
		if err != nil {
			return fmt.Errorf("store: entity %q field %q: %w", entityType, field, err)
		}
		cols = append(cols, field)
		placeholders = append(placeholders, "?")
		args = append(args, encoded)
	}

	blockPtrNum, _ := row[value.FieldBlockPtrNumber].AsInt8()
	isDeleted, _ := row[value.FieldIsDeleted].AsBool()
	cols = append(cols, value.FieldBlockPtrNumber, value.FieldIsDeleted)
	placeholders = append(placeholders, "?", "?")
	args = append(args, blockPtrNum, isDeleted)

	stmt := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		tableName(entityType), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	var err2 error
	if tx != nil {
		_, err2 = tx.Exec(stmt, args...)
	} else {
		_, err2 = s.db.Exec(stmt, args...)
	}
	if err2 != nil {
		return fmt.Errorf("store: inserting into %s: %w", tableName(entityType), err2)
	}
	return nil
}

// CreateEntity writes one row with is_deleted=false at block_ptr.number
// (spec.md §4.4).
func (s *Store) CreateEntity(blockPtr value.BlockPtr, entityType string, entity value.RawEntity) error {
	row := entity.WithBlockPtr(blockPtr.Number, false)
	return s.insertRow(nil, entityType, row)
}

// BatchInsertEntities inserts items chunked at batchChunkSize, retrying each
// chunk with exponential backoff on transient failure (spec.md §4.4, §7).
// Every item must already carry is_deleted; block_ptr_number is stamped
// uniformly from blockPtr.
func (s *Store) BatchInsertEntities(ctx context.Context, blockPtr value.BlockPtr, items []Item) error {
	for start := 0; start < len(items); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		err := retry.Do(ctx, s.retryCfg, "batch_insert_entities", func() error {
			return s.insertChunk(blockPtr, chunk)
		})
		if err != nil {
			return fmt.Errorf("store: batch_insert_entities chunk [%d:%d): %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) insertChunk(blockPtr value.BlockPtr, chunk []Item) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning batch insert transaction: %w", err)
	}

	for _, item := range chunk {
		row := item.Entity.Clone()
		row[value.FieldBlockPtrNumber] = value.NewInt8(int64(blockPtr.Number)) //nolint:gosec
		if err := s.insertRow(tx, item.EntityType, row); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing batch insert: %w", err)
	}
	return nil
}

func (s *Store) scanRow(rows *sql.Rows, entityType string, es schema.EntitySchema, cols []string) (value.RawEntity, error) {
	raw := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("store: scanning row for %q: %w", entityType, err)
	}

	entity := make(value.RawEntity, len(cols))
	for i, col := range cols {
		switch col {
		case value.FieldBlockPtrNumber:
			n, err := asInt64(raw[i])
			if err != nil {
				return nil, err
			}
			entity[col] = value.NewInt8(n)
		case value.FieldIsDeleted:
			n, err := asInt64(raw[i])
			if err != nil {
				return nil, err
			}
			entity[col] = value.NewBool(n != 0)
		default:
			fk, ok := es[col]
			if !ok {
				continue
			}
			v, err := decodeValue(raw[i], fk)
			if err != nil {
				return nil, fmt.Errorf("store: entity %q field %q: %w", entityType, col, err)
			}
			entity[col] = v
		}
	}
	return entity, nil
}

// LoadEntity returns the row whose (id, block_ptr_number) equals
// (id, blockPtr.Number), if any (spec.md §4.4).
func (s *Store) LoadEntity(blockPtr value.BlockPtr, entityType, id string) (value.RawEntity, bool, error) {
	_, es, err := s.fieldOrder(entityType)
	if err != nil {
		return nil, false, err
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? AND %s = ?",
		tableName(entityType), value.IDField, value.FieldBlockPtrNumber)
	rows, err := s.db.Query(stmt, id, blockPtr.Number)
	if err != nil {
		return nil, false, fmt.Errorf("store: load_entity(%s, %q): %w", entityType, id, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}
	if !rows.Next() {
		return nil, false, nil
	}
	entity, err := s.scanRow(rows, entityType, es, cols)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// LoadEntityLatest returns the row with the largest block_ptr_number for
// id, unless it is_deleted, in which case it reports a miss (spec.md §4.4).
func (s *Store) LoadEntityLatest(entityType, id string) (value.RawEntity, bool, error) {
	_, es, err := s.fieldOrder(entityType)
	if err != nil {
		return nil, false, err
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s DESC LIMIT 1",
		tableName(entityType), value.IDField, value.FieldBlockPtrNumber)
	rows, err := s.db.Query(stmt, id)
	if err != nil {
		return nil, false, fmt.Errorf("store: load_entity_latest(%s, %q): %w", entityType, id, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}
	if !rows.Next() {
		return nil, false, nil
	}
	entity, err := s.scanRow(rows, entityType, es, cols)
	if err != nil {
		return nil, false, err
	}
	if deleted, _ := entity[value.FieldIsDeleted].AsBool(); deleted {
		return nil, false, nil
	}
	return entity, true, nil
}

// LoadEntities bulk-fetches the latest non-deleted row for each id
// (spec.md §4.4).
func (s *Store) LoadEntities(entityType string, ids []string) (map[string]value.RawEntity, error) {
	out := make(map[string]value.RawEntity, len(ids))
	for _, id := range ids {
		entity, ok, err := s.LoadEntityLatest(entityType, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = entity
		}
	}
	return out, nil
}

// ListLatestIDs returns up to limit distinct ids with a non-deleted latest
// row for entityType, ordered by id. Used by the operator-facing
// list-entities introspection command (SPEC_FULL.md §C); not reached by
// the guest-facing store API.
func (s *Store) ListLatestIDs(entityType string, limit int) ([]string, error) {
	if _, _, err := s.fieldOrder(entityType); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(
		`SELECT id FROM (
			SELECT %s AS id, %s AS is_deleted, ROW_NUMBER() OVER (
				PARTITION BY %s ORDER BY %s DESC
			) AS rn
			FROM %s
		) WHERE rn = 1 AND is_deleted = 0 ORDER BY id LIMIT ?`,
		value.IDField, value.FieldIsDeleted, value.IDField, value.FieldBlockPtrNumber, tableName(entityType))

	rows, err := s.db.Query(stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list_latest_ids(%s): %w", entityType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: list_latest_ids(%s): %w", entityType, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SoftDeleteEntity reads the latest row and re-inserts it at block_ptr.number
// with is_deleted=true; a no-op if no prior row exists (spec.md §4.4).
func (s *Store) SoftDeleteEntity(blockPtr value.BlockPtr, entityType, id string) error {
	latest, ok, err := s.latestIncludingDeleted(entityType, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	row := latest.WithBlockPtr(blockPtr.Number, true)
	return s.insertRow(nil, entityType, row)
}

func (s *Store) latestIncludingDeleted(entityType, id string) (value.RawEntity, bool, error) {
	_, es, err := s.fieldOrder(entityType)
	if err != nil {
		return nil, false, err
	}
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s DESC LIMIT 1",
		tableName(entityType), value.IDField, value.FieldBlockPtrNumber)
	rows, err := s.db.Query(stmt, id)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}
	if !rows.Next() {
		return nil, false, nil
	}
	entity, err := s.scanRow(rows, entityType, es, cols)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// RevertFromBlock deletes, for every entity type, every row at
// block_ptr_number >= from with one DELETE per table (retried on transient
// failure); it then deletes block_ptr rows with block_number >= from
// (spec.md §4.4).
func (s *Store) RevertFromBlock(ctx context.Context, from uint64) error {
	err := retry.Do(ctx, s.retryCfg, "revert_from_block", func() error {
		for _, entityType := range s.schemas.EntityTypes() {
			stmt := fmt.Sprintf("DELETE FROM %s WHERE %s >= ?", tableName(entityType), value.FieldBlockPtrNumber)
			if _, err := s.db.Exec(stmt, from); err != nil {
				return fmt.Errorf("store: reverting entity %q from block %d: %w", entityType, from, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.deleteBlockPtrsFrom(from)
}

// RemoveSnapshots hard-deletes rows with block_ptr_number < toBlock for the
// listed (type, id) pairs; returns the count removed (spec.md §4.4).
func (s *Store) RemoveSnapshots(entities []Item, toBlock uint64) (int64, error) {
	var total int64
	seen := make(map[string]bool)
	for _, item := range entities {
		id, err := item.Entity.ID()
		if err != nil {
			return total, err
		}
		key := item.EntityType + "/" + id
		if seen[key] {
			continue
		}
		seen[key] = true

		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s < ?",
			tableName(item.EntityType), value.IDField, value.FieldBlockPtrNumber)
		res, err := s.db.Exec(stmt, id, toBlock)
		if err != nil {
			return total, fmt.Errorf("store: remove_snapshots(%s, %q): %w", item.EntityType, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CleanDataHistory prunes all entity row versions with block_ptr_number <
// toBlock, and block_ptr rows with block_number < toBlock (spec.md §4.4).
func (s *Store) CleanDataHistory(toBlock uint64) error {
	for _, entityType := range s.schemas.EntityTypes() {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", tableName(entityType), value.FieldBlockPtrNumber)
		if _, err := s.db.Exec(stmt, toBlock); err != nil {
			return fmt.Errorf("store: clean_data_history(%q, %d): %w", entityType, toBlock, err)
		}
	}
	return s.pruneBlockPtrsBelow(toBlock)
}
