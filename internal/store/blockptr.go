package store

import (
	"database/sql"
	"fmt"

	"github.com/russross/meddler"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// sgdPartitionKey is the fixed partition key for the block_ptr table
// (spec.md §4.4: "sgd is a single fixed partition key so the table can be
// range-queried in block order").
const sgdPartitionKey = "default"

type blockPtrRow struct {
	SGD         string `meddler:"sgd"`
	BlockNumber uint64 `meddler:"block_number"`
	BlockHash   string `meddler:"block_hash"`
	ParentHash  string `meddler:"parent_hash"`
}

func (r blockPtrRow) toBlockPtr() value.BlockPtr {
	return value.BlockPtr{Number: r.BlockNumber, Hash: r.BlockHash, ParentHash: r.ParentHash}
}

// SaveBlockPtr appends a row to the block_ptr table.
func (s *Store) SaveBlockPtr(ptr value.BlockPtr) error {
	row := blockPtrRow{SGD: sgdPartitionKey, BlockNumber: ptr.Number, BlockHash: ptr.Hash, ParentHash: ptr.ParentHash}
	if err := meddler.Insert(s.db, "block_ptr", &row); err != nil {
		return fmt.Errorf("store: save_block_ptr(%s): %w", ptr, err)
	}
	return nil
}

// LoadRecentBlockPtrs returns the latest n block pointers, ascending order
// in the result (spec.md §4.4).
func (s *Store) LoadRecentBlockPtrs(n int) ([]value.BlockPtr, error) {
	var rows []*blockPtrRow
	err := meddler.QueryAll(s.db, &rows,
		"SELECT * FROM block_ptr WHERE sgd = ? ORDER BY block_number DESC LIMIT ?",
		sgdPartitionKey, n)
	if err != nil {
		return nil, fmt.Errorf("store: load_recent_block_ptrs(%d): %w", n, err)
	}

	out := make([]value.BlockPtr, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toBlockPtr()
	}
	return out, nil
}

// GetEarliestBlockPtr returns the row with the minimum block_number, or
// (zero, false) if the table is empty.
func (s *Store) GetEarliestBlockPtr() (value.BlockPtr, bool, error) {
	var row blockPtrRow
	err := meddler.QueryRow(s.db, &row,
		"SELECT * FROM block_ptr WHERE sgd = ? ORDER BY block_number ASC LIMIT 1", sgdPartitionKey)
	if err == sql.ErrNoRows {
		return value.BlockPtr{}, false, nil
	}
	if err != nil {
		return value.BlockPtr{}, false, fmt.Errorf("store: get_earliest_block_ptr: %w", err)
	}
	return row.toBlockPtr(), true, nil
}

// deleteBlockPtrsFrom removes block_ptr rows with block_number >= from.
func (s *Store) deleteBlockPtrsFrom(from uint64) error {
	_, err := s.db.Exec("DELETE FROM block_ptr WHERE sgd = ? AND block_number >= ?", sgdPartitionKey, from)
	if err != nil {
		return fmt.Errorf("store: reverting block_ptr from %d: %w", from, err)
	}
	return nil
}

// pruneBlockPtrsBelow removes block_ptr rows with block_number < to, used by
// clean_data_history.
func (s *Store) pruneBlockPtrsBelow(to uint64) error {
	_, err := s.db.Exec("DELETE FROM block_ptr WHERE sgd = ? AND block_number < ?", sgdPartitionKey, to)
	if err != nil {
		return fmt.Errorf("store: pruning block_ptr below %d: %w", to, err)
	}
	return nil
}
