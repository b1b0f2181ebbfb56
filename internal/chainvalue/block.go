// Package chainvalue decodes go-ethereum block/tx/log types into the
// canonical pkg/value.Value model that crosses into guest memory (spec.md
// §4.1's decode table, supplemented in SPEC_FULL.md §C with ABI-aware log
// decoding).
package chainvalue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// DecodeBlockPtr extracts the BlockPtr triple the Inspector classifies
// against (spec.md §3) from a fetched header.
func DecodeBlockPtr(header *types.Header) value.BlockPtr {
	return value.BlockPtr{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash().Hex(),
		ParentHash: header.ParentHash.Hex(),
	}
}

// DecodeHeader renders a block header's fields as a RawEntity, the shape a
// guest block handler receives (field names mirror the teacher's
// `BlockHeader` concept in internal/types).
func DecodeHeader(header *types.Header) value.RawEntity {
	return value.RawEntity{
		value.IDField: value.NewString(header.Hash().Hex()),
		"number":      value.NewInt8(header.Number.Int64()),
		"hash":        value.NewBytes(header.Hash().Bytes()),
		"parent_hash": value.NewBytes(header.ParentHash.Bytes()),
		"timestamp":   value.NewInt8(int64(header.Time)), //nolint:gosec // block timestamps fit in int64
		"miner":       value.NewBytes(header.Coinbase.Bytes()),
		"gas_used":    value.NewInt8(int64(header.GasUsed)),  //nolint:gosec
		"gas_limit":   value.NewInt8(int64(header.GasLimit)), //nolint:gosec
	}
}

// DecodeTransaction renders a transaction as a RawEntity, keyed by its hash.
func DecodeTransaction(tx *types.Transaction, from common.Address) value.RawEntity {
	to := value.Null()
	if tx.To() != nil {
		to = value.NewBytes(tx.To().Bytes())
	}
	return value.RawEntity{
		value.IDField: value.NewString(tx.Hash().Hex()),
		"hash":         value.NewBytes(tx.Hash().Bytes()),
		"from":         value.NewBytes(from.Bytes()),
		"to":           to,
		"value":        value.NewBigInt(tx.Value()),
		"gas":          value.NewInt8(int64(tx.Gas())), //nolint:gosec
		"gas_price":    value.NewBigInt(tx.GasPrice()),
		"nonce":        value.NewInt8(int64(tx.Nonce())), //nolint:gosec
		"input":        value.NewBytes(tx.Data()),
	}
}
