package chainvalue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Matches reports whether log is in scope for src: its address (if set)
// must match the log's emitter, and its startBlock (if set) must not be
// ahead of the log's block (spec.md §3 "Source descriptor").
func Matches(src value.SourceDescriptor, log types.Log) bool {
	if src.Address != nil && common.Address(*src.Address) != log.Address {
		return false
	}
	if src.StartBlock != nil && log.BlockNumber < *src.StartBlock {
		return false
	}
	return true
}
