package chainvalue

import (
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// logIDSeparator joins a log's transaction hash and log index into a stable
// entity id, matching the (tx_hash, log_index) uniqueness the teacher's own
// Transfer/Approval tables key on (examples/indexers/erc20).
const logIDSeparator = "-"

// DecodeLog renders a raw log as a RawEntity of its envelope fields, before
// any ABI-aware argument decoding by ABIDecoder.DecodeArgs is merged in.
func DecodeLog(log types.Log) value.RawEntity {
	topics := make([]value.Value, len(log.Topics))
	for i, t := range log.Topics {
		topics[i] = value.NewBytes(t.Bytes())
	}
	return value.RawEntity{
		value.IDField: value.NewString(logID(log)),
		"address":     value.NewBytes(log.Address.Bytes()),
		"topics":      value.NewList(topics),
		"data":        value.NewBytes(log.Data),
		"block_number": value.NewInt8(int64(log.BlockNumber)), //nolint:gosec
		"block_hash":  value.NewBytes(log.BlockHash.Bytes()),
		"tx_hash":     value.NewBytes(log.TxHash.Bytes()),
		"tx_index":    value.NewInt(int32(log.TxIndex)), //nolint:gosec
		"log_index":   value.NewInt(int32(log.Index)),   //nolint:gosec
		"removed":     value.NewBool(log.Removed),
	}
}

func logID(log types.Log) string {
	return log.TxHash.Hex() + logIDSeparator + strconv.FormatUint(uint64(log.Index), 10)
}
