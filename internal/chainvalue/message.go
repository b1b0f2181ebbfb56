package chainvalue

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Non-goal per spec.md §1: no chain client. Blocks arrive pre-fetched, so
// the source's wire bytes carry a header plus the transactions and logs a
// client already fetched, bundled as one JSON document per block. Field
// names mirror go-ethereum's own RPC shapes so operators can produce this
// payload straight from an eth_getBlockByNumber + eth_getLogs pair.
type blockMessage struct {
	Header       *types.Header      `json:"header"`
	Transactions []transactionEntry `json:"transactions"`
	Logs         []types.Log        `json:"logs"`
}

type transactionEntry struct {
	Tx   *types.Transaction `json:"transaction"`
	From common.Address     `json:"from"`
}

// DecodedBlock is one fully decoded unit of pipeline input: a block
// pointer, its RawEntity-rendered header/transactions, and its raw logs
// (left undecoded-by-ABI until the pipeline matches them against a
// source's descriptor).
type DecodedBlock struct {
	BlockPtr     value.BlockPtr
	Header       value.RawEntity
	Transactions []value.RawEntity
	Logs         []types.Log
}

// DecodeBlockMessage parses one source message's bytes into a DecodedBlock
// (SPEC_FULL.md §C: the pipeline's "decode block, transactions, and logs
// into guest-visible Values" step, spec.md §4.6 step 2).
func DecodeBlockMessage(raw []byte) (*DecodedBlock, error) {
	var msg blockMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("chainvalue: decoding block message: %w", err)
	}
	if msg.Header == nil {
		return nil, fmt.Errorf("chainvalue: block message missing header")
	}

	txs := make([]value.RawEntity, len(msg.Transactions))
	for i, entry := range msg.Transactions {
		if entry.Tx == nil {
			return nil, fmt.Errorf("chainvalue: transaction entry %d missing transaction", i)
		}
		txs[i] = DecodeTransaction(entry.Tx, entry.From)
	}

	return &DecodedBlock{
		BlockPtr:     DecodeBlockPtr(msg.Header),
		Header:       DecodeHeader(msg.Header),
		Transactions: txs,
		Logs:         msg.Logs,
	}, nil
}
