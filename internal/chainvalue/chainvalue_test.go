package chainvalue

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

const transferABI = `[{"anonymous":false,"inputs":[` +
	`{"indexed":true,"name":"from","type":"address"},` +
	`{"indexed":true,"name":"to","type":"address"},` +
	`{"indexed":false,"name":"value","type":"uint256"}],` +
	`"name":"Transfer","type":"event"}]`

func transferLog(t *testing.T, from, to common.Address, amount *big.Int) types.Log {
	t.Helper()
	topic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	fromTopic := common.BytesToHash(from.Bytes())
	toTopic := common.BytesToHash(to.Bytes())
	data := make([]byte, 32)
	amount.FillBytes(data)
	return types.Log{
		Address:     common.HexToAddress("0xdeadbeef00000000000000000000000000000001"),
		Topics:      []common.Hash{topic, fromTopic, toTopic},
		Data:        data,
		BlockNumber: 10,
		TxHash:      common.HexToHash("0xaa"),
		Index:       2,
	}
}

func TestDecodeLogEnvelope(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	log := transferLog(t, from, to, big.NewInt(42))

	e := DecodeLog(log)

	id, err := e.ID()
	require.NoError(t, err)
	require.Equal(t, log.TxHash.Hex()+"-2", id)

	addr, ok := e["address"].AsBytes()
	require.True(t, ok)
	require.Equal(t, log.Address.Bytes(), addr)
}

func TestABIDecoderDecodesTransferArgs(t *testing.T) {
	dec, err := NewABIDecoder(transferABI)
	require.NoError(t, err)

	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	log := transferLog(t, from, to, big.NewInt(42))

	name, ok := dec.EventName(log)
	require.True(t, ok)
	require.Equal(t, "Transfer", name)

	args, matched, err := dec.DecodeArgs(log)
	require.NoError(t, err)
	require.True(t, matched)

	gotFrom, ok := args["from"].AsBytes()
	require.True(t, ok)
	require.Equal(t, from.Bytes(), gotFrom)

	gotValue, ok := args["value"].AsBigInt()
	require.True(t, ok)
	require.Equal(t, big.NewInt(42).String(), gotValue.String())
}

func TestABIDecoderUnknownEvent(t *testing.T) {
	dec, err := NewABIDecoder(transferABI)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{crypto.Keccak256Hash([]byte("Unknown()"))},
	}
	_, matched, err := dec.DecodeArgs(log)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestMatchesFiltersByAddressAndStartBlock(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000000000009")
	var raw [20]byte
	copy(raw[:], addr.Bytes())
	start := uint64(100)
	src := value.SourceDescriptor{Address: &raw, StartBlock: &start}

	log := types.Log{Address: addr, BlockNumber: 100}
	require.True(t, Matches(src, log))

	log.BlockNumber = 99
	require.False(t, Matches(src, log))

	log.BlockNumber = 100
	log.Address = common.HexToAddress("0x0000000000000000000000000000000000000008")
	require.False(t, Matches(src, log))
}
