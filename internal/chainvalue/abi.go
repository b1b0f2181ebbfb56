package chainvalue

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// ABIDecoder decodes a log's indexed and non-indexed arguments by event
// signature, consuming SourceDescriptor.ABI (spec.md §3) the way the
// teacher's erc20 indexer hand-decodes Transfer/Approval, generalized to any
// ABI-described event (SPEC_FULL.md §C).
type ABIDecoder struct {
	contract abi.ABI
	events   map[common.Hash]abi.Event
}

// NewABIDecoder parses an ABI JSON string and indexes its events by topic
// hash (crypto.Keccak256Hash of the event signature, same computation the
// teacher's erc20 indexer does directly).
func NewABIDecoder(abiJSON string) (*ABIDecoder, error) {
	contract, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chainvalue: parsing ABI: %w", err)
	}
	events := make(map[common.Hash]abi.Event, len(contract.Events))
	for _, ev := range contract.Events {
		events[ev.ID] = ev
	}
	return &ABIDecoder{contract: contract, events: events}, nil
}

// EventName returns the matched event's name for a log whose first topic is
// a known event signature, or false if the ABI has no such event.
func (d *ABIDecoder) EventName(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	ev, ok := d.events[log.Topics[0]]
	if !ok {
		return "", false
	}
	return ev.Name, true
}

// DecodeArgs decodes log's indexed and non-indexed arguments into a
// RawEntity of argument-name -> Value, for the caller to merge into the
// envelope fields DecodeLog produces. Returns (nil, false, nil) when the log
// has no topics or its topic does not match a known event.
func (d *ABIDecoder) DecodeArgs(log types.Log) (value.RawEntity, bool, error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}
	ev, ok := d.events[log.Topics[0]]
	if !ok {
		return nil, false, nil
	}

	out := make(value.RawEntity)

	indexedArgs := indexedInputs(ev.Inputs)
	for i, arg := range indexedArgs {
		if i+1 >= len(log.Topics) {
			return nil, false, fmt.Errorf("chainvalue: event %s missing indexed topic %d", ev.Name, i+1)
		}
		v, err := decodeIndexedTopic(arg.Type, log.Topics[i+1])
		if err != nil {
			return nil, false, fmt.Errorf("chainvalue: decoding indexed arg %q of %s: %w", arg.Name, ev.Name, err)
		}
		out[arg.Name] = v
	}

	nonIndexed := ev.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		unpacked, err := nonIndexed.Unpack(log.Data)
		if err != nil {
			return nil, false, fmt.Errorf("chainvalue: unpacking data of %s: %w", ev.Name, err)
		}
		for i, arg := range nonIndexed {
			v, err := convertABIValue(unpacked[i])
			if err != nil {
				return nil, false, fmt.Errorf("chainvalue: converting arg %q of %s: %w", arg.Name, ev.Name, err)
			}
			out[arg.Name] = v
		}
	}

	return out, true, nil
}

func indexedInputs(inputs abi.Arguments) []abi.Argument {
	var out []abi.Argument
	for _, arg := range inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}

// decodeIndexedTopic decodes a 32-byte indexed argument directly from its
// topic slot; dynamic types (string, bytes, arrays) are indexed as their
// Keccak256 hash per the ABI spec and are surfaced as raw Bytes since the
// pre-image is not recoverable from the log alone.
func decodeIndexedTopic(t abi.Type, topic common.Hash) (value.Value, error) {
	switch t.T {
	case abi.BoolTy:
		return value.NewBool(topic.Big().Sign() != 0), nil
	case abi.IntTy, abi.UintTy:
		n := new(big.Int).SetBytes(topic.Bytes())
		if t.T == abi.IntTy {
			n = signExtend(n, t.Size)
		}
		if t.Size <= 64 {
			return value.NewInt8(n.Int64()), nil
		}
		return value.NewBigInt(n), nil
	case abi.AddressTy:
		return value.NewBytes(topic.Bytes()[12:]), nil
	case abi.FixedBytesTy, abi.BytesTy, abi.StringTy, abi.SliceTy, abi.ArrayTy:
		return value.NewBytes(topic.Bytes()), nil
	default:
		return value.NewBytes(topic.Bytes()), nil
	}
}

// signExtend reinterprets a big-endian magnitude read from a fixed-width
// topic slot as a two's-complement signed integer of bitSize bits.
func signExtend(n *big.Int, bitSize uint) *big.Int {
	signBit := new(big.Int).Lsh(big.NewInt(1), bitSize-1)
	if n.Cmp(signBit) < 0 {
		return n
	}
	modulus := new(big.Int).Lsh(big.NewInt(1), bitSize)
	return new(big.Int).Sub(n, modulus)
}

// convertABIValue maps a go-ethereum ABI-unpacked Go value to a Value.
func convertABIValue(v interface{}) (value.Value, error) {
	switch x := v.(type) {
	case bool:
		return value.NewBool(x), nil
	case *big.Int:
		return value.NewBigInt(x), nil
	case common.Address:
		return value.NewBytes(x.Bytes()), nil
	case [32]byte:
		return value.NewBytes(x[:]), nil
	case string:
		return value.NewString(x), nil
	case []byte:
		return value.NewBytes(x), nil
	default:
		return value.Value{}, fmt.Errorf("chainvalue: unsupported ABI-decoded Go type %T", v)
	}
}
