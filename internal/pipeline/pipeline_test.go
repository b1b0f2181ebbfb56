package pipeline

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/internal/chainvalue"
	"github.com/goran-ethernal/subgraphd/internal/inspector"
	"github.com/goran-ethernal/subgraphd/internal/logger"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := logger.NewNopLogger()
	return &Orchestrator{
		log:      log,
		subgraph: "test",
		insp:     inspector.New(10, 0, log),
	}
}

func headerMessage(t *testing.T, number uint64, parent common.Hash) ([]byte, common.Hash) {
	t.Helper()
	h := &types.Header{Number: big.NewInt(0).SetUint64(number), ParentHash: parent, Difficulty: big.NewInt(0)}
	raw, err := json.Marshal(struct {
		Header *types.Header `json:"header"`
	}{Header: h})
	require.NoError(t, err)
	return raw, h.Hash()
}

// seedWindow admits raw's block into the Inspector window directly, since an
// OkToProceed block sent through processMessage would reach the (nil) agent.
func seedWindow(t *testing.T, o *Orchestrator, raw []byte) {
	t.Helper()
	block, err := chainvalue.DecodeBlockMessage(raw)
	require.NoError(t, err)
	require.Equal(t, inspector.OkToProceed, o.insp.Classify(block.BlockPtr))
}

func TestProcessMessageDropsAlreadyProcessedBlock(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	raw, _ := headerMessage(t, 0, common.Hash{})
	seedWindow(t, o, raw)

	// Same block again: classifies BlockAlreadyProcessed and must return nil
	// without touching agent/sandbox (both nil on this Orchestrator).
	require.NoError(t, o.processMessage(context.Background(), raw))
}

func TestProcessMessageSurfacesMaybeReorgWithoutAdvancing(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	raw0, hash0 := headerMessage(t, 0, common.Hash{})
	seedWindow(t, o, raw0)

	raw1, _ := headerMessage(t, 1, hash0)
	seedWindow(t, o, raw1)

	// Same number as the window front but with a parent hash that matches
	// nothing in the window: MaybeReorg, not an error, window unchanged.
	unrelated, _ := headerMessage(t, 1, common.HexToHash("0xdead"))
	require.NoError(t, o.processMessage(context.Background(), unrelated))
}

func TestProcessMessageReturnsFatalOnUnexpectedGap(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	// Empty window, minStartBlock 0: only block 0 is expected.
	raw, _ := headerMessage(t, 5, common.HexToHash("0xabc"))
	err := o.processMessage(context.Background(), raw)
	require.ErrorIs(t, err, ErrFatal)
}
