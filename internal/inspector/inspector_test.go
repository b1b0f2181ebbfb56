package inspector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

func newTestInspector(t *testing.T, reorgThreshold int, minStartBlock uint64) *Inspector {
	t.Helper()
	return New(reorgThreshold, minStartBlock, logger.NewNopLogger())
}

func bp(number uint64, hash, parentHash string) value.BlockPtr {
	return value.BlockPtr{Number: number, Hash: hash, ParentHash: parentHash}
}

// TestInspectorReplay exercises spec.md §8's replay property: feeding a
// monotone chain of blocks, each the parent of the next, always yields
// OkToProceed and keeps the window bounded by reorgThreshold.
func TestInspectorReplay(t *testing.T) {
	const reorgThreshold = 3
	insp := newTestInspector(t, reorgThreshold, 0)

	chain := []value.BlockPtr{
		bp(0, "h0", ""),
		bp(1, "h1", "h0"),
		bp(2, "h2", "h1"),
		bp(3, "h3", "h2"),
		bp(4, "h4", "h3"),
		bp(5, "h5", "h4"),
	}

	for _, b := range chain {
		class := insp.Classify(b)
		require.Equal(t, OkToProceed, class, "block %d", b.Number)
		require.LessOrEqual(t, len(insp.Window()), reorgThreshold+1)
	}

	require.Equal(t, chain[len(chain)-1], insp.Window()[0])
	require.Equal(t, chain[len(chain)-1].Number+1, insp.ExpectedStart())
}

// TestInspectorFork exercises spec.md §8's fork property: a block whose
// parent match lies inside the window, but isn't the front, yields ForkBlock
// and truncates the window to entries below the fork point.
func TestInspectorFork(t *testing.T) {
	insp := newTestInspector(t, 10, 0)

	require.Equal(t, OkToProceed, insp.Classify(bp(0, "h0", "")))
	require.Equal(t, OkToProceed, insp.Classify(bp(1, "h1", "h0")))
	require.Equal(t, OkToProceed, insp.Classify(bp(2, "h2", "h1")))
	require.Equal(t, OkToProceed, insp.Classify(bp(3, "h3a", "h2")))

	// Reorg: new block 3 (h3b) has parent h2, which sits below the current
	// front (h3a) but still inside the window.
	class := insp.Classify(bp(3, "h3b", "h2"))
	require.Equal(t, ForkBlock, class)

	window := insp.Window()
	require.Equal(t, bp(3, "h3b", "h2"), window[0])
	for _, b := range window[1:] {
		require.Less(t, b.Number, uint64(3), "window must retain only entries below the fork point, except the new fork block itself")
	}
}

// TestInspectorIdempotence exercises spec.md §8's idempotence property: a
// block already present in the window, replayed verbatim, yields
// BlockAlreadyProcessed and leaves the window unchanged.
func TestInspectorIdempotence(t *testing.T) {
	insp := newTestInspector(t, 10, 0)

	require.Equal(t, OkToProceed, insp.Classify(bp(0, "h0", "")))
	require.Equal(t, OkToProceed, insp.Classify(bp(1, "h1", "h0")))
	require.Equal(t, OkToProceed, insp.Classify(bp(2, "h2", "h1")))

	before := insp.Window()

	class := insp.Classify(bp(1, "h1", "h0"))
	require.Equal(t, BlockAlreadyProcessed, class)
	require.Equal(t, before, insp.Window())
}

// TestInspectorUnexpectedBlockOnGap covers rule 4: a block arriving with a
// number more than one past the window's front is a fatal gap.
func TestInspectorUnexpectedBlockOnGap(t *testing.T) {
	insp := newTestInspector(t, 10, 0)

	require.Equal(t, OkToProceed, insp.Classify(bp(0, "h0", "")))
	class := insp.Classify(bp(5, "h5", "h4"))
	require.Equal(t, UnexpectedBlock, class)
	require.True(t, class.Fatal())
}

// TestInspectorUnrecognizedBlockBelowFloor covers rule 5: a block numbered
// below the window's oldest entry can't be placed.
func TestInspectorUnrecognizedBlockBelowFloor(t *testing.T) {
	insp := newTestInspector(t, 2, 0)

	require.Equal(t, OkToProceed, insp.Classify(bp(0, "h0", "")))
	require.Equal(t, OkToProceed, insp.Classify(bp(1, "h1", "h0")))
	require.Equal(t, OkToProceed, insp.Classify(bp(2, "h2", "h1")))

	class := insp.Classify(bp(0, "h0-stale", "genesis"))
	require.Equal(t, UnrecognizedBlock, class)
	require.True(t, class.Fatal())
}

// TestInspectorMaybeReorgFallthrough covers rule 7: a block whose parent
// matches nothing in the window and isn't a duplicate falls through to
// MaybeReorg.
func TestInspectorMaybeReorgFallthrough(t *testing.T) {
	insp := newTestInspector(t, 10, 0)

	require.Equal(t, OkToProceed, insp.Classify(bp(0, "h0", "")))
	require.Equal(t, OkToProceed, insp.Classify(bp(1, "h1", "h0")))

	class := insp.Classify(bp(1, "h1-other", "unknown-parent"))
	require.Equal(t, MaybeReorg, class)
}

// TestInspectorExpectedStartRespectsMinStartBlock covers ExpectedStart when
// the window is empty: it must report minStartBlock, and the first accepted
// block must match it exactly.
func TestInspectorExpectedStartRespectsMinStartBlock(t *testing.T) {
	insp := newTestInspector(t, 10, 100)
	require.Equal(t, uint64(100), insp.ExpectedStart())

	require.Equal(t, UnexpectedBlock, insp.Classify(bp(0, "h0", "")))
	require.Equal(t, OkToProceed, insp.Classify(bp(100, "h100", "h99")))
}
