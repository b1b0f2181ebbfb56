// Package inspector implements the Block Progress & Reorg Inspector: a
// finite-window state machine that classifies each incoming block relative
// to recent history and drives reorg recovery (spec.md §4.1).
//
// The classification itself is written as a pure function of
// (window, expected start, new block) so it can be property-tested the way
// the teacher's ReorgDetector.VerifyAndRecordBlocks is tested against a
// mock RPC client (internal/reorg/reorg_detector_test.go), without needing
// any database or network collaborator.
package inspector

import (
	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/metrics"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Classification is the result of inspecting one incoming block against the
// window (spec.md §4.1).
type Classification int

const (
	OkToProceed Classification = iota
	UnexpectedBlock
	BlockAlreadyProcessed
	ForkBlock
	UnrecognizedBlock
	MaybeReorg
)

func (c Classification) String() string {
	switch c {
	case OkToProceed:
		return "OkToProceed"
	case UnexpectedBlock:
		return "UnexpectedBlock"
	case BlockAlreadyProcessed:
		return "BlockAlreadyProcessed"
	case ForkBlock:
		return "ForkBlock"
	case UnrecognizedBlock:
		return "UnrecognizedBlock"
	case MaybeReorg:
		return "MaybeReorg"
	default:
		return "Unknown"
	}
}

// Fatal reports whether the pipeline must stop the run on this
// classification (spec.md §4.6 step 1).
func (c Classification) Fatal() bool {
	return c == UnexpectedBlock || c == UnrecognizedBlock
}

// Inspector holds the bounded recent-block window, newest at front, and the
// minimum startBlock across configured sources.
type Inspector struct {
	log            *logger.Logger
	reorgThreshold int
	minStartBlock  uint64
	window         []value.BlockPtr
}

// New creates an Inspector. minStartBlock is
// min(startBlock_i for i in sources, else 0) from spec.md §4.1.
func New(reorgThreshold int, minStartBlock uint64, log *logger.Logger) *Inspector {
	metrics.ComponentHealthSet(common.ComponentInspector, true)
	return &Inspector{
		log:            log,
		reorgThreshold: reorgThreshold,
		minStartBlock:  minStartBlock,
	}
}

// Window returns a copy of the current window, newest at front.
func (i *Inspector) Window() []value.BlockPtr {
	out := make([]value.BlockPtr, len(i.window))
	copy(out, i.window)
	return out
}

// ExpectedStart computes max(minStartBlock, (front.Number+1 if window else 0))
// as defined in spec.md §4.1.
func (i *Inspector) ExpectedStart() uint64 {
	if len(i.window) == 0 {
		return i.minStartBlock
	}
	next := i.window[0].Number + 1
	if next > i.minStartBlock {
		return next
	}
	return i.minStartBlock
}

// Classify runs the rule chain of spec.md §4.1 against new, mutating the
// window in place for the OkToProceed/ForkBlock cases and leaving it
// untouched otherwise. It returns the classification reached.
func (i *Inspector) Classify(new value.BlockPtr) Classification {
	class := i.classify(new)

	i.log.Debugf("inspector classified block: number=%d hash=%s classification=%s window_size=%d",
		new.Number, new.Hash, class, len(i.window))

	switch class {
	case ForkBlock:
		metrics.ForkBlocksTotal.Inc()
	case MaybeReorg:
		metrics.MaybeReorgsTotal.Inc()
	case UnexpectedBlock, UnrecognizedBlock:
		metrics.FatalClassificationsTotal.Inc()
	}
	metrics.InspectorWindowSize.Set(float64(len(i.window)))

	return class
}

func (i *Inspector) classify(new value.BlockPtr) Classification {
	// Rule 1/2: empty window.
	if len(i.window) == 0 {
		if new.Number == i.ExpectedStart() {
			i.pushFront(new)
			return OkToProceed
		}
		return UnexpectedBlock
	}

	front := i.window[0]
	back := i.window[len(i.window)-1]

	// Rule 3: front is parent of new.
	if front.IsParentOf(new) {
		i.pushFront(new)
		if len(i.window) > i.reorgThreshold {
			i.window = i.window[:len(i.window)-1]
		}
		return OkToProceed
	}

	// Rule 4: fatal gap.
	if new.Number > front.Number+1 {
		return UnexpectedBlock
	}

	// Rule 5: below window floor.
	if new.Number < back.Number {
		return UnrecognizedBlock
	}

	// Rule 6: scan front-to-back for duplicate or fork parent.
	for _, b := range i.window {
		if b.Equal(new) {
			return BlockAlreadyProcessed
		}
	}
	for _, b := range i.window {
		if b.IsParentOf(new) {
			i.retainBelow(new.Number)
			i.pushFront(new)
			return ForkBlock
		}
	}

	// Rule 7.
	return MaybeReorg
}

func (i *Inspector) pushFront(b value.BlockPtr) {
	i.window = append([]value.BlockPtr{b}, i.window...)
}

// retainBelow keeps only window entries with Number < newNumber, as required
// by the ForkBlock branch of rule 6.
func (i *Inspector) retainBelow(newNumber uint64) {
	kept := i.window[:0:0]
	for _, b := range i.window {
		if b.Number < newNumber {
			kept = append(kept, b)
		}
	}
	i.window = kept
}
