// Package pipeline implements the Pipeline Orchestrator: the per-block loop
// that consults the Inspector, decodes chain data, dispatches it to guest
// handlers, and flushes the Store Facade (spec.md §4.6).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/goran-ethernal/subgraphd/internal/chainvalue"
	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/facade"
	"github.com/goran-ethernal/subgraphd/internal/inspector"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/metrics"
	"github.com/goran-ethernal/subgraphd/internal/sandbox"
	"github.com/goran-ethernal/subgraphd/internal/source"
	"github.com/goran-ethernal/subgraphd/pkg/manifest"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// ErrFatal wraps a classification the Inspector marks Fatal: the run must
// stop (spec.md §4.6 step 1).
var ErrFatal = errors.New("pipeline: fatal block classification")

// binding is one manifest data source resolved against its parsed source
// descriptor and, when it declares an ABI, its event decoder.
type binding struct {
	ds         manifest.DataSource
	descriptor value.SourceDescriptor
	abi        *chainvalue.ABIDecoder
}

// Orchestrator drives the Inspector, Sandbox, and Agent against one Source
// (spec.md §4.6).
type Orchestrator struct {
	log      *logger.Logger
	subgraph string

	insp  *inspector.Inspector
	agent *facade.Agent
	sb    *sandbox.Sandbox
	src   source.Source
	binds []binding
}

// New builds an Orchestrator for one subgraph, resolving m's data sources
// into dispatch bindings. The caller loads m itself (typically with
// manifest.Load) since the Sandbox must already be instantiated from the
// same manifest's wasm_path/api_version/type_ids before this is called.
func New(
	subgraph string,
	m *manifest.Manifest,
	insp *inspector.Inspector,
	agent *facade.Agent,
	sb *sandbox.Sandbox,
	src source.Source,
	log *logger.Logger,
) (*Orchestrator, error) {
	binds := make([]binding, len(m.DataSources))
	for i, ds := range m.DataSources {
		descriptor, err := ds.SourceDescriptor()
		if err != nil {
			return nil, fmt.Errorf("pipeline: data source %d: %w", i, err)
		}
		var dec *chainvalue.ABIDecoder
		if ds.ABI != "" {
			dec, err = chainvalue.NewABIDecoder(ds.ABI)
			if err != nil {
				return nil, fmt.Errorf("pipeline: data source %d: %w", i, err)
			}
		}
		binds[i] = binding{ds: ds, descriptor: descriptor, abi: dec}
	}

	return &Orchestrator{
		log:      log.WithComponent(common.ComponentPipeline),
		subgraph: subgraph,
		insp:     insp,
		agent:    agent,
		sb:       sb,
		src:      src,
		binds:    binds,
	}, nil
}

// Run consumes messages from the Source until it is exhausted or ctx is
// cancelled, processing each one through the full per-block flow
// (spec.md §4.6). It returns promptly on a Fatal classification or a
// cancelled context, leaving the current block unflushed.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := o.src.Next(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: reading source: %w", err)
		}
		if msg == nil {
			return nil
		}

		if err := o.processMessage(ctx, msg.Raw); err != nil {
			return err
		}
	}
}

// processMessage implements spec.md §4.6's five steps for one block
// message: classify, decode, dispatch, flush.
func (o *Orchestrator) processMessage(ctx context.Context, raw []byte) error {
	block, err := chainvalue.DecodeBlockMessage(raw)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	class := o.insp.Classify(block.BlockPtr)
	switch class {
	case inspector.BlockAlreadyProcessed:
		o.log.Debugf("dropping already-processed block number=%d hash=%s", block.BlockPtr.Number, block.BlockPtr.Hash)
		return nil

	case inspector.MaybeReorg:
		o.log.Warnf("possible reorg at block number=%d hash=%s, awaiting operator resolution",
			block.BlockPtr.Number, block.BlockPtr.Hash)
		return nil

	case inspector.ForkBlock:
		if err := o.agent.RevertAndClear(ctx, block.BlockPtr.Number); err != nil {
			return fmt.Errorf("pipeline: fork recovery at block %d: %w", block.BlockPtr.Number, err)
		}

	case inspector.OkToProceed:
		// fall through to dispatch below.

	case inspector.UnexpectedBlock, inspector.UnrecognizedBlock:
		return fmt.Errorf("%w: %s at block number=%d hash=%s", ErrFatal, class, block.BlockPtr.Number, block.BlockPtr.Hash)
	}

	start := time.Now()
	if err := o.dispatch(block); err != nil {
		return fmt.Errorf("pipeline: dispatching block %d: %w", block.BlockPtr.Number, err)
	}
	metrics.GuestInvocationTimeLog(o.subgraph, "block", time.Since(start))

	if err := o.agent.Migrate(ctx, block.BlockPtr); err != nil {
		return fmt.Errorf("pipeline: flushing block %d: %w", block.BlockPtr.Number, err)
	}

	metrics.BlockProcessingTimeLog(o.subgraph, time.Since(start))
	metrics.BlocksProcessedInc(o.subgraph, 1)
	metrics.LastIndexedBlockSet(o.subgraph, block.BlockPtr.Number)
	return nil
}

// logMatch is one log paired with the binding and decoded event name it
// matched, kept so dispatch can invoke handlers in decoded-log order
// (spec.md §5: "handler invocation order follows decoded log order").
type logMatch struct {
	index   int
	bind    *binding
	event   string
	handler string
}

// dispatch invokes each matching source's block handler, then its event
// handlers for every log that matches the source's filter and ABI, in
// strictly serial order — the guest sandbox cannot run calls concurrently
// (spec.md §5). Matching itself (pure filter/ABI lookups, no sandbox
// access) is computed concurrently across data sources via errgroup,
// mirroring the teacher's per-indexer concurrent fan-out, since only the
// final guest invocation needs to be serialized.
func (o *Orchestrator) dispatch(block *chainvalue.DecodedBlock) error {
	matches := make([][]logMatch, len(o.binds))

	g := new(errgroup.Group)
	for bi := range o.binds {
		bi := bi
		g.Go(func() error {
			matches[bi] = o.matchLogs(&o.binds[bi], block.Logs)
			return nil
		})
	}
	_ = g.Wait() // matchLogs never returns an error; Wait only synchronizes.

	var ordered []logMatch
	for bi := range o.binds {
		ordered = append(ordered, matches[bi]...)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	for bi := range o.binds {
		if o.binds[bi].ds.BlockHandler == "" {
			continue
		}
		if err := o.invokeHandler(o.binds[bi].ds.BlockHandler, block.Header); err != nil {
			return err
		}
	}

	for _, m := range ordered {
		log := block.Logs[m.index]
		entity := chainvalue.DecodeLog(log)
		if m.bind.abi != nil {
			args, matched, err := m.bind.abi.DecodeArgs(log)
			if err != nil {
				return fmt.Errorf("decoding event %q args: %w", m.event, err)
			}
			if matched {
				for k, v := range args {
					entity[k] = v
				}
			}
		}
		if err := o.invokeHandler(m.handler, entity); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) matchLogs(b *binding, logs []types.Log) []logMatch {
	var out []logMatch
	for i, log := range logs {
		if !chainvalue.Matches(b.descriptor, log) {
			continue
		}
		if b.abi == nil {
			continue
		}
		eventName, ok := b.abi.EventName(log)
		if !ok {
			continue
		}
		handler, ok := b.ds.HandlerForEvent(eventName)
		if !ok {
			continue
		}
		out = append(out, logMatch{index: i, bind: b, event: eventName, handler: handler})
	}
	return out
}

func (o *Orchestrator) invokeHandler(name string, entity value.RawEntity) error {
	start := time.Now()
	ptr, err := o.sb.Memory().WriteValue(sandbox.EntityToValue(entity))
	if err != nil {
		return fmt.Errorf("writing argument for handler %q: %w", name, err)
	}
	if err := o.sb.CallHandler(name, ptr); err != nil {
		return fmt.Errorf("invoking handler %q: %w", name, err)
	}
	metrics.GuestInvocationTimeLog(o.subgraph, name, time.Since(start))
	metrics.EntitiesMutatedInc(o.subgraph, name, 1)
	return nil
}
