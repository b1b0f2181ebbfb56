package facade

import (
	"context"
	"fmt"
	"sync"

	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// RequestKind identifies which guest-originated Facade operation a Request
// carries (spec.md §4.5).
type RequestKind int

const (
	RequestCreate RequestKind = iota
	RequestLoad
	RequestUpdate
	RequestDelete
	RequestLoadInBlock
	RequestLoadRelated
)

// Request is a guest-originated store call, dispatched by the Host Bridge's
// index.store.* functions (spec.md §4.3, §4.5).
type Request struct {
	Kind       RequestKind
	EntityType string
	ID         string
	Field      string
	Data       value.RawEntity
}

// Response carries the result of a Request.
type Response struct {
	ID      string
	Entity  value.RawEntity
	Found   bool
	Related []value.RawEntity
}

// Agent is a shared handle over the Facade providing a blocking
// synchronous entry point for guest calls and asynchronous entry points for
// migrate/clear_in_memory. Concurrent guest calls within one block are
// serialized via a mutex owned by the Agent — one exclusive-access mutex
// for guest-initiated requests, kept separate from migrate/clear's async
// path (spec.md §4.5, §9 "Shared mutable state").
type Agent struct {
	facade *Facade
	log    *logger.Logger

	// guestMu serializes guest-initiated Handle calls. The guest sandbox
	// runs synchronously on its own execution context and cannot suspend
	// (spec.md §5), so this must never be held across a suspension point.
	guestMu sync.Mutex
}

// NewAgent wraps facade with the concurrency discipline required to expose
// it to both the guest sandbox and the async pipeline.
func NewAgent(facade *Facade, log *logger.Logger) *Agent {
	return &Agent{facade: facade, log: log.WithComponent(common.ComponentAgent)}
}

// Handle serves one guest-originated request under the Agent's mutex. It
// must complete synchronously: no suspension across host calls
// (spec.md §4.2 "Invocation contract").
func (a *Agent) Handle(req Request) (Response, error) {
	a.guestMu.Lock()
	defer a.guestMu.Unlock()

	switch req.Kind {
	case RequestCreate, RequestUpdate:
		id, err := a.facade.Create(req.EntityType, req.Data)
		if err != nil {
			return Response{}, err
		}
		return Response{ID: id}, nil

	case RequestLoad:
		e, ok, err := a.facade.Load(req.EntityType, req.ID)
		if err != nil {
			return Response{}, err
		}
		return Response{Entity: e, Found: ok}, nil

	case RequestLoadInBlock:
		e, ok := a.facade.LoadInBlock(req.EntityType, req.ID)
		return Response{Entity: e, Found: ok}, nil

	case RequestDelete:
		a.facade.Delete(req.EntityType, req.ID)
		return Response{}, nil

	case RequestLoadRelated:
		related, err := a.facade.LoadRelated(req.EntityType, req.ID, req.Field)
		if err != nil {
			return Response{}, err
		}
		return Response{Related: related}, nil

	default:
		return Response{}, fmt.Errorf("facade: unknown request kind %d", req.Kind)
	}
}

// Migrate is the asynchronous flush entry point invoked by the pipeline at
// block boundaries. It does not contend with guestMu: flush only runs
// between blocks, once all of a block's guest handler invocations have
// returned (spec.md §4.6 step 4).
func (a *Agent) Migrate(ctx context.Context, blockPtr value.BlockPtr) error {
	return a.facade.Migrate(ctx, blockPtr)
}

// RevertAndClear is the asynchronous ForkBlock recovery entry point
// (spec.md §4.6 step 1).
func (a *Agent) RevertAndClear(ctx context.Context, fromBlock uint64) error {
	return a.facade.RevertAndClear(ctx, fromBlock)
}

// ClearInMemory is the asynchronous entry point for discarding buffered
// writes without a backend round-trip.
func (a *Agent) ClearInMemory() {
	a.facade.ClearInMemory()
}
