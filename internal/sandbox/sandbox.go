// Package sandbox implements the Sandbox Runtime over wasmtime-go: it
// instantiates a guest wasm module, drives its version-dependent allocator
// protocol, and exposes the Host Bridge's namespaced functions to it
// (spec.md §4.2, §4.3).
package sandbox

import (
	"fmt"
	"os"

	"github.com/bytecodealliance/wasmtime-go/v14"

	"github.com/goran-ethernal/subgraphd/internal/common"
	"github.com/goran-ethernal/subgraphd/internal/facade"
	"github.com/goran-ethernal/subgraphd/internal/guestmem"
	"github.com/goran-ethernal/subgraphd/internal/logger"
)

// Sandbox runs one guest wasm module on a dedicated execution context. Per
// spec.md §5, guest code cannot suspend: every host function it calls must
// run synchronously to completion before control returns to the guest.
type Sandbox struct {
	log      *logger.Logger
	agent    *facade.Agent
	engine   *wasmtime.Engine
	store    *wasmtime.Store
	module   *wasmtime.Module
	linker   *wasmtime.Linker
	instance *wasmtime.Instance
	mem      *guestmem.Memory
	version  guestmem.APIVersion
	types    guestmem.StaticTypeIDs
}

// Config selects the guest module and its declared API version and
// heap-resident type table (spec.md §4.2: "Every heap-resident type
// declares a stable IndexAscTypeId").
type Config struct {
	WasmPath   string
	APIVersion string
	TypeIDs    guestmem.StaticTypeIDs
}

// New instantiates the guest module at cfg.WasmPath, wires the Host Bridge
// against agent, and — under the APIHeader protocol — calls the guest's
// start export once (spec.md §4.2).
func New(cfg Config, agent *facade.Agent, log *logger.Logger) (*Sandbox, error) {
	version, err := guestmem.ParseAPIVersion(cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	wasmBytes, err := os.ReadFile(cfg.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: reading guest module %q: %w", cfg.WasmPath, err)
	}

	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compiling guest module %q: %w", cfg.WasmPath, err)
	}

	s := &Sandbox{
		log:     log.WithComponent(common.ComponentSandbox),
		agent:   agent,
		engine:  engine,
		store:   store,
		module:  module,
		version: version,
		types:   cfg.TypeIDs,
	}

	linker := wasmtime.NewLinker(engine)
	if err := s.defineHostBridge(linker); err != nil {
		return nil, fmt.Errorf("sandbox: defining host bridge: %w", err)
	}
	s.linker = linker

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiating guest module %q: %w", cfg.WasmPath, err)
	}
	s.instance = instance

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("sandbox: guest module %q does not export linear memory", cfg.WasmPath)
	}
	wasmMem := memExport.Memory()

	allocSymbol := "memory.allocate"
	if version == guestmem.APIHeader {
		allocSymbol = "allocate"
	}
	allocFn := instance.GetExport(store, allocSymbol)
	if allocFn == nil || allocFn.Func() == nil {
		return nil, fmt.Errorf("sandbox: guest module %q does not export allocator %q", cfg.WasmPath, allocSymbol)
	}
	allocator := func(size uint32) (guestmem.Ptr, error) {
		result, err := allocFn.Func().Call(store, int32(size)) //nolint:gosec
		if err != nil {
			return guestmem.Null, fmt.Errorf("sandbox: allocator call failed: %w", err)
		}
		offset, ok := result.(int32)
		if !ok {
			return guestmem.Null, fmt.Errorf("sandbox: allocator returned unexpected type %T", result)
		}
		return guestmem.Ptr(offset), nil //nolint:gosec
	}

	s.mem = guestmem.New(wasmMem.UnsafeData(store), version, allocator, cfg.TypeIDs)

	if version == guestmem.APIHeader {
		startExport := instance.GetExport(store, "_start")
		if startExport != nil && startExport.Func() != nil {
			if _, err := startExport.Func().Call(store); err != nil {
				return nil, fmt.Errorf("sandbox: guest module %q start export failed: %w", cfg.WasmPath, err)
			}
		}
	}

	return s, nil
}

// refreshMemory re-binds the memory accessor after a call that may have
// grown the guest's linear memory (wasmtime can move the backing array on
// growth).
func (s *Sandbox) refreshMemory() {
	memExport := s.instance.GetExport(s.store, "memory")
	s.mem.Rebind(memExport.Memory().UnsafeData(s.store))
}

// CallHandler invokes a guest-exported handler function by name, passing
// argPtr as its single pointer argument (spec.md §4.6 step 3: "invoke the
// guest-exported handler with the appropriate argument pointer").
func (s *Sandbox) CallHandler(name string, argPtr guestmem.Ptr) error {
	export := s.instance.GetExport(s.store, name)
	if export == nil || export.Func() == nil {
		return fmt.Errorf("sandbox: guest module has no exported handler %q", name)
	}
	if _, err := export.Func().Call(s.store, int32(argPtr)); err != nil { //nolint:gosec
		return fmt.Errorf("sandbox: handler %q aborted: %w", name, err)
	}
	s.refreshMemory()
	return nil
}

// Memory exposes the sandbox's guest memory accessor, used by callers that
// need to write an argument image before invoking a handler.
func (s *Sandbox) Memory() *guestmem.Memory { return s.mem }

// Close releases the wasmtime store and engine.
func (s *Sandbox) Close() {
	s.store.Close()
	s.engine.Close()
}
