// Package manifest describes which guest-exported handlers run for which
// chain events, loaded from the file named by SubgraphConfig.Manifest
// (spec.md §6). Manifest loading itself is out of scope per spec.md §1 —
// this package is the minimal shape the Pipeline Orchestrator needs to
// route decoded logs to handlers (SPEC_FULL.md §C).
package manifest

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// EventHandler binds one ABI event name to the guest-exported function that
// handles it.
type EventHandler struct {
	Event   string `yaml:"event"`
	Handler string `yaml:"handler"`
}

// DataSource is one guest data source: an address/startBlock filter, the
// ABI describing its events, and the handlers bound to each event name
// (spec.md §3 "Source descriptor", generalized per SPEC_FULL.md §C to
// actually consume SourceDescriptor.abi).
type DataSource struct {
	Address       string         `yaml:"address"`
	ABI           string         `yaml:"abi"`
	StartBlock    *uint64        `yaml:"start_block"`
	EventHandlers []EventHandler `yaml:"event_handlers"`
	BlockHandler  string         `yaml:"block_handler"`
}

// Manifest is the subgraph manifest named by SubgraphConfig.Manifest.
type Manifest struct {
	APIVersion  string            `yaml:"api_version"`
	WasmPath    string            `yaml:"wasm_path"`
	DataSources []DataSource      `yaml:"data_sources"`
	// TypeIDs maps a heap-resident layout name to its guest-declared
	// IndexAscTypeId, required under the APIHeader protocol (spec.md §4.2).
	TypeIDs map[string]uint32 `yaml:"type_ids"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing %q: %w", path, err)
	}
	if len(m.DataSources) == 0 {
		return nil, fmt.Errorf("manifest: %q declares no data sources", path)
	}
	return &m, nil
}

// SourceDescriptor renders ds as the value.SourceDescriptor the Chain Value
// Decoders' filter matches against.
func (ds DataSource) SourceDescriptor() (value.SourceDescriptor, error) {
	var addr *[20]byte
	if ds.Address != "" {
		if !common.IsHexAddress(ds.Address) {
			return value.SourceDescriptor{}, fmt.Errorf("manifest: invalid address %q", ds.Address)
		}
		a := [20]byte(common.HexToAddress(ds.Address))
		addr = &a
	}
	return value.SourceDescriptor{Address: addr, ABI: ds.ABI, StartBlock: ds.StartBlock}, nil
}

// HandlerForEvent returns the guest handler bound to eventName, if any.
func (ds DataSource) HandlerForEvent(eventName string) (string, bool) {
	for _, eh := range ds.EventHandlers {
		if eh.Event == eventName {
			return eh.Handler, true
		}
	}
	return "", false
}
