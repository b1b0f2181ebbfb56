package source

import (
	"fmt"
	"os"

	"github.com/goran-ethernal/subgraphd/pkg/config"
)

// New builds the Source selected by cfg.Kind (spec.md §6).
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case "read_line":
		return NewReadLineSource(os.Stdin, nil), nil
	case "read_dir":
		return NewReadDirSource(cfg.SourceDir)
	case "nats":
		return NewNatsSource(cfg.Nats.URI, cfg.Nats.Subject)
	default:
		return nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}
