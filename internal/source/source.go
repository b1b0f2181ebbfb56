// Package source implements the three source variants named in spec.md §6
// (ReadLine, ReadDir, Nats) as the external-collaborator boundary: each
// produces raw SourceDataMessage bytes for internal/chainvalue to decode.
// Source behavior itself is out of scope per spec.md §1 — this package is
// deliberately thin.
package source

import (
	"context"
)

// SourceDataMessage is one undecoded unit of input, handed to
// internal/chainvalue for parsing into a decoded block (spec.md §6).
type SourceDataMessage struct {
	Raw []byte
}

// Source produces a stream of SourceDataMessage values until ctx is
// cancelled or the underlying transport is exhausted.
type Source interface {
	// Next blocks until a message is available, ctx is cancelled, or the
	// source is exhausted (io.EOF-equivalent, reported as a nil message and
	// nil error).
	Next(ctx context.Context) (*SourceDataMessage, error)
	Close() error
}
