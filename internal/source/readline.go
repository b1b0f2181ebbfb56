package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// ReadLineSource reads newline-delimited SourceDataMessage bytes from a
// reader (normally os.Stdin), the {ReadLine} source variant of spec.md §6.
type ReadLineSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewReadLineSource wraps r, optionally closing closer on Close.
func NewReadLineSource(r io.Reader, closer io.Closer) *ReadLineSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &ReadLineSource{scanner: scanner, closer: closer}
}

func (s *ReadLineSource) Next(ctx context.Context) (*SourceDataMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("source: reading line: %w", err)
		}
		return nil, nil
	}
	line := append([]byte(nil), s.scanner.Bytes()...)
	return &SourceDataMessage{Raw: line}, nil
}

func (s *ReadLineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
