package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ReadDirSource reads one SourceDataMessage per file in a directory, sorted
// by name (filenames are expected to be zero-padded block numbers), the
// {ReadDir{source_dir}} source variant of spec.md §6.
type ReadDirSource struct {
	dir     string
	files   []string
	cursor  int
}

// NewReadDirSource lists dir's entries eagerly; spec.md §1 treats source
// behavior as out of scope, so no filesystem watching is implemented.
func NewReadDirSource(dir string) (*ReadDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: reading directory %q: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &ReadDirSource{dir: dir, files: files}, nil
}

func (s *ReadDirSource) Next(ctx context.Context) (*SourceDataMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cursor >= len(s.files) {
		return nil, nil
	}
	path := s.files[s.cursor]
	s.cursor++
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: reading %q: %w", path, err)
	}
	return &SourceDataMessage{Raw: raw}, nil
}

func (s *ReadDirSource) Close() error { return nil }
