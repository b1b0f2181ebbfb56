package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/pkg/config"
)

func TestReadLineSourceYieldsEachLine(t *testing.T) {
	r := strings.NewReader("{\"a\":1}\n{\"a\":2}\n")
	src := NewReadLineSource(r, nil)
	defer src.Close()

	ctx := context.Background()

	msg, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(msg.Raw))

	msg, err = src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(msg.Raw))

	msg, err = src.Next(ctx)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestReadLineSourceRespectsCancelledContext(t *testing.T) {
	src := NewReadLineSource(strings.NewReader("x\n"), nil)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadDirSourceYieldsFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002.json"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.json"), []byte("first"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	src, err := NewReadDirSource(dir)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	msg, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", string(msg.Raw))

	msg, err = src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(msg.Raw))

	msg, err = src.Next(ctx)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestReadDirSourceEmptyDirectoryYieldsNilImmediately(t *testing.T) {
	dir := t.TempDir()
	src, err := NewReadDirSource(dir)
	require.NoError(t, err)
	defer src.Close()

	msg, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestNewSourceRejectsUnknownKind(t *testing.T) {
	_, err := New(config.SourceConfig{Kind: "unknown"})
	require.Error(t, err)
}
