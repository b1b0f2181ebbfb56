package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleManifest = `
api_version: "0.0.5"
wasm_path: "./build/subgraph.wasm"
data_sources:
  - address: "0x00000000000000000000000000000000deadbeef"
    abi: "[]"
    start_block: 100
    block_handler: handleBlock
    event_handlers:
      - event: Transfer
        handler: handleTransfer
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesDataSources(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, sampleManifest)
	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.DataSources, 1)

	ds := m.DataSources[0]
	require.Equal(t, "handleBlock", ds.BlockHandler)

	handler, ok := ds.HandlerForEvent("Transfer")
	require.True(t, ok)
	require.Equal(t, "handleTransfer", handler)

	_, ok = ds.HandlerForEvent("Approval")
	require.False(t, ok)
}

func TestLoadRejectsEmptyDataSources(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, "api_version: \"0.0.5\"\nwasm_path: \"./x.wasm\"\ndata_sources: []\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDataSourceSourceDescriptor(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, sampleManifest)
	m, err := Load(path)
	require.NoError(t, err)

	desc, err := m.DataSources[0].SourceDescriptor()
	require.NoError(t, err)
	require.NotNil(t, desc.Address)
	require.NotNil(t, desc.StartBlock)
	require.Equal(t, uint64(100), *desc.StartBlock)
}

func TestDataSourceSourceDescriptorRejectsBadAddress(t *testing.T) {
	t.Parallel()

	ds := DataSource{Address: "not-an-address"}
	_, err := ds.SourceDescriptor()
	require.Error(t, err)
}
