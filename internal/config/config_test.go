package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoadOverlaysManifestOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ncpu: 2\nlog_level: debug\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.NCPU)
	require.Equal(t, "debug", c.LogLevel)
	// fields the manifest doesn't mention keep their default values
	require.Equal(t, Default().DiskPath, c.DiskPath)
	require.Equal(t, Default().JournalBlocks, c.JournalBlocks)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ncpu: [this is not a scalar\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
