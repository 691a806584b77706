package statusalias

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTable_MissingFileUsesBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	table, err := LoadTable(path)
	require.NoError(t, err)

	got, ok := table.Normalize("failed")
	require.True(t, ok)
	assert.Equal(t, Failure, got)
}

func TestLoadTable_OverridesMergeWithBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases:\n  crashed: failure\n  done: success\n"), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	got, ok := table.Normalize("crashed")
	require.True(t, ok)
	assert.Equal(t, Failure, got)

	got, ok = table.Normalize("done")
	require.True(t, ok)
	assert.Equal(t, Success, got)

	got, ok = table.Normalize("failed")
	require.True(t, ok, "builtin aliases must survive an override file")
	assert.Equal(t, Failure, got)
}

func TestLoadTable_NonCanonicalOverrideTargetIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases:\n  weird: not-a-real-status\n"), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	_, ok := table.Normalize("weird")
	assert.False(t, ok)
}

func TestLoadTable_InvalidYAMLFallsBackToBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	got, ok := table.Normalize("failed")
	require.True(t, ok)
	assert.Equal(t, Failure, got)
}

func TestLoadTable_EmptyFileFallsBackToBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	got, ok := table.Normalize("failed")
	require.True(t, ok)
	assert.Equal(t, Failure, got)
}

func TestLoadTableFromEnv_UsesConfiguredPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases:\n  crashed: failure\n"), 0o644))

	t.Setenv(ConfigPathEnvVar, path)

	table, err := LoadTableFromEnv()
	require.NoError(t, err)

	got, ok := table.Normalize("crashed")
	require.True(t, ok)
	assert.Equal(t, Failure, got)
}
