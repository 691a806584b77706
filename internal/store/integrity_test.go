package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityCheck_QuickOnFreshDatabase(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	ok, detail, err := IntegrityCheck(context.Background(), st.WriteDB(), Quick)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", detail)
}

func TestIntegrityCheck_FullOnFreshDatabase(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	ok, detail, err := IntegrityCheck(context.Background(), st.WriteDB(), Full)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", detail)
}

func TestCheckFile_OnFreshDatabase(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	ok, detail, err := CheckFile(context.Background(), cfg.Path, Quick)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", detail)
}

func TestCheckFile_MissingFileReturnsError(t *testing.T) {
	_, _, err := CheckFile(context.Background(), "/nonexistent/path/db.sqlite", Quick)
	assert.Error(t, err)
}
