package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		Path:         filepath.Join(t.TempDir(), "ingestd.sqlite"),
		BusyTimeout:  5 * time.Second,
		JournalMode:  "delete",
		Synchronous:  "full",
		MaxRetries:   3,
		RetryBackoff: 10 * time.Millisecond,
		ReadPoolSize: 2,
	}
}

func TestOpen_CreatesDatabaseFileAndDataDir(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	assert.FileExists(t, cfg.Path)
	assert.Equal(t, cfg.Path, st.Path())
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Path = ""

	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
}

func TestStore_WriteDBIsSingleConnection(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, 1, st.WriteDB().Stats().MaxOpenConnections)
}

func TestStore_ReadDBHonorsPoolSize(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadPoolSize = 4

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, 4, st.ReadDB().Stats().MaxOpenConnections)
}

func TestStore_HealthCheck(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.HealthCheck(context.Background()))
}

func TestStore_HealthCheckFailsAfterClose(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = st.HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestStore_CloseIsCallableOnce(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, st.Close())
}

func TestStore_WritesAreVisibleToReadConnection(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()

	_, err = st.WriteDB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	_, err = st.WriteDB().ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "hello")
	require.NoError(t, err)

	var v string
	require.NoError(t, st.ReadDB().QueryRowContext(ctx, "SELECT v FROM t WHERE id = 1").Scan(&v))
	assert.Equal(t, "hello", v)
}

func TestStore_ReadConnectionRejectsWrites(t *testing.T) {
	cfg := testConfig(t)

	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()

	_, err = st.WriteDB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	_, err = st.ReadDB().ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
	assert.Error(t, err, "a read-only connection must reject writes")
}
