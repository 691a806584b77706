package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localtelemetry/ingestd/internal/store"
	"github.com/localtelemetry/ingestd/internal/store/migrations"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	cfg := &store.Config{
		Path:         filepath.Join(t.TempDir(), "ingestd.sqlite"),
		BusyTimeout:  5 * time.Second,
		JournalMode:  "delete",
		Synchronous:  "full",
		MaxRetries:   3,
		RetryBackoff: 10 * time.Millisecond,
		ReadPoolSize: 2,
	}

	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner, err := migrations.NewRunner(st.WriteDB(), nil)
	require.NoError(t, err)
	require.NoError(t, runner.Up())

	return st
}

func seedRun(t *testing.T, st *store.Store, eventID string, createdAt time.Time) {
	t.Helper()

	_, err := st.WriteDB().Exec(
		`INSERT INTO agent_runs (event_id, run_id, agent_name, status, start_time, schema_version, created_at, updated_at)
		 VALUES (?, ?, 'agent', 'success', ?, 6, ?, ?)`,
		eventID, eventID, createdAt, createdAt, createdAt,
	)
	require.NoError(t, err)
}

func seedEvent(t *testing.T, st *store.Store, runID string, createdAt time.Time) {
	t.Helper()

	_, err := st.WriteDB().Exec(
		`INSERT INTO run_events (run_id, event_type, timestamp, created_at)
		 VALUES (?, 'progress', ?, ?)`,
		runID, createdAt, createdAt,
	)
	require.NoError(t, err)
}

func TestMaintainer_BackupAndRotate(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st, "evt-1", time.Now())

	m := New(st, nil)
	backupDir := t.TempDir()

	report, err := m.Backup(context.Background(), backupDir, 2, time.Now())
	require.NoError(t, err)
	require.FileExists(t, report.Path)

	second, err := m.Backup(context.Background(), backupDir, 2, time.Now())
	require.NoError(t, err)
	require.NotEqual(t, report.Path, second.Path, "same-day backups must not collide")
}

func TestMaintainer_CheckIntegrity(t *testing.T) {
	st := newTestStore(t)
	m := New(st, nil)

	report, err := m.CheckIntegrity(context.Background(), store.Quick)
	require.NoError(t, err)
	require.True(t, report.OK)
}

func TestMaintainer_Retain(t *testing.T) {
	st := newTestStore(t)

	seedRun(t, st, "evt-old", time.Now().Add(-48*time.Hour))
	seedRun(t, st, "evt-new", time.Now())
	seedEvent(t, st, "evt-old", time.Now().Add(-48*time.Hour))
	seedEvent(t, st, "evt-new", time.Now())

	m := New(st, nil)

	dryRun, err := m.Retain(context.Background(), RetentionOptions{
		OlderThan: time.Now().Add(-24 * time.Hour),
		DryRun:    true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), dryRun.WouldDelete)
	require.Equal(t, int64(0), dryRun.Deleted)
	require.Equal(t, int64(1), dryRun.WouldDeleteEvents)
	require.Equal(t, int64(0), dryRun.DeletedEvents)

	applied, err := m.Retain(context.Background(), RetentionOptions{
		OlderThan: time.Now().Add(-24 * time.Hour),
		BatchSize: 1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), applied.Deleted)
	require.Equal(t, int64(1), applied.DeletedEvents)

	var remaining int
	require.NoError(t, st.WriteDB().QueryRow(`SELECT COUNT(*) FROM agent_runs`).Scan(&remaining))
	require.Equal(t, 1, remaining)

	var remainingEvents int
	require.NoError(t, st.WriteDB().QueryRow(`SELECT COUNT(*) FROM run_events`).Scan(&remainingEvents))
	require.Equal(t, 1, remainingEvents)
}

func TestMaintainer_Diagnose(t *testing.T) {
	st := newTestStore(t)
	m := New(st, nil)

	snapshot, err := m.Diagnose(context.Background())
	require.NoError(t, err)
	require.Equal(t, "delete", snapshot.JournalMode)
}
