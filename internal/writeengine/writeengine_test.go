package writeengine

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/localtelemetry/ingestd/internal/runs"
	"github.com/localtelemetry/ingestd/internal/store/migrations"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "writeengine-test.sqlite")

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	t.Cleanup(func() { db.Close() })

	runner, err := migrations.NewRunner(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })

	require.NoError(t, runner.Up())

	return db
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	db := testDB(t)

	return New(db, runs.NewValidator(nil), nil)
}

func newRunningRun(eventID string) *runs.Run {
	return &runs.Run{
		EventID:     eventID,
		RunID:       "run-1",
		AgentName:   "agent-a",
		JobType:     "crawl",
		TriggerType: "scheduled",
		Status:      "running",
		StartTime:   time.Now().UTC(),
	}
}

func newCompletedRun(eventID string) *runs.Run {
	r := newRunningRun(eventID)
	ended := r.StartTime.Add(time.Second)
	r.Status = "success"
	r.EndTime = &ended
	r.DurationMs = 1000

	return r
}

func ptr[T any](v T) *T { return &v }
