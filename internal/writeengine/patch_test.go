package writeengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

func TestEngine_PatchUpdatesStatusAndComputesDuration(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newRunningRun("evt-1")
	r.StartTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-1", map[string]json.RawMessage{
		"status":   rawJSON(t, "success"),
		"end_time": rawJSON(t, "2026-01-01T00:00:02Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, Updated, result.Outcome)
	assert.Contains(t, result.FieldsUpdated, "duration_ms")

	var status string
	var durationMs int64
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT status, duration_ms FROM agent_runs WHERE event_id = ?", "evt-1").Scan(&status, &durationMs))
	assert.Equal(t, "success", status)
	assert.Equal(t, int64(2000), durationMs)
}

func TestEngine_PatchDoesNotOverrideExplicitDuration(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newRunningRun("evt-1b")
	r.StartTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	_, err = e.Patch(ctx, "evt-1b", map[string]json.RawMessage{
		"status":      rawJSON(t, "success"),
		"end_time":    rawJSON(t, "2026-01-01T00:00:02Z"),
		"duration_ms": rawJSON(t, 9999),
	})
	require.NoError(t, err)

	var durationMs int64
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT duration_ms FROM agent_runs WHERE event_id = ?", "evt-1b").Scan(&durationMs))
	assert.Equal(t, int64(9999), durationMs)
}

func TestEngine_PatchNotFound(t *testing.T) {
	e := testEngine(t)

	result, err := e.Patch(context.Background(), "does-not-exist", map[string]json.RawMessage{
		"status": rawJSON(t, "success"),
	})
	require.NoError(t, err)
	assert.Equal(t, NotFound, result.Outcome)
}

func TestEngine_PatchRejectsUnknownField(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, newRunningRun("evt-2"))
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-2", map[string]json.RawMessage{
		"event_id": rawJSON(t, "new-id"),
	})
	require.NoError(t, err)
	assert.Equal(t, Invalid, result.Outcome)
	assert.Contains(t, result.Error, "unknown or non-patchable field")
}

func TestEngine_PatchRejectsCreatedAtAndRunID(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, newRunningRun("evt-2c"))
	require.NoError(t, err)

	for _, field := range []string{"created_at", "run_id"} {
		result, err := e.Patch(ctx, "evt-2c", map[string]json.RawMessage{
			field: rawJSON(t, "whatever"),
		})
		require.NoError(t, err)
		assert.Equal(t, Invalid, result.Outcome, "field %q must not be patchable", field)
	}
}

func TestEngine_PatchEmptyFieldsIsNoOp(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, newRunningRun("evt-3"))
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-3", map[string]json.RawMessage{})
	require.NoError(t, err)
	assert.Equal(t, Updated, result.Outcome)
}

func TestEngine_PatchStatusCannotBeClearedToNull(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, newRunningRun("evt-4"))
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-4", map[string]json.RawMessage{
		"status": json.RawMessage("null"),
	})
	require.NoError(t, err)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestEngine_PatchExplicitNullClearsNullableColumn(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newCompletedRun("evt-5")
	r.ErrorSummary = ptr("boom")

	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-5", map[string]json.RawMessage{
		"error_summary": json.RawMessage("null"),
	})
	require.NoError(t, err)
	assert.Equal(t, Updated, result.Outcome)

	var errSummary *string
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT error_summary FROM agent_runs WHERE event_id = ?", "evt-5").Scan(&errSummary))
	assert.Nil(t, errSummary)
}

func TestEngine_PatchRejectsNullOnNonNullableColumn(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, newRunningRun("evt-5b"))
	require.NoError(t, err)

	result, err := e.Patch(ctx, "evt-5b", map[string]json.RawMessage{
		"agent_name": json.RawMessage("null"),
	})
	require.NoError(t, err)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestEngine_PatchAbsentKeyLeavesColumnUntouched(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newCompletedRun("evt-6")
	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	_, err = e.Patch(ctx, "evt-6", map[string]json.RawMessage{
		"error_summary": rawJSON(t, "retried"),
	})
	require.NoError(t, err)

	var agentName string
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT agent_name FROM agent_runs WHERE event_id = ?", "evt-6").Scan(&agentName))
	assert.Equal(t, "agent-a", agentName, "a column absent from the patch body must be untouched")
}

func TestEngine_PatchUpdatesAtStrictlyIncreases(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newRunningRun("evt-7")
	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	var firstUpdatedAt time.Time
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT updated_at FROM agent_runs WHERE event_id = ?", "evt-7").Scan(&firstUpdatedAt))

	time.Sleep(2 * time.Millisecond)

	_, err = e.Patch(ctx, "evt-7", map[string]json.RawMessage{
		"status": rawJSON(t, "success"),
	})
	require.NoError(t, err)

	var secondUpdatedAt time.Time
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT updated_at FROM agent_runs WHERE event_id = ?", "evt-7").Scan(&secondUpdatedAt))

	assert.True(t, secondUpdatedAt.After(firstUpdatedAt))
}
