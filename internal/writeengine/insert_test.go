package writeengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_InsertCreatesNewRun(t *testing.T) {
	e := testEngine(t)

	result, err := e.Insert(context.Background(), newCompletedRun("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, Created, result.Outcome)
	assert.Equal(t, "evt-1", result.EventID)
}

func TestEngine_InsertIsIdempotent(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newCompletedRun("evt-2")

	first, err := e.Insert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, Created, first.Outcome)

	second, err := e.Insert(ctx, newCompletedRun("evt-2"))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Outcome)

	var count int
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM agent_runs WHERE event_id = ?", "evt-2").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEngine_InsertDuplicateDoesNotMutateExistingRow(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	first := newCompletedRun("evt-2b")
	_, err := e.Insert(ctx, first)
	require.NoError(t, err)

	changed := newCompletedRun("evt-2b")
	changed.AgentName = "different-agent"

	_, err = e.Insert(ctx, changed)
	require.NoError(t, err)

	var agentName string
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT agent_name FROM agent_runs WHERE event_id = ?", "evt-2b").Scan(&agentName))
	assert.Equal(t, "agent-a", agentName)
}

func TestEngine_InsertRejectsNilRecord(t *testing.T) {
	e := testEngine(t)

	_, err := e.Insert(context.Background(), nil)
	require.ErrorIs(t, err, errNilRecord)
}

func TestEngine_InsertInvalidRecordReportsErrorOutcome(t *testing.T) {
	e := testEngine(t)

	r := newRunningRun("evt-3")
	r.EventID = ""

	result, err := e.Insert(context.Background(), r)
	require.NoError(t, err, "invalid records are reported via Outcome, not a Go error")
	assert.Equal(t, Invalid, result.Outcome)
	assert.NotEmpty(t, result.Error)
}

func TestEngine_InsertRunningWithoutEndTime(t *testing.T) {
	e := testEngine(t)

	result, err := e.Insert(context.Background(), newRunningRun("evt-4"))
	require.NoError(t, err)
	assert.Equal(t, Created, result.Outcome)
}

func TestEngine_InsertPersistsTaxonomyAndCounters(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newCompletedRun("evt-5")
	r.Website = ptr("example.com")
	r.WebsiteSection = ptr("blog")
	r.ItemsDiscovered = 10
	r.ItemsSucceeded = 8
	r.ItemsFailed = 2

	result, err := e.Insert(ctx, r)
	require.NoError(t, err)
	require.Equal(t, Created, result.Outcome)

	var website, section string
	var discovered, succeeded, failed int64
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT website, website_section, items_discovered, items_succeeded, items_failed FROM agent_runs WHERE event_id = ?", "evt-5").
		Scan(&website, &section, &discovered, &succeeded, &failed))
	assert.Equal(t, "example.com", website)
	assert.Equal(t, "blog", section)
	assert.Equal(t, int64(10), discovered)
	assert.Equal(t, int64(8), succeeded)
	assert.Equal(t, int64(2), failed)
}

func TestEngine_InsertDefaultsSchemaVersion(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	r := newCompletedRun("evt-6")

	_, err := e.Insert(ctx, r)
	require.NoError(t, err)

	var version int
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT schema_version FROM agent_runs WHERE event_id = ?", "evt-6").Scan(&version))
	assert.Equal(t, 6, version)
}

func TestEngine_InsertRejectsInvalidCommitSource(t *testing.T) {
	e := testEngine(t)

	r := newCompletedRun("evt-7")
	r.GitCommitSource = ptr("robot")

	result, err := e.Insert(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Invalid, result.Outcome)
}
