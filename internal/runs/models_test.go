package runs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/localtelemetry/ingestd/internal/statusalias"
)

func TestRun_IsTerminal(t *testing.T) {
	cases := []struct {
		status   statusalias.Canonical
		terminal bool
	}{
		{statusalias.Running, false},
		{statusalias.Success, true},
		{statusalias.Failure, true},
		{statusalias.Partial, true},
		{statusalias.Timeout, true},
		{statusalias.Cancelled, true},
	}

	for _, tc := range cases {
		r := &Run{Status: tc.status}
		assert.Equal(t, tc.terminal, r.IsTerminal(), "status %q", tc.status)
	}
}

func TestRun_IsTerminalWithZeroValueStatus(t *testing.T) {
	r := &Run{}
	assert.False(t, r.IsTerminal())
}

func TestRun_FieldsRoundtrip(t *testing.T) {
	start := time.Now().UTC()
	end := start.Add(time.Minute)
	errSummary := "boom"

	r := &Run{
		EventID:         "evt-1",
		RunID:           "run-1",
		AgentName:       "agent-a",
		JobType:         "crawl",
		TriggerType:     "scheduled",
		Status:          statusalias.Success,
		StartTime:       start,
		EndTime:         &end,
		DurationMs:      60000,
		ItemsDiscovered: 10,
		ItemsSucceeded:  9,
		ItemsFailed:     1,
		ErrorSummary:    &errSummary,
	}

	assert.True(t, r.IsTerminal())
	assert.Equal(t, "evt-1", r.EventID)
	assert.Equal(t, int64(9), r.ItemsSucceeded)
	assert.Equal(t, "boom", *r.ErrorSummary)
}

func TestRunEvent_FieldsRoundtrip(t *testing.T) {
	now := time.Now().UTC()
	msg := "checkpoint reached"

	e := &RunEvent{
		RunID:     "run-1",
		EventType: "progress",
		Timestamp: now,
		Message:   &msg,
	}

	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "progress", e.EventType)
	assert.Equal(t, "checkpoint reached", *e.Message)
}
