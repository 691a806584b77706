// Package runs provides the Run and RunEvent domain models for the
// telemetry ingestion service: a single execution instance of an agent job,
// identified by a client-generated event_id for idempotent ingestion, plus
// the append-only sub-event log attached to it.
package runs

import (
	"time"

	"github.com/localtelemetry/ingestd/internal/statusalias"
)

// CurrentSchemaVersion is the schema version new writes are stamped with.
// It must track the highest applied migration in internal/store/migrations.
const CurrentSchemaVersion = 6

type (
	// Run is a single recorded execution (domain model, not an API contract).
	// The API layer maps wire requests onto this type; the storage layer maps
	// this type onto the agent_runs table.
	Run struct {
		// EventID is the client-generated idempotency key (I1). Unique per
		// run record; a second Insert with the same EventID is a duplicate,
		// not an error.
		EventID string

		// RunID groups retries/continuations of the same logical run. Not
		// required to be unique.
		RunID string

		// AgentName, JobType, TriggerType identify who ran what and why.
		AgentName   string
		JobType     string
		TriggerType string

		// StartTime, EndTime bound the run interval (I2: StartTime <=
		// EndTime when both are present). EndTime is nil while running.
		StartTime time.Time
		EndTime   *time.Time

		// Status is the canonical run status (I3). Raw values from callers
		// are resolved through statusalias.Table before reaching this field.
		Status statusalias.Canonical

		// DurationMs is the run's wall-clock duration (I4: >= 0). May be 0
		// while running.
		DurationMs int64

		// ItemsDiscovered, ItemsSucceeded, ItemsFailed are non-negative
		// work counters. The store does not enforce Succeeded+Failed <=
		// Discovered (I5); callers may set them independently.
		ItemsDiscovered int64
		ItemsSucceeded  int64
		ItemsFailed     int64

		// InputSummary, OutputSummary, ErrorSummary, ErrorDetails are
		// bounded free-text payload fields.
		InputSummary  *string
		OutputSummary *string
		ErrorSummary  *string
		ErrorDetails  *string

		// MetricsJSON, ContextJSON are opaque, bounded-size UTF-8 JSON
		// documents supplied by the caller and stored verbatim.
		MetricsJSON *string
		ContextJSON *string

		// Taxonomy fields classify the run for dashboard filtering/grouping.
		// All nullable.
		Product        *string
		Platform       *string
		ProductFamily  *string
		Website        *string
		WebsiteSection *string
		ItemName       *string
		InsightID      *string

		// Provenance fields are best-effort, caller-supplied git context.
		// All nullable.
		GitRepo            *string
		GitBranch          *string
		GitRunTag          *string
		GitCommitHash      *string
		GitCommitAuthor    *string
		GitCommitTimestamp *time.Time
		// GitCommitSource, when set, is one of "manual", "llm", "ci".
		GitCommitSource *string

		// SchemaVersion records the schema version that validated this row
		// (I6). Defaults to CurrentSchemaVersion on insert if unset.
		SchemaVersion int

		// CreatedAt, UpdatedAt are storage-assigned audit timestamps.
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// RunEvent is an append-only checkpoint/progress note attached to a run.
	// Unlike Run, it is not uniquely keyed and is never targeted by
	// idempotent upsert: every submission creates a new row.
	RunEvent struct {
		ID int64

		// RunID identifies the run this event belongs to. Not a foreign key
		// to a unique Run column: a run_id may have zero, one, or many
		// associated Run rows across retries.
		RunID string

		// EventType names the kind of checkpoint ("progress", "retry",
		// "warning", ...); caller-defined, not a closed enum.
		EventType string

		// Timestamp is when the event occurred, as reported by the caller.
		Timestamp time.Time

		// Message is an optional human-readable note.
		Message *string

		// MetadataJSON is an optional opaque JSON document.
		MetadataJSON *string

		CreatedAt time.Time
	}
)

// IsTerminal reports whether r has reached a state that will not change
// again absent an explicit PATCH.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case statusalias.Success, statusalias.Failure, statusalias.Partial, statusalias.Timeout, statusalias.Cancelled:
		return true
	default:
		return false
	}
}
