package runs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/statusalias"
)

// Sentinel errors for validation failures, usable with errors.Is.
var (
	ErrNilRun               = errors.New("run cannot be nil")
	ErrMissingEventID       = errors.New("event_id is required")
	ErrEventIDTooLong       = errors.New("event_id cannot exceed 256 characters")
	ErrMissingRunID         = errors.New("run_id is required")
	ErrMissingStatus        = errors.New("status is required")
	ErrInvalidStatus        = errors.New("status is not a recognized value")
	ErrMissingStartTime     = errors.New("start_time is required")
	ErrEndBeforeStart       = errors.New("end_time cannot be before start_time")
	ErrNegativeDuration     = errors.New("duration_ms cannot be negative")
	ErrNegativeCounter      = errors.New("item counters cannot be negative")
	ErrInvalidCommitSource  = errors.New("git_commit_source must be manual, llm, or ci")
	ErrSummaryTooLong       = errors.New("summary field exceeds maximum length")
)

const (
	maxEventIDLength = 256
	// maxSummaryLength bounds the free-text payload fields (input/output/
	// error summaries and details), per spec.md §3 "bounded strings".
	maxSummaryLength = 16384
)

// validCommitSources is the closed set git_commit_source is validated
// against when non-null.
var validCommitSources = map[string]bool{"manual": true, "llm": true, "ci": true}

// Validator performs semantic validation of Run records prior to storage,
// resolving raw status strings against a statusalias.Table.
type Validator struct {
	statuses *statusalias.Table
}

// NewValidator returns a Validator backed by table. A nil table falls back
// to the built-in alias set.
func NewValidator(table *statusalias.Table) *Validator {
	if table == nil {
		table = statusalias.Default()
	}

	return &Validator{statuses: table}
}

// ValidateForInsert validates and canonicalizes a Run prior to its first
// write: it trims string fields, resolves status through the alias table,
// defaults schema_version/created_at/updated_at when absent, and checks
// invariants I2 and I4 plus non-negative item counters.
//
// Required fields:
//   - event_id: non-empty, <=256 chars
//   - run_id: non-empty
//   - status: must resolve to a canonical status
//   - start_time: required
//
// Consistency rules:
//   - end_time, if set, must not precede start_time (I2)
//   - duration_ms must be >= 0 (I4)
//   - item counters must be >= 0
//   - git_commit_source, if non-null, must be one of manual/llm/ci
func (v *Validator) ValidateForInsert(r *Run) error {
	if r == nil {
		return ErrNilRun
	}

	Canonicalize(r)

	if err := v.validateEventID(r.EventID); err != nil {
		return err
	}

	if strings.TrimSpace(r.RunID) == "" {
		return ErrMissingRunID
	}

	if err := v.resolveStatus(r); err != nil {
		return err
	}

	if r.StartTime.IsZero() {
		return ErrMissingStartTime
	}

	if err := v.validateTemporal(r); err != nil {
		return err
	}

	if err := validateCounters(r); err != nil {
		return err
	}

	if err := validateSummaries(r); err != nil {
		return err
	}

	return validateCommitSource(r)
}

// Canonicalize applies the pre-write canonicalization pass spec.md §4.B
// describes: trims strings, defaults schema_version and the audit
// timestamps when absent. It does not touch status (resolveStatus owns
// that, since it can fail) and is safe to call more than once.
func Canonicalize(r *Run) {
	r.EventID = strings.TrimSpace(r.EventID)
	r.RunID = strings.TrimSpace(r.RunID)
	r.AgentName = strings.TrimSpace(r.AgentName)
	r.JobType = strings.TrimSpace(r.JobType)
	r.TriggerType = strings.TrimSpace(r.TriggerType)

	if r.SchemaVersion == 0 {
		r.SchemaVersion = CurrentSchemaVersion
	}

	now := time.Now().UTC()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
}

func (v *Validator) validateEventID(eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return ErrMissingEventID
	}

	if len(eventID) > maxEventIDLength {
		return fmt.Errorf("%w: got %d characters", ErrEventIDTooLong, len(eventID))
	}

	return nil
}

func (v *Validator) resolveStatus(r *Run) error {
	if r.Status == "" {
		return ErrMissingStatus
	}

	canonical, ok := v.statuses.Normalize(string(r.Status))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}

	r.Status = canonical

	return nil
}

func (v *Validator) validateTemporal(r *Run) error {
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return ErrEndBeforeStart
	}

	if r.DurationMs < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeDuration, r.DurationMs)
	}

	return nil
}

func validateCounters(r *Run) error {
	if r.ItemsDiscovered < 0 || r.ItemsSucceeded < 0 || r.ItemsFailed < 0 {
		return fmt.Errorf("%w: discovered=%d succeeded=%d failed=%d",
			ErrNegativeCounter, r.ItemsDiscovered, r.ItemsSucceeded, r.ItemsFailed)
	}

	return nil
}

func validateSummaries(r *Run) error {
	fields := map[string]*string{
		"input_summary":  r.InputSummary,
		"output_summary": r.OutputSummary,
		"error_summary":  r.ErrorSummary,
		"error_details":  r.ErrorDetails,
	}

	for name, v := range fields {
		if v != nil && len(*v) > maxSummaryLength {
			return fmt.Errorf("%w: %s is %d characters (max %d)", ErrSummaryTooLong, name, len(*v), maxSummaryLength)
		}
	}

	return nil
}

func validateCommitSource(r *Run) error {
	if r.GitCommitSource == nil {
		return nil
	}

	if !validCommitSources[strings.ToLower(*r.GitCommitSource)] {
		return fmt.Errorf("%w: got %q", ErrInvalidCommitSource, *r.GitCommitSource)
	}

	return nil
}

// ResolveStatus normalizes a raw status string, usable by PATCH handling
// where only the status field of an existing Run may be changing.
func (v *Validator) ResolveStatus(raw string) (statusalias.Canonical, error) {
	canonical, ok := v.statuses.Normalize(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}

	return canonical, nil
}
