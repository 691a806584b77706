package writeengine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/runs"
)

// patchableFields whitelists the columns PATCH is allowed to touch: every
// Run field except event_id, run_id, and created_at (spec.md §4.B).
// updated_at is also excluded here even though the prose whitelist doesn't
// name it, since the server unconditionally rewrites it on every accepted
// patch - allowing a caller-supplied value would just be overwritten.
var patchableFields = map[string]bool{
	"agent_name":           true,
	"job_type":             true,
	"trigger_type":         true,
	"start_time":           true,
	"end_time":             true,
	"status":               true,
	"duration_ms":          true,
	"items_discovered":     true,
	"items_succeeded":      true,
	"items_failed":         true,
	"input_summary":        true,
	"output_summary":       true,
	"error_summary":        true,
	"error_details":        true,
	"metrics_json":         true,
	"context_json":         true,
	"product":              true,
	"platform":             true,
	"product_family":       true,
	"website":              true,
	"website_section":      true,
	"item_name":            true,
	"insight_id":           true,
	"git_repo":             true,
	"git_branch":           true,
	"git_run_tag":          true,
	"git_commit_hash":      true,
	"git_commit_author":    true,
	"git_commit_timestamp": true,
	"git_commit_source":    true,
	"schema_version":       true,
}

// nullableFields identifies columns that accept an explicit JSON null to
// clear them. A null sent for any other column is rejected.
var nullableFields = map[string]bool{
	"end_time":             true,
	"input_summary":        true,
	"output_summary":       true,
	"error_summary":        true,
	"error_details":        true,
	"metrics_json":         true,
	"context_json":         true,
	"product":              true,
	"platform":             true,
	"product_family":       true,
	"website":              true,
	"website_section":      true,
	"item_name":            true,
	"insight_id":           true,
	"git_repo":             true,
	"git_branch":           true,
	"git_run_tag":          true,
	"git_commit_hash":      true,
	"git_commit_author":    true,
	"git_commit_timestamp": true,
	"git_commit_source":    true,
}

var jsonNull = []byte("null")

// Patch applies a partial update to the Run identified by eventID.
//
// fields is a map of column name to raw JSON value, as produced by decoding
// the request body into map[string]json.RawMessage: a key present with a
// JSON null value explicitly clears a nullable column; a key absent from
// the map is left untouched (spec.md §9 Open Question resolution). If
// end_time is being set and duration_ms was not explicitly supplied in the
// same patch, duration_ms is computed from start_time.
func (e *Engine) Patch(ctx context.Context, eventID string, fields map[string]json.RawMessage) (*Result, error) {
	for key := range fields {
		if !patchableFields[key] {
			return invalidResult(eventID, fmt.Errorf("%w: %q", ErrUnknownField, key)), nil
		}
	}

	if len(fields) == 0 {
		return &Result{EventID: eventID, Outcome: Updated}, nil
	}

	var result *Result

	err := e.withRetry(ctx, func() error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("writeengine: begin patch tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		runID, startTime, exists, err := existingRun(ctx, tx, eventID)
		if err != nil {
			return err
		}

		if !exists {
			result = &Result{EventID: eventID, Outcome: NotFound}
			return tx.Commit()
		}

		setClauses, columns, args, err := e.buildPatchSet(fields, startTime)
		if err != nil {
			result = invalidResult(eventID, err)
			return tx.Commit()
		}

		args = append(args, time.Now().UTC(), eventID)

		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE agent_runs SET %s, updated_at = ? WHERE event_id = ?`, setClauses),
			args...)
		if err != nil {
			return fmt.Errorf("writeengine: apply patch: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("writeengine: read patch rows affected: %w", err)
		}

		if affected == 0 {
			result = &Result{EventID: eventID, Outcome: NotFound}
			return tx.Commit()
		}

		result = &Result{EventID: eventID, RunID: runID, Outcome: Updated, FieldsUpdated: columns}

		return tx.Commit()
	})
	if err != nil {
		if result != nil {
			return result, nil
		}

		return invalidResult(eventID, err), nil
	}

	return result, nil
}

// buildPatchSet turns a whitelisted field map into a SQL SET clause, the
// list of column names touched, and positional arguments, resolving status
// through the validator and treating JSON null as an explicit column clear.
// currentStart is the row's existing start_time, used to auto-compute
// duration_ms when end_time is set without an explicit duration_ms.
func (e *Engine) buildPatchSet(fields map[string]json.RawMessage, currentStart time.Time) (string, []string, []any, error) {
	var (
		clauses []string
		columns []string
		args    []any
	)

	startTime := currentStart

	for column, raw := range fields {
		isNull := bytes.Equal(bytes.TrimSpace(raw), jsonNull)

		if isNull && !nullableFields[column] {
			return "", nil, nil, fmt.Errorf("writeengine: %q cannot be cleared to null", column)
		}

		switch column {
		case "status":
			var status string
			if err := json.Unmarshal(raw, &status); err != nil {
				return "", nil, nil, fmt.Errorf("writeengine: decode status: %w", err)
			}

			canonical, err := e.validator.ResolveStatus(status)
			if err != nil {
				return "", nil, nil, err
			}

			clauses = append(clauses, "status = ?")
			columns = append(columns, column)
			args = append(args, string(canonical))

		case "start_time":
			var t time.Time
			if err := json.Unmarshal(raw, &t); err != nil {
				return "", nil, nil, fmt.Errorf("writeengine: decode start_time: %w", err)
			}

			startTime = t
			clauses = append(clauses, "start_time = ?")
			columns = append(columns, column)
			args = append(args, t)

		default:
			clauses = append(clauses, column+" = ?")
			columns = append(columns, column)

			if isNull {
				args = append(args, nil)
				continue
			}

			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return "", nil, nil, fmt.Errorf("writeengine: decode %s: %w", column, err)
			}

			args = append(args, v)
		}
	}

	if endRaw, ok := fields["end_time"]; ok {
		if _, explicit := fields["duration_ms"]; !explicit && !bytes.Equal(bytes.TrimSpace(endRaw), jsonNull) {
			var end time.Time
			if err := json.Unmarshal(endRaw, &end); err != nil {
				return "", nil, nil, fmt.Errorf("writeengine: decode end_time: %w", err)
			}

			if !startTime.IsZero() {
				duration := end.Sub(startTime).Milliseconds()
				if duration < 0 {
					return "", nil, nil, fmt.Errorf("%w: got %d", runs.ErrNegativeDuration, duration)
				}

				clauses = append(clauses, "duration_ms = ?")
				columns = append(columns, "duration_ms")
				args = append(args, duration)
			}
		}
	}

	return strings.Join(clauses, ", "), columns, args, nil
}

// existingRun returns the run_id and start_time for eventID, plus whether
// the row exists, used by Patch to check existence and auto-compute
// duration_ms without a second query round trip.
func existingRun(ctx context.Context, tx *sql.Tx, eventID string) (runID string, startTime time.Time, exists bool, err error) {
	err = tx.QueryRowContext(ctx, `SELECT run_id, start_time FROM agent_runs WHERE event_id = ?`, eventID).
		Scan(&runID, &startTime)
	if err == nil {
		return runID, startTime, true, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}

	return "", time.Time{}, false, fmt.Errorf("writeengine: check existing run: %w", err)
}
