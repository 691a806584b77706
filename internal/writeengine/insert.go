package writeengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/localtelemetry/ingestd/internal/runs"
)

// Insert applies a single Run write, upserting on event_id. A record whose
// event_id already exists is reported as Duplicate, not an error, and the
// existing row is never mutated: ingestion is expected to be retried by
// callers after a network failure, and retries must be safe (I1).
func (e *Engine) Insert(ctx context.Context, r *runs.Run) (*Result, error) {
	if r == nil {
		return nil, errNilRecord
	}

	if err := e.validator.ValidateForInsert(r); err != nil {
		return invalidResult(r.EventID, err), nil
	}

	var result *Result

	err := e.withRetry(ctx, func() error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("writeengine: begin insert tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		existing, err := existingEventID(ctx, tx, r.EventID)
		if err != nil {
			return err
		}

		if existing {
			result = &Result{EventID: r.EventID, RunID: r.RunID, Outcome: Duplicate}
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx, insertRunSQL, insertArgs(r)...); err != nil {
			return fmt.Errorf("writeengine: insert run: %w", err)
		}

		result = &Result{EventID: r.EventID, RunID: r.RunID, Outcome: Created}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

const insertRunSQL = `
INSERT INTO agent_runs (
	event_id, run_id, agent_name, job_type, trigger_type,
	start_time, end_time, status, duration_ms,
	items_discovered, items_succeeded, items_failed,
	input_summary, output_summary, error_summary, error_details,
	metrics_json, context_json,
	product, platform, product_family, website, website_section, item_name, insight_id,
	git_repo, git_branch, git_run_tag, git_commit_hash, git_commit_author,
	git_commit_timestamp, git_commit_source,
	schema_version, created_at, updated_at
) VALUES (
	?, ?, ?, ?, ?,
	?, ?, ?, ?,
	?, ?, ?,
	?, ?, ?, ?,
	?, ?,
	?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?,
	?, ?,
	?, ?, ?
)
`

func insertArgs(r *runs.Run) []any {
	return []any{
		r.EventID, r.RunID, r.AgentName, r.JobType, r.TriggerType,
		r.StartTime, r.EndTime, string(r.Status), r.DurationMs,
		r.ItemsDiscovered, r.ItemsSucceeded, r.ItemsFailed,
		r.InputSummary, r.OutputSummary, r.ErrorSummary, r.ErrorDetails,
		r.MetricsJSON, r.ContextJSON,
		r.Product, r.Platform, r.ProductFamily, r.Website, r.WebsiteSection, r.ItemName, r.InsightID,
		r.GitRepo, r.GitBranch, r.GitRunTag, r.GitCommitHash, r.GitCommitAuthor,
		r.GitCommitTimestamp, r.GitCommitSource,
		r.SchemaVersion, r.CreatedAt, r.UpdatedAt,
	}
}

func existingEventID(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	var id int64

	err := tx.QueryRowContext(ctx, `SELECT id FROM agent_runs WHERE event_id = ?`, eventID).Scan(&id)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return false, fmt.Errorf("writeengine: check existing event_id: %w", err)
}
