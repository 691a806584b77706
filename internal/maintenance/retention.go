// Package maintenance implements the operator-facing upkeep operations that
// keep a long-running telemetry database healthy: retention cleanup,
// backup, and integrity verification, all driven through internal/store.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultRetentionBatchSize = 10000

// RetentionReport summarizes the result of a retention sweep.
type RetentionReport struct {
	CutoffBefore time.Time
	DryRun       bool
	WouldDelete  int64
	Deleted      int64
	Batches      int
	// WouldDeleteEvents, DeletedEvents, EventBatches mirror the above for
	// run_events, which spec.md §4.G says is swept alongside agent_runs.
	WouldDeleteEvents int64
	DeletedEvents     int64
	EventBatches      int
	Vacuumed          bool
}

// RetentionOptions configures a retention sweep.
type RetentionOptions struct {
	// OlderThan deletes agent_runs rows whose created_at precedes this time.
	OlderThan time.Time
	// BatchSize bounds how many rows are removed per DELETE/commit cycle, to
	// avoid holding a long-running write transaction against the single
	// writer connection.
	BatchSize int
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
	// Vacuum reclaims disk space after deleting, via VACUUM.
	Vacuum bool
}

// RunRetention deletes agent_runs and run_events rows older than
// opts.OlderThan in batches, committing after each batch so no single
// transaction grows unbounded. run_events has no foreign key to agent_runs
// (a run_id may have zero, one, or many agent_runs rows across retries), so
// it is swept independently against its own created_at column rather than
// joined against deleted agent_runs rows.
func RunRetention(ctx context.Context, db *sql.DB, opts RetentionOptions) (*RetentionReport, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRetentionBatchSize
	}

	report := &RetentionReport{CutoffBefore: opts.OlderThan, DryRun: opts.DryRun}

	var runCount, eventCount int64

	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_runs WHERE created_at < ?`, opts.OlderThan).Scan(&runCount)
	if err != nil {
		return nil, fmt.Errorf("maintenance: count retention candidates: %w", err)
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_events WHERE created_at < ?`, opts.OlderThan).Scan(&eventCount)
	if err != nil {
		return nil, fmt.Errorf("maintenance: count run_events retention candidates: %w", err)
	}

	if opts.DryRun {
		report.WouldDelete = runCount
		report.WouldDeleteEvents = eventCount

		return report, nil
	}

	if runCount > 0 {
		deleted, batches, err := deleteBatched(ctx, db, "agent_runs", opts.OlderThan, batchSize)
		report.Deleted = deleted
		report.Batches = batches

		if err != nil {
			return report, err
		}
	}

	if eventCount > 0 {
		deleted, batches, err := deleteBatched(ctx, db, "run_events", opts.OlderThan, batchSize)
		report.DeletedEvents = deleted
		report.EventBatches = batches

		if err != nil {
			return report, err
		}
	}

	if opts.Vacuum && (report.Deleted > 0 || report.DeletedEvents > 0) {
		if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
			return report, fmt.Errorf("maintenance: vacuum after retention: %w", err)
		}

		report.Vacuumed = true
	}

	return report, nil
}

// deleteBatched deletes rows from table (agent_runs or run_events, both of
// which have an integer id primary key and a created_at column) older than
// cutoff, batchSize rows per commit.
func deleteBatched(ctx context.Context, db *sql.DB, table string, cutoff time.Time, batchSize int) (deletedTotal int64, batches int, err error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s WHERE created_at < ? LIMIT ?
		)`, table, table)

	for {
		result, err := db.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return deletedTotal, batches, fmt.Errorf("maintenance: delete %s batch %d: %w", table, batches+1, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return deletedTotal, batches, fmt.Errorf("maintenance: read rows affected for %s: %w", table, err)
		}

		if deleted == 0 {
			break
		}

		deletedTotal += deleted
		batches++

		select {
		case <-ctx.Done():
			return deletedTotal, batches, ctx.Err()
		default:
		}
	}

	return deletedTotal, batches, nil
}
