package writeengine

import (
	"context"
	"fmt"

	"github.com/localtelemetry/ingestd/internal/runs"
)

// Batch applies records in chunks of e.batchSize, one transaction per chunk,
// and returns a Result for every input record in order. A record that fails
// validation or storage does not abort the rest of the chunk it belongs to:
// the chunk's transaction still commits the valid records, and the failing
// record's slot carries an Invalid outcome.
func (e *Engine) Batch(ctx context.Context, records []*runs.Run) ([]*Result, error) {
	results := make([]*Result, len(records))

	for start := 0; start < len(records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(records) {
			end = len(records)
		}

		chunkResults, err := e.applyChunk(ctx, records[start:end])
		if err != nil {
			return results, fmt.Errorf("writeengine: batch chunk [%d:%d]: %w", start, end, err)
		}

		copy(results[start:end], chunkResults)
	}

	return results, nil
}

func (e *Engine) applyChunk(ctx context.Context, chunk []*runs.Run) ([]*Result, error) {
	results := make([]*Result, len(chunk))

	err := e.withRetry(ctx, func() error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for i, r := range chunk {
			if r == nil {
				results[i] = &Result{Outcome: Invalid, Error: errNilRecord.Error()}
				continue
			}

			if err := e.validator.ValidateForInsert(r); err != nil {
				results[i] = invalidResult(r.EventID, err)
				continue
			}

			exists, err := existingEventID(ctx, tx, r.EventID)
			if err != nil {
				return err
			}

			if exists {
				results[i] = &Result{EventID: r.EventID, RunID: r.RunID, Outcome: Duplicate}
				continue
			}

			if _, err := tx.ExecContext(ctx, insertRunSQL, insertArgs(r)...); err != nil {
				results[i] = invalidResult(r.EventID, fmt.Errorf("insert run: %w", err))
				continue
			}

			results[i] = &Result{EventID: r.EventID, RunID: r.RunID, Outcome: Created}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}
