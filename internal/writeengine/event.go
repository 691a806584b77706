package writeengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/runs"
)

// ErrMissingEventRunID is returned by InsertEvent when the event carries no
// run_id to attach to.
var ErrMissingEventRunID = errors.New("writeengine: run_id is required")

// ErrMissingEventType is returned by InsertEvent when event_type is blank.
var ErrMissingEventType = errors.New("writeengine: event_type is required")

// InsertEvent appends a RunEvent row. Unlike Insert, this is not an upsert:
// RunEvent is not uniquely keyed and every call creates a new row (spec.md
// §3). There is no duplicate/not-found outcome, only Created or Invalid.
func (e *Engine) InsertEvent(ctx context.Context, event *runs.RunEvent) (*Result, error) {
	if event == nil {
		return nil, errNilRecord
	}

	event.RunID = strings.TrimSpace(event.RunID)
	event.EventType = strings.TrimSpace(event.EventType)

	if event.RunID == "" {
		return invalidResult("", ErrMissingEventRunID), nil
	}

	if event.EventType == "" {
		return invalidResult("", ErrMissingEventType), nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var result *Result

	err := e.withRetry(ctx, func() error {
		res, err := e.db.ExecContext(ctx, insertRunEventSQL,
			event.RunID, event.EventType, event.Timestamp, event.Message, event.MetadataJSON, event.CreatedAt)
		if err != nil {
			return fmt.Errorf("writeengine: insert run_event: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("writeengine: read inserted run_event id: %w", err)
		}

		event.ID = id
		result = &Result{RunID: event.RunID, Outcome: Created}

		return nil
	})
	if err != nil {
		return invalidResult("", err), nil
	}

	return result, nil
}

const insertRunEventSQL = `
INSERT INTO run_events (run_id, event_type, timestamp, message, metadata_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`
