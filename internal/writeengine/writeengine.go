// Package writeengine applies idempotent writes to the Run table: single
// inserts, partial updates, and record batches, each reporting a per-record
// outcome rather than failing the whole request on a single bad record.
package writeengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/runs"
)

// Outcome classifies the result of applying a single write.
type Outcome string

const (
	Created   Outcome = "created"
	Duplicate Outcome = "duplicate"
	Updated   Outcome = "updated"
	NotFound  Outcome = "not_found"
	Invalid   Outcome = "error"
)

// Result reports what happened to one record in a write request.
type Result struct {
	EventID string
	RunID   string
	Outcome Outcome
	Error   string
	// FieldsUpdated lists the columns a successful Patch actually touched.
	FieldsUpdated []string
}

const defaultBatchSize = 100

// Engine serializes writes against the single write connection handed to it
// by internal/store. All methods are safe to call concurrently: the
// underlying *sql.DB is opened with MaxOpenConns=1, so Go's database/sql
// already queues concurrent callers onto the one connection; Engine adds
// busy-retry around that queueing.
type Engine struct {
	db           *sql.DB
	validator    *runs.Validator
	logger       *slog.Logger
	batchSize    int
	maxRetries   int
	retryBackoff time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithBatchSize overrides the default per-transaction batch size (100).
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetry overrides the busy-retry policy.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.maxRetries = maxRetries
		e.retryBackoff = backoff
	}
}

// New returns an Engine writing through db, validating records with
// validator.
func New(db *sql.DB, validator *runs.Validator, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		db:           db,
		validator:    validator,
		logger:       logger,
		batchSize:    defaultBatchSize,
		maxRetries:   5,
		retryBackoff: 50 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// withRetry runs fn, retrying on SQLITE_BUSY up to e.maxRetries times with
// exponential backoff. It is the Go-native stand-in for the busy_timeout
// pragma's own internal retry loop, covering the case where a write spans
// multiple statements and busy_timeout alone isn't enough.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}

		delay := e.retryBackoff * time.Duration(math.Pow(2, float64(attempt)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return err
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "busy")
}

// ErrUnknownField is returned by Patch when the partial update document
// names a field outside the whitelist of patchable columns.
var ErrUnknownField = errors.New("writeengine: unknown or non-patchable field")

func invalidResult(eventID string, err error) *Result {
	return &Result{EventID: eventID, Outcome: Invalid, Error: err.Error()}
}

var errNilRecord = fmt.Errorf("writeengine: record cannot be nil")
