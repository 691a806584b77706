// Package queryengine provides parameterized read access to Run records:
// point lookups, filtered listings with cursor-style pagination, and
// grouped aggregates. All queries run against the store's read-only
// connection pool so they never contend with the single write connection.
package queryengine

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/runs"
	"github.com/localtelemetry/ingestd/internal/statusalias"
)

// ErrNotFound is returned when a point lookup finds no matching Run.
var ErrNotFound = errors.New("queryengine: run not found")

// ErrInvalidCursor is returned when a caller-supplied page cursor cannot be
// decoded; callers should treat this the same as a 400 validation error.
var ErrInvalidCursor = errors.New("queryengine: invalid cursor")

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Engine executes read queries against the database's read connection pool.
type Engine struct {
	db *sql.DB
}

// New returns an Engine reading through db.
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Filter narrows ListRuns/Aggregate results. Zero-value fields are not
// applied. Status is expected to already be resolved through the alias
// table by the caller.
type Filter struct {
	AgentName      string
	JobType        string
	Status         string
	Website        string
	WebsiteSection string
	ProductFamily  string
	StartFrom      time.Time
	StartTo        time.Time
	SearchText     string
}

// Pagination bounds a ListRuns call using an opaque cursor encoding the
// (start_time, event_id) of the last row seen on the previous page, per
// spec.md §4.C's stable (start_time DESC, event_id DESC) ordering.
type Pagination struct {
	Cursor   string
	PageSize int
}

// ListResult is one page of Run records plus the cursor to request the next
// page, if any.
type ListResult struct {
	Runs       []*runs.Run
	NextCursor string
	HasMore    bool
}

// cursorKey is the decoded form of an opaque pagination cursor.
type cursorKey struct {
	StartTime time.Time `json:"t"`
	EventID   string    `json:"e"`
}

// EncodeCursor builds the opaque page token for the last row of a page, so
// handlers can hand it back to callers without knowing its internal shape.
func EncodeCursor(r *runs.Run) string {
	if r == nil {
		return ""
	}

	return encodeCursor(cursorKey{StartTime: r.StartTime, EventID: r.EventID})
}

func encodeCursor(k cursorKey) string {
	data, err := json.Marshal(k)
	if err != nil {
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(token string) (cursorKey, error) {
	var k cursorKey

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return k, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}

	if err := json.Unmarshal(data, &k); err != nil {
		return k, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}

	return k, nil
}

// GetRun returns the Run identified by eventID, or ErrNotFound.
func (e *Engine) GetRun(ctx context.Context, eventID string) (*runs.Run, error) {
	row := e.db.QueryRowContext(ctx, selectRunSQL+" WHERE event_id = ?", eventID)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("queryengine: get run: %w", err)
	}

	return r, nil
}

// ListRuns returns Run records matching filter, ordered by
// (start_time DESC, event_id DESC), paginated by page. Readers observe a
// single query-start snapshot: SQLite's default isolation guarantees this
// without extra locking, so a concurrently committing batch is either fully
// visible or fully absent, never partial.
func (e *Engine) ListRuns(ctx context.Context, filter Filter, page Pagination) (*ListResult, error) {
	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var after *cursorKey

	if page.Cursor != "" {
		k, err := decodeCursor(page.Cursor)
		if err != nil {
			return nil, err
		}

		after = &k
	}

	where, args := buildWhere(filter, after)

	query := fmt.Sprintf("%s %s ORDER BY start_time DESC, event_id DESC LIMIT ?", selectRunSQL, where)
	args = append(args, pageSize+1)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queryengine: list runs: %w", err)
	}
	defer rows.Close()

	var out []*runs.Run

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("queryengine: scan run: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryengine: iterate runs: %w", err)
	}

	result := &ListResult{Runs: out}

	if len(out) > pageSize {
		result.Runs = out[:pageSize]
		result.HasMore = true
		result.NextCursor = EncodeCursor(out[pageSize-1])
	}

	return result, nil
}

// AggregateGrouping selects the column Aggregate buckets by.
type AggregateGrouping string

const (
	GroupByDate          AggregateGrouping = "date"
	GroupByAgentName     AggregateGrouping = "agent_name"
	GroupByWebsite       AggregateGrouping = "website"
	GroupByWebsiteSection AggregateGrouping = "website_section"
	GroupByProductFamily AggregateGrouping = "product_family"
)

// groupColumns maps a grouping to the SQL expression it buckets on. date
// truncates start_time to a calendar day in UTC.
var groupColumns = map[AggregateGrouping]string{
	GroupByDate:           "date(start_time)",
	GroupByAgentName:      "agent_name",
	GroupByWebsite:        "COALESCE(website, '')",
	GroupByWebsiteSection: "COALESCE(website_section, '')",
	GroupByProductFamily:  "COALESCE(product_family, '')",
}

// AggregateBucket is one group in an Aggregate result.
type AggregateBucket struct {
	Key             string
	Count           int64
	ItemsDiscovered int64
	ItemsSucceeded  int64
	ItemsFailed     int64
	// SuccessRatio is ItemsSucceeded / (ItemsSucceeded + ItemsFailed), or 0
	// when the denominator is 0.
	SuccessRatio float64
	// StatusHistogram counts rows in this bucket per canonical status.
	StatusHistogram map[string]int64
}

// Aggregate groups runs matching filter by grouping, within the optional
// window [since, until), and returns per-bucket counts, counter sums,
// success ratio, and a status histogram.
func (e *Engine) Aggregate(ctx context.Context, grouping AggregateGrouping, filter Filter, since, until time.Time) ([]AggregateBucket, error) {
	column, ok := groupColumns[grouping]
	if !ok {
		return nil, fmt.Errorf("queryengine: unknown aggregate grouping %q", grouping)
	}

	if !since.IsZero() {
		filter.StartFrom = since
	}

	if !until.IsZero() {
		filter.StartTo = until
	}

	where, args := buildWhere(filter, nil)

	query := fmt.Sprintf(`
SELECT %s AS bucket_key, status, COUNT(*),
	COALESCE(SUM(items_discovered), 0), COALESCE(SUM(items_succeeded), 0), COALESCE(SUM(items_failed), 0)
FROM agent_runs %s
GROUP BY bucket_key, status
ORDER BY bucket_key
`, column, where)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queryengine: aggregate: %w", err)
	}
	defer rows.Close()

	buckets := map[string]*AggregateBucket{}
	order := []string{}

	for rows.Next() {
		var (
			key, status                           string
			count, discovered, succeeded, failed int64
		)

		if err := rows.Scan(&key, &status, &count, &discovered, &succeeded, &failed); err != nil {
			return nil, fmt.Errorf("queryengine: scan aggregate row: %w", err)
		}

		b, ok := buckets[key]
		if !ok {
			b = &AggregateBucket{Key: key, StatusHistogram: map[string]int64{}}
			buckets[key] = b
			order = append(order, key)
		}

		b.Count += count
		b.ItemsDiscovered += discovered
		b.ItemsSucceeded += succeeded
		b.ItemsFailed += failed
		b.StatusHistogram[status] += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryengine: iterate aggregate rows: %w", err)
	}

	out := make([]AggregateBucket, 0, len(order))

	for _, key := range order {
		b := buckets[key]

		if denom := b.ItemsSucceeded + b.ItemsFailed; denom > 0 {
			b.SuccessRatio = float64(b.ItemsSucceeded) / float64(denom)
		}

		out = append(out, *b)
	}

	return out, nil
}

// CountByAgent returns the number of runs per agent_name, for GET /metrics'
// process-level summary.
func (e *Engine) CountByAgent(ctx context.Context) (map[string]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT agent_name, COUNT(*) FROM agent_runs GROUP BY agent_name`)
	if err != nil {
		return nil, fmt.Errorf("queryengine: count by agent: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}

	for rows.Next() {
		var (
			name  string
			count int64
		)

		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("queryengine: scan agent count: %w", err)
		}

		counts[name] = count
	}

	return counts, rows.Err()
}

// MetadataSummary reports schema and operational facts about the store,
// surfaced at GET /api/v1/metadata. SchemaVersion/SchemaDirty are filled in
// by the caller, which already holds the migration runner's Version() result.
type MetadataSummary struct {
	SchemaVersion   uint
	SchemaDirty     bool
	TotalRuns       int64
	OldestRun       *time.Time
	NewestRun       *time.Time
	AgentNames      []string
	JobTypes        []string
	Products        []string
	ProductFamilies []string
	Websites        []string
}

// Metadata gathers the MetadataSummary fields that come from querying the
// data itself: counts, time range, and distinct enumerable column values,
// each backed by an index (spec.md §4.C).
func (e *Engine) Metadata(ctx context.Context) (*MetadataSummary, error) {
	summary := &MetadataSummary{}

	err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_runs`).Scan(&summary.TotalRuns)
	if err != nil {
		return nil, fmt.Errorf("queryengine: count runs: %w", err)
	}

	var oldest, newest sql.NullTime

	err = e.db.QueryRowContext(ctx, `SELECT MIN(start_time), MAX(start_time) FROM agent_runs`).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("queryengine: min/max start_time: %w", err)
	}

	if oldest.Valid {
		summary.OldestRun = &oldest.Time
	}

	if newest.Valid {
		summary.NewestRun = &newest.Time
	}

	for dest, column := range map[*[]string]string{
		&summary.AgentNames:      "agent_name",
		&summary.JobTypes:        "job_type",
		&summary.Products:        "product",
		&summary.ProductFamilies: "product_family",
		&summary.Websites:        "website",
	} {
		values, err := e.distinctValues(ctx, column)
		if err != nil {
			return nil, err
		}

		*dest = values
	}

	return summary, nil
}

func (e *Engine) distinctValues(ctx context.Context, column string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM agent_runs WHERE %s IS NOT NULL AND %s != '' ORDER BY %s", column, column, column, column))
	if err != nil {
		return nil, fmt.Errorf("queryengine: distinct %s: %w", column, err)
	}
	defer rows.Close()

	var values []string

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("queryengine: scan distinct %s: %w", column, err)
		}

		values = append(values, v)
	}

	return values, rows.Err()
}

const selectRunSQL = `
SELECT event_id, run_id, agent_name, job_type, trigger_type,
	start_time, end_time, status, duration_ms,
	items_discovered, items_succeeded, items_failed,
	input_summary, output_summary, error_summary, error_details,
	metrics_json, context_json,
	product, platform, product_family, website, website_section, item_name, insight_id,
	git_repo, git_branch, git_run_tag, git_commit_hash, git_commit_author,
	git_commit_timestamp, git_commit_source,
	schema_version, created_at, updated_at
FROM agent_runs
`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*runs.Run, error) {
	var (
		r          runs.Run
		status     string
		endTime    sql.NullTime
		commitTime sql.NullTime
	)

	err := s.Scan(
		&r.EventID, &r.RunID, &r.AgentName, &r.JobType, &r.TriggerType,
		&r.StartTime, &endTime, &status, &r.DurationMs,
		&r.ItemsDiscovered, &r.ItemsSucceeded, &r.ItemsFailed,
		&r.InputSummary, &r.OutputSummary, &r.ErrorSummary, &r.ErrorDetails,
		&r.MetricsJSON, &r.ContextJSON,
		&r.Product, &r.Platform, &r.ProductFamily, &r.Website, &r.WebsiteSection, &r.ItemName, &r.InsightID,
		&r.GitRepo, &r.GitBranch, &r.GitRunTag, &r.GitCommitHash, &r.GitCommitAuthor,
		&commitTime, &r.GitCommitSource,
		&r.SchemaVersion, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = statusalias.Canonical(status)

	if endTime.Valid {
		t := endTime.Time
		r.EndTime = &t
	}

	if commitTime.Valid {
		t := commitTime.Time
		r.GitCommitTimestamp = &t
	}

	return &r, nil
}

func buildWhere(filter Filter, after *cursorKey) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, filter.AgentName)
	}

	if filter.JobType != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, filter.JobType)
	}

	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}

	if filter.Website != "" {
		clauses = append(clauses, "website = ?")
		args = append(args, filter.Website)
	}

	if filter.WebsiteSection != "" {
		clauses = append(clauses, "website_section = ?")
		args = append(args, filter.WebsiteSection)
	}

	if filter.ProductFamily != "" {
		clauses = append(clauses, "product_family = ?")
		args = append(args, filter.ProductFamily)
	}

	if !filter.StartFrom.IsZero() {
		clauses = append(clauses, "start_time >= ?")
		args = append(args, filter.StartFrom)
	}

	if !filter.StartTo.IsZero() {
		clauses = append(clauses, "start_time < ?")
		args = append(args, filter.StartTo)
	}

	if filter.SearchText != "" {
		clauses = append(clauses, "(input_summary LIKE ? OR output_summary LIKE ? OR error_summary LIKE ?)")
		like := "%" + filter.SearchText + "%"
		args = append(args, like, like, like)
	}

	if after != nil {
		clauses = append(clauses, "(start_time < ? OR (start_time = ? AND event_id < ?))")
		args = append(args, after.StartTime, after.StartTime, after.EventID)
	}

	if len(clauses) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}
