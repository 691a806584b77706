package ingestserver

import (
	"time"

	"github.com/localtelemetry/ingestd/internal/queryengine"
	"github.com/localtelemetry/ingestd/internal/runs"
	"github.com/localtelemetry/ingestd/internal/statusalias"
)

// RunRequest is the wire shape accepted by POST /api/v1/runs, as an element
// of POST /api/v1/runs/batch, and as the mapping target of a PATCH body
// (spec.md §3 field names, used verbatim as the JSON contract).
type RunRequest struct {
	EventID     string `json:"event_id"`
	RunID       string `json:"run_id"`
	AgentName   string `json:"agent_name"`
	JobType     string `json:"job_type"`
	TriggerType string `json:"trigger_type"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`

	ItemsDiscovered int64 `json:"items_discovered"`
	ItemsSucceeded  int64 `json:"items_succeeded"`
	ItemsFailed     int64 `json:"items_failed"`

	InputSummary  *string `json:"input_summary,omitempty"`
	OutputSummary *string `json:"output_summary,omitempty"`
	ErrorSummary  *string `json:"error_summary,omitempty"`
	ErrorDetails  *string `json:"error_details,omitempty"`

	MetricsJSON *string `json:"metrics_json,omitempty"`
	ContextJSON *string `json:"context_json,omitempty"`

	Product        *string `json:"product,omitempty"`
	Platform       *string `json:"platform,omitempty"`
	ProductFamily  *string `json:"product_family,omitempty"`
	Website        *string `json:"website,omitempty"`
	WebsiteSection *string `json:"website_section,omitempty"`
	ItemName       *string `json:"item_name,omitempty"`
	InsightID      *string `json:"insight_id,omitempty"`

	GitRepo            *string    `json:"git_repo,omitempty"`
	GitBranch          *string    `json:"git_branch,omitempty"`
	GitRunTag          *string    `json:"git_run_tag,omitempty"`
	GitCommitHash      *string    `json:"git_commit_hash,omitempty"`
	GitCommitAuthor    *string    `json:"git_commit_author,omitempty"`
	GitCommitTimestamp *time.Time `json:"git_commit_timestamp,omitempty"`
	GitCommitSource    *string    `json:"git_commit_source,omitempty"`

	SchemaVersion int `json:"schema_version,omitempty"`
}

// toRun converts the wire request into a domain Run. Status normalization
// and full validation happen downstream in writeengine, not here; this is
// pure field mapping so a malformed request still reaches the validator and
// comes back as a classified Invalid outcome rather than a bare decode error.
func (req *RunRequest) toRun() *runs.Run {
	return &runs.Run{
		EventID:     req.EventID,
		RunID:       req.RunID,
		AgentName:   req.AgentName,
		JobType:     req.JobType,
		TriggerType: req.TriggerType,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      statusalias.Canonical(req.Status),
		DurationMs:  req.DurationMs,

		ItemsDiscovered: req.ItemsDiscovered,
		ItemsSucceeded:  req.ItemsSucceeded,
		ItemsFailed:     req.ItemsFailed,

		InputSummary:  req.InputSummary,
		OutputSummary: req.OutputSummary,
		ErrorSummary:  req.ErrorSummary,
		ErrorDetails:  req.ErrorDetails,

		MetricsJSON: req.MetricsJSON,
		ContextJSON: req.ContextJSON,

		Product:        req.Product,
		Platform:       req.Platform,
		ProductFamily:  req.ProductFamily,
		Website:        req.Website,
		WebsiteSection: req.WebsiteSection,
		ItemName:       req.ItemName,
		InsightID:      req.InsightID,

		GitRepo:            req.GitRepo,
		GitBranch:          req.GitBranch,
		GitRunTag:          req.GitRunTag,
		GitCommitHash:      req.GitCommitHash,
		GitCommitAuthor:    req.GitCommitAuthor,
		GitCommitTimestamp: req.GitCommitTimestamp,
		GitCommitSource:    req.GitCommitSource,

		SchemaVersion: req.SchemaVersion,
	}
}

// RunResponse is the wire shape returned by GET /api/v1/runs/{event_id} and
// as an element of the GET /api/v1/runs listing.
type RunResponse struct {
	RunRequest

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newRunResponse(r *runs.Run) *RunResponse {
	return &RunResponse{
		RunRequest: RunRequest{
			EventID:     r.EventID,
			RunID:       r.RunID,
			AgentName:   r.AgentName,
			JobType:     r.JobType,
			TriggerType: r.TriggerType,
			StartTime:   r.StartTime,
			EndTime:     r.EndTime,
			Status:      string(r.Status),
			DurationMs:  r.DurationMs,

			ItemsDiscovered: r.ItemsDiscovered,
			ItemsSucceeded:  r.ItemsSucceeded,
			ItemsFailed:     r.ItemsFailed,

			InputSummary:  r.InputSummary,
			OutputSummary: r.OutputSummary,
			ErrorSummary:  r.ErrorSummary,
			ErrorDetails:  r.ErrorDetails,

			MetricsJSON: r.MetricsJSON,
			ContextJSON: r.ContextJSON,

			Product:        r.Product,
			Platform:       r.Platform,
			ProductFamily:  r.ProductFamily,
			Website:        r.Website,
			WebsiteSection: r.WebsiteSection,
			ItemName:       r.ItemName,
			InsightID:      r.InsightID,

			GitRepo:            r.GitRepo,
			GitBranch:          r.GitBranch,
			GitRunTag:          r.GitRunTag,
			GitCommitHash:      r.GitCommitHash,
			GitCommitAuthor:    r.GitCommitAuthor,
			GitCommitTimestamp: r.GitCommitTimestamp,
			GitCommitSource:    r.GitCommitSource,

			SchemaVersion: r.SchemaVersion,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CreateResponse is the body returned from POST /api/v1/runs (spec.md §6).
type CreateResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	RunID   string `json:"run_id,omitempty"`
}

// ValidationErrorResponse is the 400 body for a single-record validation
// failure.
type ValidationErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// BatchError reports why one element of a batch request failed.
type BatchError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason"`
}

// BatchResponse is the body returned from POST /api/v1/runs/batch.
type BatchResponse struct {
	Inserted   int          `json:"inserted"`
	Duplicates int          `json:"duplicates"`
	Errors     []BatchError `json:"errors"`
	Total      int          `json:"total"`
}

// newBatchResponse returns a BatchResponse with Errors initialized to an
// empty, non-nil slice, so a batch with no errors still marshals "errors":[]
// rather than "errors":null (spec.md §6).
func newBatchResponse(total int) *BatchResponse {
	return &BatchResponse{Total: total, Errors: []BatchError{}}
}

// EventRequest is the wire shape accepted by POST /api/v1/runs/{run_id}/events
// (spec.md §3 RunEvent field names).
type EventRequest struct {
	EventType    string     `json:"event_type"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Message      *string    `json:"message,omitempty"`
	MetadataJSON *string    `json:"metadata_json,omitempty"`
}

func (req *EventRequest) toRunEvent(runID string) *runs.RunEvent {
	event := &runs.RunEvent{
		RunID:        runID,
		EventType:    req.EventType,
		Message:      req.Message,
		MetadataJSON: req.MetadataJSON,
	}

	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	return event
}

// EventResponse is the 200 body returned from POST /api/v1/runs/{run_id}/events.
type EventResponse struct {
	Status string `json:"status"`
}

// PatchResponse is the 200 body returned from PATCH /api/v1/runs/{event_id}.
type PatchResponse struct {
	Status        string   `json:"status"`
	FieldsUpdated []string `json:"fields_updated"`
}

// ListResponse is the body returned from GET /api/v1/runs.
type ListResponse struct {
	Items      []*RunResponse `json:"items"`
	NextCursor *string        `json:"next_cursor"`
}

func newListResponse(result *queryengine.ListResult) *ListResponse {
	resp := &ListResponse{Items: make([]*RunResponse, len(result.Runs))}

	for i, r := range result.Runs {
		resp.Items[i] = newRunResponse(r)
	}

	if result.HasMore {
		resp.NextCursor = &result.NextCursor
	}

	return resp
}

// AggregateBucketResponse is one group in an aggregate response.
type AggregateBucketResponse struct {
	Key             string           `json:"key"`
	Count           int64            `json:"count"`
	ItemsDiscovered int64            `json:"items_discovered"`
	ItemsSucceeded  int64            `json:"items_succeeded"`
	ItemsFailed     int64            `json:"items_failed"`
	SuccessRatio    float64          `json:"success_ratio"`
	StatusHistogram map[string]int64 `json:"status_histogram"`
}

// AggregateResponse is the body returned from GET /api/v1/runs/aggregate.
type AggregateResponse struct {
	Grouping string                    `json:"grouping"`
	Buckets  []AggregateBucketResponse `json:"buckets"`
}

// MetadataResponse is the body returned from GET /api/v1/metadata: distinct
// enumerations plus store-level bookkeeping (spec.md §4.C).
type MetadataResponse struct {
	SchemaVersion   uint       `json:"schema_version"`
	SchemaDirty     bool       `json:"schema_dirty"`
	TotalRuns       int64      `json:"total_runs"`
	OldestRun       *time.Time `json:"oldest_run,omitempty"`
	NewestRun       *time.Time `json:"newest_run,omitempty"`
	AgentNames      []string   `json:"agent_names"`
	JobTypes        []string   `json:"job_types"`
	Products        []string   `json:"products"`
	ProductFamilies []string   `json:"product_families"`
	Websites        []string   `json:"websites"`
}

// HealthStatus is the body returned from GET /health (spec.md §6).
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	DBPath  string `json:"db_path"`
}

// MetricsSummary is the body returned from GET /metrics: a process-level
// summary, not the per-run aggregate endpoint.
type MetricsSummary struct {
	TotalRuns int64          `json:"total_runs"`
	Agents    map[string]int64 `json:"agents"`
}
