// Package telemetryclient is the in-agent library that submits Run records
// to an ingestd server, falling back to a local NDJSON buffer when the
// server is unreachable and replaying that buffer once it is again.
package telemetryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/localtelemetry/ingestd/pkg/telemetryclient/buffer"
	"github.com/localtelemetry/ingestd/pkg/telemetryclient/gitinfo"
)

// clientRequestRate caps outgoing submissions against the server, the same
// token-bucket style the server's own middleware uses to cap incoming
// requests (internal/ingestserver/middleware.TokenBucketLimiter), just
// pointed the other direction: protect a possibly small/local server from a
// bursty fleet of agents retrying at once.
const clientRequestRate = 20.0

const clientRequestBurst = 10

// runPayload is the wire shape POSTed to the server; it mirrors
// ingestserver.RunRequest field-for-field without importing that package,
// keeping the client's dependency graph one-directional.
type runPayload struct {
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

type createResult struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	RunID   string `json:"run_id"`
}

// eventPayload is the wire shape LogEvent buffers and Replay later POSTs to
// /api/v1/runs/{run_id}/events; it mirrors ingestserver.EventRequest.
type eventPayload struct {
	RunID        string    `json:"run_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	MetadataJSON *string   `json:"metadata_json,omitempty"`
}

type eventResult struct {
	Status string `json:"status"`
}

// Client submits Run lifecycle events to an ingestd server, buffering
// locally on failure.
type Client struct {
	cfg     *Config
	httpc   *http.Client
	buf     *buffer.Buffer
	git     *gitinfo.Detector
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	active map[string]bool
}

// New returns a Client for cfg.
func New(cfg *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.ConnectTimeout},
		buf:     buffer.New(cfg.BufferDir),
		git:     gitinfo.NewDetector(""),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(clientRequestRate), clientRequestBurst),
		active:  map[string]bool{},
	}
}

// RunHandle tracks one in-flight run: accumulated fields gathered before the
// terminal EndRun call.
type RunHandle struct {
	client  *Client
	payload runPayload
}

// StartRun begins tracking a run performing jobType work for agentName,
// triggered by triggerType. If runID is empty a UUID is generated. If runID
// collides with an already-active handle in this client, a new unique id
// (<original>-duplicate-<short>) is generated and used instead; the
// original handle (and its in-flight run_id) is left untouched (spec.md
// §4.F).
func (c *Client) StartRun(agentName, jobType, triggerType, runID string) *RunHandle {
	if runID == "" {
		runID = uuid.NewString()
	}

	c.mu.Lock()
	if c.active[runID] {
		runID = fmt.Sprintf("%s-duplicate-%s", runID, uuid.NewString()[:8])
	}
	c.active[runID] = true
	c.mu.Unlock()

	info := c.git.Detect()

	return &RunHandle{
		client: c,
		payload: runPayload{
			EventID:       uuid.NewString(),
			RunID:         runID,
			AgentName:     agentName,
			JobType:       jobType,
			TriggerType:   triggerType,
			Status:        "running",
			StartTime:     time.Now().UTC(),
			GitRepo:       info.Repo,
			GitBranch:     info.Branch,
			GitRunTag:     info.RunTag,
			SchemaVersion: currentSchemaVersion,
		},
	}
}

// currentSchemaVersion tracks internal/runs.CurrentSchemaVersion; duplicated
// here (not imported) to keep the client's dependency graph one-directional.
const currentSchemaVersion = 6

// SetCounters records the run's work counters. Local only until EndRun
// submits the run.
func (h *RunHandle) SetCounters(discovered, succeeded, failed int64) {
	h.payload.ItemsDiscovered = discovered
	h.payload.ItemsSucceeded = succeeded
	h.payload.ItemsFailed = failed
}

// SetTaxonomy records the dashboard classification fields.
func (h *RunHandle) SetTaxonomy(product, platform, productFamily, website, websiteSection, itemName, insightID *string) {
	h.payload.Product = product
	h.payload.Platform = platform
	h.payload.ProductFamily = productFamily
	h.payload.Website = website
	h.payload.WebsiteSection = websiteSection
	h.payload.ItemName = itemName
	h.payload.InsightID = insightID
}

// SetPayloads records the free-text and JSON payload fields.
func (h *RunHandle) SetPayloads(inputSummary, outputSummary *string, metricsJSON, contextJSON *string) {
	h.payload.InputSummary = inputSummary
	h.payload.OutputSummary = outputSummary
	h.payload.MetricsJSON = metricsJSON
	h.payload.ContextJSON = contextJSON
}

// LogEvent appends a RunEvent-shaped record to the NDJSON buffer. Per
// spec.md §4.F this is not sent to the server by default; it is buffered
// for a later, explicit replay alongside Run submissions.
func (h *RunHandle) LogEvent(eventType string, metadata map[string]any) error {
	var metadataJSON *string

	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("telemetryclient: marshal event metadata: %w", err)
		}

		s := string(data)
		metadataJSON = &s
	}

	event := eventPayload{
		RunID:        h.payload.RunID,
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		MetadataJSON: metadataJSON,
	}

	return h.client.buf.Append(event, time.Now().UTC())
}

// EndRun finalizes the run with status and submits it to the server,
// buffering locally on failure. status is passed through the server's own
// alias table, so "completed"/"failed"/etc. are accepted. duration_ms is
// computed from start_time unless the run never had a chance to start
// (impossible via StartRun, but kept symmetric with the server's own rule).
func (h *RunHandle) EndRun(ctx context.Context, status string, errSummary, errDetails *string) error {
	now := time.Now().UTC()

	h.payload.Status = status
	h.payload.EndTime = &now
	h.payload.ErrorSummary = errSummary
	h.payload.ErrorDetails = errDetails
	h.payload.DurationMs = now.Sub(h.payload.StartTime).Milliseconds()

	h.client.mu.Lock()
	delete(h.client.active, h.payload.RunID)
	h.client.mu.Unlock()

	return h.client.submit(ctx, h.payload)
}

// TrackRun wraps fn with StartRun/EndRun, guaranteeing EndRun runs on every
// exit path: normal return, error return, or panic. On exceptional exit the
// terminal status is failure and error_summary captures the exception's
// short form (spec.md §4.F).
func (c *Client) TrackRun(ctx context.Context, agentName, jobType, triggerType, runID string, fn func(*RunHandle) error) (err error) {
	h := c.StartRun(agentName, jobType, triggerType, runID)

	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic: %v", p)
			_ = h.EndRun(ctx, "failure", &msg, nil)

			panic(p)
		}
	}()

	if runErr := fn(h); runErr != nil {
		msg := runErr.Error()
		err = h.EndRun(ctx, "failure", &msg, nil)

		if err == nil {
			err = runErr
		}

		return err
	}

	return h.EndRun(ctx, "success", nil, nil)
}

// submit POSTs payload to the server with retry/backoff, falling through to
// the local buffer if every attempt fails, the server rejects the run, or
// the API is disabled. Every public entry point is total: submit never
// returns an error for a reason the agent should treat as fatal, only to
// report buffering itself failed (spec.md §4.F "never-crash-the-agent").
func (c *Client) submit(ctx context.Context, payload runPayload) error {
	if !c.cfg.APIEnabled {
		return c.bufferAndReturn(payload, nil)
	}

	result, err := c.postWithRetry(ctx, payload)
	if err != nil {
		c.logger.Warn("submit failed after retries, buffering",
			slog.String("event_id", payload.EventID), slog.String("error", err.Error()))

		return c.bufferAndReturn(payload, err)
	}

	if result.Status != "created" && result.Status != "duplicate" {
		c.logger.Warn("server rejected run, buffering",
			slog.String("event_id", payload.EventID), slog.String("status", result.Status))

		return c.bufferAndReturn(payload, fmt.Errorf("telemetryclient: server rejected run: %s", result.Status))
	}

	return nil
}

func (c *Client) bufferAndReturn(payload runPayload, cause error) error {
	if err := c.buf.Append(payload, time.Now().UTC()); err != nil {
		if cause != nil {
			return fmt.Errorf("telemetryclient: submit failed (%w) and buffering also failed: %w", cause, err)
		}

		return fmt.Errorf("telemetryclient: buffering failed: %w", err)
	}

	return nil
}

func (c *Client) postWithRetry(ctx context.Context, payload runPayload) (*createResult, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := jitteredBackoff(c.cfg.RetryBaseDelay, attempt)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.post(ctx, payload)
		if err == nil {
			return result, nil
		}

		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) post(ctx context.Context, payload runPayload) (*createResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("telemetryclient: rate limiter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/runs", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("telemetryclient: server returned %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return &createResult{Status: "error", EventID: payload.EventID}, nil
	}

	var result createResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telemetryclient: decode response: %w", err)
	}

	return &result, nil
}

func (c *Client) postEvent(ctx context.Context, payload eventPayload) (*eventResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("telemetryclient: rate limiter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: marshal event payload: %w", err)
	}

	url := c.cfg.BaseURL + "/api/v1/runs/" + payload.RunID + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: build event request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetryclient: event request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("telemetryclient: server returned %d for event", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return &eventResult{Status: "error"}, nil
	}

	var result eventResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telemetryclient: decode event response: %w", err)
	}

	return &result, nil
}

// jitteredBackoff returns an exponential delay with up to 20% random jitter,
// matching the retry style of internal/writeengine's busy-retry but applied
// client-side against network/5xx failures instead of SQLITE_BUSY.
func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := backoff * 0.2 * rand.Float64() //nolint:gosec // jitter timing, not security-sensitive

	return time.Duration(backoff + jitter)
}

// Replay resubmits every buffered run, oldest file first, halting a file's
// replay on the first record the server doesn't accept. The server's
// idempotency by event_id guarantees at-most-once application even across
// multiple replay attempts (spec.md §4.F).
func (c *Client) Replay(ctx context.Context) ([]buffer.ReplayResult, error) {
	replayCtx, cancel := context.WithTimeout(ctx, c.cfg.ReplayTimeout)
	defer cancel()

	return c.buf.Replay(func(raw json.RawMessage) (bool, error) {
		var payload runPayload
		if err := json.Unmarshal(raw, &payload); err == nil && payload.EventID != "" {
			result, err := c.post(replayCtx, payload)
			if err != nil {
				return false, err
			}

			return result.Status == "created" || result.Status == "duplicate", nil
		}

		// Not every buffered line is a Run: LogEvent appends RunEvent-shaped
		// records too, identified by having no event_id. Those are POSTed to
		// the events endpoint instead, which has no duplicate outcome.
		var event eventPayload
		if err := json.Unmarshal(raw, &event); err != nil {
			return false, fmt.Errorf("telemetryclient: buffered record is neither a run nor an event: %w", err)
		}

		result, err := c.postEvent(replayCtx, event)
		if err != nil {
			return false, err
		}

		return result.Status == "created", nil
	})
}
