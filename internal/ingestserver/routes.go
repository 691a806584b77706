package ingestserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/localtelemetry/ingestd/internal/queryengine"
	"github.com/localtelemetry/ingestd/internal/runs"
	"github.com/localtelemetry/ingestd/internal/writeengine"
)

const healthCheckTimeout = 2 * time.Second

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/v1/runs", s.handleCreateRun)
	mux.HandleFunc("POST /api/v1/runs/batch", s.handleBatchRuns)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/aggregate", s.handleAggregateRuns)
	mux.HandleFunc("GET /api/v1/runs/{event_id}", s.handleGetRun)
	mux.HandleFunc("PATCH /api/v1/runs/{event_id}", s.handlePatchRun)
	mux.HandleFunc("POST /api/v1/runs/{run_id}/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/v1/metadata", s.handleMetadata)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.healthFn(ctx); err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "store_unavailable", "store is not ready")

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleHealth serves GET /health per spec.md §6:
// { "status": "ok", "version": "...", "db_path": "..." }.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"

	if err := s.healthFn(ctx); err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, &HealthStatus{
		Status:  status,
		Version: s.appVersion,
		DBPath:  s.dbPath,
	})
}

// handleMetrics serves GET /metrics per spec.md §6:
// { "total_runs": N, "agents": {name: count, ...} }.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	agents, err := s.query.CountByAgent(r.Context())
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	var total int64
	for _, c := range agents {
		total += c
	}

	writeJSON(w, http.StatusOK, &MetricsSummary{TotalRuns: total, Agents: agents})
}

// handleCreateRun serves POST /api/v1/runs per spec.md §6: both a fresh
// insert and a duplicate resubmission return 200 with status "created" or
// "duplicate"; only a validation failure is a 400.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())

		return
	}

	result, err := s.writer.Insert(r.Context(), req.toRun())
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	switch result.Outcome {
	case writeengine.Invalid:
		writeValidationError(w, result.Error)
	case writeengine.Created, writeengine.Duplicate:
		writeJSON(w, http.StatusOK, &CreateResponse{
			Status:  string(result.Outcome),
			EventID: result.EventID,
			RunID:   result.RunID,
		})
	default:
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", "unexpected insert outcome")
	}
}

// handleBatchRuns serves POST /api/v1/runs/batch. One bad record never
// aborts the batch (spec.md §4.B); outcomes are reported per-record plus
// aggregate counts, in input order.
func (s *Server) handleBatchRuns(w http.ResponseWriter, r *http.Request) {
	var req []RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())

		return
	}

	records := make([]*runs.Run, len(req))
	for i := range req {
		records[i] = req[i].toRun()
	}

	results, err := s.writer.Batch(r.Context(), records)
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	resp := newBatchResponse(len(results))

	for i, res := range results {
		switch res.Outcome {
		case writeengine.Created:
			resp.Inserted++
		case writeengine.Duplicate:
			resp.Duplicates++
		default:
			resp.Errors = append(resp.Errors, BatchError{Index: i, EventID: res.EventID, Reason: "validation"})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	run, err := s.query.GetRun(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, queryengine.ErrNotFound) {
			writeValidationLikeError(w, http.StatusNotFound, "not_found", "no run with that event_id")

			return
		}

		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	writeJSON(w, http.StatusOK, newRunResponse(run))
}

// handlePatchRun serves PATCH /api/v1/runs/{event_id}. The body is decoded
// as a raw field map so writeengine.Patch can distinguish an absent key
// (left untouched) from an explicit JSON null (clears a nullable column).
func (s *Server) handlePatchRun(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())

		return
	}

	result, err := s.writer.Patch(r.Context(), eventID, fields)
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	switch result.Outcome {
	case writeengine.NotFound:
		writeValidationLikeError(w, http.StatusNotFound, "not_found", "no run with that event_id")
	case writeengine.Invalid:
		writeValidationError(w, result.Error)
	case writeengine.Updated:
		writeJSON(w, http.StatusOK, &PatchResponse{Status: "updated", FieldsUpdated: result.FieldsUpdated})
	default:
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", "unexpected patch outcome")
	}
}

// handleCreateEvent serves POST /api/v1/runs/{run_id}/events: appends a
// RunEvent checkpoint to the named run_id. Unlike run insertion this is not
// idempotent — every call creates a new row (spec.md §3) — so there is no
// "duplicate" outcome, only created or validation failure.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())

		return
	}

	result, err := s.writer.InsertEvent(r.Context(), req.toRunEvent(runID))
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	switch result.Outcome {
	case writeengine.Invalid:
		writeValidationError(w, result.Error)
	case writeengine.Created:
		writeJSON(w, http.StatusOK, &EventResponse{Status: "created"})
	default:
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", "unexpected event outcome")
	}
}

// handleListRuns serves GET /api/v1/runs. Query params and response shape
// follow spec.md §6 exactly: agent_name, job_type, status (normalized),
// start_from, start_to, website, website_section, product_family, limit,
// cursor; response { "items": [...], "next_cursor": "…"|null }.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := queryengine.Filter{
		AgentName:      q.Get("agent_name"),
		JobType:        q.Get("job_type"),
		Website:        q.Get("website"),
		WebsiteSection: q.Get("website_section"),
		ProductFamily:  q.Get("product_family"),
	}

	if raw := q.Get("status"); raw != "" {
		canonical, ok := s.statuses.Normalize(raw)
		if !ok {
			writeValidationError(w, "invalid status: "+raw)

			return
		}

		filter.Status = string(canonical)
	}

	if v := q.Get("start_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeValidationError(w, "invalid start_from: "+err.Error())

			return
		}

		filter.StartFrom = t
	}

	if v := q.Get("start_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeValidationError(w, "invalid start_to: "+err.Error())

			return
		}

		filter.StartTo = t
	}

	page := queryengine.Pagination{Cursor: q.Get("cursor")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "invalid limit: "+err.Error())

			return
		}

		page.PageSize = n
	}

	result, err := s.query.ListRuns(r.Context(), filter, page)
	if err != nil {
		if errors.Is(err, queryengine.ErrInvalidCursor) {
			writeValidationError(w, err.Error())

			return
		}

		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	writeJSON(w, http.StatusOK, newListResponse(result))
}

func (s *Server) handleAggregateRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	grouping := queryengine.AggregateGrouping(q.Get("group_by"))
	if grouping == "" {
		grouping = queryengine.GroupByDate
	}

	filter := queryengine.Filter{
		AgentName:      q.Get("agent_name"),
		JobType:        q.Get("job_type"),
		Website:        q.Get("website"),
		WebsiteSection: q.Get("website_section"),
		ProductFamily:  q.Get("product_family"),
	}

	var since, until time.Time

	if v := q.Get("start_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}

	if v := q.Get("start_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}

	buckets, err := s.query.Aggregate(r.Context(), grouping, filter, since, until)
	if err != nil {
		writeValidationError(w, err.Error())

		return
	}

	resp := &AggregateResponse{Grouping: string(grouping), Buckets: make([]AggregateBucketResponse, len(buckets))}

	for i, b := range buckets {
		resp.Buckets[i] = AggregateBucketResponse{
			Key:             b.Key,
			Count:           b.Count,
			ItemsDiscovered: b.ItemsDiscovered,
			ItemsSucceeded:  b.ItemsSucceeded,
			ItemsFailed:     b.ItemsFailed,
			SuccessRatio:    b.SuccessRatio,
			StatusHistogram: b.StatusHistogram,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	summary, err := s.query.Metadata(r.Context())
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	version, dirty, err := s.versionFn()
	if err != nil {
		writeValidationLikeError(w, http.StatusInternalServerError, "internal", err.Error())

		return
	}

	writeJSON(w, http.StatusOK, &MetadataResponse{
		SchemaVersion:   version,
		SchemaDirty:     dirty,
		TotalRuns:       summary.TotalRuns,
		OldestRun:       summary.OldestRun,
		NewestRun:       summary.NewestRun,
		AgentNames:      summary.AgentNames,
		JobTypes:        summary.JobTypes,
		Products:        summary.Products,
		ProductFamilies: summary.ProductFamilies,
		Websites:        summary.Websites,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeValidationError writes the spec.md §6 400 body:
// { "error": "validation", "detail": "…" }.
func writeValidationError(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, &ValidationErrorResponse{Error: "validation", Detail: detail})
}

// writeValidationLikeError writes the same {error, detail} shape at a
// non-400 status, for not_found/internal error kinds that spec.md §7 maps
// to other codes but doesn't otherwise shape.
func writeValidationLikeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, &ValidationErrorResponse{Error: kind, Detail: detail})
}
