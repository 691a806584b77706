package telemetryclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, baseURL string) *Config {
	t.Helper()

	return &Config{
		BaseURL:        baseURL,
		BufferDir:      filepath.Join(t.TempDir(), "buffer"),
		APIEnabled:     true,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		ReplayTimeout:  2 * time.Second,
	}
}

func TestClient_TrackRunSuccessReachesServer(t *testing.T) {
	var received runPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createResult{Status: "created", EventID: received.EventID, RunID: received.RunID})
	}))
	defer srv.Close()

	c := New(testConfig(t, srv.URL), nil)

	err := c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-1", func(h *RunHandle) error {
		h.SetCounters(10, 9, 1)

		return h.LogEvent("note", map[string]any{"ok": true})
	})
	require.NoError(t, err)
	require.Equal(t, "run-1", received.RunID)
	require.Equal(t, "success", received.Status)
	require.Equal(t, int64(9), received.ItemsSucceeded)

	files, err := c.buf.Files()
	require.NoError(t, err)
	require.Len(t, files, 1, "LogEvent always buffers, even on successful submission")
}

func TestClient_TrackRunFailureIsReportedAsFailure(t *testing.T) {
	var received runPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createResult{Status: "created", EventID: received.EventID, RunID: received.RunID})
	}))
	defer srv.Close()

	c := New(testConfig(t, srv.URL), nil)

	boom := errors.New("boom")

	err := c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-2", func(h *RunHandle) error {
		return boom
	})
	require.NoError(t, err)
	require.Equal(t, "failure", received.Status)
	require.Equal(t, "boom", *received.ErrorSummary)
}

func TestClient_TrackRunPanicIsReportedAsFailureAndRepanics(t *testing.T) {
	var received runPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createResult{Status: "created", EventID: received.EventID, RunID: received.RunID})
	}))
	defer srv.Close()

	c := New(testConfig(t, srv.URL), nil)

	require.Panics(t, func() {
		_ = c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-3", func(h *RunHandle) error {
			panic("kaboom")
		})
	})
	require.Equal(t, "failure", received.Status)
	require.Contains(t, *received.ErrorSummary, "kaboom")
}

func TestClient_UnreachableServerBuffersRun(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.MaxRetries = 0

	c := New(cfg, nil)

	err := c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-4", func(h *RunHandle) error {
		return nil
	})
	require.NoError(t, err, "a buffered run is not itself an error")

	files, err := c.buf.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "run-4")
}

func TestClient_ReplayResubmitsBufferedRuns(t *testing.T) {
	served := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++

		var payload runPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createResult{Status: "created", EventID: payload.EventID, RunID: payload.RunID})
	}))
	defer srv.Close()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.MaxRetries = 0
	c := New(cfg, nil)

	err := c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-5", func(h *RunHandle) error {
		return nil
	})
	require.NoError(t, err)

	filesBefore, err := c.buf.Files()
	require.NoError(t, err)
	require.Len(t, filesBefore, 1)

	c.cfg.BaseURL = srv.URL

	results, err := c.Replay(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Deleted)
	require.Equal(t, 1, served)

	filesAfter, err := c.buf.Files()
	require.NoError(t, err)
	require.Empty(t, filesAfter)
}

func TestClient_APIDisabledAlwaysBuffers(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.APIEnabled = false
	c := New(cfg, nil)

	err := c.TrackRun(context.Background(), "agent-a", "crawl", "manual", "run-6", func(h *RunHandle) error {
		return nil
	})
	require.NoError(t, err)

	files, err := c.buf.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestClient_ReplaySubmitsBufferedEventsToEventsEndpoint(t *testing.T) {
	var eventPaths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventPaths = append(eventPaths, r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eventResult{Status: "created"})
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	c := New(cfg, nil)

	h := c.StartRun("agent-a", "crawl", "manual", "run-7")
	require.NoError(t, h.LogEvent("progress", map[string]any{"pct": 25}))

	files, err := c.buf.Files()
	require.NoError(t, err)
	require.Len(t, files, 1, "LogEvent always buffers")

	results, err := c.Replay(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Deleted)
	require.Equal(t, []string{"/api/v1/runs/run-7/events"}, eventPaths)
}

func TestClient_StartRunDeduplicatesActiveRunID(t *testing.T) {
	c := New(testConfig(t, "http://127.0.0.1:1"), nil)

	h1 := c.StartRun("agent-a", "crawl", "manual", "run-dup")
	h2 := c.StartRun("agent-a", "crawl", "manual", "run-dup")

	require.Equal(t, "run-dup", h1.payload.RunID)
	require.NotEqual(t, h1.payload.RunID, h2.payload.RunID)
	require.Contains(t, h2.payload.RunID, "run-dup-duplicate-")
}
