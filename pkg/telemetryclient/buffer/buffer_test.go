package buffer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type record struct {
	EventID string `json:"event_id"`
}

func TestBuffer_AppendCreatesDateRotatedFile(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, b.Append(record{EventID: "evt-1"}, now))

	path := filepath.Join(dir, "events_20260115.ndjson")
	require.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "evt-1")
}

func TestBuffer_ReplaySuccessDeletesFile(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Append(record{EventID: "evt-1"}, now))
	require.NoError(t, b.Append(record{EventID: "evt-2"}, now))

	var submitted []string

	results, err := b.Replay(func(raw json.RawMessage) (bool, error) {
		var r record
		require.NoError(t, json.Unmarshal(raw, &r))
		submitted = append(submitted, r.EventID)

		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Deleted)
	require.Equal(t, []string{"evt-1", "evt-2"}, submitted)

	files, err := b.Files()
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestBuffer_ReplayHaltsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Append(record{EventID: "evt-1"}, now))
	require.NoError(t, b.Append(record{EventID: "evt-2"}, now))

	calls := 0

	results, err := b.Replay(func(raw json.RawMessage) (bool, error) {
		calls++

		return false, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].HaltedOnError)
	require.False(t, results[0].Deleted)
	require.Equal(t, 1, calls, "replay must stop at the first failing record")

	files, err := b.Files()
	require.NoError(t, err)
	require.Len(t, files, 1, "file with a failed record must be left in place")
}

func TestBuffer_FilesAreOldestFirst(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)

	day1 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.Append(record{EventID: "later"}, day2))
	require.NoError(t, b.Append(record{EventID: "earlier"}, day1))

	files, err := b.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Contains(t, files[0], "20260110")
	require.Contains(t, files[1], "20260112")
}
