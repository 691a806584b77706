package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// PragmaSnapshot is the set of durability-relevant pragmas read back from a
// live connection.
type PragmaSnapshot struct {
	BusyTimeoutMs      int64
	JournalMode        string
	Synchronous        int
	WALAutocheckpoint  int64
}

// ReadPragmas queries the current pragma values on db.
func ReadPragmas(ctx context.Context, db *sql.DB) (*PragmaSnapshot, error) {
	snap := &PragmaSnapshot{}

	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&snap.BusyTimeoutMs); err != nil {
		return nil, fmt.Errorf("store: read busy_timeout: %w", err)
	}

	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&snap.JournalMode); err != nil {
		return nil, fmt.Errorf("store: read journal_mode: %w", err)
	}

	if err := db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&snap.Synchronous); err != nil {
		return nil, fmt.Errorf("store: read synchronous: %w", err)
	}

	if err := db.QueryRowContext(ctx, "PRAGMA wal_autocheckpoint").Scan(&snap.WALAutocheckpoint); err != nil {
		return nil, fmt.Errorf("store: read wal_autocheckpoint: %w", err)
	}

	snap.JournalMode = strings.ToLower(snap.JournalMode)

	return snap, nil
}

// VerifyPragmas reads back the write connection's pragmas and logs a warning
// for every divergence from cfg. It never returns an error: pragma
// enforcement already happened at connection-open time via the DSN, so this
// is a diagnostic safety net, not a second attempt to apply settings.
func (s *Store) VerifyPragmas(ctx context.Context) {
	snap, err := ReadPragmas(ctx, s.write)
	if err != nil {
		slog.Warn("could not read back pragma settings", slog.String("error", err.Error()))
		return
	}

	wantBusyMs := s.cfg.BusyTimeout.Milliseconds()
	if snap.BusyTimeoutMs != wantBusyMs {
		slog.Warn("busy_timeout mismatch",
			slog.Int64("want_ms", wantBusyMs), slog.Int64("got_ms", snap.BusyTimeoutMs))
	}

	if snap.JournalMode != s.cfg.JournalMode {
		slog.Warn("journal_mode mismatch",
			slog.String("want", s.cfg.JournalMode), slog.String("got", snap.JournalMode))
	}

	wantSync := s.cfg.synchronousValue()
	if snap.Synchronous != wantSync {
		slog.Warn("synchronous mismatch",
			slog.Int("want", wantSync), slog.Int("got", snap.Synchronous))
	}

	if s.cfg.JournalMode == "wal" && snap.WALAutocheckpoint != 100 {
		slog.Warn("wal_autocheckpoint mismatch",
			slog.Int64("want", 100), slog.Int64("got", snap.WALAutocheckpoint))
	}
}
