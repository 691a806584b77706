package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localtelemetry/ingestd/internal/store"
)

// Maintainer bundles the store-backed operator operations (backup,
// rotation, integrity, retention) behind a single entry point used by
// cmd/ingestd-maintain.
type Maintainer struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a Maintainer operating against st.
func New(st *store.Store, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Maintainer{store: st, logger: logger}
}

// BackupReport describes the result of a Backup call.
type BackupReport struct {
	Path     string
	Rotated  []string
	Duration time.Duration
}

// Backup takes an online backup into dir, then rotates old backups beyond
// keep (keep<=0 disables rotation).
func (m *Maintainer) Backup(ctx context.Context, dir string, keep int, now time.Time) (*BackupReport, error) {
	start := time.Now()

	path, err := m.store.Backup(ctx, dir, now)
	if err != nil {
		return nil, fmt.Errorf("maintenance: backup: %w", err)
	}

	m.logger.Info("backup completed", slog.String("path", path))

	var rotated []string

	if keep > 0 {
		rotated, err = store.RotateBackups(dir, keep)
		if err != nil {
			return &BackupReport{Path: path, Duration: time.Since(start)}, fmt.Errorf("maintenance: rotate backups: %w", err)
		}

		if len(rotated) > 0 {
			m.logger.Info("rotated old backups", slog.Int("count", len(rotated)))
		}
	}

	return &BackupReport{Path: path, Rotated: rotated, Duration: time.Since(start)}, nil
}

// IntegrityReport describes the result of an integrity check.
type IntegrityReport struct {
	OK     bool
	Detail string
	Level  store.IntegrityLevel
}

// CheckIntegrity runs a PRAGMA integrity check at the given level against
// the live write connection.
func (m *Maintainer) CheckIntegrity(ctx context.Context, level store.IntegrityLevel) (*IntegrityReport, error) {
	ok, detail, err := store.IntegrityCheck(ctx, m.store.WriteDB(), level)
	if err != nil {
		return nil, fmt.Errorf("maintenance: integrity check: %w", err)
	}

	if !ok {
		m.logger.Error("integrity check failed", slog.String("detail", detail))
	}

	return &IntegrityReport{OK: ok, Detail: detail, Level: level}, nil
}

// Retain runs a retention sweep against the live write connection.
func (m *Maintainer) Retain(ctx context.Context, opts RetentionOptions) (*RetentionReport, error) {
	report, err := RunRetention(ctx, m.store.WriteDB(), opts)
	if err != nil {
		return report, fmt.Errorf("maintenance: retention: %w", err)
	}

	m.logger.Info("retention sweep completed",
		slog.Bool("dry_run", report.DryRun),
		slog.Int64("deleted", report.Deleted),
		slog.Int64("would_delete", report.WouldDelete),
		slog.Int("batches", report.Batches),
	)

	return report, nil
}

// Diagnose reports the live pragma values against the store's configuration,
// for the operator-facing `ingestd-maintain diagnose` subcommand.
func (m *Maintainer) Diagnose(ctx context.Context) (*store.PragmaSnapshot, error) {
	snapshot, err := store.ReadPragmas(ctx, m.store.WriteDB())
	if err != nil {
		return nil, fmt.Errorf("maintenance: read pragmas: %w", err)
	}

	return snapshot, nil
}
