package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

const driverName = "sqlite"

// Store wraps the two connection handles the embedded database is opened
// with: a single-connection writer (this process is the only writer, per
// host, enforced by writerguard) and a small pool of read-only connections
// for concurrent queries.
type Store struct {
	cfg   *Config
	write *sql.DB
	read  *sql.DB
}

// Open opens the write and read connections described by cfg, pings both,
// and returns a ready Store. Pragmas are applied through the connection
// DSNs; Open does not read them back (VerifyPragmas does that for the write
// connection). The parent directory of cfg.Path is created if missing.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store: invalid config: %w", err)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	write, err := sql.Open(driverName, writeDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("store: open write connection: %w", err)
	}

	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open(driverName, readDSN(cfg))
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("store: open read connection: %w", err)
	}

	read.SetMaxOpenConns(cfg.ReadPoolSize)
	read.SetMaxIdleConns(cfg.ReadPoolSize)
	read.SetConnMaxIdleTime(10 * time.Minute)

	s := &Store{cfg: cfg, write: write, read: read}

	if err := s.write.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ping write connection: %w", err)
	}

	if err := s.read.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ping read connection: %w", err)
	}

	return s, nil
}

// WriteDB returns the single-connection handle used for all mutations.
func (s *Store) WriteDB() *sql.DB { return s.write }

// ReadDB returns the read-only connection pool used for queries.
func (s *Store) ReadDB() *sql.DB { return s.read }

// Path returns the configured database file path.
func (s *Store) Path() string { return s.cfg.Path }

// Close closes both connections. A second call is a no-op and returns nil.
func (s *Store) Close() error {
	var errs []error

	if err := s.write.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := s.read.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("store: close errors: %v", errs)
	}

	return nil
}

// HealthCheck verifies the write connection can still execute a trivial
// query within ctx's deadline. Used by the server's readiness probe.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.write.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: health check failed: %w", err)
	}

	return nil
}

func writeDSN(cfg *Config) string {
	v := url.Values{}
	v.Set("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	v.Add("_pragma", fmt.Sprintf("journal_mode(%s)", cfg.JournalMode))
	v.Add("_pragma", fmt.Sprintf("synchronous(%d)", cfg.synchronousValue()))

	if cfg.JournalMode == "wal" {
		v.Add("_pragma", "wal_autocheckpoint(100)")
	}

	return fmt.Sprintf("file:%s?%s", cfg.Path, v.Encode())
}

func readDSN(cfg *Config) string {
	v := url.Values{}
	v.Set("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	v.Add("_pragma", fmt.Sprintf("journal_mode(%s)", cfg.JournalMode))
	v.Set("mode", "ro")

	return fmt.Sprintf("file:%s?%s", cfg.Path, v.Encode())
}
