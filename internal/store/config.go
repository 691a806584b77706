// Package store owns the embedded SQLite database: connection management,
// pragma verification, schema migrations, integrity checks, and backups.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/localtelemetry/ingestd/internal/config"
)

const (
	defaultBusyTimeout  = 30 * time.Second
	defaultJournalMode  = "delete"
	defaultSynchronous  = "full"
	defaultMaxRetries   = 5
	defaultRetryBackoff = 50 * time.Millisecond
	defaultReadConns    = 8
)

// ErrPathEmpty is returned when no database path was configured.
var ErrPathEmpty = errors.New("database path cannot be empty")

// Config holds SQLite connection and durability configuration, loaded from
// environment variables with production-safe defaults.
type Config struct {
	// Path is the filesystem location of the SQLite database file.
	Path string

	// BusyTimeout bounds how long a connection waits for a lock held by
	// another connection before returning SQLITE_BUSY.
	BusyTimeout time.Duration

	// JournalMode is "delete" (default, container-portable) or "wal".
	JournalMode string

	// Synchronous is "full" (default) or "normal"; full is required for
	// crash-safety guarantees under journal_mode=delete.
	Synchronous string

	// MaxRetries bounds how many times a write is retried after SQLITE_BUSY
	// before the caller sees an error.
	MaxRetries int

	// RetryBackoff is the base delay between busy-retries; actual delay
	// grows exponentially with attempt number.
	RetryBackoff time.Duration

	// ReadPoolSize bounds concurrent read-only connections.
	ReadPoolSize int
}

// LoadConfig reads store configuration from the environment, falling back to
// defaults tuned for single-writer embedded deployment.
func LoadConfig() *Config {
	return &Config{
		Path:         config.GetEnvStr("INGESTD_DB_PATH", "./data/telemetry.sqlite"),
		BusyTimeout:  config.GetEnvDuration("INGESTD_DB_BUSY_TIMEOUT", defaultBusyTimeout),
		JournalMode:  strings.ToLower(config.GetEnvStr("INGESTD_DB_JOURNAL_MODE", defaultJournalMode)),
		Synchronous:  strings.ToLower(config.GetEnvStr("INGESTD_DB_SYNCHRONOUS", defaultSynchronous)),
		MaxRetries:   config.GetEnvInt("INGESTD_DB_MAX_RETRIES", defaultMaxRetries),
		RetryBackoff: config.GetEnvDuration("INGESTD_DB_RETRY_BACKOFF", defaultRetryBackoff),
		ReadPoolSize: config.GetEnvInt("INGESTD_DB_READ_POOL_SIZE", defaultReadConns),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return ErrPathEmpty
	}

	if c.JournalMode != "delete" && c.JournalMode != "wal" {
		return errors.New("journal mode must be \"delete\" or \"wal\"")
	}

	if c.Synchronous != "full" && c.Synchronous != "normal" {
		return errors.New("synchronous must be \"full\" or \"normal\"")
	}

	return nil
}

// synchronousValue returns the PRAGMA synchronous integer for c.Synchronous.
func (c *Config) synchronousValue() int {
	if c.Synchronous == "normal" {
		return 1
	}

	return 2
}
