package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger  *slog.Logger
	verbose bool
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool { return l.verbose }

// Runner drives schema migrations against an already-open *sql.DB using the
// embedded migration set.
type Runner struct {
	set      *Set
	migrate  *migrate.Migrate
	logger   *slog.Logger
}

// NewRunner validates the embedded migration set, wires it to db through
// golang-migrate's sqlite driver, and returns a ready Runner.
func NewRunner(db *sql.DB, logger *slog.Logger) (*Runner, error) {
	set := New(nil)
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("migrations: invalid embedded set: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create sqlite driver: %w", err)
	}

	sourceDriver, err := iofs.New(set.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("migrations: create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{set: set, migrate: m, logger: logger}, nil
}

// Up applies all pending migrations. migrate.ErrNoChange is not treated as
// an error: it means the schema is already current.
func (r *Runner) Up() error {
	if err := r.set.Validate(); err != nil {
		return fmt.Errorf("migrations: re-validation before up failed: %w", err)
	}

	if err := r.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}

	return nil
}

// Down rolls back every applied migration. Intended for test teardown and
// the migrator CLI's down command, never for production use on a live store.
func (r *Runner) Down() error {
	if err := r.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}

	return nil
}

// Version reports the currently applied migration version and whether the
// database is in a dirty state (a prior migration failed partway through).
func (r *Runner) Version() (version uint, dirty bool, err error) {
	version, dirty, err = r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("migrations: read version: %w", err)
	}

	return version, dirty, nil
}

// Close releases the underlying source and database driver handles. It does
// not close the *sql.DB passed to NewRunner.
func (r *Runner) Close() error {
	srcErr, dbErr := r.migrate.Close()

	if srcErr != nil {
		return fmt.Errorf("migrations: close source: %w", srcErr)
	}

	if dbErr != nil {
		return fmt.Errorf("migrations: close database driver: %w", dbErr)
	}

	return nil
}
