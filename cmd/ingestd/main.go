// Package main provides the ingestd telemetry ingestion server.
//
// ingestd is a single-writer HTTP service that accepts Run lifecycle events
// from local agents and producers, persists them idempotently in an
// embedded SQLite database, and serves them back through a read-oriented
// query API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/localtelemetry/ingestd/internal/config"
	"github.com/localtelemetry/ingestd/internal/ingestserver"
	"github.com/localtelemetry/ingestd/internal/queryengine"
	"github.com/localtelemetry/ingestd/internal/runs"
	"github.com/localtelemetry/ingestd/internal/statusalias"
	"github.com/localtelemetry/ingestd/internal/store"
	"github.com/localtelemetry/ingestd/internal/store/migrations"
	"github.com/localtelemetry/ingestd/internal/writeengine"
	"github.com/localtelemetry/ingestd/internal/writerguard"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "ingestd"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	storeConfig := store.LoadConfig()
	serverConfig := ingestserver.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting ingestd",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("db_path", storeConfig.Path),
	)

	lockPath := config.GetEnvStr("INGESTD_LOCK_PATH", filepath.Join(filepath.Dir(storeConfig.Path), ".ingestd.lock"))

	guard := writerguard.New(lockPath)
	if err := guard.Acquire(); err != nil {
		if errors.Is(err, writerguard.ErrAlreadyHeld) {
			log.Fatalf("another ingestd instance is already writing this database: %v", err)
		}

		log.Fatalf("failed to acquire writer lock: %v", err)
	}
	defer guard.Release() //nolint:errcheck // best-effort on shutdown path

	ctx := context.Background()

	st, err := store.Open(ctx, storeConfig)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close() //nolint:errcheck // best-effort on shutdown path

	runner, err := migrations.NewRunner(st.WriteDB(), logger)
	if err != nil {
		log.Fatalf("failed to build migration runner: %v", err)
	}
	defer runner.Close() //nolint:errcheck // best-effort on shutdown path

	if err := runner.Up(); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	aliasTable, err := statusalias.LoadTableFromEnv()
	if err != nil {
		log.Fatalf("failed to load status alias table: %v", err)
	}

	validator := runs.NewValidator(aliasTable)

	writer := writeengine.New(st.WriteDB(), validator, logger)
	query := queryengine.New(st.ReadDB())

	healthFn := func(ctx context.Context) error {
		return st.HealthCheck(ctx)
	}

	versionFn := func() (uint, bool, error) {
		return runner.Version()
	}

	server := ingestserver.NewServer(serverConfig, writer, query, healthFn, versionFn, storeConfig.Path, version)

	logger.Info("ready to accept connections",
		slog.String("address", serverConfig.Address()),
	)

	if err := server.Start(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("ingestd stopped")
}
