package ingestserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localtelemetry/ingestd/internal/ingestserver/middleware"
	"github.com/localtelemetry/ingestd/internal/queryengine"
	"github.com/localtelemetry/ingestd/internal/statusalias"
	"github.com/localtelemetry/ingestd/internal/writeengine"
)

// Server is the HTTP ingestion API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *Config
	startTime  time.Time
	writer     *writeengine.Engine
	query      *queryengine.Engine
	healthFn   func(context.Context) error
	versionFn  func() (version uint, dirty bool, err error)
	statuses   *statusalias.Table
	dbPath     string
	appVersion string
}

// NewServer builds an HTTP server wired to the given write/query engines.
// healthFn is invoked by GET /health to report the store's reachability;
// a nil healthFn disables the check (always reports healthy). versionFn
// reports the applied schema version for GET /api/v1/metadata; a nil
// versionFn reports version 0, not dirty. dbPath and appVersion are surfaced
// verbatim by GET /health.
func NewServer(
	cfg *Config,
	writer *writeengine.Engine,
	query *queryengine.Engine,
	healthFn func(context.Context) error,
	versionFn func() (uint, bool, error),
	dbPath string,
	appVersion string,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if writer == nil || query == nil {
		logger.Error("ingestserver requires both a write engine and a query engine")
		panic("ingestserver: writer and query engines cannot be nil")
	}

	if healthFn == nil {
		healthFn = func(context.Context) error { return nil }
	}

	if versionFn == nil {
		versionFn = func() (uint, bool, error) { return 0, false, nil }
	}

	server := &Server{
		logger:     logger,
		config:     cfg,
		writer:     writer,
		query:      query,
		healthFn:   healthFn,
		versionFn:  versionFn,
		statuses:   statusalias.Default(),
		dbPath:     dbPath,
		appVersion: appVersion,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	limiter := middleware.NewTokenBucketLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(limiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.corsConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the HTTP server and blocks until shutdown, handling SIGINT and
// SIGTERM for graceful shutdown.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting ingestion server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed")

	return nil
}

// Handler returns the fully wrapped HTTP handler, for use in tests with
// httptest.Server without going through Start's signal handling.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
