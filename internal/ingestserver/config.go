// Package ingestserver provides the HTTP ingestion API: a single-writer
// telemetry endpoint backed by writeengine and queryengine.
package ingestserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/localtelemetry/ingestd/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8089
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default bind address. Loopback by default since this
	// service has no authentication layer of its own.
	DefaultHost = "127.0.0.1"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = slog.LevelInfo
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultRateLimitRPS is the default sustained write-request rate.
	DefaultRateLimitRPS = 200
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// Config holds HTTP server configuration. Unlike the dependencies it serves
// (writeengine.Engine, queryengine.Engine), Config carries only pure,
// comparable settings so it can be constructed, validated, and logged
// independently of the store it will eventually run against.
type Config struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int
	RateLimitRPS       int
	RateLimitBurst     int
}

// LoadConfig loads server configuration from environment variables with
// sensible defaults.
func LoadConfig() *Config {
	cfg := &Config{
		Port:               DefaultPort,
		Host:               DefaultHost,
		ReadTimeout:        DefaultTimeout,
		WriteTimeout:       DefaultTimeout,
		ShutdownTimeout:    DefaultTimeout,
		LogLevel:           DefaultLogLevel,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Correlation-ID"},
		CORSMaxAge:         DefaultCORSMaxAge,
		RateLimitRPS:       DefaultRateLimitRPS,
		RateLimitBurst:     DefaultRateLimitRPS * 2,
	}

	cfg.Port = config.GetEnvInt("INGESTD_HTTP_PORT", cfg.Port)
	cfg.Host = config.GetEnvStr("INGESTD_HTTP_HOST", cfg.Host)
	cfg.ReadTimeout = config.GetEnvDuration("INGESTD_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = config.GetEnvDuration("INGESTD_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = config.GetEnvDuration("INGESTD_HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = config.GetEnvLogLevel("INGESTD_LOG_LEVEL", cfg.LogLevel)
	cfg.RateLimitRPS = config.GetEnvInt("INGESTD_HTTP_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = config.GetEnvInt("INGESTD_HTTP_RATE_LIMIT_BURST", cfg.RateLimitRPS*2)

	if origins := config.GetEnvStr("INGESTD_HTTP_CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSAllowedOrigins = config.ParseCommaSeparatedList(origins)
	}

	if maxAge := config.GetEnvInt("INGESTD_HTTP_CORS_MAX_AGE", -1); maxAge >= 0 {
		cfg.CORSMaxAge = maxAge
	}

	return cfg
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}

// CORSConfig adapts Config's CORS fields to middleware.CORSConfig.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func (c *Config) corsConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

func (c CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }
func (c CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }
func (c CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }
func (c CORSConfig) GetMaxAge() int              { return c.MaxAge }
