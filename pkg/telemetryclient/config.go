package telemetryclient

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localtelemetry/ingestd/internal/config"
)

const (
	// DefaultConfigPath is the default location for a client override file.
	DefaultConfigPath = ".ingestd-client.yaml"

	// ConfigPathEnvVar names the environment variable carrying a custom path.
	ConfigPathEnvVar = "INGESTD_CLIENT_CONFIG_PATH"

	defaultBaseURL        = "http://127.0.0.1:8089"
	defaultBufferDir      = "./.ingestd-buffer"
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultConnectTimeout = 5 * time.Second
	defaultReplayTimeout  = 30 * time.Second
)

// Config holds client-side settings: where the server is, where to buffer
// on failure, and how aggressively to retry. Precedence is explicit
// arguments (set directly on the struct by the caller) over environment
// over built-in defaults; Load applies env-over-defaults, leaving the
// caller free to override fields afterward before constructing a Client.
type Config struct {
	BaseURL        string
	BufferDir      string
	APIEnabled     bool
	LogLevel       slog.Level
	MaxRetries     int
	RetryBaseDelay time.Duration
	ConnectTimeout time.Duration
	ReplayTimeout  time.Duration
	SkipValidation bool
}

// fileConfig is the YAML shape of a client override file.
type fileConfig struct {
	BaseURL        string `yaml:"base_url"`
	BufferDir      string `yaml:"buffer_dir"`
	APIEnabled     *bool  `yaml:"api_enabled"`
	LogLevel       string `yaml:"log_level"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
	ConnectTimeout string `yaml:"connect_timeout"`
}

// Load builds a Config from built-in defaults, environment variables, and
// (if present) a YAML override file, in that precedence order, matching the
// graceful-degradation convention used by the server's status alias config:
// a missing or invalid file is not fatal, it just leaves defaults/env in
// place.
func Load() *Config {
	cfg := &Config{
		BaseURL:        defaultBaseURL,
		BufferDir:      defaultBufferDir,
		APIEnabled:     true,
		LogLevel:       slog.LevelInfo,
		MaxRetries:     defaultMaxRetries,
		RetryBaseDelay: defaultRetryBaseDelay,
		ConnectTimeout: defaultConnectTimeout,
		ReplayTimeout:  defaultReplayTimeout,
	}

	cfg.BaseURL = config.GetEnvStr("INGESTD_CLIENT_BASE_URL", cfg.BaseURL)
	cfg.BufferDir = config.GetEnvStr("INGESTD_CLIENT_BUFFER_DIR", cfg.BufferDir)
	cfg.APIEnabled = config.GetEnvBool("INGESTD_CLIENT_API_ENABLED", cfg.APIEnabled)
	cfg.LogLevel = config.GetEnvLogLevel("INGESTD_CLIENT_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxRetries = config.GetEnvInt("INGESTD_CLIENT_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBaseDelay = config.GetEnvDuration("INGESTD_CLIENT_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.ConnectTimeout = config.GetEnvDuration("INGESTD_CLIENT_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.SkipValidation = config.GetEnvBool("INGESTD_CLIENT_SKIP_VALIDATION", cfg.SkipValidation)

	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)
	cfg.applyFile(path)

	return cfg
}

func (c *Config) applyFile(path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-configured
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read client config, using env/defaults",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("failed to parse client config, using env/defaults",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	if fc.BaseURL != "" {
		c.BaseURL = fc.BaseURL
	}

	if fc.BufferDir != "" {
		c.BufferDir = fc.BufferDir
	}

	if fc.APIEnabled != nil {
		c.APIEnabled = *fc.APIEnabled
	}

	if fc.MaxRetries > 0 {
		c.MaxRetries = fc.MaxRetries
	}

	if fc.RetryBaseDelay != "" {
		if d, err := time.ParseDuration(fc.RetryBaseDelay); err == nil {
			c.RetryBaseDelay = d
		}
	}

	if fc.ConnectTimeout != "" {
		if d, err := time.ParseDuration(fc.ConnectTimeout); err == nil {
			c.ConnectTimeout = d
		}
	}
}
