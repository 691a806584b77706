package statusalias

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/localtelemetry/ingestd/internal/config"
)

// fileConfig is the YAML shape of an operator-supplied alias override file.
//
// Example (.ingestd-status.yaml):
//
//	aliases:
//	  crashed: failure
//	  done: success
type fileConfig struct {
	Aliases map[string]string `yaml:"aliases"`
}

const (
	// DefaultConfigPath is the default location for status alias overrides.
	DefaultConfigPath = ".ingestd-status.yaml"

	// ConfigPathEnvVar names the environment variable carrying a custom path.
	ConfigPathEnvVar = "INGESTD_STATUS_CONFIG_PATH"
)

// LoadTable builds a Table from the built-in aliases plus any overrides found
// at path.
//
// Behavior mirrors other optional-config loaders in this codebase:
//   - missing file is not an error, built-ins are used as-is
//   - unreadable or invalid YAML logs a warning and falls back to built-ins
//   - an override re-mapping a builtin alias or adding a new one is accepted
//     as long as its value resolves to a canonical status
func LoadTable(path string) (*Table, error) {
	t := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("status alias config not found, using built-in aliases",
				slog.String("path", path))

			return t, nil
		}

		slog.Warn("failed to read status alias config, using built-in aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return t, nil
	}

	if len(data) == 0 {
		return t, nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("failed to parse status alias config, using built-in aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return t, nil
	}

	for raw, canonical := range fc.Aliases {
		c := Canonical(canonical)
		if !isCanonical(c) {
			slog.Warn("ignoring status alias override with non-canonical target",
				slog.String("alias", raw),
				slog.String("target", canonical))

			continue
		}

		t.aliases[raw] = c
	}

	return t, nil
}

// LoadTableFromEnv loads overrides from the path in INGESTD_STATUS_CONFIG_PATH,
// falling back to DefaultConfigPath in the working directory.
func LoadTableFromEnv() (*Table, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)
	return LoadTable(path)
}

func isCanonical(c Canonical) bool {
	for _, known := range canonicalStatuses {
		if known == c {
			return true
		}
	}

	return false
}
