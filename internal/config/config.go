// Package config contains everything related to configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/j-veylop/switchboard/internal/models"
)

// Config holds the application configuration.
type Config struct {
	ExecutableOverrides map[models.Provider]string
	DatabasePath        string
	AccountsPath        string
	ProbeCacheTTL       time.Duration
	ProbeTimeout        time.Duration
}

// Default values
const (
	defaultProbeCacheTTL = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		DatabasePath:        getEnvString("DATABASE_PATH", getDefaultDatabasePath()),
		AccountsPath:        getEnvString("ACCOUNTS_PATH", getDefaultAccountsPath()),
		ProbeCacheTTL:       getEnvDuration("PROBE_CACHE_TTL", defaultProbeCacheTTL),
		ProbeTimeout:        getEnvDuration("PROBE_TIMEOUT", defaultProbeTimeout),
		ExecutableOverrides: loadExecutableOverrides(),
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	// Ensure accounts directory exists
	if err := ensureDir(filepath.Dir(cfg.AccountsPath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadExecutableOverrides reads per-provider binary path overrides.
// An unset variable means the executable is resolved from PATH.
func loadExecutableOverrides() map[models.Provider]string {
	overrides := make(map[models.Provider]string)
	for provider, key := range map[models.Provider]string{
		models.ProviderClaude: "CLAUDE_BIN",
		models.ProviderCodex:  "CODEX_BIN",
		models.ProviderGemini: "GEMINI_BIN",
	} {
		if value := os.Getenv(key); value != "" {
			overrides[provider] = value
		}
	}
	return overrides
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "switchboard", ".env"),
			filepath.Join(home, ".switchboard", ".env"),
		)
	}

	return paths
}

// getDefaultDatabasePath returns the default path for the SQLite database.
func getDefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "usage.db"
	}
	return filepath.Join(home, ".config", "switchboard", "usage.db")
}

// getDefaultAccountsPath returns the default path for the accounts JSON file.
func getDefaultAccountsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "accounts.json"
	}
	return filepath.Join(home, ".config", "switchboard", "accounts.json")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
