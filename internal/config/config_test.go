package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/j-veylop/switchboard/internal/models"
)

func TestGetEnvString(t *testing.T) {
	key := "TEST_ENV_STRING"
	val := "test_value"
	os.Setenv(key, val)
	defer os.Unsetenv(key)

	if got := getEnvString(key, "default"); got != val {
		t.Errorf("getEnvString() = %q, want %q", got, val)
	}

	if got := getEnvString("NON_EXISTENT", "default"); got != "default" {
		t.Errorf("getEnvString() = %q, want %q", got, "default")
	}
}

func TestGetEnvDuration(t *testing.T) {
	key := "TEST_ENV_DURATION"

	tests := []struct {
		name       string
		envVal     string
		defaultVal time.Duration
		want       time.Duration
	}{
		{"ValidDuration", "1m", time.Second, time.Minute},
		{"ValidSeconds", "60", time.Second, 60 * time.Second},
		{"Invalid", "invalid", time.Second, time.Second},
		{"Empty", "", time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envVal != "" {
				os.Setenv(key, tt.envVal)
				defer os.Unsetenv(key)
			} else {
				os.Unsetenv(key)
			}

			if got := getEnvDuration(key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "dir")

	if err := ensureDir(path); err != nil {
		t.Fatalf("ensureDir() failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("directory was not created")
	}

	if err := ensureDir(""); err != nil {
		t.Error("ensureDir(\"\") should not error")
	}
}

func TestGetDefaultPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Skipping test because user home dir cannot be found")
	}

	dbPath := getDefaultDatabasePath()
	expectedDb := filepath.Join(home, ".config", "switchboard", "usage.db")
	if dbPath != expectedDb {
		t.Errorf("getDefaultDatabasePath() = %q, want %q", dbPath, expectedDb)
	}

	accPath := getDefaultAccountsPath()
	expectedAcc := filepath.Join(home, ".config", "switchboard", "accounts.json")
	if accPath != expectedAcc {
		t.Errorf("getDefaultAccountsPath() = %q, want %q", accPath, expectedAcc)
	}
}

func TestGetEnvPaths(t *testing.T) {
	paths := getEnvPaths()
	if len(paths) == 0 {
		t.Error("getEnvPaths() returned empty list")
	}

	// Basic check that it contains current directory
	cwd, _ := os.Getwd()
	found := false
	for _, p := range paths {
		if p == filepath.Join(cwd, ".env") {
			found = true
			break
		}
	}
	if !found {
		t.Error("getEnvPaths() missing current directory .env")
	}
}

func TestLoad(t *testing.T) {
	// Use temp dir for paths to avoid permission issues
	tmpDir := t.TempDir()
	os.Setenv("DATABASE_PATH", filepath.Join(tmpDir, "db.sqlite"))
	os.Setenv("ACCOUNTS_PATH", filepath.Join(tmpDir, "accounts.json"))
	defer os.Unsetenv("DATABASE_PATH")
	defer os.Unsetenv("ACCOUNTS_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DatabasePath != filepath.Join(tmpDir, "db.sqlite") {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, filepath.Join(tmpDir, "db.sqlite"))
	}
	if cfg.ProbeCacheTTL != defaultProbeCacheTTL {
		t.Errorf("ProbeCacheTTL = %v, want %v", cfg.ProbeCacheTTL, defaultProbeCacheTTL)
	}
	if cfg.ProbeTimeout != defaultProbeTimeout {
		t.Errorf("ProbeTimeout = %v, want %v", cfg.ProbeTimeout, defaultProbeTimeout)
	}
}

func TestLoadExecutableOverrides(t *testing.T) {
	os.Setenv("CLAUDE_BIN", "/opt/bin/claude")
	os.Setenv("CODEX_BIN", "/opt/bin/codex")
	defer os.Unsetenv("CLAUDE_BIN")
	defer os.Unsetenv("CODEX_BIN")
	os.Unsetenv("GEMINI_BIN")

	overrides := loadExecutableOverrides()

	if got := overrides[models.ProviderClaude]; got != "/opt/bin/claude" {
		t.Errorf("claude override = %q, want %q", got, "/opt/bin/claude")
	}
	if got := overrides[models.ProviderCodex]; got != "/opt/bin/codex" {
		t.Errorf("codex override = %q, want %q", got, "/opt/bin/codex")
	}
	if _, ok := overrides[models.ProviderGemini]; ok {
		t.Error("gemini override should be unset")
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	content := "PROBE_CACHE_TTL=90s\n" +
		"DATABASE_PATH=" + filepath.Join(tmpDir, "db.sqlite") + "\n" +
		"ACCOUNTS_PATH=" + filepath.Join(tmpDir, "accounts.json") + "\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Change working directory to tmpDir so Load finds .env
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(tmpDir)

	// Ensure no env vars interfere
	os.Unsetenv("PROBE_CACHE_TTL")
	os.Unsetenv("DATABASE_PATH")
	os.Unsetenv("ACCOUNTS_PATH")
	defer os.Unsetenv("PROBE_CACHE_TTL")
	defer os.Unsetenv("DATABASE_PATH")
	defer os.Unsetenv("ACCOUNTS_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ProbeCacheTTL != 90*time.Second {
		t.Errorf("ProbeCacheTTL = %v, want 90s", cfg.ProbeCacheTTL)
	}
}
