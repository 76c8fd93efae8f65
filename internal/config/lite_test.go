package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "http://localhost:5000", cfg.OracleURL)
	assert.Equal(t, 10*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2048, cfg.NameCacheEntries)
	assert.Equal(t, "Dr. Usuario", cfg.Actor)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 2048, cfg.NameCacheEntries)
	assert.Equal(t, "http://localhost:5000", cfg.OracleURL)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TRIAGE_DATA_DIR", "/tmp/test-triage")
	t.Setenv("TRIAGE_ORACLE_URL", "http://oracle:5000")
	t.Setenv("TRIAGE_ORACLE_TIMEOUT", "3s")
	t.Setenv("TRIAGE_CACHE_TTL", "12h")
	t.Setenv("TRIAGE_NAME_CACHE_ENTRIES", "500")
	t.Setenv("TRIAGE_ACTOR", "Dra. Gómez")
	t.Setenv("TRIAGE_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-triage", cfg.DataDir)
	assert.Equal(t, "http://oracle:5000", cfg.OracleURL)
	assert.Equal(t, 3*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 500, cfg.NameCacheEntries)
	assert.Equal(t, "Dra. Gómez", cfg.Actor)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresInvalidValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TRIAGE_ORACLE_TIMEOUT", "soon")
	t.Setenv("TRIAGE_NAME_CACHE_ENTRIES", "-4")

	cfg := LoadLiteConfig()

	assert.Equal(t, 10*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 2048, cfg.NameCacheEntries)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.morbidity-triage"}

	assert.Equal(t, "/home/user/.morbidity-triage/triage.db", cfg.StorePath())
	assert.Equal(t, "/home/user/.morbidity-triage/retraining.db", cfg.RetrainingDBPath())
	assert.Equal(t, "/home/user/.morbidity-triage/exports", cfg.ExportDir())
}

func TestLiteConfig_LogsToStderr(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.Equal(t, "stderr", cfg.LoggingConfig().Output)
	assert.Equal(t, cfg.OracleURL, cfg.OracleConfig().BaseURL)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "triage")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"TRIAGE_DATA_DIR",
		"TRIAGE_ORACLE_URL",
		"TRIAGE_ORACLE_TIMEOUT",
		"TRIAGE_CACHE_TTL",
		"TRIAGE_NAME_CACHE_ENTRIES",
		"TRIAGE_ACTOR",
		"TRIAGE_LOG_LEVEL",
		"TRIAGE_LOG_FORMAT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
