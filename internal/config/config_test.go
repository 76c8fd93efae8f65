package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	m, err := NewManager("")
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", m.GetStorageConfig().Driver)
	assert.Equal(t, 10*time.Second, m.GetOracleConfig().Timeout)
	assert.Equal(t, 3, m.GetOracleConfig().RetryCount)
	assert.Equal(t, 24*time.Hour, cfg.Location.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Location.FallbackTTL)
	assert.Equal(t, "Dr. Usuario", cfg.Server.Actor)
	assert.False(t, m.IsProduction())
}

func TestNewManager_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "triage.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
environment: production
server:
  port: 9000
oracle:
  base_url: http://oracle.internal:5000
storage:
  driver: redis
`), 0o644))

	t.Setenv("TRIAGE_STORAGE_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("TRIAGE_LOGGING_LEVEL", "debug")

	m, err := NewManager(file)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://oracle.internal:5000", cfg.Oracle.BaseURL)
	assert.Equal(t, "redis://cache:6379/2", cfg.Storage.RedisURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, m.IsProduction())
}

func TestNewManager_MissingExplicitFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		mutate  func(m *Manager)
		wantErr string
	}{
		{"bad port", func(m *Manager) { m.config.Server.Port = 0 }, "invalid server port"},
		{"no oracle", func(m *Manager) { m.config.Oracle.BaseURL = "" }, "oracle base URL"},
		{"no retries", func(m *Manager) { m.config.Oracle.RetryCount = 0 }, "retry count"},
		{"unknown driver", func(m *Manager) { m.config.Storage.Driver = "etcd" }, "unknown storage driver"},
		{"postgres without db", func(m *Manager) {
			m.config.Storage.Driver = "postgres"
			m.config.Storage.Postgres.Database = ""
		}, "database name"},
		{"unknown retraining driver", func(m *Manager) { m.config.Retraining.Driver = "kafka" }, "unknown retraining driver"},
		{"bad log level", func(m *Manager) { m.config.Logging.Level = "loud" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager("")
			require.NoError(t, err)
			tt.mutate(m)
			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
