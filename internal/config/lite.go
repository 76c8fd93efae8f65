// Package config provides configuration management for the triage server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/morbidity-triage-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Oracle settings
	OracleURL     string
	OracleTimeout time.Duration

	// Location cache settings
	CacheTTL         time.Duration // Department cache TTL
	NameCacheEntries int           // Sub-region name cache size

	// Actor stamped on pathology review transitions
	Actor string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".morbidity-triage")

	return &LiteConfig{
		DataDir:          dataDir,
		OracleURL:        "http://localhost:5000",
		OracleTimeout:    10 * time.Second,
		CacheTTL:         24 * time.Hour,
		NameCacheEntries: 2048,
		Actor:            "Dr. Usuario",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("TRIAGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("TRIAGE_ORACLE_URL"); v != "" {
		cfg.OracleURL = v
	}
	if v := os.Getenv("TRIAGE_ORACLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.OracleTimeout = d
		}
	}

	if v := os.Getenv("TRIAGE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	if v := os.Getenv("TRIAGE_NAME_CACHE_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NameCacheEntries = n
		}
	}

	if v := os.Getenv("TRIAGE_ACTOR"); v != "" {
		cfg.Actor = v
	}

	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// StorePath returns the path to the SQLite key/value store.
func (c *LiteConfig) StorePath() string {
	return filepath.Join(c.DataDir, "triage.db")
}

// RetrainingDBPath returns the path to the retraining SQLite database.
func (c *LiteConfig) RetrainingDBPath() string {
	return filepath.Join(c.DataDir, "retraining.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// OracleConfig returns the oracle client settings.
func (c *LiteConfig) OracleConfig() domain.OracleConfig {
	return domain.OracleConfig{
		BaseURL:    c.OracleURL,
		Timeout:    c.OracleTimeout,
		RateLimit:  20,
		RetryCount: 3,
		RetryDelay: time.Second,
	}
}

// LoggingConfig returns logger settings. Stdout carries the MCP stream, so
// logs always go to stderr.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		Output: "stderr",
	}
}
