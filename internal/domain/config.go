package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Oracle      OracleConfig     `mapstructure:"oracle"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Location    LocationConfig   `mapstructure:"location"`
	Retraining  RetrainingConfig `mapstructure:"retraining"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	MaxSessions    int           `mapstructure:"max_sessions"`
	Actor          string        `mapstructure:"actor"`
}

// OracleConfig represents the prediction oracle client configuration
type OracleConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig selects and configures the local key/value store
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"` // memory, sqlite, redis, postgres
	SQLitePath string         `mapstructure:"sqlite_path"`
	RedisURL   string         `mapstructure:"redis_url"`
	Postgres   DatabaseConfig `mapstructure:"postgres"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LocationConfig controls the department cache
type LocationConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	FallbackTTL      time.Duration `mapstructure:"fallback_ttl"`
	NameCacheEntries int           `mapstructure:"name_cache_entries"`
}

// RetrainingConfig selects where retraining submissions are recorded
type RetrainingConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite, postgres
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
