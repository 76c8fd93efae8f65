package domain

import (
	"context"
)

// KVStore is the single-origin key/value store backing the ledger and the
// department cache. Values are whole JSON documents: load-all/save-all.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetOracleConfig() *OracleConfig
	GetStorageConfig() *StorageConfig
	Validate() error
}
