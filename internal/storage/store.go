// Package storage provides the key/value stores that hold the patient ledger
// and the department cache. Every backend stores whole JSON documents under
// namespaced keys; there are no partial or indexed writes.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/domain"
)

// KeyPrefix namespaces every key written by this application.
const KeyPrefix = "medical_classification_"

// Well-known keys.
const (
	KeyPatients        = KeyPrefix + "patients"
	KeyPatientCounter  = KeyPrefix + "patient_counter"
	KeyDepartmentCache = KeyPrefix + "departamentos_cache"
)

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg domain.StorageConfig, logger *logrus.Logger) (domain.KVStore, error) {
	var (
		store domain.KVStore
		err   error
	)
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		var s *SQLiteStore
		s, err = NewSQLiteStore(cfg.SQLitePath)
		store = s
	case "redis":
		var s *RedisStore
		s, err = NewRedisStore(ctx, cfg.RedisURL)
		store = s
	case "postgres":
		var s *PostgresStore
		s, err = NewPostgresStore(ctx, cfg.Postgres, logger)
		store = s
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

// MemoryStore keeps documents in process memory. It backs tests and the
// default configuration.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
