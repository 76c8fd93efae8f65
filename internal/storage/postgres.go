package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/database"
	"github.com/morbidity-triage-server/internal/domain"
)

// PostgresStore implements domain.KVStore on the kv_store table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore connects, applies pending migrations and returns the store.
func NewPostgresStore(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (*PostgresStore, error) {
	dbCfg := database.ConfigFrom(cfg)

	runner, err := database.NewMigrationRunner(dbCfg.URL(), logger)
	if err != nil {
		return nil, err
	}
	defer runner.Close()
	if err := runner.Up(ctx); err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an existing pool. The schema must exist.
func NewPostgresStoreFromDB(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the document stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.Pool.QueryRow(ctx, "SELECT value FROM kv_store WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// Set replaces the document stored under key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Pool.Exec(ctx, "DELETE FROM kv_store WHERE key = $1", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
