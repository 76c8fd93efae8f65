package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/config"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
	"github.com/morbidity-triage-server/internal/storage"
	"github.com/morbidity-triage-server/pkg/external"
)

// LiteServer is a self-contained MCP server backed by SQLite files in the
// data directory. It requires no external databases.
type LiteServer struct {
	*Server
	config     *config.LiteConfig
	store      domain.KVStore
	retraining feedback.Store
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithRetrainingStore sets a custom retraining store.
func WithRetrainingStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.retraining = store
		return nil
	}
}

// WithStore sets a custom key/value store in place of the SQLite file.
func WithStore(store domain.KVStore) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// NewLiteServer creates a lightweight MCP server instance.
func NewLiteServer(ctx context.Context, cfg *config.LiteConfig, logger *logrus.Logger, opts ...LiteServerOption) (*LiteServer, error) {
	if logger == nil {
		logger = config.NewLogger(cfg.LoggingConfig())
	}
	server := &LiteServer{config: cfg}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.store == nil {
		store, err := storage.NewSQLiteStore(cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open patient store: %w", err)
		}
		server.store = store
	}
	if server.retraining == nil {
		store, err := feedback.NewSQLiteStore(cfg.RetrainingDBPath())
		if err != nil {
			server.store.Close()
			return nil, fmt.Errorf("failed to create retraining store: %w", err)
		}
		server.retraining = store
	}

	oracleCfg := cfg.OracleConfig()
	oracle := external.NewOracleClient(oracleCfg, logger)
	resolver, err := location.NewResolver(oracle, server.store, cfg.NameCacheEntries, logger,
		location.WithCacheTTL(cfg.CacheTTL, 0),
	)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to create location resolver: %w", err)
	}

	l, err := ledger.Open(ctx, server.store, logger,
		ledger.WithActor(cfg.Actor),
		ledger.WithRetrainingSink(server.retraining),
	)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to open patient ledger: %w", err)
	}

	core, err := NewServer(Deps{
		Ledger:     l,
		Resolver:   resolver,
		Oracle:     oracle,
		Retraining: server.retraining,
		ExportDir:  cfg.ExportDir(),
		Logger:     logger,
	})
	if err != nil {
		server.Close()
		return nil, err
	}
	server.Server = core

	logger.WithField("data_dir", cfg.DataDir).Info("Lite server initialized successfully")
	return server, nil
}

// Close releases the SQLite handles.
func (s *LiteServer) Close() error {
	var firstErr error
	if s.retraining != nil {
		if err := s.retraining.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
