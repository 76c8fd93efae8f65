package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/api"
	"github.com/morbidity-triage-server/internal/database"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
	"github.com/morbidity-triage-server/internal/storage"
	"github.com/morbidity-triage-server/pkg/external"
)

type app struct {
	store      domain.KVStore
	retraining feedback.Store
	oracle     *external.OracleClient
	resolver   *location.Resolver
	ledger     *ledger.Ledger
	logger     *logrus.Logger
}

func buildApp(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, metrics *api.Metrics) (*app, error) {
	a := &app{logger: logger}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.retraining, err = openRetraining(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.oracle = external.NewOracleClient(cfg.Oracle, logger, external.WithObserver(metrics.ObserveOracle))

	a.resolver, err = location.NewResolver(a.oracle, a.store, cfg.Location.NameCacheEntries, logger,
		location.WithCacheTTL(cfg.Location.CacheTTL, cfg.Location.FallbackTTL),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create location resolver: %w", err)
	}

	a.ledger, err = ledger.Open(ctx, a.store, logger,
		ledger.WithActor(cfg.Server.Actor),
		ledger.WithRetrainingSink(a.retraining),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open patient ledger: %w", err)
	}
	return a, nil
}

// openRetraining opens the retraining store selected by cfg.Retraining.
// The postgres store shares the storage database and its migrations.
func openRetraining(cfg *domain.Config, logger *logrus.Logger) (feedback.Store, error) {
	switch cfg.Retraining.Driver {
	case "", "sqlite":
		store, err := feedback.NewSQLiteStore(cfg.Retraining.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open retraining store: %w", err)
		}
		return store, nil
	case "postgres":
		url := database.ConfigFrom(cfg.Storage.Postgres).URL()
		mr, err := database.NewMigrationRunner(url, logger)
		if err != nil {
			return nil, err
		}
		defer mr.Close()
		if err := mr.Up(context.Background()); err != nil {
			return nil, err
		}
		store, err := feedback.NewPostgresStoreFromURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to open retraining store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown retraining driver %q", cfg.Retraining.Driver)
	}
}

func (a *app) Close() {
	if a.retraining != nil {
		if err := a.retraining.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close retraining store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close store")
		}
	}
}
