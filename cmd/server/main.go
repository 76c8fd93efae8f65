package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morbidity-triage-server/internal/api"
	"github.com/morbidity-triage-server/internal/config"
	"github.com/morbidity-triage-server/internal/database"
	"github.com/morbidity-triage-server/internal/domain"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "triage-server",
		Short:        "Patient registry and morbidity classification server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportRetrainingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*domain.Config, error) {
	configManager, err := config.NewManager(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := configManager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return configManager.GetConfig(), nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			return runServer(debug)
		},
	}
	cmd.Flags().Bool("debug", false, "Run gin in debug mode")
	return cmd
}

func runServer(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := api.NewMetrics()
	app, err := buildApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer app.Close()

	server, err := api.NewServer(cfg.Server, debug, api.Deps{
		Ledger:     app.ledger,
		Resolver:   app.resolver,
		Oracle:     app.oracle,
		Retraining: app.retraining,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"storage": cfg.Storage.Driver,
		"oracle":  cfg.Oracle.BaseURL,
	}).Info("Starting triage server")

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Up(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Down(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(func(_ context.Context, mr *database.MigrationRunner) error {
				version, dirty, err := mr.Version()
				if err != nil {
					return err
				}
				fmt.Printf("Schema version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return cmd
}

func withMigrationRunner(fn func(ctx context.Context, mr *database.MigrationRunner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Logging)

	mr, err := database.NewMigrationRunner(database.ConfigFrom(cfg.Storage.Postgres).URL(), logger)
	if err != nil {
		return err
	}
	defer mr.Close()

	if err := fn(context.Background(), mr); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func exportRetrainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-retraining",
		Short: "Write all retraining submissions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Logging)

			store, err := openRetraining(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return store.ExportJSON(cmd.Context(), w)
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	return cmd
}
