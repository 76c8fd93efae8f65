// Command triage-lite serves the triage tools over MCP stdio, storing
// patients and retraining submissions in SQLite files under the data
// directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morbidity-triage-server/internal/config"
	"github.com/morbidity-triage-server/internal/mcp"
	"github.com/morbidity-triage-server/internal/setup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          setup.BinaryName,
		Short:        "Morbidity triage MCP server (stdio, no external databases)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer() error {
	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := mcp.NewLiteServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("MCP server stopped")
	return nil
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register this server with a desktop MCP client",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Add or update the server entry in the client config",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("client-config")
			binary, _ := cmd.Flags().GetString("binary")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			oracleURL, _ := cmd.Flags().GetString("oracle-url")

			path, err := setup.Configure(setup.Options{
				ConfigPath: configPath,
				BinaryPath: binary,
				DataDir:    dataDir,
				OracleURL:  oracleURL,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", setup.ServerName, path)
			return nil
		},
	}
	install.Flags().String("client-config", "", "Client config file (default: platform location)")
	install.Flags().String("binary", "", "Path to the triage-lite binary (default: auto-detect)")
	install.Flags().String("data-dir", "", "Data directory passed as TRIAGE_DATA_DIR")
	install.Flags().String("oracle-url", "", "Prediction service URL passed as TRIAGE_ORACLE_URL")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("client-config")
			st, err := setup.GetStatus(configPath, config.DefaultLiteConfig().DataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client config: %s\n", st.ConfigPath)
			fmt.Fprintf(out, "Registered:    %t\n", st.Configured)
			if st.Configured {
				fmt.Fprintf(out, "Command:       %s\n", st.Command)
			}
			fmt.Fprintf(out, "Data dir:      %s\n", st.DataDir)
			for _, issue := range st.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return nil
		},
	}
	status.Flags().String("client-config", "", "Client config file (default: platform location)")

	cmd.AddCommand(install, status)
	return cmd
}
