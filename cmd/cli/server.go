// Package cli provides command-line interface commands for vulnscan.
// This file implements the server command.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/vulnscan/internal/logging"
)

// serverCmd runs the API server in the foreground.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the API server",
	Long: `Run the vulnscan API server in the foreground.

The server accepts scan jobs over HTTP, runs them with nmap, stores jobs
and findings in memory or PostgreSQL and streams progress to websocket
subscribers. SIGINT or SIGTERM shuts it down gracefully: running scans
are stopped and recorded as failed.`,
	Example: `  vulnscan server
  vulnscan server --host 0.0.0.0 --port 8080
  vulnscan server --driver postgres --config /etc/vulnscan/config.yaml
  VULNSCAN_API_PORT=9000 vulnscan server`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("host", "", "Override listen address")
	serverCmd.Flags().Int("port", 0, "Override listen port")
	serverCmd.Flags().String("driver", "", "Job store: memory or postgres")

	bindFlag("api.listen_addr", serverCmd.Flags().Lookup("host"))
	bindFlag("api.port", serverCmd.Flags().Lookup("port"))
	bindFlag("database.driver", serverCmd.Flags().Lookup("driver"))
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Default().WithComponent("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting vulnscan API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", cfg.Address(),
		"store", cfg.Database.Driver)

	svc, err := newService(ctx, cfg, nil, logging.Default())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API server listening on http://%s\n", cfg.Address())
	fmt.Fprintf(cmd.OutOrStdout(), "Health check: http://%s/health\n", cfg.Address())

	if err := svc.run(ctx); err != nil {
		logger.Error("API server error", "error", err)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped successfully")
	return nil
}
