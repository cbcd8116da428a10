package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/vulnscan/internal/config"
	"github.com/anstrom/vulnscan/internal/store"
)

// migrateCmd manages the PostgreSQL schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply or inspect the bundled SQL migrations. Only meaningful when the
database driver is postgres.`,
	Example: `  vulnscan migrate up
  vulnscan migrate status --config /etc/vulnscan/config.yaml`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *store.Migrator) error {
			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *store.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return err
			}
			renderMigrations(cmd.OutOrStdout(), statuses)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

// withMigrator connects to the configured database for the duration of fn.
func withMigrator(ctx context.Context, fn func(context.Context, *store.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations need database.driver %q, got %q", config.DriverPostgres, cfg.Database.Driver)
	}

	connectCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()

	db, err := store.Connect(connectCtx, &cfg.Database.Config)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, store.NewMigrator(db))
}

func renderMigrations(out io.Writer, statuses []store.MigrationStatus) {
	table := tablewriter.NewWriter(out)
	table.Header("Migration", "Applied", "Applied At", "Note")
	for _, s := range statuses {
		applied := "no"
		appliedAt := "-"
		if s.Applied {
			applied = "yes"
			appliedAt = s.AppliedAt.Local().Format(timeFormat)
		}
		note := ""
		if s.Modified {
			note = "modified since applied"
		}
		_ = table.Append([]string{s.Name, applied, appliedAt, note})
	}
	_ = table.Render()
}
