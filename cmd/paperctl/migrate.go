package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/database"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

const migrateConnectTimeout = 30 * time.Second

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply or revert the papers schema. Migrations are embedded in the binary;
--path reads them from a directory instead.

The mongo store needs no migrations: its indexes are created at startup.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error { return m.Up() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error { return m.Down() })
	},
}

var migrateStepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Apply N migrations, or revert them when N is negative",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseMigrationArg("steps", args[0])
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.NewValidationError("steps", "must not be zero")
		}
		return withMigrator(func(m *database.Migrator) error { return m.Steps(n) })
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark VERSION as applied and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseMigrationArg("version", args[0])
		if err != nil {
			return err
		}
		if v < 0 {
			return domain.NewValidationError("version", "must not be negative")
		}
		return withMigrator(func(m *database.Migrator) error { return m.Force(v) })
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error { return nil })
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "path", "", "Read migrations from this directory instead of the embedded set")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStepsCmd, migrateForceCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func parseMigrationArg(field, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, domain.NewValidationError(field, fmt.Sprintf("not an integer: %q", arg))
	}
	return n, nil
}

// withMigrator runs fn and then prints the resulting schema status.
func withMigrator(fn func(m *database.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver == config.StoreDriverMongo {
		return domain.NewConfigurationError("store.driver", "mongo store has no schema migrations", nil)
	}

	logger := newLogger(cfg).With().Str("component", "migrate").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), migrateConnectTimeout)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := cfg.Database.MigrationPath
	if migrationsDir != "" {
		dir = migrationsDir
	}
	m, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := fn(m); err != nil {
		return err
	}

	status, err := m.Status()
	if err != nil {
		return err
	}
	return outputJSON(status)
}
