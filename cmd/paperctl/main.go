// Package main provides paperctl, the operator CLI for one-shot backfill and
// sync runs against the configured store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// Version is set at build time via ldflags
var Version = "dev"

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so print here.
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "Run paper aggregator ingestion from the command line",
	Long: `paperctl runs the paper aggregator pipeline once and prints the run
summary as JSON. It reads the same configuration as the service
(config.yaml, PAPERAGG_* environment variables and .env).

A run started here and one started by the service share the run lock when
scheduler.distributed_lock is enabled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level written to stderr (debug, info, warn, error)")
	rootCmd.Version = Version
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return ExitConfigError
	case errors.Is(err, domain.ErrRunInProgress):
		return ExitRunInProgress
	default:
		return ExitError
	}
}
