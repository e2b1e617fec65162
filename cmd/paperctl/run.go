package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-aggregator-service/internal/app"
	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
)

var backfillProviders []string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run an uncapped historical ingestion",
	Long: `Run a historical ingestion over every configured query and print the
run summary. Without --provider every enabled provider is used.

Examples:
  paperctl backfill
  paperctl backfill --provider arxiv`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one capped incremental sync",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print stored record counts per provider",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillProviders, "provider", nil, "Provider to backfill (arxiv, google_scholar); repeatable")
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	providers, err := parseProviders(backfillProviders)
	if err != nil {
		return err
	}
	return withPipeline(func(ctx context.Context, pipeline *app.App) error {
		summary, err := pipeline.Scheduler.RunHistorical(ctx, providers...)
		return printSummary(summary, err)
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	return withPipeline(func(ctx context.Context, pipeline *app.App) error {
		summary, err := pipeline.Scheduler.RunIncremental(ctx)
		return printSummary(summary, err)
	})
}

type statusOutput struct {
	StoredBySource map[domain.SourceType]int64 `json:"stored_by_source"`
	StoredTotal    int64                       `json:"stored_total"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withPipeline(func(ctx context.Context, pipeline *app.App) error {
		counts, err := pipeline.Store.Papers.CountBySource(ctx)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		out := statusOutput{StoredBySource: counts}
		for _, n := range counts {
			out.StoredTotal += n
		}
		return outputJSON(out)
	})
}

func parseProviders(names []string) ([]domain.SourceType, error) {
	providers := make([]domain.SourceType, 0, len(names))
	for _, name := range names {
		st, err := domain.ParseSourceType(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, st)
	}
	return providers, nil
}

// printSummary writes whatever the run produced, including the partial
// summary of an interrupted run, and then reports the run error.
func printSummary(summary *domain.RunSummary, runErr error) error {
	if summary != nil {
		if err := outputJSON(summary); err != nil {
			return err
		}
	}
	return runErr
}

func withPipeline(fn func(ctx context.Context, pipeline *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer pipeline.Close()

	return fn(ctx, pipeline)
}

// newLogger keeps stdout free for the JSON result.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Logging.Level
	if rootCmd.PersistentFlags().Changed("log-level") || level == "" {
		level = logLevel
	}
	return observability.NewLogger(observability.LoggingConfig{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("cmd", "paperctl").Logger()
}
