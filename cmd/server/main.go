// Package main provides the entry point for the paper aggregator service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/paper-aggregator-service/internal/app"
	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/server"
	httpserver "github.com/helixir/paper-aggregator-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().Str("store", cfg.Store.Driver).Msg("paper-aggregator-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Store, adapters, orchestrator and scheduler.
	pipeline, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := pipeline.Scheduler.Start(ctx); err != nil {
			pipeline.Close()
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		logger.Info().Msg("recurring sync disabled; backfill is available via the admin API")
	}

	// gRPC health service.
	grpcSrv := server.NewHealthServer(logger)
	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		pipeline.Close()
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	// Admin HTTP API.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout, // Long: a backfill runs inside the request.
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AdminToken:      cfg.Admin.Token,
	}
	httpSrv := httpserver.NewServer(
		httpCfg,
		pipeline.Scheduler,
		pipeline.Store.Papers,
		pipeline.Store.Ping,
		logger,
	)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: 30 * time.Second,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	go func() {
		if err := grpcSrv.Serve(grpcListener); err != nil {
			errCh <- err
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("paper-aggregator-service is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
		stop()
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down paper-aggregator-service")
	grpcSrv.SetServing(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	grpcSrv.Shutdown(shutdownCtx)

	// The signal context is cancelled, so an in-flight run stops at its next
	// page boundary; Close waits for it.
	pipeline.Close()

	logger.Info().Msg("paper-aggregator-service shutdown complete")
	return runErr
}
