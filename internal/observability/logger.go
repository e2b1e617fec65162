package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every log line.
const ServiceName = "paper-aggregator-service"

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is json, or console/pretty for human-readable output.
	Format string

	// Output is stdout or stderr.
	Output string

	// AddSource adds file:line to each entry.
	AddSource bool

	// TimeFormat is the timestamp layout; RFC3339 when empty.
	TimeFormat string
}

// DefaultLoggingConfig returns JSON info logging to stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(cfg, out)
}

func newLogger(cfg LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = cfg.TimeFormat
	if zerolog.TimeFieldFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	lc := zerolog.New(out).With().Timestamp().Str("service", ServiceName)
	if cfg.AddSource {
		lc = lc.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return lc.Logger().Level(level)
}

// parseLevel accepts zerolog level names plus "warning"; anything else is info.
func parseLevel(level string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "warning" {
		return zerolog.WarnLevel
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || l == zerolog.NoLevel || l == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return l
}

// WithComponent tags a logger with the subsystem that owns it.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithTaskContext adds the (provider, query, mode) of an orchestrator run.
func WithTaskContext(logger zerolog.Logger, source, query, mode string) zerolog.Logger {
	return logger.With().
		Str("source", source).
		Str("query", query).
		Str("mode", mode).
		Logger()
}

// WithRunContext adds scheduler run fields to a logger.
func WithRunContext(logger zerolog.Logger, runID, mode string) zerolog.Logger {
	return logger.With().
		Str("run_id", runID).
		Str("mode", mode).
		Logger()
}

// FromContext adds the request and run IDs carried by ctx, when present.
func FromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	requestID, runID := RequestIDFromContext(ctx), RunIDFromContext(ctx)
	if requestID == "" && runID == "" {
		return logger
	}
	lc := logger.With()
	if requestID != "" {
		lc = lc.Str("request_id", requestID)
	}
	if runID != "" {
		lc = lc.Str("run_id", runID)
	}
	return lc.Logger()
}
