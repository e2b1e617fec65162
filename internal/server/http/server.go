// Package httpserver provides the admin HTTP server of the paper aggregator:
// the backfill trigger, run status and health probes.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// Scheduler is the part of the scheduler the admin API drives.
type Scheduler interface {
	RunHistorical(ctx context.Context, providers ...domain.SourceType) (*domain.RunSummary, error)
	LastSummary(mode domain.IngestMode) *domain.RunSummary
	Running() bool
}

// StoreStats reports stored record counts.
type StoreStats interface {
	CountBySource(ctx context.Context) (map[domain.SourceType]int64, error)
}

// ReadinessCheck returns an error while the store cannot serve requests.
type ReadinessCheck func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	scheduler  Scheduler
	stats      StoreStats
	ready      ReadinessCheck
	adminToken string
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// AdminToken guards /api/v1/admin when set.
	AdminToken string
}

// NewServer creates the admin server. ready may be nil.
func NewServer(cfg Config, scheduler Scheduler, stats StoreStats, ready ReadinessCheck, logger zerolog.Logger) *Server {
	s := &Server{
		scheduler:  scheduler,
		stats:      stats,
		ready:      ready,
		adminToken: cfg.AdminToken,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLoggerMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(adminTokenMiddleware(s.adminToken))

		r.Post("/backfill", s.triggerBackfill)
		r.Get("/status", s.getStatus)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness only.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"store":  "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"store":  "healthy",
	})
}

// writeJSON writes a JSON response with the given status code. Encoding
// failures are logged with the request logger since the status is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Int("status", statusCode).
			Str("path", r.URL.Path).
			Msg("failed to encode response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	writeJSON(w, r, statusCode, map[string]string{
		"error": message,
	})
}
