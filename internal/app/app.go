// Package app wires configuration into the running pipeline: store, provider
// adapters, orchestrator, scheduler and event publisher. The server and the
// operator CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/database"
	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/events"
	"github.com/helixir/paper-aggregator-service/internal/ingestion"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
	"github.com/helixir/paper-aggregator-service/internal/papersources/arxiv"
	"github.com/helixir/paper-aggregator-service/internal/papersources/serpapi"
	"github.com/helixir/paper-aggregator-service/internal/repository"
	"github.com/helixir/paper-aggregator-service/internal/scheduler"
)

const closeTimeout = 10 * time.Second

// Store is the record store together with its lifecycle.
type Store struct {
	Papers repository.PaperRepository
	// Ping is the readiness check.
	Ping func(ctx context.Context) error
	// Lock is the advisory run lock when the store provides one.
	Lock  scheduler.RunLock
	close func()
}

// Close releases the store connection.
func (s *Store) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// App is the assembled pipeline.
type App struct {
	Store     *Store
	Registry  *papersources.Registry
	Scheduler *scheduler.Scheduler
	Publisher events.Publisher
	logger    zerolog.Logger
}

// New builds the pipeline. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := events.NewPublisher(cfg.Kafka, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	limiter := NewRateLimiter(cfg.Sources)
	registry := NewRegistry(cfg.Sources, limiter, logger, metrics)

	orchestrator := ingestion.NewOrchestrator(
		ingestion.NewDedupFilter(store.Papers),
		ingestion.NewUpsertWriter(store.Papers, logger, metrics),
		limiter,
		ingestion.PageCapsFromConfig(cfg.Ingestion),
		logger,
		metrics,
	)

	lock := scheduler.RunLock(scheduler.NewLocalRunLock())
	if cfg.Scheduler.DistributedLock && store.Lock != nil {
		lock = store.Lock
	}

	sched := scheduler.New(scheduler.Dependencies{
		Registry:  registry,
		Runner:    orchestrator,
		Lock:      lock,
		Counter:   store.Papers,
		Publisher: publisher,
		Queries:   Queries(cfg.Sources),
		Logger:    logger,
		Metrics:   metrics,
	}, scheduler.Options{
		Interval:        cfg.Scheduler.Interval,
		RunOnStart:      cfg.Scheduler.RunOnStart,
		BackfillOnEmpty: cfg.Scheduler.BackfillOnEmpty,
		PublishTimeout:  cfg.Kafka.WriteTimeout,
	})

	return &App{
		Store:     store,
		Registry:  registry,
		Scheduler: sched,
		Publisher: publisher,
		logger:    logger,
	}, nil
}

// Close stops the scheduler and releases the publisher and store.
func (a *App) Close() {
	a.Scheduler.Stop()
	if err := a.Publisher.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close event publisher")
	}
	a.Store.Close()
}

// OpenStore connects the configured store. Failures are configuration errors.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMongo:
		return openMongo(ctx, cfg, logger)
	case config.StoreDriverPostgres, "":
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, domain.NewConfigurationError("store.driver", fmt.Sprintf("unknown store driver: %q", cfg.Store.Driver), nil)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		Papers: repository.NewPgPaperRepository(db),
		Ping:   db.Ping,
		Lock:   database.NewAdvisoryRunLock(db, cfg.Scheduler.LockKey, logger),
		close:  db.Close,
	}, nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func openMongo(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	m, err := database.NewMongo(ctx, &cfg.Mongo, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("database", cfg.Mongo.Database).Msg("mongo connection established")

	papers := repository.NewMongoPaperRepository(m.Papers(), logger)
	if err := papers.EnsureIndexes(ctx); err != nil {
		closeMongo(m, logger)
		return nil, domain.NewConfigurationError("mongo", "failed to create indexes", err)
	}

	return &Store{
		Papers: papers,
		Ping:   m.Ping,
		close:  func() { closeMongo(m, logger) },
	}, nil
}

func closeMongo(m *database.Mongo, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to close mongo client")
	}
}

// NewRateLimiter builds the shared per-provider limiter.
func NewRateLimiter(cfg config.SourcesConfig) *papersources.RateLimiter {
	return papersources.NewRateLimiter(map[domain.SourceType]time.Duration{
		domain.SourceTypeArXiv:         cfg.ArXiv.MinDelay,
		domain.SourceTypeGoogleScholar: cfg.Scholar.MinDelay,
	})
}

// NewRegistry registers arXiv then Google Scholar. Both are always
// registered; disabled ones are skipped by the scheduler.
func NewRegistry(cfg config.SourcesConfig, limiter *papersources.RateLimiter, logger zerolog.Logger, metrics *observability.Metrics) *papersources.Registry {
	registry := papersources.NewRegistry()

	ax := arxiv.New(arxiv.Config{
		BaseURL:             cfg.ArXiv.BaseURL,
		Timeout:             cfg.ArXiv.Timeout,
		IncrementalPageSize: cfg.ArXiv.IncrementalPageSize,
		HistoricalPageSize:  cfg.ArXiv.HistoricalPageSize,
		Enabled:             cfg.ArXiv.Enabled,
	}, limiter.Pacer(domain.SourceTypeArXiv), logger, metrics)
	registry.Register(ax)

	sc := serpapi.New(serpapi.Config{
		BaseURL:  cfg.Scholar.BaseURL,
		APIKey:   cfg.Scholar.APIKey,
		Timeout:  cfg.Scholar.Timeout,
		PageSize: cfg.Scholar.PageSize,
		Enabled:  cfg.Scholar.Enabled,
	}, limiter.Pacer(domain.SourceTypeGoogleScholar), logger, metrics)
	registry.Register(sc)

	for _, a := range registry.All() {
		logger.Info().
			Str("source", a.Name()).
			Bool("enabled", a.IsEnabled()).
			Msg("registered paper source")
	}
	return registry
}

// Queries builds the scheduler query set, falling back to the provider
// defaults for empty lists.
func Queries(cfg config.SourcesConfig) scheduler.QuerySet {
	q := scheduler.QueriesFromConfig(cfg)
	if len(q.ArXivCategories) == 0 {
		q.ArXivCategories = arxiv.DefaultCategories
	}
	if len(q.ScholarHistorical) == 0 {
		q.ScholarHistorical = serpapi.DefaultHistoricalQueries
	}
	if len(q.ScholarIncremental) == 0 {
		q.ScholarIncremental = serpapi.DefaultIncrementalQueries
	}
	return q
}
