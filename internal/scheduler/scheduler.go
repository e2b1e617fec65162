// Package scheduler runs the ingestion task queue in historical and
// incremental mode and triggers the incremental sync on an interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/events"
	"github.com/helixir/paper-aggregator-service/internal/ingestion"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

const (
	// DefaultInterval is the incremental sync interval.
	DefaultInterval = 6 * time.Hour

	defaultPublishTimeout = 10 * time.Second
)

// Runner processes one task. *ingestion.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, adapter papersources.SourceAdapter, query string, mode domain.IngestMode) ingestion.RunResult
}

// Counter reports the number of stored records.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Options controls the recurring behaviour.
type Options struct {
	// Interval between incremental syncs. Zero means DefaultInterval.
	Interval time.Duration
	// RunOnStart triggers one incremental sync from Start.
	RunOnStart bool
	// BackfillOnEmpty runs the historical backfill from Start when the store is empty.
	BackfillOnEmpty bool
	// PublishTimeout bounds the sync-completed publish.
	PublishTimeout time.Duration
}

// Dependencies are the collaborators of a Scheduler. Publisher, Counter and
// Metrics may be nil.
type Dependencies struct {
	Registry  *papersources.Registry
	Runner    Runner
	Lock      RunLock
	Counter   Counter
	Publisher events.Publisher
	Queries   QuerySet
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Scheduler processes tasks strictly in order on the calling goroutine.
type Scheduler struct {
	registry  *papersources.Registry
	runner    Runner
	lock      RunLock
	counter   Counter
	publisher events.Publisher
	queries   QuerySet
	opts      Options
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	last    map[domain.IngestMode]*domain.RunSummary
	cron    *cron.Cron
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(deps Dependencies, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	lock := deps.Lock
	if lock == nil {
		lock = NewLocalRunLock()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Scheduler{
		registry:  deps.Registry,
		runner:    deps.Runner,
		lock:      lock,
		counter:   deps.Counter,
		publisher: publisher,
		queries:   deps.Queries,
		opts:      opts,
		logger:    observability.WithComponent(deps.Logger, "scheduler"),
		metrics:   deps.Metrics,
		now:       time.Now,
		last:      make(map[domain.IngestMode]*domain.RunSummary),
	}
}

// RunHistorical runs every task in historical mode. An empty providers list
// means every enabled provider.
func (s *Scheduler) RunHistorical(ctx context.Context, providers ...domain.SourceType) (*domain.RunSummary, error) {
	return s.run(ctx, domain.IngestModeHistorical, providers)
}

// RunIncremental runs every task in incremental mode.
func (s *Scheduler) RunIncremental(ctx context.Context, providers ...domain.SourceType) (*domain.RunSummary, error) {
	return s.run(ctx, domain.IngestModeIncremental, providers)
}

// Running reports whether this process is executing a run.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastSummary returns the most recent summary of a mode, or nil.
func (s *Scheduler) LastSummary(mode domain.IngestMode) *domain.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[mode]
}

func (s *Scheduler) run(ctx context.Context, mode domain.IngestMode, providers []domain.SourceType) (*domain.RunSummary, error) {
	release, err := s.lock.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			s.logger.Info().Str("mode", mode.String()).Msg("run already in progress, skipping trigger")
			s.metrics.RecordRunSkipped(mode.String())
			return nil, err
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer release()

	s.running.Store(true)
	defer s.running.Store(false)

	runID := uuid.New().String()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.WithRunContext(s.logger, runID, mode.String())

	adapters := s.selectAdapters(providers, logger)
	byType := make(map[domain.SourceType]papersources.SourceAdapter, len(adapters))
	for _, a := range adapters {
		byType[a.SourceType()] = a
	}
	tasks := BuildTasks(adapters, s.queries, mode)

	s.metrics.RecordRunStarted(mode.String())
	summary := domain.NewRunSummary(mode, s.now())
	logger.Info().Int("tasks", len(tasks)).Msg("run started")

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		res := s.runner.Run(ctx, byType[task.Source], task.Query, mode)
		summary.Add(domain.TaskResult{
			Source:    task.Source,
			Query:     task.Query,
			Mode:      mode,
			Pages:     res.Pages,
			Inserted:  res.Inserted,
			Updated:   res.Updated,
			Unchanged: res.Unchanged,
			Failed:    res.Failed,
			EmptyPage: res.EmptyPage,
		})
	}

	summary.FinishedAt = s.now()
	s.metrics.RecordRunCompleted(mode.String(), summary.Duration().Seconds())

	s.mu.Lock()
	s.last[mode] = summary
	s.mu.Unlock()

	logger.Info().
		Int("tasks", len(summary.Tasks)).
		Int("inserted", summary.TotalInserted).
		Int("updated", summary.TotalUpdated).
		Dur("duration", summary.Duration()).
		Msg("run finished")

	s.publish(ctx, summary, logger)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scheduler) selectAdapters(providers []domain.SourceType, logger zerolog.Logger) []papersources.SourceAdapter {
	if len(providers) == 0 {
		return s.registry.Enabled()
	}

	want := make(map[domain.SourceType]bool, len(providers))
	for _, p := range providers {
		want[p] = true
	}

	var out []papersources.SourceAdapter
	for _, a := range s.registry.All() {
		if !want[a.SourceType()] {
			continue
		}
		delete(want, a.SourceType())
		if !a.IsEnabled() {
			logger.Warn().Str("source", a.SourceType().String()).Msg("provider disabled, skipping")
			continue
		}
		out = append(out, a)
	}
	for p := range want {
		logger.Warn().Str("source", p.String()).Msg("provider not registered, skipping")
	}
	return out
}

func (s *Scheduler) publish(ctx context.Context, summary *domain.RunSummary, logger zerolog.Logger) {
	// Publish even when the run was cancelled so consumers see partial writes.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()

	event := domain.NewSyncCompletedEvent(summary)
	if err := s.publisher.PublishSyncCompleted(pubCtx, event); err != nil {
		logger.Error().Err(err).Str("event_id", event.EventID).Msg("failed to publish sync event")
		s.metrics.RecordEventPublished(false)
		return
	}
	s.metrics.RecordEventPublished(true)
}

// Start schedules the incremental sync and runs the startup work in the
// background. Runs use ctx, so cancelling it aborts them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler already stopped")
	}
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New()
	c.ErrorLog = log.New(s.logger, "", 0)
	spec := "@every " + s.opts.Interval.String()
	if err := c.AddFunc(spec, func() { s.trigger(ctx, domain.IngestModeIncremental) }); err != nil {
		return fmt.Errorf("scheduling incremental sync %q: %w", spec, err)
	}
	s.cron = c

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startup(ctx)
	}()

	c.Start()
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
	return nil
}

func (s *Scheduler) startup(ctx context.Context) {
	if s.opts.BackfillOnEmpty && s.counter != nil {
		n, err := s.counter.Count(ctx)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Msg("failed to count stored records, skipping backfill check")
		case n == 0:
			s.logger.Info().Msg("store is empty, running historical backfill")
			s.runLogged(ctx, domain.IngestModeHistorical)
			return
		}
	}
	if s.opts.RunOnStart {
		s.runLogged(ctx, domain.IngestModeIncremental)
	}
}

func (s *Scheduler) trigger(ctx context.Context, mode domain.IngestMode) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.runLogged(ctx, mode)
}

func (s *Scheduler) runLogged(ctx context.Context, mode domain.IngestMode) {
	if _, err := s.run(ctx, mode, nil); err != nil && !errors.Is(err, domain.ErrRunInProgress) {
		s.logger.Error().Err(err).Str("mode", mode.String()).Msg("scheduled run failed")
	}
}

// Stop stops the schedule and waits for the in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}
