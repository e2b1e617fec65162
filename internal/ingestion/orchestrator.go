package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

// State is a step of the page loop.
type State string

const (
	StateInit     State = "INIT"
	StateFetching State = "FETCHING"
	StateDeduping State = "DEDUPING"
	StateWriting  State = "WRITING"
	StateAdvance  State = "ADVANCE"
	StateDone     State = "DONE"
)

// Limiter spaces requests per provider. papersources.RateLimiter satisfies it.
type Limiter interface {
	Await(ctx context.Context, source domain.SourceType) error
}

// PageCaps bounds the number of pages fetched per task. Zero means uncapped.
type PageCaps struct {
	ArXivIncremental   int
	ArXivHistorical    int
	ScholarIncremental int
	ScholarHistorical  int
}

// PageCapsFromConfig builds caps from the ingestion settings.
func PageCapsFromConfig(cfg config.IngestionConfig) PageCaps {
	return PageCaps{
		ArXivIncremental:   cfg.ArXivIncrementalMaxPages,
		ArXivHistorical:    cfg.ArXivHistoricalMaxPages,
		ScholarIncremental: cfg.ScholarIncrementalMaxPages,
		ScholarHistorical:  cfg.ScholarHistoricalMaxPages,
	}
}

// For returns the cap for a provider and mode.
func (c PageCaps) For(source domain.SourceType, mode domain.IngestMode) int {
	historical := mode == domain.IngestModeHistorical
	switch source {
	case domain.SourceTypeArXiv:
		if historical {
			return c.ArXivHistorical
		}
		return c.ArXivIncremental
	case domain.SourceTypeGoogleScholar:
		if historical {
			return c.ScholarHistorical
		}
		return c.ScholarIncremental
	default:
		return 0
	}
}

// RunResult is the outcome of one orchestrator run.
type RunResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
	Pages     int
	State     State
	// EmptyPage is set when the run ended on a page without records, which
	// is how adapters report provider failures.
	EmptyPage bool
}

// Orchestrator drives the fetch, dedup and write loop for one task.
type Orchestrator struct {
	dedup   *DedupFilter
	writer  *UpsertWriter
	limiter Limiter
	caps    PageCaps
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewOrchestrator creates an orchestrator. metrics may be nil.
func NewOrchestrator(dedup *DedupFilter, writer *UpsertWriter, limiter Limiter, caps PageCaps, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		dedup:   dedup,
		writer:  writer,
		limiter: limiter,
		caps:    caps,
		logger:  observability.WithComponent(logger, "orchestrator"),
		metrics: metrics,
	}
}

// Run pages through query on adapter until the provider has no more pages,
// the page cap is reached, an empty page arrives or ctx is cancelled. Counts
// accumulated before cancellation are returned.
func (o *Orchestrator) Run(ctx context.Context, adapter papersources.SourceAdapter, query string, mode domain.IngestMode) RunResult {
	source := adapter.SourceType()
	logger := observability.WithTaskContext(observability.FromContext(ctx, o.logger), source.String(), query, mode.String())
	maxPages := o.caps.For(source, mode)

	result := RunResult{State: StateInit}
	transition := func(next State) {
		logger.Debug().
			Str("from", string(result.State)).
			Str("to", string(next)).
			Int("page", result.Pages).
			Msg("state transition")
		result.State = next
	}

	var cursor papersources.PageCursor
	for {
		if ctx.Err() != nil {
			logger.Info().Err(ctx.Err()).Msg("run cancelled")
			transition(StateDone)
			break
		}
		if maxPages > 0 && result.Pages >= maxPages {
			logger.Debug().Int("max_pages", maxPages).Msg("page cap reached")
			transition(StateDone)
			break
		}

		transition(StateFetching)
		if err := o.limiter.Await(ctx, source); err != nil {
			logger.Info().Err(err).Msg("run cancelled while waiting for rate limiter")
			transition(StateDone)
			break
		}

		page := adapter.FetchPage(ctx, query, cursor, mode)
		result.Pages++
		o.metrics.RecordPage(source.String(), mode.String(), len(page.Records))

		if len(page.Records) == 0 {
			result.EmptyPage = true
			transition(StateDone)
			break
		}

		transition(StateDeduping)
		scope := domain.Scope{Source: source, Category: page.Records[0].Category}
		part, err := o.dedup.Partition(ctx, page.Records, scope)
		if err != nil {
			logger.Warn().Err(err).Int("records", len(page.Records)).Msg("dedup lookup failed, skipping page")
			o.metrics.RecordWriteFailure(source.String(), "lookup")
			result.Failed += len(page.Records)
		} else {
			transition(StateWriting)
			wr := o.writer.Apply(ctx, part.New, part.Changed)
			unchanged := len(part.Unchanged) + wr.Conflicts

			result.Inserted += wr.Inserted
			result.Updated += wr.Updated
			result.Unchanged += unchanged
			result.Failed += wr.Failed
			o.metrics.RecordWrite(source.String(), wr.Inserted, wr.Updated, unchanged)

			logger.Debug().
				Int("page", result.Pages).
				Int("inserted", wr.Inserted).
				Int("updated", wr.Updated).
				Int("unchanged", unchanged).
				Int("failed", wr.Failed).
				Msg("page written")
		}

		transition(StateAdvance)
		if !page.HasMore {
			transition(StateDone)
			break
		}
		if page.NextCursor.Offset <= cursor.Offset {
			logger.Warn().
				Int("offset", cursor.Offset).
				Int("next_offset", page.NextCursor.Offset).
				Msg("provider cursor did not advance, stopping")
			transition(StateDone)
			break
		}
		cursor = page.NextCursor
	}

	logger.Info().
		Int("pages", result.Pages).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("failed", result.Failed).
		Msg("task finished")

	return result
}
