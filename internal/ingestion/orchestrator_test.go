package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

func newTestOrchestrator(store *memoryStore, limiter Limiter, caps PageCaps, metrics *observability.Metrics) *Orchestrator {
	logger := zerolog.Nop()
	return NewOrchestrator(
		NewDedupFilter(store),
		NewUpsertWriter(store, logger, metrics).WithClock(fixedClock),
		limiter,
		caps,
		logger,
		metrics,
	)
}

func arxivPages(n, perPage int) []papersources.Page {
	pages := make([]papersources.Page, n)
	for i := 0; i < n; i++ {
		recs := make([]*domain.PaperRecord, perPage)
		for j := 0; j < perPage; j++ {
			id := fmt.Sprintf("2401.%05dv1", i*perPage+j)
			recs[j] = arxivRecord(id, "Paper "+id)
		}
		pages[i] = page(i < n-1, (i+1)*perPage, recs...)
	}
	return pages
}

func TestPageCaps(t *testing.T) {
	caps := PageCapsFromConfig(config.IngestionConfig{
		ArXivIncrementalMaxPages:   1,
		ArXivHistoricalMaxPages:    0,
		ScholarIncrementalMaxPages: 10,
		ScholarHistoricalMaxPages:  7,
	})

	assert.Equal(t, 1, caps.For(domain.SourceTypeArXiv, domain.IngestModeIncremental))
	assert.Equal(t, 0, caps.For(domain.SourceTypeArXiv, domain.IngestModeHistorical))
	assert.Equal(t, 10, caps.For(domain.SourceTypeGoogleScholar, domain.IngestModeIncremental))
	assert.Equal(t, 7, caps.For(domain.SourceTypeGoogleScholar, domain.IngestModeHistorical))
	assert.Equal(t, 0, caps.For(domain.SourceType("unknown"), domain.IngestModeIncremental))
}

func TestOrchestrator_Idempotence(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(3, 4)}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

	first := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)
	assert.Equal(t, 12, first.Inserted)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, 12, store.Len())

	adapter.calls = 0
	second := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 12, second.Unchanged)
	assert.Equal(t, 12, store.Len(), "re-running leaves the store unchanged")
}

func TestOrchestrator_PageCapTerminates(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	endless := &scriptedAdapter{
		source: domain.SourceTypeGoogleScholar,
		repeat: true,
	}
	for i := 0; i < 3; i++ {
		endless.pages = append(endless.pages, page(true, (i+1)*20,
			scholarRecord(fmt.Sprintf("Paper %d", i), fmt.Sprintf("https://x.example/%d", i))))
	}
	// Each repeat reports a further offset so the cursor keeps advancing.
	limiter := &countingLimiter{}
	o := newTestOrchestrator(store, limiter, PageCaps{ScholarIncremental: 10}, nil)

	wrapped := &advancingAdapter{inner: endless}
	result := o.Run(context.Background(), wrapped, "machine learning", domain.IngestModeIncremental)

	assert.Equal(t, 10, result.Pages)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 10, limiter.calls)
}

func TestOrchestrator_UncappedStopsWhenProviderEnds(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(5, 2)}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)

	assert.Equal(t, 5, result.Pages)
	assert.Equal(t, 10, result.Inserted)
	assert.False(t, result.EmptyPage)
	require.Len(t, adapter.cursors, 5)
	assert.Equal(t, 0, adapter.cursors[0].Offset)
	assert.Equal(t, 8, adapter.cursors[4].Offset)
}

func TestOrchestrator_StalledCursorStops(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	adapter := &scriptedAdapter{
		source: domain.SourceTypeArXiv,
		pages:  []papersources.Page{page(true, 0, arxivRecord("2401.00001v1", "A"))},
		repeat: true,
	}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)

	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, StateDone, result.State)
}

func TestOrchestrator_AwaitsBeforeEveryFetch(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(3, 1)}
	limiter := papersources.NewRateLimiter(map[domain.SourceType]time.Duration{
		domain.SourceTypeArXiv: 30 * time.Millisecond,
	})
	o := newTestOrchestrator(store, limiter, PageCaps{}, nil)

	start := time.Now()
	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)
	elapsed := time.Since(start)

	assert.Equal(t, 3, result.Pages)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond, "three requests need two full delays")
}

func TestOrchestrator_EmptyPageSkipsWriter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry("test", reg)

	store := newMemoryStore()
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: []papersources.Page{papersources.EmptyPage()}}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, metrics)

	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeIncremental)

	assert.Equal(t, 1, result.Pages)
	assert.True(t, result.EmptyPage)
	assert.Equal(t, StateDone, result.State)
	assert.Zero(t, store.findCalls)
	assert.Zero(t, store.insertCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PagesFetched.WithLabelValues("arxiv", "incremental")))
}

func TestOrchestrator_SoftFailMidRunKeepsEarlierPages(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	pages := arxivPages(2, 3)
	pages[1] = papersources.EmptyPage()
	pages[0].HasMore = true
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: pages}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)

	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 2, result.Pages)
	assert.True(t, result.EmptyPage)
}

func TestOrchestrator_LookupFailureSkipsPage(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.findErr = errors.New("store down")
	adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(2, 2)}
	o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

	result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)

	assert.Equal(t, 2, result.Pages, "a store failure does not abort the loop")
	assert.Equal(t, 4, result.Failed)
	assert.Zero(t, store.insertCalls)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancelled before start", func(t *testing.T) {
		store := newMemoryStore()
		adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(2, 2)}
		o := newTestOrchestrator(store, &countingLimiter{}, PageCaps{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := o.Run(ctx, adapter, "cs.AI", domain.IngestModeHistorical)

		assert.Zero(t, result.Pages)
		assert.Equal(t, StateDone, result.State)
		assert.Zero(t, adapter.calls)
	})

	t.Run("cancelled while waiting keeps partial counts", func(t *testing.T) {
		store := newMemoryStore()
		adapter := &scriptedAdapter{source: domain.SourceTypeArXiv, pages: arxivPages(3, 2)}
		limiter := &cancelAfterLimiter{allow: 1}
		o := newTestOrchestrator(store, limiter, PageCaps{}, nil)

		result := o.Run(context.Background(), adapter, "cs.AI", domain.IngestModeHistorical)

		assert.Equal(t, 1, result.Pages)
		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, StateDone, result.State)
	})
}

// advancingAdapter rewrites cursors so a repeating script never stalls.
type advancingAdapter struct {
	inner *scriptedAdapter
	n     int
}

func (a *advancingAdapter) FetchPage(ctx context.Context, q string, c papersources.PageCursor, m domain.IngestMode) papersources.Page {
	p := a.inner.FetchPage(ctx, q, c, m)
	a.n++
	p.NextCursor = papersources.PageCursor{Offset: a.n * 20}
	return p
}

func (a *advancingAdapter) SourceType() domain.SourceType { return a.inner.SourceType() }
func (a *advancingAdapter) Name() string                  { return a.inner.Name() }
func (a *advancingAdapter) IsEnabled() bool               { return true }

// cancelAfterLimiter lets allow calls through and then reports cancellation.
type cancelAfterLimiter struct {
	allow int
	calls int
}

func (l *cancelAfterLimiter) Await(_ context.Context, _ domain.SourceType) error {
	l.calls++
	if l.calls > l.allow {
		return context.Canceled
	}
	return nil
}
