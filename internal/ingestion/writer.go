package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
)

// RecordWriter persists new and changed records. repository.PaperRepository
// satisfies it.
type RecordWriter interface {
	InsertMany(ctx context.Context, records []*domain.PaperRecord) []error
	UpdateMutable(ctx context.Context, id uuid.UUID, rec *domain.PaperRecord) error
}

// WriteResult counts the outcome of one Apply call.
type WriteResult struct {
	Inserted int
	Updated  int
	// Conflicts are inserts the store rejected because the identity was
	// already stored, typically by a concurrent writer or another category.
	Conflicts int
	Failed    int
}

// UpsertWriter inserts new records and merges changed ones.
type UpsertWriter struct {
	store   RecordWriter
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewUpsertWriter creates a writer. metrics may be nil.
func NewUpsertWriter(store RecordWriter, logger zerolog.Logger, metrics *observability.Metrics) *UpsertWriter {
	return &UpsertWriter{
		store:   store,
		logger:  observability.WithComponent(logger, "writer"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the writer's clock. Intended for tests.
func (w *UpsertWriter) WithClock(now func() time.Time) *UpsertWriter {
	w.now = now
	return w
}

// Apply inserts newRecs in one batch and updates each changed pair. New
// records get FetchTimestamp = LastUpdated = now; merged records keep their
// FetchTimestamp and get LastUpdated = now. Per-record failures are logged
// and counted, never returned.
func (w *UpsertWriter) Apply(ctx context.Context, newRecs []*domain.PaperRecord, changed []ChangedPair) WriteResult {
	var result WriteResult
	now := w.now()

	if len(newRecs) > 0 {
		for _, rec := range newRecs {
			rec.FetchTimestamp = now
			rec.LastUpdated = now
		}

		for i, err := range w.store.InsertMany(ctx, newRecs) {
			rec := newRecs[i]
			switch {
			case err == nil:
				result.Inserted++
			case errors.Is(err, domain.ErrAlreadyExists):
				result.Conflicts++
				w.logger.Debug().
					Str("identity", rec.IdentityKey().String()).
					Msg("record already stored, skipping insert")
			default:
				result.Failed++
				w.fail("insert", rec, err)
			}
		}
	}

	for _, pair := range changed {
		merged := pair.Existing.Clone()
		merged.ApplyChanges(pair.Incoming, now)

		if err := w.store.UpdateMutable(ctx, merged.ID, merged); err != nil {
			result.Failed++
			w.fail("update", merged, err)
			continue
		}
		result.Updated++
	}

	return result
}

func (w *UpsertWriter) fail(op string, rec *domain.PaperRecord, err error) {
	werr := domain.NewWriteError(op, rec.IdentityKey(), err)
	w.logger.Warn().Err(werr).
		Str("source", rec.Source.String()).
		Str("op", op).
		Msg("failed to write record")
	w.metrics.RecordWriteFailure(rec.Source.String(), op)
}
