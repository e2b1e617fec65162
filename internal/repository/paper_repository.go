package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// PaperRepository is the record store used by the ingestion pipeline.
type PaperRepository interface {
	// FindExisting returns the stored records of the scope's provider and
	// category that match any of the given identity keys. Keys of another
	// provider are ignored. An empty key set returns nil, nil.
	FindExisting(ctx context.Context, scope domain.Scope, keys []domain.IdentityKey) ([]*domain.PaperRecord, error)

	// InsertMany stores new records. The returned slice has one entry per
	// input record in the same order: nil on success, a
	// *domain.AlreadyExistsError when the identity is already stored, or the
	// store error for that record. A failure never blocks its siblings.
	// Records without an ID are assigned one.
	InsertMany(ctx context.Context, records []*domain.PaperRecord) []error

	// UpdateMutable overwrites the mutable fields (title, abstract, authors,
	// link, updated) and LastUpdated of the record with the given ID.
	// FetchTimestamp is never changed.
	// Returns domain.ErrNotFound if no record has that ID.
	UpdateMutable(ctx context.Context, id uuid.UUID, rec *domain.PaperRecord) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// CountBySource returns the number of stored records per provider.
	CountBySource(ctx context.Context) (map[domain.SourceType]int64, error)
}
