// Package repository provides the record store for aggregated papers.
//
// # Overview
//
// PaperRepository is the narrow store interface used by the ingestion
// pipeline. Two implementations exist:
//
//   - PgPaperRepository: PostgreSQL through pgx, batched inserts with pgx.Batch
//   - MongoPaperRepository: a MongoDB collection with unordered bulk inserts
//
// # Identity
//
// Every stored record carries its identity key (see domain.IdentityKey) in a
// unique identity_key field. Inserting a record whose identity already exists
// is not an error at the store level; InsertMany reports it per record as a
// domain.AlreadyExistsError and leaves the stored record untouched.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Usage Pattern
//
// A store is created once at application startup and passed by reference:
//
//	db, _ := database.New(ctx, cfg, logger)
//	papers := repository.NewPgPaperRepository(db)
package repository

import (
	"fmt"

	"github.com/helixir/paper-aggregator-service/internal/database"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// Repositories accept it so tests can pass a pgxmock pool.
type DBTX = database.DBTX

// lookupValues splits identity keys into per-kind value lists.
type lookupValues struct {
	externalIDs []string
	links       []string
	titles      []string
}

func (l lookupValues) empty() bool {
	return len(l.externalIDs) == 0 && len(l.links) == 0 && len(l.titles) == 0
}

// groupKeys groups keys by kind, keeping only keys of the scope's source.
func groupKeys(scope domain.Scope, keys []domain.IdentityKey) lookupValues {
	var out lookupValues
	seen := make(map[domain.IdentityKey]struct{}, len(keys))
	for _, k := range keys {
		if k.IsZero() || k.Source != scope.Source {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		switch k.Kind {
		case domain.IdentityKindExternalID:
			out.externalIDs = append(out.externalIDs, k.Value)
		case domain.IdentityKindLink:
			out.links = append(out.links, k.Value)
		case domain.IdentityKindTitle:
			out.titles = append(out.titles, k.Value)
		}
	}
	return out
}

// validateForInsert checks that a record can be stored.
func validateForInsert(rec *domain.PaperRecord) error {
	if rec == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}
	if rec.Source == "" {
		return domain.NewValidationError("source", "source is required")
	}
	if rec.IdentityKey().IsZero() {
		return domain.NewValidationError("identity", fmt.Sprintf("paper %q has no identity key", rec.Title))
	}
	return nil
}

// nullIfEmpty maps an empty string to NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString maps NULL to an empty string.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
