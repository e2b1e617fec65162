package ingestion

import (
	"context"
	"fmt"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// ExistingFinder looks up stored records by identity. repository.PaperRepository
// satisfies it.
type ExistingFinder interface {
	FindExisting(ctx context.Context, scope domain.Scope, keys []domain.IdentityKey) ([]*domain.PaperRecord, error)
}

// ChangedPair couples a stored record with the fetched record that differs
// from it in at least one mutable field.
type ChangedPair struct {
	Existing *domain.PaperRecord
	Incoming *domain.PaperRecord
}

// Partition is the classification of one fetched batch. Every candidate
// lands in exactly one of the three lists.
type Partition struct {
	New       []*domain.PaperRecord
	Changed   []ChangedPair
	Unchanged []*domain.PaperRecord
}

// Len returns the number of classified candidates.
func (p Partition) Len() int {
	return len(p.New) + len(p.Changed) + len(p.Unchanged)
}

// DedupFilter classifies fetched records against the store.
type DedupFilter struct {
	store ExistingFinder
}

// NewDedupFilter creates a filter backed by the given store.
func NewDedupFilter(store ExistingFinder) *DedupFilter {
	return &DedupFilter{store: store}
}

// Partition splits candidates into new, changed and unchanged records with a
// single store lookup bounded to scope.
//
// A candidate matches a stored record when any of its lookup keys does. For
// records without an external ID the link and the normalized title are
// checked independently; when they point at different stored records the
// link match wins. Within the batch, only the first candidate per identity
// (or per matched stored record) is classified new or changed; later
// duplicates are unchanged so the store keeps one record per identity.
func (f *DedupFilter) Partition(ctx context.Context, candidates []*domain.PaperRecord, scope domain.Scope) (Partition, error) {
	var part Partition
	if len(candidates) == 0 {
		return part, nil
	}

	keys := make([]domain.IdentityKey, 0, len(candidates)*2)
	for _, c := range candidates {
		if c == nil {
			continue
		}
		keys = append(keys, c.LookupKeys()...)
	}

	existing, err := f.store.FindExisting(ctx, scope, keys)
	if err != nil {
		return Partition{}, fmt.Errorf("looking up existing records for %s/%s: %w", scope.Source, scope.Category, err)
	}

	stored := make(map[domain.IdentityKey]*domain.PaperRecord, len(existing)*2)
	for _, rec := range existing {
		for _, k := range rec.LookupKeys() {
			if _, ok := stored[k]; !ok {
				stored[k] = rec
			}
		}
	}

	claimedKeys := make(map[domain.IdentityKey]struct{}, len(candidates))
	claimedStored := make(map[*domain.PaperRecord]struct{}, len(existing))

	for _, c := range candidates {
		if c == nil {
			continue
		}
		lookup := c.LookupKeys()

		if match := firstMatch(stored, lookup); match != nil {
			if _, seen := claimedStored[match]; seen {
				part.Unchanged = append(part.Unchanged, c)
				continue
			}
			claimedStored[match] = struct{}{}
			if match.MutableFieldsEqual(c) {
				part.Unchanged = append(part.Unchanged, c)
			} else {
				part.Changed = append(part.Changed, ChangedPair{Existing: match, Incoming: c})
			}
			continue
		}

		if anyClaimed(claimedKeys, lookup) {
			part.Unchanged = append(part.Unchanged, c)
			continue
		}
		for _, k := range lookup {
			claimedKeys[k] = struct{}{}
		}
		part.New = append(part.New, c)
	}

	return part, nil
}

// firstMatch returns the stored record for the first key that has one. Keys
// come in priority order (external ID, then link, then title).
func firstMatch(stored map[domain.IdentityKey]*domain.PaperRecord, keys []domain.IdentityKey) *domain.PaperRecord {
	for _, k := range keys {
		if rec, ok := stored[k]; ok {
			return rec
		}
	}
	return nil
}

func anyClaimed(claimed map[domain.IdentityKey]struct{}, keys []domain.IdentityKey) bool {
	for _, k := range keys {
		if _, ok := claimed[k]; ok {
			return true
		}
	}
	return false
}
