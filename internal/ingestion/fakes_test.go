package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

// memoryStore is an in-memory PaperRepository keyed by identity.
type memoryStore struct {
	mu        sync.Mutex
	byKey     map[string]*domain.PaperRecord
	findErr   error
	insertErr map[string]error
	updateErr error

	findCalls   int
	insertCalls int
	updateCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byKey:     make(map[string]*domain.PaperRecord),
		insertErr: make(map[string]error),
	}
}

func (s *memoryStore) seed(recs ...*domain.PaperRecord) {
	for _, r := range recs {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		s.byKey[r.IdentityKey().String()] = r.Clone()
	}
}

func (s *memoryStore) FindExisting(_ context.Context, scope domain.Scope, keys []domain.IdentityKey) ([]*domain.PaperRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}

	want := make(map[domain.IdentityKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	var out []*domain.PaperRecord
	for _, rec := range s.byKey {
		if rec.Source != scope.Source || rec.Category != scope.Category {
			continue
		}
		for _, k := range rec.LookupKeys() {
			if _, ok := want[k]; ok {
				out = append(out, rec.Clone())
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) InsertMany(_ context.Context, records []*domain.PaperRecord) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++

	results := make([]error, len(records))
	for i, rec := range records {
		key := rec.IdentityKey().String()
		if err, ok := s.insertErr[key]; ok {
			results[i] = err
			continue
		}
		if _, exists := s.byKey[key]; exists {
			results[i] = domain.NewAlreadyExistsError("paper", key)
			continue
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		s.byKey[key] = rec.Clone()
	}
	return results
}

func (s *memoryStore) UpdateMutable(_ context.Context, id uuid.UUID, rec *domain.PaperRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}

	for key, stored := range s.byKey {
		if stored.ID != id {
			continue
		}
		delete(s.byKey, key)
		updated := stored.Clone()
		updated.Title = rec.Title
		updated.Abstract = rec.Abstract
		updated.Authors = append([]string(nil), rec.Authors...)
		updated.Link = rec.Link
		updated.Updated = rec.Updated
		updated.LastUpdated = rec.LastUpdated
		s.byKey[updated.IdentityKey().String()] = updated
		return nil
	}
	return domain.NewNotFoundError("paper", id.String())
}

func (s *memoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *memoryStore) get(key string) *domain.PaperRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

// scriptedAdapter returns pages in order, one per FetchPage call.
type scriptedAdapter struct {
	source  domain.SourceType
	pages   []papersources.Page
	repeat  bool
	cursors []papersources.PageCursor
	calls   int
}

func (a *scriptedAdapter) FetchPage(_ context.Context, _ string, cursor papersources.PageCursor, _ domain.IngestMode) papersources.Page {
	a.cursors = append(a.cursors, cursor)
	i := a.calls
	a.calls++
	if a.repeat && len(a.pages) > 0 {
		i = i % len(a.pages)
	}
	if i >= len(a.pages) {
		return papersources.EmptyPage()
	}
	p := a.pages[i]
	recs := make([]*domain.PaperRecord, len(p.Records))
	for j, r := range p.Records {
		recs[j] = r.Clone()
	}
	p.Records = recs
	return p
}

func (a *scriptedAdapter) SourceType() domain.SourceType { return a.source }
func (a *scriptedAdapter) Name() string                  { return string(a.source) }
func (a *scriptedAdapter) IsEnabled() bool               { return true }

// countingLimiter records Await calls without waiting.
type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Await(ctx context.Context, _ domain.SourceType) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return ctx.Err()
}

func arxivRecord(id, title string) *domain.PaperRecord {
	updated := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &domain.PaperRecord{
		Title:      title,
		Authors:    []string{"Ada Lovelace"},
		Abstract:   "abstract of " + title,
		Link:       "http://arxiv.org/abs/" + id,
		Published:  &updated,
		Updated:    &updated,
		ExternalID: id,
		Category:   "cs.AI",
		Keywords:   []string{"cs.AI"},
		Source:     domain.SourceTypeArXiv,
	}
}

func scholarRecord(title, link string) *domain.PaperRecord {
	return &domain.PaperRecord{
		Title:    title,
		Authors:  []string{"Alan Turing"},
		Abstract: "snippet",
		Link:     link,
		Category: "Google Scholar",
		Source:   domain.SourceTypeGoogleScholar,
	}
}

func page(hasMore bool, next int, recs ...*domain.PaperRecord) papersources.Page {
	return papersources.Page{
		Records:    recs,
		HasMore:    hasMore,
		NextCursor: papersources.PageCursor{Offset: next},
	}
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
