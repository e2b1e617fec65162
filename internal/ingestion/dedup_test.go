package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

var arxivScope = domain.Scope{Source: domain.SourceTypeArXiv, Category: "cs.AI"}
var scholarScope = domain.Scope{Source: domain.SourceTypeGoogleScholar, Category: "Google Scholar"}

func TestDedupFilter_PartitionIsDisjointAndComplete(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	same := arxivRecord("2401.00001v1", "Unchanged Paper")
	old := arxivRecord("2401.00002v1", "Old Title")
	store.seed(same, old)

	changed := arxivRecord("2401.00002v1", "New Title")
	fresh := arxivRecord("2401.00003v1", "Fresh Paper")
	freshAgain := arxivRecord("2401.00003v1", "Fresh Paper")
	sameAgain := same.Clone()
	candidates := []*domain.PaperRecord{sameAgain, changed, fresh, freshAgain}

	part, err := NewDedupFilter(store).Partition(context.Background(), candidates, arxivScope)
	require.NoError(t, err)

	assert.Equal(t, len(candidates), part.Len())

	seen := make(map[*domain.PaperRecord]int)
	for _, r := range part.New {
		seen[r]++
	}
	for _, p := range part.Changed {
		seen[p.Incoming]++
	}
	for _, r := range part.Unchanged {
		seen[r]++
	}
	for _, c := range candidates {
		assert.Equal(t, 1, seen[c], "candidate %q must be classified exactly once", c.Title)
	}

	assert.Equal(t, []*domain.PaperRecord{fresh}, part.New)
	require.Len(t, part.Changed, 1)
	assert.Same(t, changed, part.Changed[0].Incoming)
	assert.Equal(t, "Old Title", part.Changed[0].Existing.Title)
	assert.ElementsMatch(t, []*domain.PaperRecord{sameAgain, freshAgain}, part.Unchanged)
	assert.Equal(t, 1, store.findCalls, "one bulk lookup per batch")
}

func TestDedupFilter_ScopeIsolation(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	other := arxivRecord("2401.00001v1", "Same Paper")
	other.Category = "cs.LG"
	store.seed(other)

	part, err := NewDedupFilter(store).Partition(context.Background(),
		[]*domain.PaperRecord{arxivRecord("2401.00001v1", "Same Paper")}, arxivScope)
	require.NoError(t, err)

	assert.Len(t, part.New, 1, "records of another category are not visible to the lookup")
}

func TestDedupFilter_ScholarTitleOrLink(t *testing.T) {
	t.Parallel()

	t.Run("title match with a different link is changed", func(t *testing.T) {
		store := newMemoryStore()
		store.seed(scholarRecord("Deep Learning", "https://a.example/dl"))

		cand := scholarRecord("deep  learning", "https://b.example/dl")
		part, err := NewDedupFilter(store).Partition(context.Background(), []*domain.PaperRecord{cand}, scholarScope)
		require.NoError(t, err)

		assert.Empty(t, part.New)
		require.Len(t, part.Changed, 1)
		assert.Equal(t, "https://a.example/dl", part.Changed[0].Existing.Link)
	})

	t.Run("link match with a different title is changed", func(t *testing.T) {
		store := newMemoryStore()
		store.seed(scholarRecord("Deep Learning", "https://a.example/dl"))

		cand := scholarRecord("Deep Learning: A Review", "https://a.example/dl")
		part, err := NewDedupFilter(store).Partition(context.Background(), []*domain.PaperRecord{cand}, scholarScope)
		require.NoError(t, err)

		assert.Empty(t, part.New)
		assert.Len(t, part.Changed, 1)
	})

	t.Run("link wins when title and link match different records", func(t *testing.T) {
		store := newMemoryStore()
		byTitle := scholarRecord("Deep Learning", "https://a.example/dl")
		byLink := scholarRecord("Neural Networks", "https://b.example/nn")
		store.seed(byTitle, byLink)

		cand := scholarRecord("Deep Learning", "https://b.example/nn")
		part, err := NewDedupFilter(store).Partition(context.Background(), []*domain.PaperRecord{cand}, scholarScope)
		require.NoError(t, err)

		require.Len(t, part.Changed, 1)
		assert.Equal(t, byLink.ID, part.Changed[0].Existing.ID)
	})

	t.Run("identical record is unchanged", func(t *testing.T) {
		store := newMemoryStore()
		stored := scholarRecord("Deep Learning", "https://a.example/dl")
		store.seed(stored)

		part, err := NewDedupFilter(store).Partition(context.Background(), []*domain.PaperRecord{stored.Clone()}, scholarScope)
		require.NoError(t, err)

		assert.Len(t, part.Unchanged, 1)
	})

	t.Run("in-batch duplicate by title only is unchanged", func(t *testing.T) {
		store := newMemoryStore()
		first := scholarRecord("Deep Learning", "https://a.example/dl")
		second := scholarRecord("Deep Learning", "")

		part, err := NewDedupFilter(store).Partition(context.Background(), []*domain.PaperRecord{first, second}, scholarScope)
		require.NoError(t, err)

		assert.Equal(t, []*domain.PaperRecord{first}, part.New)
		assert.Equal(t, []*domain.PaperRecord{second}, part.Unchanged)
	})
}

func TestDedupFilter_EmptyBatch(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	part, err := NewDedupFilter(store).Partition(context.Background(), nil, arxivScope)

	require.NoError(t, err)
	assert.Zero(t, part.Len())
	assert.Zero(t, store.findCalls)
}

func TestDedupFilter_LookupFailure(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.findErr = errors.New("connection refused")

	_, err := NewDedupFilter(store).Partition(context.Background(),
		[]*domain.PaperRecord{arxivRecord("2401.00001v1", "A")}, arxivScope)

	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, err, "arxiv/cs.AI")
}
