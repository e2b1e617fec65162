// Package papersources provides the provider adapters that turn a paginated
// upstream API into pages of domain.PaperRecord.
//
// Each provider (arXiv, Google Scholar via SerpAPI) implements SourceAdapter.
// Adapters never surface provider failures: a network error, a non-2xx status
// or an unparseable payload is logged and reported as an empty, final page, so
// one bad provider never stops the rest of a sync.
//
// Example usage:
//
//	adapter := arxiv.New(cfg, httpClient, logger)
//	page := adapter.FetchPage(ctx, "cs.AI", papersources.PageCursor{}, domain.IngestModeIncremental)
//	for page.HasMore {
//		page = adapter.FetchPage(ctx, "cs.AI", page.NextCursor, domain.IngestModeIncremental)
//	}
package papersources

import (
	"context"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// PageCursor is the opaque position in a provider's result list.
type PageCursor struct {
	// Offset is the zero-based index of the first result to fetch.
	Offset int
}

// Page is one fetched page of records.
type Page struct {
	// Records holds the normalized records. Empty on soft failure.
	Records []*domain.PaperRecord

	// NextCursor is the cursor for the following page. Only meaningful when
	// HasMore is true.
	NextCursor PageCursor

	// HasMore reports whether the provider signalled another page.
	HasMore bool
}

// EmptyPage is the terminal page returned on soft failure.
func EmptyPage() Page {
	return Page{Records: []*domain.PaperRecord{}}
}

// SourceAdapter defines the contract every provider adapter implements.
type SourceAdapter interface {
	// FetchPage fetches one page for query starting at cursor. The mode selects
	// page size and sort order. It never returns an error: failures produce an
	// empty page with HasMore false.
	FetchPage(ctx context.Context, query string, cursor PageCursor, mode domain.IngestMode) Page

	// SourceType returns the provider identifier stored on every record.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logs and metrics.
	Name() string

	// IsEnabled reports whether the adapter has what it needs to run.
	IsEnabled() bool
}
