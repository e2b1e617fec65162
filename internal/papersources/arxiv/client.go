// Package arxiv implements the preprint-feed adapter over the arXiv Atom API.
package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultIncrementalPageSize is the page size for the recurring sync.
	DefaultIncrementalPageSize = 10

	// DefaultHistoricalPageSize is the page size for the backfill.
	DefaultHistoricalPageSize = 100

	// sourceName is the human-readable name for this source.
	sourceName = "arXiv"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 10 << 20
)

// DefaultCategories are the categories synced when none are configured.
var DefaultCategories = []string{"cs.AI", "cs.CL", "cs.CV", "cs.LG", "cs.IR", "stat.ML"}

// Config holds configuration for the arXiv adapter.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// IncrementalPageSize is the number of entries per page in incremental mode.
	IncrementalPageSize int

	// HistoricalPageSize is the number of entries per page in historical mode.
	HistoricalPageSize int

	// Enabled indicates whether this source takes part in syncs.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.IncrementalPageSize <= 0 {
		c.IncrementalPageSize = DefaultIncrementalPageSize
	}
	if c.HistoricalPageSize <= 0 {
		c.HistoricalPageSize = DefaultHistoricalPageSize
	}
}

// Client implements papersources.SourceAdapter for arXiv.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Ensure Client implements SourceAdapter interface.
var _ papersources.SourceAdapter = (*Client)(nil)

// New creates a new arXiv adapter. The pace function, usually the shared
// rate limiter's pacer, spaces out retries.
func New(cfg Config, pace func(context.Context) error, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout: cfg.Timeout,
		Pace:    pace,
	})

	return NewWithHTTPClient(cfg, httpClient, logger, metrics)
}

// NewWithHTTPClient creates a new arXiv adapter with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     observability.WithComponent(logger, "arxiv"),
		metrics:    metrics,
	}
}

// FetchPage fetches one page of entries for a category. Any failure is
// logged and returned as an empty, final page.
func (c *Client) FetchPage(ctx context.Context, category string, cursor papersources.PageCursor, mode domain.IngestMode) papersources.Page {
	pageSize := c.pageSize(mode)

	records, consumed, err := c.fetch(ctx, category, cursor.Offset, pageSize, mode)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("category", category).
			Int("offset", cursor.Offset).
			Str("mode", mode.String()).
			Msg("arXiv fetch failed, ending pagination")
		return papersources.EmptyPage()
	}

	return papersources.Page{
		Records:    records,
		NextCursor: papersources.PageCursor{Offset: cursor.Offset + consumed},
		HasMore:    consumed > 0 && consumed >= pageSize,
	}
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) pageSize(mode domain.IngestMode) int {
	if mode == domain.IngestModeHistorical {
		return c.config.HistoricalPageSize
	}
	return c.config.IncrementalPageSize
}

// fetch returns the normalized records and the number of feed entries consumed.
func (c *Client) fetch(ctx context.Context, category string, offset, pageSize int, mode domain.IngestMode) ([]*domain.PaperRecord, int, error) {
	start := time.Now()
	source := string(domain.SourceTypeArXiv)

	searchURL, err := c.buildQueryURL(category, offset, pageSize, mode)
	if err != nil {
		return nil, 0, fmt.Errorf("building query URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	c.metrics.RecordSourceRequest(source, time.Since(start).Seconds())
	if err != nil {
		return nil, 0, papersources.ClassifyRequestError(sourceName, source, err, c.metrics)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.RecordSourceRateLimited(source)
		}
		c.metrics.RecordSourceRequestFailed(source, "status")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, 0, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), domain.ErrServiceUnavailable)
	}

	parser := &atom.Parser{}
	feed, err := parser.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.RecordSourceRequestFailed(source, "parse")
		return nil, 0, domain.NewExternalAPIError(sourceName, resp.StatusCode, "decoding atom feed", err)
	}

	now := time.Now().UTC()
	records := make([]*domain.PaperRecord, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if rec := entryToRecord(entry, category, now); rec != nil {
			records = append(records, rec)
		}
	}
	return records, len(feed.Entries), nil
}

// buildQueryURL constructs the arXiv query API URL. Incremental pages are
// sorted by submission date so the newest papers come first; historical
// pages walk the whole category by last update.
func (c *Client) buildQueryURL(category string, offset, pageSize int, mode domain.IngestMode) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	sortBy := "submittedDate"
	if mode == domain.IngestModeHistorical {
		sortBy = "lastUpdatedDate"
	}

	query := url.Values{}
	query.Set("search_query", "cat:"+category)
	query.Set("start", strconv.Itoa(offset))
	query.Set("max_results", strconv.Itoa(pageSize))
	query.Set("sortBy", sortBy)
	query.Set("sortOrder", "descending")
	baseURL.RawQuery = query.Encode()

	return baseURL.String(), nil
}
