// Package serpapi implements the scholarly-search adapter over SerpAPI's
// Google Scholar engine.
package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default SerpAPI base URL.
	DefaultBaseURL = "https://serpapi.com"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the number of results requested per page.
	DefaultPageSize = 20

	// Category is stored on every Scholar record. Scholar results are not
	// categorized, so dedup for this provider spans all queries.
	Category = "Google Scholar"

	// sourceName is the human-readable name for this source.
	sourceName = "Google Scholar"

	maxBodyBytes = 10 << 20
)

// DefaultHistoricalQueries are backfilled when no queries are configured.
var DefaultHistoricalQueries = []string{
	"deep learning in medical imaging",
	"machine learning in healthcare",
	"artificial intelligence in medicine",
	"computer vision in healthcare",
	"natural language processing in medicine",
	"deep learning applications",
	"machine learning algorithms",
	"artificial intelligence advances",
	"neural networks research",
	"deep learning architectures",
}

// DefaultIncrementalQueries are synced on every interval when none are configured.
var DefaultIncrementalQueries = []string{
	"deep learning in medical imaging",
	"machine learning in healthcare",
	"artificial intelligence in medicine",
}

// Config holds configuration for the SerpAPI adapter.
type Config struct {
	// BaseURL is the SerpAPI base URL.
	BaseURL string

	// APIKey is the SerpAPI key. The adapter is disabled without one.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// PageSize is the number of results per page.
	PageSize int

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
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
}

// Client implements papersources.SourceAdapter for Google Scholar via SerpAPI.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	extractor  papersources.SnippetExtractor
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Ensure Client implements SourceAdapter interface.
var _ papersources.SourceAdapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithExtractor replaces the snippet extractor used for authors and year.
func WithExtractor(e papersources.SnippetExtractor) Option {
	return func(c *Client) {
		if e != nil {
			c.extractor = e
		}
	}
}

// WithClock replaces the clock used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a new SerpAPI adapter. The pace function spaces out retries.
func New(cfg Config, pace func(context.Context) error, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout: cfg.Timeout,
		Pace:    pace,
	})

	return NewWithHTTPClient(cfg, httpClient, logger, metrics, opts...)
}

// NewWithHTTPClient creates a new SerpAPI adapter with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	cfg.applyDefaults()

	c := &Client{
		config:     cfg,
		httpClient: httpClient,
		extractor:  papersources.NewRegexExtractor(),
		logger:     observability.WithComponent(logger, "serpapi"),
		metrics:    metrics,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage fetches one page of Scholar results for a query. The mode does not
// change the request; page caps are applied by the orchestrator.
func (c *Client) FetchPage(ctx context.Context, query string, cursor papersources.PageCursor, mode domain.IngestMode) papersources.Page {
	if !c.IsEnabled() {
		c.logger.Warn().Str("query", query).Msg("SerpAPI adapter disabled, skipping fetch")
		return papersources.EmptyPage()
	}

	records, consumed, hasMore, err := c.fetch(ctx, query, cursor.Offset)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("query", query).
			Int("offset", cursor.Offset).
			Str("mode", mode.String()).
			Msg("Google Scholar fetch failed, ending pagination")
		return papersources.EmptyPage()
	}

	return papersources.Page{
		Records:    records,
		NextCursor: papersources.PageCursor{Offset: cursor.Offset + consumed},
		HasMore:    hasMore && consumed > 0,
	}
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeGoogleScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the adapter is enabled and has an API key.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// fetch returns the normalized records, the number of raw results consumed
// and whether SerpAPI signalled another page.
func (c *Client) fetch(ctx context.Context, query string, offset int) ([]*domain.PaperRecord, int, bool, error) {
	start := time.Now()
	source := string(domain.SourceTypeGoogleScholar)

	searchURL, err := c.buildSearchURL(query, offset)
	if err != nil {
		return nil, 0, false, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	c.metrics.RecordSourceRequest(source, time.Since(start).Seconds())
	if err != nil {
		return nil, 0, false, papersources.ClassifyRequestError(sourceName, source, err, c.metrics)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordSourceRequestFailed(source, "status")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, 0, false, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), domain.ErrServiceUnavailable)
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		c.metrics.RecordSourceRequestFailed(source, "parse")
		return nil, 0, false, domain.NewExternalAPIError(sourceName, resp.StatusCode, "decoding response", err)
	}
	if payload.Error != "" && len(payload.OrganicResults) == 0 {
		// SerpAPI reports "no results" and quota problems in-band with a 200.
		c.logger.Debug().Str("query", query).Str("serpapi_error", payload.Error).Msg("SerpAPI returned an error payload")
		return []*domain.PaperRecord{}, 0, false, nil
	}

	now := c.now().UTC()
	records := make([]*domain.PaperRecord, 0, len(payload.OrganicResults))
	for i := range payload.OrganicResults {
		if rec := c.resultToRecord(&payload.OrganicResults[i], query, now); rec != nil {
			records = append(records, rec)
		}
	}

	hasMore := payload.SerpAPIPagination != nil &&
		(payload.SerpAPIPagination.NextPageToken != "" || payload.SerpAPIPagination.Next != "")

	return records, len(payload.OrganicResults), hasMore, nil
}

// resultToRecord converts an organic result. Results with neither title nor
// link have no identity and are dropped.
func (c *Client) resultToRecord(r *organicResult, query string, now time.Time) *domain.PaperRecord {
	title := domain.NormalizeWhitespace(r.Title)
	link := strings.TrimSpace(r.Link)
	if title == "" && link == "" {
		return nil
	}

	authors, year := c.extractor.Extract(r.Snippet)

	var published *time.Time
	if year != nil {
		t := time.Date(*year, time.January, 1, 0, 0, 0, 0, time.UTC)
		published = &t
	}

	journal := sourceName
	if r.PublicationInfo != nil && strings.TrimSpace(r.PublicationInfo.Summary) != "" {
		journal = strings.TrimSpace(r.PublicationInfo.Summary)
	}

	return &domain.PaperRecord{
		Title:          title,
		Authors:        authors,
		Abstract:       strings.TrimSpace(r.Snippet),
		Link:           link,
		Published:      published,
		Category:       Category,
		Keywords:       domain.NormalizeKeywords([]string{query}),
		Journal:        journal,
		Source:         domain.SourceTypeGoogleScholar,
		FetchTimestamp: now,
		LastUpdated:    now,
		CitationCount:  r.citationCount(),
	}
}

// buildSearchURL constructs the SerpAPI search URL.
func (c *Client) buildSearchURL(query string, offset int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/search"

	params := url.Values{}
	params.Set("engine", "google_scholar")
	params.Set("q", query)
	params.Set("api_key", c.config.APIKey)
	params.Set("start", strconv.Itoa(offset))
	params.Set("num", strconv.Itoa(c.config.PageSize))
	baseURL.RawQuery = params.Encode()

	return baseURL.String(), nil
}
