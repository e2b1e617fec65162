package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
)

const (
	defaultHTTPTimeout   = 30 * time.Second
	defaultMaxRetries    = 2
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = time.Minute
	defaultUserAgent     = "paper-aggregator-service/1.0"
)

// HTTPClientConfig configures the provider HTTP client.
type HTTPClientConfig struct {
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Negative
	// disables retrying.
	MaxRetries int

	// RetryDelay is the first backoff; it doubles per retry.
	RetryDelay time.Duration

	// MaxRetryDelay caps both the backoff and a provider's Retry-After.
	MaxRetryDelay time.Duration

	UserAgent string

	// Pace is awaited before every retry so retries respect the provider's
	// request spacing. The first attempt is paced by the orchestrator.
	Pace func(ctx context.Context) error
}

// RetryExhaustedError is returned when every attempt got a retryable status.
type RetryExhaustedError struct {
	Attempts   int
	StatusCode int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: last status %d", e.Attempts, e.StatusCode)
}

// HTTPClient retries provider requests on throttling, server errors and
// transport failures. Safe for concurrent use.
type HTTPClient struct {
	client *http.Client
	cfg    HTTPClientConfig
}

// NewHTTPClient fills in defaults for zero fields.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &HTTPClient{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// Do sends req, retrying 429, 5xx and transport errors. A Retry-After header
// overrides the backoff. Bodies are resent through req.GetBody.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	ctx := req.Context()
	backoff := c.cfg.RetryDelay

	for attempt := 1; ; attempt++ {
		if attempt > 1 && c.cfg.Pace != nil {
			if err := c.cfg.Pace(ctx); err != nil {
				return nil, fmt.Errorf("pacing retry: %w", err)
			}
		}

		last := attempt > c.cfg.MaxRetries
		wait := backoff

		resp, err := c.client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if last {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt, err)
			}
		case retryableStatus(resp.StatusCode):
			discard(resp)
			if last {
				return nil, &RetryExhaustedError{Attempts: attempt, StatusCode: resp.StatusCode}
			}
			wait = retryAfter(resp, backoff)
		default:
			return resp, nil
		}

		if err := sleepCtx(ctx, min(wait, c.cfg.MaxRetryDelay)); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, c.cfg.MaxRetryDelay)

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			req.Body = body
		}
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// retryAfter reads Retry-After as seconds or an HTTP date, falling back to
// fallback when absent, invalid or already past.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return fallback
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyRequestError records a failed Do call against the provider's
// metrics and wraps it as an ExternalAPIError.
func ClassifyRequestError(name, source string, err error, metrics *observability.Metrics) error {
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		metrics.RecordSourceRequestFailed(source, "network")
		return domain.NewExternalAPIError(name, 0, "request failed", err)
	}

	metrics.RecordSourceRequestFailed(source, "status")
	if exhausted.StatusCode == http.StatusTooManyRequests {
		metrics.RecordSourceRateLimited(source)
		return domain.NewExternalAPIError(name, exhausted.StatusCode, "rate limited", domain.ErrRateLimited)
	}
	return domain.NewExternalAPIError(name, exhausted.StatusCode, err.Error(), domain.ErrServiceUnavailable)
}
