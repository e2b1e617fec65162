package papersources

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// RateLimiter enforces a minimum spacing between consecutive requests to the
// same provider. Each provider gets its own limiter with a rate of one event
// per minimum delay and a burst of one, so requests never bunch up even after
// a long idle period. It is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.SourceType]*rate.Limiter
	delays   map[domain.SourceType]time.Duration
}

// NewRateLimiter creates a limiter from per-provider minimum delays.
// Providers with a zero or negative delay are not throttled.
//
// Example configuration:
//   - arXiv: 3 * time.Second
//   - SerpAPI: 2 * time.Second
func NewRateLimiter(delays map[domain.SourceType]time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[domain.SourceType]*rate.Limiter, len(delays)),
		delays:   make(map[domain.SourceType]time.Duration, len(delays)),
	}
	for source, d := range delays {
		rl.SetDelay(source, d)
	}
	return rl
}

// SetDelay replaces the minimum delay for a provider.
func (r *RateLimiter) SetDelay(source domain.SourceType, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d <= 0 {
		delete(r.limiters, source)
		delete(r.delays, source)
		return
	}
	r.delays[source] = d
	r.limiters[source] = rate.NewLimiter(rate.Every(d), 1)
}

// Delay returns the configured minimum delay for a provider.
func (r *RateLimiter) Delay(source domain.SourceType) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delays[source]
}

// Await blocks until the provider's minimum delay has elapsed since its
// previous request. The first request for a provider does not wait.
// It returns the context's error if the context ends first.
func (r *RateLimiter) Await(ctx context.Context, source domain.SourceType) error {
	r.mu.Lock()
	limiter := r.limiters[source]
	r.mu.Unlock()

	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// Pacer returns a function bound to one provider, suitable for HTTPClient
// retries.
func (r *RateLimiter) Pacer(source domain.SourceType) func(context.Context) error {
	return func(ctx context.Context) error {
		return r.Await(ctx, source)
	}
}
