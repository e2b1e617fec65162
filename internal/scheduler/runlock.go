package scheduler

import (
	"context"
	"sync"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// RunLock is a single-flight lock shared by the historical and incremental
// entry points. database.AdvisoryRunLock satisfies it.
type RunLock interface {
	// TryAcquire returns domain.ErrRunInProgress without waiting when the
	// lock is held. The release function must be called exactly once.
	TryAcquire(ctx context.Context) (func(), error)
}

// LocalRunLock is an in-process RunLock.
type LocalRunLock struct {
	mu sync.Mutex
}

// NewLocalRunLock creates an unlocked LocalRunLock.
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

// TryAcquire implements RunLock.
func (l *LocalRunLock) TryAcquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
