package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// LockConn is a dedicated connection holding a session-scoped advisory lock.
// *pgxpool.Conn satisfies it.
type LockConn interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Release()
}

// AdvisoryRunLock is a single-flight run lock shared by every replica
// pointed at the same database.
type AdvisoryRunLock struct {
	acquire func(ctx context.Context) (LockConn, error)
	key     int64
	logger  zerolog.Logger
}

// NewAdvisoryRunLock creates a run lock on the given advisory key.
func NewAdvisoryRunLock(db *DB, key int64, logger zerolog.Logger) *AdvisoryRunLock {
	return newAdvisoryRunLock(db.AcquireLockConn, key, logger)
}

func newAdvisoryRunLock(acquire func(ctx context.Context) (LockConn, error), key int64, logger zerolog.Logger) *AdvisoryRunLock {
	return &AdvisoryRunLock{
		acquire: acquire,
		key:     key,
		logger:  logger.With().Str("component", "advisory_run_lock").Int64("lock_key", key).Logger(),
	}
}

// TryAcquire takes the lock without waiting. It returns domain.ErrRunInProgress
// when another session holds it. The returned release function must be called
// exactly once.
func (l *AdvisoryRunLock) TryAcquire(ctx context.Context) (func(), error) {
	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("trying advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, domain.ErrRunInProgress
	}

	return func() {
		// The run's context may already be cancelled; unlock regardless.
		unlockCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			l.logger.Warn().Err(err).Msg("failed to release advisory lock")
		}
		conn.Release()
	}, nil
}
