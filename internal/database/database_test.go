package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

func TestDBTX_Interface(t *testing.T) {
	var _ DBTX = (*mockDBTX)(nil)
	var _ DBTX = (*DB)(nil)
	var _ LockConn = (*pgxpool.Conn)(nil)
}

type mockDBTX struct{}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockDBTX) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (m *mockDBTX) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN with all parameters", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "paperagg",
			Password:               "secret",
			Name:                   "paper_aggregator",
			SSLMode:                "disable",
			ConnectTimeout:         10 * time.Second,
			StatementCacheCapacity: 512,
		}

		dsn := cfg.DSN()

		assert.Contains(t, dsn, "postgres://")
		assert.Contains(t, dsn, "paperagg")
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "paper_aggregator")
		assert.Contains(t, dsn, "sslmode=disable")
		assert.Contains(t, dsn, "connect_timeout=10")
	})

	t.Run("special characters in password are URL-encoded", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user@domain",
			Password: "p@ss:w0rd/!#",
			Name:     "testdb",
			SSLMode:  "require",
		}

		dsn := cfg.DSN()

		assert.Contains(t, dsn, "user%40domain")
		assert.NotContains(t, dsn, "p@ss:w0rd")
		_, err := pgxpool.ParseConfig(dsn)
		assert.NoError(t, err)
	})

	t.Run("connect timeout zero omits parameter", func(t *testing.T) {
		cfg := &config.DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "user",
			Name:    "testdb",
			SSLMode: "disable",
		}

		assert.NotContains(t, cfg.DSN(), "connect_timeout")
	})
}

func TestPoolConfig(t *testing.T) {
	t.Run("applies pool limits", func(t *testing.T) {
		pc, err := poolConfig(&config.DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "paperagg",
			Name:              "paper_aggregator",
			SSLMode:           "disable",
			MaxConns:          7,
			MinConns:          2,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   time.Minute,
			HealthCheckPeriod: 15 * time.Second,
			ConnectTimeout:    3 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, int32(7), pc.MaxConns)
		assert.Equal(t, int32(2), pc.MinConns)
		assert.Equal(t, time.Hour, pc.MaxConnLifetime)
		assert.Equal(t, time.Minute, pc.MaxConnIdleTime)
		assert.Equal(t, 15*time.Second, pc.HealthCheckPeriod)
		assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
		assert.Equal(t, "paper_aggregator", pc.ConnConfig.Database)
	})

	t.Run("zero limits keep pgx defaults", func(t *testing.T) {
		pc, err := poolConfig(&config.DatabaseConfig{
			Host: "localhost", Port: 5432, User: "u", Name: "db", SSLMode: "disable",
		})
		require.NoError(t, err)
		assert.Positive(t, pc.MaxConns)
		assert.Positive(t, pc.HealthCheckPeriod)
	})
}

func TestNew_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	cfg := &config.DatabaseConfig{
		Host:              "192.0.2.1",
		Port:              5432,
		Name:              "testdb",
		User:              "user",
		Password:          "pass",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    2 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "database", cfgErr.Key)
}

func TestDB_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("Ping verifies connection", func(t *testing.T) {
		assert.NoError(t, db.Ping(ctx))
	})

	t.Run("QueryRow works through DBTX", func(t *testing.T) {
		var dbtx DBTX = db
		var n int
		require.NoError(t, dbtx.QueryRow(ctx, "SELECT 1").Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("advisory lock is exclusive across sessions", func(t *testing.T) {
		lock := NewAdvisoryRunLock(db, 991001, zerolog.Nop())
		other := NewAdvisoryRunLock(db, 991001, zerolog.Nop())

		release, err := lock.TryAcquire(ctx)
		require.NoError(t, err)

		_, err = other.TryAcquire(ctx)
		assert.ErrorIs(t, err, domain.ErrRunInProgress)

		release()

		release, err = other.TryAcquire(ctx)
		require.NoError(t, err)
		release()
	})
}

func TestDB_Close(t *testing.T) {
	t.Run("close nil pool does not panic", func(t *testing.T) {
		db := &DB{logger: zerolog.Nop()}
		assert.NotPanics(t, db.Close)
	})
}

// setupTestDB connects to a local PostgreSQL instance or skips the test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		Name:              "paper_aggregator",
		User:              "paperagg",
		Password:          "password",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    5 * time.Second,
	}

	db, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
	}
	return db
}
