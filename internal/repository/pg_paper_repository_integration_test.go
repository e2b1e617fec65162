//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/database"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// setupPostgres starts a disposable PostgreSQL container and applies the
// embedded migrations.
func setupPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("paper_aggregator"),
		postgres.WithUsername("paperagg"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.DatabaseConfig{
		Host:              host,
		Port:              port.Int(),
		User:              "paperagg",
		Password:          "password",
		Name:              "paper_aggregator",
		SSLMode:           "disable",
		MaxConns:          4,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}

	logger := zerolog.Nop()
	db, err := database.New(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrator, err := database.NewMigrator(db, "", logger)
	require.NoError(t, err)
	defer migrator.Close()
	require.NoError(t, migrator.Up())

	return db
}

func TestPgPaperRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	repo := NewPgPaperRepository(db)
	ctx := context.Background()

	arxivScope := domain.Scope{Source: domain.SourceTypeArXiv, Category: "cs.CL"}
	scholarScope := domain.Scope{Source: domain.SourceTypeGoogleScholar, Category: "Google Scholar"}

	first := newTestPaper("2401.00001v1")
	scholar := newTestScholarPaper("Deep Learning", "https://nature.com/dl")

	t.Run("insert then find", func(t *testing.T) {
		results := repo.InsertMany(ctx, []*domain.PaperRecord{first, scholar})
		require.Len(t, results, 2)
		require.NoError(t, results[0])
		require.NoError(t, results[1])

		found, err := repo.FindExisting(ctx, arxivScope, first.LookupKeys())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, first.ID, found[0].ID)
		assert.Equal(t, first.Authors, found[0].Authors)
		assert.Equal(t, first.Keywords, found[0].Keywords)
	})

	t.Run("second insert of the same identity is a conflict", func(t *testing.T) {
		again := newTestPaper("2401.00001v1")
		results := repo.InsertMany(ctx, []*domain.PaperRecord{again, newTestPaper("2401.00002v1")})

		assert.ErrorIs(t, results[0], domain.ErrAlreadyExists)
		assert.NoError(t, results[1])

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("scholar matches by title or link", func(t *testing.T) {
		byTitle := newTestScholarPaper("deep   learning", "")
		found, err := repo.FindExisting(ctx, scholarScope, byTitle.LookupKeys())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, scholar.ID, found[0].ID)

		byLink := newTestScholarPaper("A Different Title", "https://nature.com/dl")
		found, err = repo.FindExisting(ctx, scholarScope, byLink.LookupKeys())
		require.NoError(t, err)
		require.Len(t, found, 1)
	})

	t.Run("update keeps fetch timestamp", func(t *testing.T) {
		changed := first.Clone()
		changed.Title = "Attention Is All You Need (revised)"
		changed.LastUpdated = first.LastUpdated.Add(time.Hour)

		require.NoError(t, repo.UpdateMutable(ctx, first.ID, changed))

		found, err := repo.FindExisting(ctx, arxivScope, first.LookupKeys())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, changed.Title, found[0].Title)
		assert.True(t, first.FetchTimestamp.Equal(found[0].FetchTimestamp))
		assert.True(t, changed.LastUpdated.Equal(found[0].LastUpdated))
	})

	t.Run("counts by source", func(t *testing.T) {
		counts, err := repo.CountBySource(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[domain.SourceTypeArXiv])
		assert.Equal(t, int64(1), counts[domain.SourceTypeGoogleScholar])
	})

	t.Run("advisory run lock", func(t *testing.T) {
		lock := database.NewAdvisoryRunLock(db, 1234, zerolog.Nop())
		release, err := lock.TryAcquire(ctx)
		require.NoError(t, err)

		_, err = database.NewAdvisoryRunLock(db, 1234, zerolog.Nop()).TryAcquire(ctx)
		assert.ErrorIs(t, err, domain.ErrRunInProgress)
		release()
	})
}
