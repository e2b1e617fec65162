package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregator-service/migrations"
)

const migrationsTable = "schema_migrations"

// MigrationStatus is the schema version recorded in schema_migrations.
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	// Pristine is true when no migration has ever been applied.
	Pristine bool `json:"pristine"`
}

// Migrator applies the papers schema.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // database/sql view of the pgx pool; closed with the migrator
	logger  zerolog.Logger
}

// NewMigrator opens a migrator on db. An empty dir selects the migrations
// embedded in the binary.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil || db.pool == nil {
		return nil, errors.New("migrator needs an open database")
	}

	sourceName, src, err := migrationSource(dir)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}

	var m *migrate.Migrate
	if src != nil {
		m, err = migrate.NewWithInstance(sourceName, src, "postgres", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(sourceName, "postgres", driver)
	}
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open migrator: %w", err)
	}

	logger = logger.With().Str("component", "migrator").Str("source", sourceName).Logger()
	return &Migrator{migrate: m, sqlDB: sqlDB, logger: logger}, nil
}

// migrationSource resolves dir to a file:// URL, or to an iofs driver over
// the embedded set when dir is empty.
func migrationSource(dir string) (string, source.Driver, error) {
	if dir == "" {
		d, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return "", nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return "iofs", d, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("migrations directory: %s is not a directory", dir)
	}
	return "file://" + dir, nil, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	return m.apply("up", m.migrate.Up)
}

// Down reverts every applied migration.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("reverting all migrations")
	return m.apply("down", m.migrate.Down)
}

// Steps moves n migrations forward, or backward when n is negative. Running
// past either end of the set is not an error.
func (m *Migrator) Steps(n int) error {
	err := m.apply(fmt.Sprintf("steps %d", n), func() error { return m.migrate.Steps(n) })
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info().Int("steps", n).Msg("no further migrations in that direction")
		return nil
	}
	return err
}

// Force records version as applied and clears the dirty flag without running
// anything. It is the recovery path after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing schema version")
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Status reports the current schema version.
func (m *Migrator) Status() (MigrationStatus, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{Pristine: true}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("read schema version: %w", err)
	}
	return MigrationStatus{Version: v, Dirty: dirty}, nil
}

func (m *Migrator) apply(action string, fn func() error) error {
	err := fn()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Info().Str("action", action).Msg("schema already current")
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	m.logger.Info().Str("action", action).Msg("migrations applied")
	return nil
}

// Close releases the migration source and the database/sql wrapper.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if m.sqlDB != nil {
		dbErr = errors.Join(dbErr, m.sqlDB.Close())
	}
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return nil
}
