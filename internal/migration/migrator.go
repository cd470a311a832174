// Package migration runs the embedded SQL migrations for the SQL-backed
// embedding store. This package is internal and should not be imported by
// external projects.
package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations against a postgres DSN.
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// New creates a migrator for the given database URL.
func New(databaseURL string, logger *zap.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{
		m:      m,
		logger: logger.With(zap.String("component", "migration")),
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	if err := m.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migration: %w", err)
	}
	m.logger.Info("migration rolled back")
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migrator's connections.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}
