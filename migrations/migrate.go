// Package migrations applies the SQLite schema for the magpied daemon.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// RunMigrations brings the database up to the latest schema version,
// reading migration files from migrationsPath.
func RunMigrations(db *sql.DB, migrationsPath string, logger zerolog.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	logger.Info().Str("path", migrationsPath).Msg("Applying database migrations")
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info().Msg("Database schema is up to date")
	case err != nil:
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, manual repair required", version)
	}
	logger.Info().Uint("version", version).Msg("Database schema ready")
	return nil
}
