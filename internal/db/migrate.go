// Package db applies the postgres schema with golang-migrate.
package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
)

const DefaultMigrationsPath = "migrations/postgres"

// Migrate applies all pending up migrations found in dir to the database at
// url. An already current schema is not an error.
func Migrate(dir, url string) error {
	if dir == "" {
		dir = DefaultMigrationsPath
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), url)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("[DB] Schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("[DB] Migrations applied", "version", version, "dirty", dirty)
	return nil
}
