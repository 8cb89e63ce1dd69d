package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending up-migrations embedded in the binary,
// grounded on arkeep's internal/db.runMigrations. ErrNoChange is success.
func RunMigrations(h *Handle, _ string) error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := newMigrator(sqlDB, h.Driver, src)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if h.log != nil {
		h.log.Info("database migrations applied", "driver", h.Driver)
	}
	return nil
}

func newMigrator(sqlDB *sql.DB, driver string, src source.Driver) (*migrate.Migrate, error) {
	switch driver {
	case "sqlite":
		drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("sqlite migrate driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite", drv)
	default:
		drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("postgres migrate driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "postgres", drv)
	}
}
