// Package db owns the single database connection handle used by the
// storage gateway (spec C1) — an explicit value passed to every storage
// operation, not a module-level session, per the redesign note in
// SPEC_FULL.md §9. Dual sqlite/postgres driver support is grounded on
// arkeep's internal/db.New.
package db

import (
	"context"
	"database/sql"
	"fmt"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	// Registers itself as "sqlite" in database/sql (pure Go, no cgo).
	_ "modernc.org/sqlite"

	"github.com/gobflow/workflow-manager/internal/logger"
)

// Handle is the owned connection object threaded through the storage
// gateway. It is never a package-level variable: callers construct one at
// start-up and hold onto it.
type Handle struct {
	DB     *gorm.DB
	Driver string
	log    *logger.Logger
}

type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	Log    *logger.Logger
}

// Open establishes a fresh connection. It does not run migrations; callers
// must call Handle.Connect to advance the schema to head, matching the
// spec's split between is_connected/connect.
func Open(cfg Config) (*Handle, error) {
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: NewGormLogger(cfg.Log),
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		sqlDB, openErr := sql.Open("sqlite", cfg.DSN)
		if openErr != nil {
			return nil, fmt.Errorf("open sqlite: %w", openErr)
		}
		sqlDB.SetMaxOpenConns(1) // sqlite allows a single writer
		gdb, err = gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
	default:
		gdb, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "postgres" {
		sqlDB, sqlErr := gdb.DB()
		if sqlErr == nil {
			sqlDB.SetMaxOpenConns(20)
			sqlDB.SetMaxIdleConns(5)
		}
	}

	return &Handle{DB: gdb, Driver: cfg.Driver, log: cfg.Log}, nil
}

// IsConnected runs the trivial SELECT 1 the spec mandates for liveness.
func (h *Handle) IsConnected(ctx context.Context) bool {
	if h == nil || h.DB == nil {
		return false
	}
	return h.DB.WithContext(ctx).Exec("SELECT 1").Error == nil
}

// Disconnect disposes of the underlying connection pool so a subsequent
// Connect can establish a clean one.
func (h *Handle) Disconnect() {
	if h == nil || h.DB == nil {
		return
	}
	if sqlDB, err := h.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// advisoryLockID is a fixed 32-bit id used to serialize migrations across
// concurrent workflow-manager instances racing to advance the schema.
const advisoryLockID = 727_001

// Connect acquires the migration advisory lock (skipped, per spec, when
// forceMigrate is set), runs migrations to head, and releases the lock
// (the release runs with forceMigrate too). Only meaningful for postgres;
// sqlite migrations run unlocked since sqlite is single-writer by
// construction.
func (h *Handle) Connect(ctx context.Context, migrationsDir string, forceMigrate bool) error {
	if h.Driver == "postgres" {
		if !forceMigrate {
			if err := h.DB.Exec("SELECT pg_advisory_lock(?)", advisoryLockID).Error; err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}
		}
		defer h.DB.Exec("SELECT pg_advisory_unlock(?)", advisoryLockID)
	}
	return RunMigrations(h, migrationsDir)
}
