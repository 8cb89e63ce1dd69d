// Package testutil provides the shared test-database bootstrap for
// internal/data/repos tests, grounded on the teacher's testutil package
// (once-initialized db.Tx rollback fixture). Unlike the teacher, which
// required TEST_POSTGRES_DSN and skipped otherwise, DB here falls back to
// an in-memory sqlite database when TEST_POSTGRES_DSN is unset, so the
// storage-gateway test suite runs without any external service.
package testutil

import (
	"database/sql"
	"os"
	"sync"
	"testing"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	// Registers itself as "sqlite" in database/sql (pure Go, no cgo).
	_ "modernc.org/sqlite"

	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/logger"
)

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a shared, schema-migrated test database: postgres if
// TEST_POSTGRES_DSN is set, otherwise an in-memory sqlite database.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn != "" {
			var err error
			db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
				DisableForeignKeyConstraintWhenMigrating: true,
				Logger: gormLogger.Default.LogMode(gormLogger.Silent),
			})
			if err != nil {
				dbErr = err
				return
			}
			if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
				dbErr = err
				return
			}
		} else {
			sqlDB, err := sql.Open("sqlite", "file::memory:?cache=shared")
			if err != nil {
				dbErr = err
				return
			}
			sqlDB.SetMaxOpenConns(1)
			db, err = gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
				DisableForeignKeyConstraintWhenMigrating: true,
				Logger: gormLogger.Default.LogMode(gormLogger.Silent),
			})
			if err != nil {
				dbErr = err
				return
			}
		}

		if err := autoMigrateAll(db); err != nil {
			dbErr = err
			return
		}
	})

	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

// Tx opens a transaction against db and rolls it back when the test ends,
// so repo tests never leak rows into the next test's view of the table.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Job{},
		&domain.JobStep{},
		&domain.Task{},
		&domain.Service{},
		&domain.ServiceTask{},
		&domain.Log{},
		&domain.AuditLog{},
	)
}
