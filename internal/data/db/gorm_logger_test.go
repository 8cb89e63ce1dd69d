package db_test

import (
	"testing"

	gormlogger "gorm.io/gorm/logger"

	"github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/logger"
)

func TestGormLoggerLogModeReturnsIndependentCopy(t *testing.T) {
	log, err := logger.New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base := db.NewGormLogger(log)
	silent := base.LogMode(gormlogger.Silent)

	if base == silent {
		t.Fatalf("expected LogMode to return a distinct logger instance")
	}
}
