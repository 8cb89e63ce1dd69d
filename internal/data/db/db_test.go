package db_test

import (
	"context"
	"os"
	"testing"

	"github.com/gobflow/workflow-manager/internal/data/db"
)

func TestOpenSqliteIsConnectedAndDisconnect(t *testing.T) {
	h, err := db.Open(db.Config{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Disconnect()

	if !h.IsConnected(context.Background()) {
		t.Fatalf("expected a freshly opened handle to report connected")
	}

	h.Disconnect()
	if h.IsConnected(context.Background()) {
		t.Fatalf("expected a disconnected handle to report not connected")
	}
}

func TestIsConnectedFalseOnNilHandle(t *testing.T) {
	var h *db.Handle
	if h.IsConnected(context.Background()) {
		t.Fatalf("expected a nil handle to report not connected")
	}
}

// TestConnectAppliesMigrations exercises the real migration path. The
// embedded migrations are postgres-flavored (jsonb, uuid-ossp), so this
// only runs against a live postgres instance.
func TestConnectAppliesMigrations(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping migration test")
	}

	h, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Disconnect()

	if err := h.Connect(context.Background(), "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-running must be idempotent (migrate.ErrNoChange treated as success).
	if err := h.Connect(context.Background(), "", false); err != nil {
		t.Fatalf("unexpected error re-running migrations: %v", err)
	}
}
