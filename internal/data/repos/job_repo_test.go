package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/data/repos/testutil"
	"github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/domain"
)

func newGateway(t *testing.T, gdb *gorm.DB) *repos.Gateway {
	t.Helper()
	handle := &db.Handle{DB: gdb}
	cfg := &config.Config{ReconnectInterval: time.Millisecond}
	return repos.NewGateway(handle, cfg, testutil.Logger(t))
}

func TestJobSaveDefaultsStartAndStatus(t *testing.T) {
	gdb := testutil.Tx(t, testutil.DB(t))
	gw := newGateway(t, gdb)
	ctx := context.Background()

	j := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := gw.JobSave(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != domain.JobStarted {
		t.Fatalf("expected status=started, got %s", j.Status)
	}
	if j.Start.IsZero() {
		t.Fatalf("expected Start to be set")
	}

	got, err := gw.JobGet(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error on get: %v", err)
	}
	if got.Name != "import.test" {
		t.Fatalf("expected name import.test, got %s", got.Name)
	}
}

func TestJobEndSetsStatusAndEnd(t *testing.T) {
	gdb := testutil.Tx(t, testutil.DB(t))
	gw := newGateway(t, gdb)
	ctx := context.Background()

	j := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := gw.JobSave(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := gw.JobEnd(ctx, j.ID, domain.JobEnded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := gw.JobGet(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobEnded {
		t.Fatalf("expected status=ended, got %s", got.Status)
	}
	if got.End == nil {
		t.Fatalf("expected End to be set")
	}
}

func TestJobRunsFindsRunningDuplicate(t *testing.T) {
	gdb := testutil.Tx(t, testutil.DB(t))
	gw := newGateway(t, gdb)
	ctx := context.Background()

	existing := &domain.Job{
		ID: uuid.New(), Name: "import.meetbouten", Type: "import",
		Args: mustJSON(t, map[string]string{"destination": "d", "entity_id": "e", "source": "s"}),
	}
	if err := gw.JobSave(ctx, existing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	candidate := &domain.Job{ID: uuid.New(), Name: "import.meetbouten", Type: "import"}
	args := repos.DuplicateArgs{Destination: "d", EntityID: "e", Source: "s"}

	dup, err := gw.JobRuns(ctx, candidate, args, time.Hour, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup == nil || dup.ID != existing.ID {
		t.Fatalf("expected to find existing running job as duplicate")
	}
}

func TestJobRunsSkipsZombieWhenAllowed(t *testing.T) {
	gdb := testutil.Tx(t, testutil.DB(t))
	gw := newGateway(t, gdb)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-time.Hour)
	existing := &domain.Job{
		ID: uuid.New(), Name: "import.meetbouten", Type: "import", Start: stale,
		Args: mustJSON(t, map[string]string{"destination": "d", "entity_id": "e", "source": "s"}),
	}
	if err := gw.JobSave(ctx, existing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	candidate := &domain.Job{ID: uuid.New(), Name: "import.meetbouten", Type: "import"}
	args := repos.DuplicateArgs{Destination: "d", EntityID: "e", Source: "s"}

	dup, err := gw.JobRuns(ctx, candidate, args, time.Minute, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup != nil {
		t.Fatalf("expected zombie duplicate to be skipped when allowParallelZombie=true")
	}
}

func TestComposeJobNameJoinsNonWorkflowHeaderFields(t *testing.T) {
	name := repos.ComposeJobName("import", []string{"meetbouten", "workflow=skip-me", "ligplaatsen"})
	if name != "import.meetbouten.ligplaatsen" {
		t.Fatalf("unexpected job name: %s", name)
	}
}
