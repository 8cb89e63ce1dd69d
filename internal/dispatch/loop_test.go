package dispatch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gobflow/workflow-manager/internal/bus"
	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/data/repos/testutil"
	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/lifecycle"
	"github.com/gobflow/workflow-manager/internal/service"
	"github.com/gobflow/workflow-manager/internal/tasks"
	"github.com/gobflow/workflow-manager/internal/workflow"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	gdb := testutil.Tx(t, testutil.DB(t))
	handle := &db.Handle{DB: gdb}
	cfg := &config.Config{
		ReconnectInterval: time.Millisecond,
		HeartbeatInterval: time.Minute,
		DeadMultiplier:    2,
		RemoveMultiplier:  4,
	}
	log := testutil.Logger(t)
	gw := repos.NewGateway(handle, cfg, log)
	life := lifecycle.NewManager(gw, cfg, log)
	reg := workflow.NewRegistry()
	b := bus.New("127.0.0.1:0", 0, log)
	q := tasks.NewQueue(gw, b, log)
	mon, err := service.NewMonitor(gw, cfg, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewLoop(b, gw, life, reg, q, mon, log)
}

func TestBindingsCoverAllEightQueues(t *testing.T) {
	l := newLoop(t)
	bindings := l.bindings()
	if len(bindings) != 8 {
		t.Fatalf("expected 8 bindings per spec §4.7, got %d", len(bindings))
	}
	want := map[string]string{
		"JOBSTEP_RESULT_QUEUE": "*.result",
		"WORKFLOW_QUEUE":       "workflow.request",
		"LOG_QUEUE":            "log.save",
		"AUDIT_LOG_QUEUE":      "audit_log.save",
		"HEARTBEAT_QUEUE":      "heartbeat",
		"PROGRESS_QUEUE":       "workflow.progress",
		"TASK_QUEUE":           "*.task.request",
		"TASK_RESULT_QUEUE":    "*.task.result",
	}
	for _, b := range bindings {
		rk, ok := want[b.queue]
		if !ok {
			t.Fatalf("unexpected queue in bindings table: %s", b.queue)
		}
		if rk != b.routingKey {
			t.Fatalf("queue %s: expected routing key %s, got %s", b.queue, rk, b.routingKey)
		}
		if b.handler == nil {
			t.Fatalf("queue %s: expected a non-nil handler", b.queue)
		}
		delete(want, b.queue)
	}
	if len(want) != 0 {
		t.Fatalf("missing bindings for: %v", want)
	}
}

func TestSaveLogPersistsDecodedContents(t *testing.T) {
	l := newLoop(t)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := l.gw.JobSave(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := envelope.New()
	msg.Header.JobID = job.ID.String()
	msg.Contents = []byte(`{"level":"info","message":"hello"}`)

	if err := l.saveLog(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveLogRejectsMissingJobID(t *testing.T) {
	l := newLoop(t)
	msg := envelope.New()
	msg.Contents = []byte(`{"level":"info","message":"hello"}`)

	if err := l.saveLog(context.Background(), msg); err == nil {
		t.Fatalf("expected error for a log message with no jobid")
	}
}

func TestSaveAuditLogPersistsDecodedContents(t *testing.T) {
	l := newLoop(t)
	msg := envelope.New()
	msg.Header.Source = "api"
	msg.Header.Destination = "workflow-manager"
	msg.Contents = []byte(`{"type":"import","request_uuid":"r-1","data":{"k":"v"}}`)

	if err := l.saveAuditLog(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOnWorkflowProgressOKDoesNotFailJob(t *testing.T) {
	l := newLoop(t)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := l.gw.JobSave(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := &domain.JobStep{ID: uuid.New(), JobID: job.ID, Name: "read"}
	if err := l.gw.StepSave(ctx, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := envelope.New()
	msg.Header.JobID = job.ID.String()
	msg.Header.StepID = step.ID.String()
	msg.Status = "OK"

	if err := l.onWorkflowProgress(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := l.gw.JobGet(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStarted {
		t.Fatalf("expected job to remain started, got %s", got.Status)
	}
}

func TestOnWorkflowProgressFailEndsJob(t *testing.T) {
	l := newLoop(t)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := l.gw.JobSave(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := &domain.JobStep{ID: uuid.New(), JobID: job.ID, Name: "read"}
	if err := l.gw.StepSave(ctx, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := envelope.New()
	msg.Header.JobID = job.ID.String()
	msg.Header.StepID = step.ID.String()
	msg.Status = "FAIL"
	msg.InfoMsg = "boom"
	msg.Summary = &envelope.Summary{Errors: []string{"boom"}}

	if err := l.onWorkflowProgress(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := l.gw.JobGet(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobFailed {
		t.Fatalf("expected job to be failed, got %s", got.Status)
	}
}

// TestTracedRedirectsOnResultKey requires a live Redis, since traced()
// publishes through the concrete *bus.Bus rather than an interface seam.
func TestTracedRedirectsOnResultKey(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping bus-backed dispatch test")
	}

	l := newLoop(t)
	l.bus = bus.New(addr, 0, testutil.Logger(t))
	defer l.bus.Close()

	called := false
	wrapped := l.traced("TEST_QUEUE", func(ctx context.Context, msg *envelope.Envelope) error {
		called = true
		return nil
	})

	msg := envelope.New()
	msg.Header.ResultKey = "some.redirect.key"
	if err := wrapped(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected the inner handler to be skipped when result_key redirects")
	}
}
