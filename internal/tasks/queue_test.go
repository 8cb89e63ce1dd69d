package tasks_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/data/repos/testutil"
	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/tasks"
)

type fakePublisher struct {
	published []published
}

type published struct {
	exchange, key string
	msg           *envelope.Envelope
}

func (f *fakePublisher) Publish(_ context.Context, exchange, key string, msg *envelope.Envelope) error {
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func newQueue(t *testing.T) (*tasks.Queue, *repos.Gateway, *fakePublisher) {
	t.Helper()
	gdb := testutil.Tx(t, testutil.DB(t))
	handle := &db.Handle{DB: gdb}
	cfg := &config.Config{ReconnectInterval: time.Millisecond}
	gw := repos.NewGateway(handle, cfg, testutil.Logger(t))
	pub := &fakePublisher{}
	return tasks.NewQueue(gw, pub, testutil.Logger(t)), gw, pub
}

func seedJobAndStep(t *testing.T, gw *repos.Gateway, ctx context.Context) (uuid.UUID, uuid.UUID) {
	t.Helper()
	job := &domain.Job{ID: uuid.New(), Name: "import.test", Type: "import"}
	if err := gw.JobSave(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := &domain.JobStep{ID: uuid.New(), JobID: job.ID, Name: "tasks"}
	if err := gw.StepSave(ctx, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return job.ID, step.ID
}

func startTasksMsg(t *testing.T, jobID, stepID uuid.UUID, req tasks.StartTasksRequest) *envelope.Envelope {
	t.Helper()
	msg := envelope.New()
	msg.Header.JobID = jobID.String()
	msg.Header.StepID = stepID.String()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg.Contents = b
	return msg
}

func TestOnStartTasksQueuesOnlyRootTasks(t *testing.T) {
	q, gw, pub := newQueue(t)
	ctx := context.Background()
	jobID, stepID := seedJobAndStep(t, gw, ctx)

	req := tasks.StartTasksRequest{
		KeyPrefix: "ingest",
		Tasks: []tasks.TaskDef{
			{TaskName: "fetch"},
			{TaskName: "transform", Dependencies: []string{"fetch"}},
		},
	}

	if err := q.OnStartTasks(ctx, startTasksMsg(t, jobID, stepID, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected only the dependency-free task to be dispatched, got %d publishes", len(pub.published))
	}
	if pub.published[0].key != "ingest.task.request" {
		t.Fatalf("unexpected routing key: %s", pub.published[0].key)
	}
}

func TestOnStartTasksRejectsOutOfOrderDependency(t *testing.T) {
	q, gw, _ := newQueue(t)
	ctx := context.Background()
	jobID, stepID := seedJobAndStep(t, gw, ctx)

	req := tasks.StartTasksRequest{
		Tasks: []tasks.TaskDef{
			{TaskName: "transform", Dependencies: []string{"fetch"}},
			{TaskName: "fetch"},
		},
	}

	if err := q.OnStartTasks(ctx, startTasksMsg(t, jobID, stepID, req)); err == nil {
		t.Fatalf("expected an error for a dependency declared before its own task")
	}
}

func TestOnStartTasksRejectsUnknownStep(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()

	req := tasks.StartTasksRequest{Tasks: []tasks.TaskDef{{TaskName: "fetch"}}}
	msg := startTasksMsg(t, uuid.New(), uuid.New(), req)

	if err := q.OnStartTasks(ctx, msg); err == nil {
		t.Fatalf("expected an error for a step that does not exist")
	}
}

func TestOnTaskResultQueuesDependentAfterParentCompletes(t *testing.T) {
	q, gw, pub := newQueue(t)
	ctx := context.Background()
	jobID, stepID := seedJobAndStep(t, gw, ctx)

	req := tasks.StartTasksRequest{
		KeyPrefix: "ingest",
		Tasks: []tasks.TaskDef{
			{TaskName: "fetch"},
			{TaskName: "transform", Dependencies: []string{"fetch"}},
		},
	}
	if err := q.OnStartTasks(ctx, startTasksMsg(t, jobID, stepID, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish after start, got %d", len(pub.published))
	}

	all, err := gw.TasksForStep(ctx, stepID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fetchID uuid.UUID
	for _, tk := range all {
		if tk.Name == "fetch" {
			fetchID = tk.ID
		}
	}

	resultMsg := envelope.New()
	resultMsg.Header.Extra = map[string]any{"taskid": fetchID.String()}
	if err := q.OnTaskResult(ctx, resultMsg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.published) != 2 {
		t.Fatalf("expected transform to be dispatched once fetch completes, got %d publishes", len(pub.published))
	}
	if pub.published[1].key != "ingest.task.request" {
		t.Fatalf("unexpected routing key for dependent dispatch: %s", pub.published[1].key)
	}
}

func TestOnTaskResultFailureAbortsSiblingsAndPublishesGroupComplete(t *testing.T) {
	q, gw, pub := newQueue(t)
	ctx := context.Background()
	jobID, stepID := seedJobAndStep(t, gw, ctx)

	req := tasks.StartTasksRequest{
		KeyPrefix: "ingest",
		Tasks: []tasks.TaskDef{
			{TaskName: "fetch"},
			{TaskName: "validate", Dependencies: []string{"fetch"}},
		},
	}
	if err := q.OnStartTasks(ctx, startTasksMsg(t, jobID, stepID, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := gw.TasksForStep(ctx, stepID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fetchID uuid.UUID
	for _, tk := range all {
		if tk.Name == "fetch" {
			fetchID = tk.ID
		}
	}

	resultMsg := envelope.New()
	resultMsg.Header.Extra = map[string]any{"taskid": fetchID.String()}
	resultMsg.Summary = &envelope.Summary{Errors: []string{"boom"}}
	if err := q.OnTaskResult(ctx, resultMsg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err = gw.TasksForStep(ctx, stepID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tk := range all {
		if tk.Name == "validate" && tk.Status != domain.TaskAborted {
			t.Fatalf("expected sibling validate task to be aborted, got %s", tk.Status)
		}
	}

	found := false
	for _, p := range pub.published {
		if p.key == "ingest.task.complete" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a group-complete publish after abort")
	}
}
