// Package tasks implements the task queue (spec C6): exploding one
// JobStep into a dependency graph of sub-tasks, dispatching each exactly
// once when its dependencies are satisfied, aggregating results, and
// reporting step-level completion. Dependency-prefix validation is
// grounded on the teacher's jobs/orchestrator/dag.go Kahn-style DAG
// validation, generalized from a one-shot ordering check into a
// persistent, resumable per-task dispatch loop.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gobflow/workflow-manager/internal/apperr"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/logger"
)

// Publisher is the minimal bus capability needed to dispatch task
// requests and publish group completion.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg *envelope.Envelope) error
}

type Queue struct {
	gw  *repos.Gateway
	pub Publisher
	log *logger.Logger
}

func NewQueue(gw *repos.Gateway, pub Publisher, log *logger.Logger) *Queue {
	return &Queue{gw: gw, pub: pub, log: log.With("component", "TaskQueue")}
}

// TaskDef is one entry of the contents.tasks list in an on_start_tasks
// message (spec §4.6).
type TaskDef struct {
	TaskName     string         `json:"task_name"`
	Dependencies []string       `json:"dependencies"`
	ExtraMsg     map[string]any `json:"extra_msg,omitempty"`
}

// StartTasksRequest is the decoded contents payload of an on_start_tasks
// message.
type StartTasksRequest struct {
	Tasks     []TaskDef      `json:"tasks"`
	KeyPrefix string         `json:"key_prefix"`
	ExtraMsg  map[string]any `json:"extra_msg,omitempty"`
}

// OnStartTasks implements spec §4.6 on_start_tasks.
func (q *Queue) OnStartTasks(ctx context.Context, msg *envelope.Envelope) error {
	jobID, err := uuid.Parse(msg.Header.JobID)
	if err != nil {
		return apperr.Validation("on_start_tasks", "missing or invalid jobid")
	}
	stepID, err := uuid.Parse(msg.Header.StepID)
	if err != nil {
		return apperr.Validation("on_start_tasks", "missing or invalid stepid")
	}
	if _, err := q.gw.StepGet(ctx, stepID); err != nil {
		return apperr.Validation("on_start_tasks", "step does not exist: "+msg.Header.StepID)
	}

	var req StartTasksRequest
	if err := json.Unmarshal(msg.Contents, &req); err != nil {
		return apperr.Validation("on_start_tasks", "invalid contents: "+err.Error())
	}

	if err := validateDependencyOrder(req.Tasks); err != nil {
		return err
	}

	for _, td := range req.Tasks {
		extra := mergeMaps(req.ExtraMsg, td.ExtraMsg)
		extraB, _ := json.Marshal(extra)
		depsB, _ := json.Marshal(td.Dependencies)
		headerExtraB, _ := json.Marshal(msg.Header.Extra)

		t := &domain.Task{
			ID:           uuid.New(),
			JobID:        jobID,
			StepID:       stepID,
			Name:         td.TaskName,
			Dependencies: datatypes.JSON(depsB),
			Status:       domain.TaskNew,
			KeyPrefix:    req.KeyPrefix,
			ProcessID:    msg.Header.ProcessID,
			ExtraMsg:     datatypes.JSON(extraB),
			ExtraHeader:  datatypes.JSON(headerExtraB),
		}
		if err := q.gw.TaskSave(ctx, t); err != nil {
			return err
		}
	}

	return q.queueFreeTasks(ctx, stepID)
}

// validateDependencyOrder enforces spec §4.6 step 3: task names unique,
// and every dependency must appear earlier in the list (a topological
// prefix), the same check the teacher's dag.go performs on stage lists
// before execution.
func validateDependencyOrder(tasks []TaskDef) error {
	seen := map[string]bool{}
	for _, t := range tasks {
		if seen[t.TaskName] {
			return apperr.Validation("on_start_tasks", "duplicate task_name: "+t.TaskName)
		}
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return apperr.Validation("on_start_tasks", fmt.Sprintf("task %s depends on %s which is not declared earlier", t.TaskName, dep))
			}
		}
		seen[t.TaskName] = true
	}
	return nil
}

func mergeMaps(a, b map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// queueFreeTasks implements spec §4.6 step 5: for every new task whose
// dependencies are all completed, attempt the advisory lock; the winner
// re-reads the row (another worker may have transitioned it first) and,
// if still new, publishes the task request and marks it queued.
func (q *Queue) queueFreeTasks(ctx context.Context, stepID uuid.UUID) error {
	all, err := q.gw.TasksForStep(ctx, stepID)
	if err != nil {
		return err
	}
	completed := map[string]bool{}
	for _, t := range all {
		if t.Status == domain.TaskCompleted {
			completed[t.Name] = true
		}
	}

	for i := range all {
		t := all[i]
		if t.Status != domain.TaskNew {
			continue
		}
		ready := true
		for _, dep := range t.DependencyNames() {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if err := q.dispatchOne(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) dispatchOne(ctx context.Context, t *domain.Task) error {
	won, err := q.gw.TaskLock(ctx, t.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	defer q.gw.TaskUnlock(ctx, t.ID)

	fresh, err := q.gw.TaskGet(ctx, t.ID)
	if err != nil {
		return err
	}
	if fresh.Status != domain.TaskNew {
		return nil // transitioned by another worker between list and lock
	}

	var extraMsg, extraHeader map[string]any
	_ = json.Unmarshal(fresh.ExtraMsg, &extraMsg)
	_ = json.Unmarshal(fresh.ExtraHeader, &extraHeader)

	out := envelope.New()
	out.Header.JobID = fresh.JobID.String()
	out.Header.StepID = fresh.StepID.String()
	out.Header.ProcessID = fresh.ProcessID
	out.Header.Extra = mergeMaps(extraHeader, map[string]any{"task_name": fresh.Name})
	out.Header.Extra["taskid"] = fresh.ID.String()
	for k, v := range extraMsg {
		out.Header.Extra[k] = v
	}

	if err := q.pub.Publish(ctx, "workflow", fresh.KeyPrefix+".task.request", out); err != nil {
		return err
	}

	now := time.Now().UTC()
	return q.gw.TaskUpdate(ctx, fresh.ID, map[string]any{"status": string(domain.TaskQueued), "start": now})
}

// OnTaskResult implements spec §4.6 on_task_result.
func (q *Queue) OnTaskResult(ctx context.Context, msg *envelope.Envelope) error {
	taskIDStr, _ := msg.Header.Extra["taskid"].(string)
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return apperr.Validation("on_task_result", "missing or invalid taskid")
	}
	t, err := q.gw.TaskGet(ctx, taskID)
	if err != nil {
		return err
	}

	summaryB, _ := json.Marshal(msg.Summary)
	now := time.Now().UTC()
	failed := msg.Summary != nil && len(msg.Summary.Errors) > 0
	status := domain.TaskCompleted
	if failed {
		status = domain.TaskFailed
	}
	if err := q.gw.TaskUpdate(ctx, t.ID, map[string]any{
		"status": string(status), "summary": datatypes.JSON(summaryB), "end": now,
	}); err != nil {
		return err
	}

	if failed {
		return q.abortGroup(ctx, t)
	}

	if err := q.queueFreeTasks(ctx, t.StepID); err != nil {
		return err
	}
	return q.maybeCompleteGroup(ctx, t.StepID)
}

// abortGroup implements spec §4.6's failure path: every remaining `new`
// sibling is locked, marked aborted, and unlocked, then the group
// completion message is published using any sibling as the header
// template.
func (q *Queue) abortGroup(ctx context.Context, failed *domain.Task) error {
	all, err := q.gw.TasksForStep(ctx, failed.StepID)
	if err != nil {
		return err
	}
	for i := range all {
		sib := all[i]
		if sib.Status != domain.TaskNew {
			continue
		}
		won, err := q.gw.TaskLock(ctx, sib.ID)
		if err != nil {
			return err
		}
		if !won {
			continue
		}
		err = q.gw.TaskUpdate(ctx, sib.ID, map[string]any{"status": string(domain.TaskAborted)})
		_ = q.gw.TaskUnlock(ctx, sib.ID)
		if err != nil {
			return err
		}
	}
	return q.publishGroupComplete(ctx, failed.StepID)
}

// maybeCompleteGroup publishes group completion once every task for the
// step has reached a terminal completed status.
func (q *Queue) maybeCompleteGroup(ctx context.Context, stepID uuid.UUID) error {
	all, err := q.gw.TasksForStep(ctx, stepID)
	if err != nil {
		return err
	}
	for _, t := range all {
		if t.Status != domain.TaskCompleted {
			return nil
		}
	}
	return q.publishGroupComplete(ctx, stepID)
}

func (q *Queue) publishGroupComplete(ctx context.Context, stepID uuid.UUID) error {
	all, err := q.gw.TasksForStep(ctx, stepID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}
	var warnings, errs []string
	var extraHeader map[string]any
	var extraMsg map[string]any
	keyPrefix := all[0].KeyPrefix
	for i := range all {
		t := &all[i]
		var s envelope.Summary
		if len(t.Summary) > 0 {
			_ = json.Unmarshal(t.Summary, &s)
		}
		warnings = append(warnings, s.Warnings...)
		errs = append(errs, s.Errors...)
		if extraHeader == nil {
			_ = json.Unmarshal(t.ExtraHeader, &extraHeader)
		}
		if extraMsg == nil {
			_ = json.Unmarshal(t.ExtraMsg, &extraMsg)
		}
	}

	out := envelope.New()
	out.Header.JobID = all[0].JobID.String()
	out.Header.StepID = stepID.String()
	out.Header.Extra = mergeMaps(extraHeader, extraMsg)
	out.Summary = &envelope.Summary{Warnings: warnings, Errors: errs}

	return q.pub.Publish(ctx, "workflow", keyPrefix+".task.complete", out)
}
