package repos

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gobflow/workflow-manager/internal/apperr"
	"github.com/gobflow/workflow-manager/internal/domain"
)

// TaskSave inserts a new Task with status=new, asserting (spec R1) that no
// task of the same name already exists within the step.
func (g *Gateway) TaskSave(ctx context.Context, t *domain.Task) error {
	return g.withReconnect(ctx, "task_save", func() error {
		if t.Status == "" {
			t.Status = domain.TaskNew
		}
		var count int64
		if err := g.DB().WithContext(ctx).Model(&domain.Task{}).
			Where("stepid = ? AND name = ?", t.StepID, t.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Validation("task_save", "task already exists for step: "+t.Name)
		}
		return g.DB().WithContext(ctx).Create(t).Error
	})
}

func (g *Gateway) TaskUpdate(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return g.withReconnect(ctx, "task_update", func() error {
		updates["updated_at"] = time.Now().UTC()
		return g.DB().WithContext(ctx).Model(&domain.Task{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (g *Gateway) TaskGet(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var t domain.Task
	err := g.withReconnect(ctx, "task_get", func() error {
		return g.DB().WithContext(ctx).First(&t, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskLock is the atomic advisory lock spec §4.1 mandates: an
// UPDATE ... WHERE lock IS NULL returning whether a row was actually
// claimed. Only the caller that wins may proceed to dispatch the task.
func (g *Gateway) TaskLock(ctx context.Context, id uuid.UUID) (bool, error) {
	var won bool
	err := g.withReconnect(ctx, "task_lock", func() error {
		now := time.Now().UTC().Unix()
		res := g.DB().WithContext(ctx).Model(&domain.Task{}).
			Where("id = ? AND lock IS NULL", id).
			Update("lock", now)
		if res.Error != nil {
			return res.Error
		}
		won = res.RowsAffected > 0
		return nil
	})
	return won, err
}

// TaskUnlock releases a held lock. The spec requires the row to have been
// locked at unlock time; finding it already unlocked is a caller bug.
func (g *Gateway) TaskUnlock(ctx context.Context, id uuid.UUID) error {
	return g.withReconnect(ctx, "task_unlock", func() error {
		res := g.DB().WithContext(ctx).Model(&domain.Task{}).
			Where("id = ? AND lock IS NOT NULL", id).
			Update("lock", nil)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Validation("task_unlock", "task was not locked: "+id.String())
		}
		return nil
	})
}

// TasksForStep lists every task belonging to a step, ordered by creation so
// dependency-prefix validation can rely on insertion order.
func (g *Gateway) TasksForStep(ctx context.Context, stepID uuid.UUID) ([]domain.Task, error) {
	var tasks []domain.Task
	err := g.withReconnect(ctx, "tasks_for_step", func() error {
		return g.DB().WithContext(ctx).
			Where("stepid = ?", stepID).
			Order("created_at ASC").
			Find(&tasks).Error
	})
	return tasks, err
}
