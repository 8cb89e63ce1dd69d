package repos

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gobflow/workflow-manager/internal/domain"
)

// StepSave inserts a new JobStep with status=scheduled (spec §4.4
// step_start).
func (g *Gateway) StepSave(ctx context.Context, s *domain.JobStep) error {
	return g.withReconnect(ctx, "step_save", func() error {
		if s.Status == "" {
			s.Status = domain.StepScheduled
		}
		return g.DB().WithContext(ctx).Create(s).Error
	})
}

func (g *Gateway) StepGet(ctx context.Context, id uuid.UUID) (*domain.JobStep, error) {
	var s domain.JobStep
	err := g.withReconnect(ctx, "step_get", func() error {
		return g.DB().WithContext(ctx).First(&s, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *Gateway) StepUpdate(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return g.withReconnect(ctx, "step_update", func() error {
		updates["updated_at"] = time.Now().UTC()
		return g.DB().WithContext(ctx).Model(&domain.JobStep{}).Where("id = ?", id).Updates(updates).Error
	})
}

// StepStatus implements spec §4.4 step_status: STARTED sets start=now;
// OK/FAIL/REJECTED set end=now, and FAIL additionally ends the owning job
// as failed. It logs no message itself; the dispatch loop's
// on_workflow_progress handler logs the failure detail separately through
// lifecycle.Manager.LogDuration.
func (g *Gateway) StepStatus(ctx context.Context, jobID, stepID uuid.UUID, status domain.StepStatus) (*domain.JobStep, error) {
	now := time.Now().UTC()
	updates := map[string]any{"status": string(status)}
	switch status {
	case domain.StepStarted:
		updates["start"] = now
	case domain.StepOK, domain.StepFail, domain.StepRejected:
		updates["end"] = now
	}
	if err := g.StepUpdate(ctx, stepID, updates); err != nil {
		return nil, err
	}

	var step domain.JobStep
	err := g.withReconnect(ctx, "step_get", func() error {
		return g.DB().WithContext(ctx).First(&step, "id = ?", stepID).Error
	})
	if err != nil {
		return nil, err
	}

	if status == domain.StepFail {
		// Best-effort: a concurrent orchestrator may have already ended
		// this job (spec §9 open question on FAIL-race ordering); a
		// second JobEnd is harmless since it only overwrites status/end.
		_ = g.JobEnd(ctx, jobID, domain.JobFailed)
	}
	return &step, nil
}
