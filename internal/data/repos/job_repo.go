package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gobflow/workflow-manager/internal/domain"
)

// JobSave persists a new Job with status=started (spec I1: the job row
// exists with status=started immediately after job_start).
func (g *Gateway) JobSave(ctx context.Context, j *domain.Job) error {
	return g.withReconnect(ctx, "job_save", func() error {
		if j.Start.IsZero() {
			j.Start = time.Now().UTC()
		}
		if j.Status == "" {
			j.Status = domain.JobStarted
		}
		return g.DB().WithContext(ctx).Create(j).Error
	})
}

// JobUpdate applies arbitrary field updates to a job row by id.
func (g *Gateway) JobUpdate(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return g.withReconnect(ctx, "job_update", func() error {
		updates["updated_at"] = time.Now().UTC()
		return g.DB().WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error
	})
}

// JobEnd sets end=now and the terminal status, per spec §4.4 job_end.
func (g *Gateway) JobEnd(ctx context.Context, id uuid.UUID, status domain.JobStatus) error {
	now := time.Now().UTC()
	return g.JobUpdate(ctx, id, map[string]any{"status": string(status), "end": now})
}

func (g *Gateway) JobGet(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var j domain.Job
	err := g.withReconnect(ctx, "job_get", func() error {
		return g.DB().WithContext(ctx).First(&j, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// DuplicateArgs is the fingerprint used by job_runs to detect an
// already-running job of the same shape (spec §4.1).
type DuplicateArgs struct {
	Destination string
	EntityID    string
	Source      string
}

// JobRuns implements the spec's duplicate-detection query: among rows
// matching type/catalogue/collection/attribute/application with a
// compatible args fingerprint and end IS NULL, excluding the current job,
// pick the most recent by start. allowParallelZombie causes zombie matches
// (see domain.Job.IsZombie) to be skipped rather than treated as a block.
func (g *Gateway) JobRuns(ctx context.Context, candidate *domain.Job, args DuplicateArgs, zombieThreshold time.Duration, allowParallelZombie bool) (*domain.Job, error) {
	var rows []domain.Job
	err := g.withReconnect(ctx, "job_runs", func() error {
		q := g.DB().WithContext(ctx).
			Where("type = ? AND \"end\" IS NULL AND id <> ?", candidate.Type, candidate.ID).
			Where("catalogue = ? AND collection = ? AND attribute = ? AND application = ?",
				candidate.Catalogue, candidate.Collection, candidate.Attribute, candidate.Application)
		return q.Order("start DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range rows {
		row := &rows[i]
		if !argsMatch(row.Args, args) {
			continue
		}
		if row.IsZombie(zombieThreshold, now) {
			if allowParallelZombie {
				continue
			}
		}
		return row, nil
	}
	return nil, nil
}

func argsMatch(stored datatypes.JSON, want DuplicateArgs) bool {
	if len(stored) == 0 {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(stored, &m); err != nil {
		return false
	}
	match := func(key, want string) bool {
		if want == "" {
			return true
		}
		v, ok := m[key]
		return ok && fmt.Sprint(v) == want
	}
	return match("destination", want.Destination) && match("entity_id", want.EntityID) && match("source", want.Source)
}

// ComposeJobName derives the Job.Name per spec §4.4: type plus every
// non-workflow header key/value joined with dots, in header iteration
// order; callers pass a stable ordered slice to keep the name
// deterministic across repeated dispatch (map iteration order is not).
func ComposeJobName(jobType string, headerKV []string) string {
	parts := make([]string, 0, len(headerKV)+1)
	parts = append(parts, jobType)
	for _, kv := range headerKV {
		if kv == "" || strings.HasPrefix(kv, "workflow=") {
			continue
		}
		parts = append(parts, kv)
	}
	return strings.Join(parts, ".")
}
