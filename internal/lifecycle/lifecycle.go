// Package lifecycle implements the job/step lifecycle manager (spec C4):
// job_start, job_end, step_start, step_status, and the duplicate/zombie
// check that start() consults before dispatching a step. Grounded on the
// teacher's jobs/runtime.Context guarded-update pattern
// (UpdateFieldsUnlessStatus), generalized from a single job_run row to the
// Job+JobStep relational pair.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/logger"
)

func jsonUnmarshalMap(b datatypes.JSON, v *map[string]int) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func jsonMarshalMap(m map[string]int) (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

type Manager struct {
	gw  *repos.Gateway
	cfg *config.Config
	log *logger.Logger
}

func NewManager(gw *repos.Gateway, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{gw: gw, cfg: cfg, log: log.With("component", "JobLifecycle")}
}

// JobStart implements spec §4.4 job_start: compose the job name from type
// and header, derive process_id, persist the Job, and inject jobid/
// process_id back into the header.
func (m *Manager) JobStart(ctx context.Context, jobType string, h *envelope.Header) (*domain.Job, error) {
	kv := headerKV(h)
	name := repos.ComposeJobName(jobType, kv)

	processID := h.ProcessID
	if processID == "" {
		processID = fmt.Sprintf("%d.%s", time.Now().UTC().Unix(), name)
	}

	// Args holds the duplicate-detection fingerprint JobRuns compares on.
	args := map[string]string{}
	for k, v := range map[string]string{"destination": h.Destination, "entity_id": h.EntityID, "source": h.Source} {
		if v != "" {
			args[k] = v
		}
	}
	argsB, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	j := &domain.Job{
		ID:          uuid.New(),
		Name:        name,
		Type:        jobType,
		ProcessID:   processID,
		Catalogue:   h.Catalogue,
		Collection:  h.Collection,
		Attribute:   h.Attribute,
		Application: h.Application,
		User:        h.User,
		Args:        datatypes.JSON(argsB),
		Status:      domain.JobStarted,
		Start:       time.Now().UTC(),
	}
	if err := m.gw.JobSave(ctx, j); err != nil {
		return nil, err
	}
	h.JobID = j.ID.String()
	h.ProcessID = processID
	return j, nil
}

func headerKV(h *envelope.Header) []string {
	if h == nil {
		return nil
	}
	var kv []string
	add := func(k, v string) {
		if v != "" {
			kv = append(kv, v)
		}
	}
	add("catalogue", h.Catalogue)
	add("collection", h.Collection)
	add("attribute", h.Attribute)
	add("application", h.Application)
	add("entity", h.Entity)
	add("source", h.Source)
	add("destination", h.Destination)
	return kv
}

// JobEnd implements spec §4.4 job_end.
func (m *Manager) JobEnd(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error {
	if jobID == uuid.Nil {
		return nil
	}
	return m.gw.JobEnd(ctx, jobID, status)
}

// StepStart implements spec §4.4 step_start: persist with
// status=scheduled and inject stepid into the header.
func (m *Manager) StepStart(ctx context.Context, jobID uuid.UUID, stepName string, h *envelope.Header) (*domain.JobStep, error) {
	s := &domain.JobStep{
		ID:     uuid.New(),
		JobID:  jobID,
		Name:   stepName,
		Status: domain.StepScheduled,
	}
	if err := m.gw.StepSave(ctx, s); err != nil {
		return nil, err
	}
	h.StepID = s.ID.String()
	return s, nil
}

// StepStatus implements spec §4.4 step_status.
func (m *Manager) StepStatus(ctx context.Context, jobID, stepID uuid.UUID, status domain.StepStatus) (*domain.JobStep, error) {
	return m.gw.StepStatus(ctx, jobID, stepID, status)
}

// IsDuplicate implements the job_runs duplicate/zombie check consulted by
// Workflow.start before dispatching (spec §4.1, §4.5). allowParallelZombie
// ignores matches whose owning worker has gone silent past the configured
// zombie threshold (spec §9 open question).
func (m *Manager) IsDuplicate(ctx context.Context, candidate *domain.Job, h *envelope.Header, allowParallelZombie bool) (*domain.Job, error) {
	args := repos.DuplicateArgs{
		Destination: h.Destination,
		EntityID:    h.EntityID,
		Source:      h.Source,
	}
	return m.gw.JobRuns(ctx, candidate, args, m.cfg.ZombieThreshold(), allowParallelZombie)
}

// JobGet fetches a job by id, used by handle_result to read the
// accumulated log_counts before merging in a new summary.
func (m *Manager) JobGet(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return m.gw.JobGet(ctx, id)
}

// AccumulateLogCounts merges a step result's summary.log_counts into the
// owning job's running total (spec §4.5 handle_result step 1).
func (m *Manager) AccumulateLogCounts(ctx context.Context, jobID uuid.UUID, summary *envelope.Summary) error {
	if summary == nil || len(summary.LogCounts) == 0 {
		return nil
	}
	job, err := m.gw.JobGet(ctx, jobID)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	if len(job.LogCounts) > 0 {
		_ = jsonUnmarshalMap(job.LogCounts, &counts)
	}
	for k, v := range summary.LogCounts {
		counts[k] += v
	}
	b, err := jsonMarshalMap(counts)
	if err != nil {
		return err
	}
	return m.gw.JobUpdate(ctx, jobID, map[string]any{"log_counts": b})
}

// LogDuration records a step's elapsed time and, when infoMsg is non-empty,
// that message as a second log row — spec §4.7's on_workflow_progress
// duration logging.
func (m *Manager) LogDuration(ctx context.Context, jobID uuid.UUID, step *domain.JobStep, infoMsg string) {
	if step == nil {
		return
	}
	msg := "step " + step.Name + " duration=" + strconv.FormatFloat(step.Duration().Seconds(), 'f', 3, 64) + "s"
	_ = m.gw.LogSave(ctx, &domain.Log{JobID: jobID, Level: "info", Message: msg})
	if infoMsg != "" {
		_ = m.gw.LogSave(ctx, &domain.Log{JobID: jobID, Level: "info", Message: infoMsg})
	}
}
