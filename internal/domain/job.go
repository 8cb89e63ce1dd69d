// Package domain holds the GORM-backed data model: Job, JobStep, Task,
// Service, ServiceTask, Log and AuditLog, grounded on the teacher's
// domain/jobs.JobRun style (plain uuid.UUID primary keys generated via
// Postgres' uuid_generate_v4(), datatypes.JSON for free-form payloads).
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStarted JobStatus = "started"
	JobEnded   JobStatus = "ended"
	JobFailed  JobStatus = "failed"
	JobRejected JobStatus = "rejected"
)

// Job is one execution of a named workflow.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string         `gorm:"index;not null" json:"name"`
	Type        string         `gorm:"index;not null" json:"type"`
	ProcessID   string         `gorm:"column:process_id;index" json:"process_id"`
	Catalogue   string         `json:"catalogue,omitempty"`
	Collection  string         `json:"collection,omitempty"`
	Attribute   string         `json:"attribute,omitempty"`
	Application string         `json:"application,omitempty"`
	User        string         `json:"user,omitempty"`
	Args        datatypes.JSON `json:"args,omitempty"`
	LogCounts   datatypes.JSON `gorm:"column:log_counts" json:"log_counts,omitempty"`
	Start       time.Time      `json:"start"`
	End         *time.Time     `json:"end,omitempty"`
	Status      JobStatus      `gorm:"index;not null" json:"status"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// IsZombie reports whether a still-"started" job's last heartbeat is older
// than the supplied threshold, i.e. its owning worker has gone silent.
// Spec open question: the exact threshold is a config knob, defaulted to
// 2x HEARTBEAT_INTERVAL (config.Config.ZombieThreshold).
func (j *Job) IsZombie(threshold time.Duration, now time.Time) bool {
	if j == nil || j.Status != JobStarted {
		return false
	}
	if j.HeartbeatAt == nil {
		return now.Sub(j.Start) > threshold
	}
	return now.Sub(*j.HeartbeatAt) > threshold
}
