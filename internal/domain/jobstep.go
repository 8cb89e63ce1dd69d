package domain

import (
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepScheduled StepStatus = "scheduled"
	StepStarted   StepStatus = "started"
	StepOK        StepStatus = "ok"
	StepFail      StepStatus = "fail"
	StepRejected  StepStatus = "rejected"
	StepEnd       StepStatus = "end"
)

// JobStep is one node execution within a Job.
type JobStep struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID  `gorm:"column:jobid;type:uuid;index;not null" json:"jobid"`
	Name      string     `gorm:"index;not null" json:"name"`
	Status    StepStatus `gorm:"index;not null" json:"status"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (JobStep) TableName() string { return "job_steps" }

// Duration reports the elapsed time of a completed step, truncated to
// seconds per the progress-logging requirement in spec §4.7.
func (s *JobStep) Duration() time.Duration {
	if s == nil || s.Start == nil || s.End == nil {
		return 0
	}
	return s.End.Sub(*s.Start).Truncate(time.Second)
}
