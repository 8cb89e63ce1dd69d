package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskNew       TaskStatus = "new"
	TaskQueued    TaskStatus = "queued"
	TaskCompleted TaskStatus = "completed"
	TaskAborted   TaskStatus = "aborted"
	TaskFailed    TaskStatus = "failed"
)

// Task is one leaf unit of work inside a JobStep, with a declared
// dependency list (other task names within the same step) that the task
// queue (C6) must have completed before this one may be dispatched.
type Task struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID        uuid.UUID      `gorm:"column:jobid;type:uuid;index;not null" json:"jobid"`
	StepID       uuid.UUID      `gorm:"column:stepid;type:uuid;index;not null" json:"stepid"`
	Name         string         `gorm:"index;not null" json:"name"`
	Dependencies datatypes.JSON `json:"dependencies,omitempty"`
	Status       TaskStatus     `gorm:"index;not null" json:"status"`
	Lock         *int64         `json:"lock,omitempty"`
	KeyPrefix    string         `gorm:"column:key_prefix" json:"key_prefix"`
	ProcessID    string         `gorm:"column:process_id" json:"process_id"`
	ExtraMsg     datatypes.JSON `gorm:"column:extra_msg" json:"extra_msg,omitempty"`
	ExtraHeader  datatypes.JSON `gorm:"column:extra_header" json:"extra_header,omitempty"`
	Summary      datatypes.JSON `json:"summary,omitempty"`
	Start        *time.Time     `json:"start,omitempty"`
	End          *time.Time     `json:"end,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// DependencyNames decodes the JSON-encoded dependency list.
func (t *Task) DependencyNames() []string {
	if t == nil || len(t.Dependencies) == 0 {
		return nil
	}
	var out []string
	_ = jsonUnmarshal(t.Dependencies, &out)
	return out
}
