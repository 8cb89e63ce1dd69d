package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Log is an append-only informational/warning/error row produced by a job.
// JobID is nullable at the storage layer only in the sense that a log for a
// since-deleted job must be tolerated (see data/repos.Gateway.LogSave), never
// because a log can exist without having been attributed to a job at
// creation time.
type Log struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"column:jobid;type:uuid;index;not null" json:"jobid"`
	Level     string    `gorm:"index" json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (Log) TableName() string { return "logs" }

// AuditLog is an append-only record of an external request, keyed by
// source/destination/type for traceability.
type AuditLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Type        string         `json:"type"`
	RequestUUID string         `gorm:"column:request_uuid;index" json:"request_uuid"`
	Data        datatypes.JSON `json:"data,omitempty"`
	Timestamp   time.Time      `gorm:"index" json:"timestamp"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func jsonUnmarshal(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
