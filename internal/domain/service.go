package domain

import (
	"time"

	"github.com/google/uuid"
)

// Service is a live worker process, upserted by (host, name) on every
// heartbeat message. Host tolerates empty string for backward
// compatibility with workers that don't report one.
type Service struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string    `gorm:"index;not null" json:"name"`
	Host      string    `gorm:"index" json:"host"`
	PID       int       `gorm:"column:pid" json:"pid"`
	IsAlive   bool      `gorm:"column:is_alive" json:"is_alive"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Service) TableName() string { return "services" }

// ServiceTask is a thread within a Service. A nil ServiceID means the task
// has been detached from its owning service (no longer reported, or the
// service was marked dead). Detached rows are not deleted: the periodic
// sweep handles Service rows only.
type ServiceTask struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ServiceID *uuid.UUID `gorm:"column:service_id;type:uuid;index" json:"service_id,omitempty"`
	Name      string     `gorm:"index;not null" json:"name"`
	IsAlive   bool       `gorm:"column:is_alive" json:"is_alive"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ServiceTask) TableName() string { return "service_tasks" }
