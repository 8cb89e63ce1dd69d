package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gobflow/workflow-manager/internal/apperr"
	"github.com/gobflow/workflow-manager/internal/domain"
)

// HeartbeatThread is the per-thread liveness report nested in a heartbeat
// message (spec §6).
type HeartbeatThread struct {
	Name    string
	IsAlive bool
}

// ServiceUpdate upserts the Service keyed by (host, name), tolerating an
// empty host, then reconciles its ServiceTasks: insert missing, update
// is_alive for existing, detach (service_id=nil) any task present in
// storage but absent from this heartbeat (spec §4.2 steps 1-2).
func (g *Gateway) ServiceUpdate(ctx context.Context, name, host string, pid int, isAlive bool, timestamp time.Time, threads []HeartbeatThread) (*domain.Service, error) {
	// A worker reporting is_alive=false carries no meaningful thread list
	// (_examples/original_source/src/gobworkflow/heartbeats.py: "service_tasks
	// = {} if not service['is_alive'] else ..."): every existing ServiceTask
	// is detached below, same as the periodic sweep's MarkServiceDead.
	if !isAlive {
		threads = nil
	}
	var svc domain.Service
	err := g.withReconnect(ctx, "service_update", func() error {
		return g.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Where("host = ? AND name = ?", host, name).First(&svc).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				svc = domain.Service{Name: name, Host: host, PID: pid, IsAlive: isAlive, Timestamp: timestamp}
				if err := tx.Create(&svc).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				svc.PID = pid
				svc.IsAlive = isAlive
				svc.Timestamp = timestamp
				if err := tx.Save(&svc).Error; err != nil {
					return err
				}
			}

			var existing []domain.ServiceTask
			if err := tx.Where("service_id = ?", svc.ID).Find(&existing).Error; err != nil {
				return err
			}
			seen := make(map[string]bool, len(threads))
			byName := make(map[string]domain.ServiceTask, len(existing))
			for _, t := range existing {
				byName[t.Name] = t
			}
			for _, th := range threads {
				seen[th.Name] = true
				if cur, ok := byName[th.Name]; ok {
					if cur.IsAlive != th.IsAlive {
						if err := tx.Model(&domain.ServiceTask{}).Where("id = ?", cur.ID).
							Update("is_alive", th.IsAlive).Error; err != nil {
							return err
						}
					}
					continue
				}
				nt := domain.ServiceTask{ServiceID: &svc.ID, Name: th.Name, IsAlive: th.IsAlive}
				if err := tx.Create(&nt).Error; err != nil {
					return err
				}
			}
			for _, t := range existing {
				if seen[t.Name] {
					continue
				}
				if err := tx.Model(&domain.ServiceTask{}).Where("id = ?", t.ID).
					Update("service_id", nil).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// ServicesAll lists every Service, for the periodic sweep pass (spec §4.2
// step 3).
func (g *Gateway) ServicesAll(ctx context.Context) ([]domain.Service, error) {
	var out []domain.Service
	err := g.withReconnect(ctx, "services_all", func() error {
		return g.DB().WithContext(ctx).Find(&out).Error
	})
	return out, err
}

// MarkServiceDead sets is_alive=false and detaches all its ServiceTasks,
// tolerating the object-deletion race where the row was concurrently
// removed by another orchestrator instance (spec §4.2 step 4).
func (g *Gateway) MarkServiceDead(ctx context.Context, id uuid.UUID) error {
	return g.withReconnect(ctx, "mark_service_dead", func() error {
		return g.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&domain.Service{}).Where("id = ?", id).Update("is_alive", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil // already removed by a racing sweep; not an error
			}
			return tx.Model(&domain.ServiceTask{}).Where("service_id = ?", id).
				Update("service_id", nil).Error
		})
	})
}

// RemoveService deletes a long-dead Service row. ServiceTask rows are
// expected to already be detached by MarkServiceDead; deletion races
// (another sweep already removed it) are swallowed, never raised.
func (g *Gateway) RemoveService(ctx context.Context, id uuid.UUID) error {
	return g.withReconnect(ctx, "remove_service", func() error {
		err := g.DB().WithContext(ctx).Delete(&domain.Service{}, "id = ?", id).Error
		if err != nil {
			return apperr.ObjectDeletedRace("remove_service", err)
		}
		return nil
	})
}
