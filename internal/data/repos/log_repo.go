package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/gobflow/workflow-manager/internal/domain"
)

// LogSave tolerates a foreign-key violation on a since-deleted job: roll
// back and emit an error line rather than propagate the failure to the
// caller, since logs naturally race with job deletion (spec §4.1, §7).
func (g *Gateway) LogSave(ctx context.Context, l *domain.Log) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	err := g.withReconnect(ctx, "log_save", func() error {
		return g.DB().WithContext(ctx).Create(l).Error
	})
	if err == nil {
		return nil
	}
	if isForeignKeyViolation(err) {
		g.log.Error("dropping log for missing job", "jobid", l.JobID, "error", err)
		return nil
	}
	return err
}

// AuditLogSave persists an audit record; unlike LogSave it has no FK to a
// mutable job row, so failures are not swallowed.
func (g *Gateway) AuditLogSave(ctx context.Context, a *domain.AuditLog) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return g.withReconnect(ctx, "audit_log_save", func() error {
		return g.DB().WithContext(ctx).Create(a).Error
	})
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23503"
	}
	return errors.Is(err, gorm.ErrForeignKeyViolated)
}
