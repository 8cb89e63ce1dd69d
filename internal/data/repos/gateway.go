// Package repos implements the storage gateway (spec C1): every read/write
// of Job, JobStep, Task, Service, ServiceTask, Log and AuditLog, wrapped in
// a reconnect envelope that transparently retries across connection loss.
// Grounded on the teacher's data/repos/jobs.JobRunRepo (SKIP LOCKED claim
// query, UpdateFieldsUnlessStatus guard pattern) generalized to the full
// job/step/task/service data model.
package repos

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/gobflow/workflow-manager/internal/apperr"
	"github.com/gobflow/workflow-manager/internal/config"
	db "github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/logger"
)

var tracer = otel.Tracer("workflow-manager/storage")

// Gateway is the owned connection handle threaded through every storage
// operation — never a module-level session, per the redesign note.
type Gateway struct {
	handle *db.Handle
	cfg    *config.Config
	log    *logger.Logger
}

func NewGateway(h *db.Handle, cfg *config.Config, log *logger.Logger) *Gateway {
	return &Gateway{handle: h, cfg: cfg, log: log.With("component", "StorageGateway")}
}

func (g *Gateway) DB() *gorm.DB { return g.handle.DB }

// withReconnect is the reconnect envelope mandated by spec §4.1: on a
// transient storage error it disconnects, sleeps RECONNECT_INTERVAL,
// reconnects (rerunning migrations to head), and retries the operation.
// Retries are unbounded — an operator facing a genuinely down database
// would rather see the process loop than crash-loop.
func (g *Gateway) withReconnect(ctx context.Context, op string, fn func() error) error {
	ctx, span := tracer.Start(ctx, "storage."+op, trace.WithAttributes(attribute.String("op", op)))
	defer span.End()

	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		g.log.Warn("storage operation failed, reconnecting", "op", op, "error", err)
		for !g.handle.IsConnected(ctx) {
			g.handle.Disconnect()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.cfg.ReconnectInterval):
			}
			if connErr := g.handle.Connect(ctx, "", false); connErr != nil {
				g.log.Warn("reconnect attempt failed", "error", connErr)
			}
		}
		g.log.Info("storage reconnected", "op", op)
	}
}

// isTransient classifies driver-level connection errors as retryable.
// Anything else (constraint violations, validation, not-found) propagates
// unchanged, per the error table in spec §7.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if apperr.Is(err, apperr.KindTransient) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidDB) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) ||
		apperr.Is(err, apperr.KindValidation) ||
		apperr.Is(err, apperr.KindIntegrity) ||
		apperr.Is(err, apperr.KindObjectDeletedRace) {
		return false
	}
	return isConnClosed(err)
}

// isConnClosed matches the net.Error/pgconn shapes a dropped database
// connection actually surfaces as. driver.ErrBadConn is the one sentinel
// database/sql itself guarantees; beyond that, pgx reports closed
// connections as plain wrapped io/net errors, so a network-error check is
// the most reliable generic signal available without importing pgx
// internals directly.
func isConnClosed(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidDB)
}
