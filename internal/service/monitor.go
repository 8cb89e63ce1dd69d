// Package service implements the service liveness monitor (spec C2):
// upserting Service/ServiceTask rows from incoming heartbeat messages and
// periodically sweeping stale ones to dead and then removed. The periodic
// sweep is grounded on arkeep's scheduler package, generalized from a
// per-policy cron schedule to a single fixed-interval tick.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gobflow/workflow-manager/internal/apperr"
	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/logger"
)

type Monitor struct {
	gw   *repos.Gateway
	cfg  *config.Config
	log  *logger.Logger
	cron gocron.Scheduler
}

func NewMonitor(gw *repos.Gateway, cfg *config.Config, log *logger.Logger) (*Monitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, apperr.Transient("service_monitor_new", err)
	}
	return &Monitor{gw: gw, cfg: cfg, log: log.With("component", "ServiceMonitor"), cron: s}, nil
}

// heartbeatPayload is the decoded contents of a HEARTBEAT message (spec §6).
type heartbeatPayload struct {
	Name      string                  `json:"name"`
	Host      string                  `json:"host"`
	PID       int                     `json:"pid"`
	IsAlive   bool                    `json:"is_alive"`
	Timestamp string                  `json:"timestamp"`
	Threads   []repos.HeartbeatThread `json:"threads"`
}

// OnHeartbeat implements spec §4.2 steps 1-2: decode the heartbeat and
// upsert the owning Service plus its ServiceTask rows.
func (m *Monitor) OnHeartbeat(ctx context.Context, msg *envelope.Envelope) error {
	var hb heartbeatPayload
	if len(msg.Contents) == 0 {
		return apperr.Validation("on_heartbeat", "missing contents")
	}
	if err := json.Unmarshal(msg.Contents, &hb); err != nil {
		return apperr.Validation("on_heartbeat", "invalid contents: "+err.Error())
	}
	if hb.Name == "" {
		return apperr.Validation("on_heartbeat", "missing name")
	}
	ts := time.Now().UTC()
	if hb.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, hb.Timestamp)
		if err != nil {
			// ISO-8601 without a zone offset is read as UTC.
			parsed, err = time.Parse("2006-01-02T15:04:05.999999", hb.Timestamp)
		}
		if err != nil {
			return apperr.Validation("on_heartbeat", "invalid timestamp: "+hb.Timestamp)
		}
		ts = parsed.UTC()
	}
	_, err := m.gw.ServiceUpdate(ctx, hb.Name, hb.Host, hb.PID, hb.IsAlive, ts, hb.Threads)
	return err
}

// Start registers the periodic sweep (spec §4.2 step 3) on a fixed
// interval tied to the heartbeat cadence and starts the scheduler. It does
// not block; call Stop to shut it down.
func (m *Monitor) Start(ctx context.Context) error {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	_, err := m.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := m.sweep(ctx); err != nil {
				m.log.Error("service sweep failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return apperr.Transient("service_monitor_start", err)
	}
	m.cron.Start()
	return nil
}

func (m *Monitor) Stop() error {
	return m.cron.Shutdown()
}

// sweep implements spec §4.2 step 3: every Service whose timestamp is
// stale past DeadThreshold is marked dead (tasks detached); every Service
// already dead and stale past RemoveThreshold is reaped entirely.
func (m *Monitor) sweep(ctx context.Context) error {
	services, err := m.gw.ServicesAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	dead := m.cfg.DeadThreshold()
	remove := m.cfg.RemoveThreshold()

	for i := range services {
		svc := services[i]
		age := now.Sub(svc.Timestamp)
		switch {
		case svc.IsAlive && age > dead:
			if err := m.gw.MarkServiceDead(ctx, svc.ID); err != nil {
				m.log.Warn("mark service dead failed", "service", svc.Name, "error", err)
			}
		case !svc.IsAlive && age > remove:
			if err := m.gw.RemoveService(ctx, svc.ID); err != nil {
				if !apperr.Is(err, apperr.KindObjectDeletedRace) {
					m.log.Warn("remove service failed", "service", svc.Name, "error", err)
				}
			}
		}
	}
	return nil
}
