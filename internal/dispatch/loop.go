// Package dispatch wires the eight consumer bindings of spec §4.7 onto the
// message bus and fans them out as supervised goroutines, replacing the
// teacher's worker.go unsupervised `go w.runLoop(...)` calls with
// errgroup-based supervision in the teacher's own goroutine+context idiom.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gobflow/workflow-manager/internal/bus"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/lifecycle"
	"github.com/gobflow/workflow-manager/internal/logger"
	"github.com/gobflow/workflow-manager/internal/service"
	"github.com/gobflow/workflow-manager/internal/tasks"
	"github.com/gobflow/workflow-manager/internal/workflow"
)

const group = "workflow-manager"

// binding is one row of spec §4.7's table: a queue name and the routing
// key it reads from on the single workflow exchange.
type binding struct {
	queue      string
	routingKey string
	handler    bus.Handler
}

type Loop struct {
	bus     *bus.Bus
	gw      *repos.Gateway
	life    *lifecycle.Manager
	reg     *workflow.Registry
	queue   *tasks.Queue
	monitor *service.Monitor
	log     *logger.Logger
	tracer  trace.Tracer

	consumer string
}

func NewLoop(b *bus.Bus, gw *repos.Gateway, life *lifecycle.Manager, reg *workflow.Registry, queue *tasks.Queue, monitor *service.Monitor, log *logger.Logger) *Loop {
	return &Loop{
		bus:      b,
		gw:       gw,
		life:     life,
		reg:      reg,
		queue:    queue,
		monitor:  monitor,
		log:      log.With("component", "DispatchLoop"),
		tracer:   otel.Tracer("workflow-manager/dispatch"),
		consumer: uuid.NewString(),
	}
}

// Run starts all eight bindings plus the service monitor's sweep and blocks
// until ctx is canceled or any one of them returns a fatal error (spec §4.7
// "Scheduling": one thread per consumer binding).
func (l *Loop) Run(ctx context.Context) error {
	if err := l.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start service monitor: %w", err)
	}
	defer l.monitor.Stop()

	bindings := l.bindings()
	routes := make([]bus.Route, 0, len(bindings))
	for _, b := range bindings {
		routes = append(routes, bus.Route{Pattern: b.routingKey, Queue: b.queue})
	}
	l.bus.SetRouter(bus.NewRouter(routes...))

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		b := b
		g.Go(func() error {
			return l.bus.Consume(gctx, workflow.Exchange, b.queue, group, l.consumer+":"+b.queue, l.traced(b.queue, b.handler))
		})
	}
	return g.Wait()
}

// bindings lists the eight logical queues of spec §4.7's table. routingKey
// is the topic-exchange pattern that routes onto the queue (see
// internal/bus.Router); queue is both the logical queue name and, via the
// router, the concrete Redis Streams stream consumed from.
func (l *Loop) bindings() []binding {
	return []binding{
		{queue: "JOBSTEP_RESULT_QUEUE", routingKey: "*.result", handler: l.handleResult},
		{queue: "WORKFLOW_QUEUE", routingKey: "workflow.request", handler: l.startWorkflow},
		{queue: "LOG_QUEUE", routingKey: "log.save", handler: l.saveLog},
		{queue: "AUDIT_LOG_QUEUE", routingKey: "audit_log.save", handler: l.saveAuditLog},
		{queue: "HEARTBEAT_QUEUE", routingKey: "heartbeat", handler: l.monitor.OnHeartbeat},
		{queue: "PROGRESS_QUEUE", routingKey: "workflow.progress", handler: l.onWorkflowProgress},
		{queue: "TASK_QUEUE", routingKey: "*.task.request", handler: l.queue.OnStartTasks},
		{queue: "TASK_RESULT_QUEUE", routingKey: "*.task.result", handler: l.queue.OnTaskResult},
	}
}

// traced wraps a handler with one span per invocation (spec §11's tracing
// note) and the pre-dispatch hooks/result_key redirection check common to
// every binding (spec §4.7, §12): if msg.header.result_key is set, the
// message is republished to that key and the handler is skipped entirely.
func (l *Loop) traced(queue string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, msg *envelope.Envelope) error {
		ctx, span := l.tracer.Start(ctx, "dispatch."+queue,
			trace.WithAttributes(attribute.String("queue", queue), attribute.String("jobid", msg.Header.JobID)))
		defer span.End()

		if msg.Header.ResultKey != "" {
			key := msg.Header.ResultKey
			msg.Header.ResultKey = ""
			if err := l.bus.Publish(ctx, workflow.Exchange, key, msg); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			return nil
		}

		if err := h(ctx, msg); err != nil {
			span.SetStatus(codes.Error, err.Error())
			l.log.Warn("handler failed", "queue", queue, "error", err)
			return err
		}
		return nil
	}
}

// startWorkflow implements spec §4.7's start_workflow binding: read
// msg.workflow, drop it so it isn't carried forward, and either start a
// fresh Engine or, if only workflow_name is present, end the workflow
// directly.
func (l *Loop) startWorkflow(ctx context.Context, msg *envelope.Envelope) error {
	ref := msg.Workflow
	if ref == nil || ref.WorkflowName == "" {
		return fmt.Errorf("workflow.request message missing header.workflow")
	}
	msg.Workflow = nil

	def, ok := l.reg.Get(ref.WorkflowName)
	if !ok {
		return fmt.Errorf("unknown workflow: %s", ref.WorkflowName)
	}

	eng, err := workflow.NewEngine(l.reg, l.life, l.bus, l.log, ref.WorkflowName, ref.StepName, msg.Header.Workflow, def.AllowParallelZombie)
	if err != nil {
		return err
	}

	// Spec §4.7: "if only workflow_name is present and nothing else, call
	// Workflow.end_of_workflow(msg)" — a caller signalling an already
	// running job instance is done, bypassing start()'s duplicate check.
	if ref.StepName == "" && ref.RetryTime == 0 && msg.Header.JobID != "" {
		jobID, err := uuid.Parse(msg.Header.JobID)
		if err != nil {
			return fmt.Errorf("end_of_workflow message has invalid jobid: %w", err)
		}
		return eng.EndOfWorkflow(ctx, jobID, msg)
	}

	return eng.Start(ctx, msg, ref.RetryTime, l.retryPublish)
}

// retryPublish implements the external retry helper spec §4.5 step 3
// mentions: republish the original message after a delay. The bus has no
// native delayed-delivery primitive, so the delay is honored with a sleep
// on a detached goroutine rather than blocking the calling consumer.
func (l *Loop) retryPublish(ctx context.Context, msg *envelope.Envelope, delaySeconds int) error {
	go func() {
		select {
		case <-time.After(time.Duration(delaySeconds) * time.Second):
		case <-ctx.Done():
			return
		}
		if err := l.bus.Publish(context.Background(), workflow.Exchange, "workflow.request", msg); err != nil {
			l.log.Error("retry publish failed", "error", err)
		}
	}()
	return nil
}

// handleResult implements spec §4.7's handle_result binding: resolve
// (jobid, stepid) to the owning Job.type and JobStep.name, rebuild the
// Engine at that step, and invoke handle_result().
func (l *Loop) handleResult(ctx context.Context, msg *envelope.Envelope) error {
	jobID, err := uuid.Parse(msg.Header.JobID)
	if err != nil {
		return fmt.Errorf("result message missing jobid: %w", err)
	}
	stepID, err := uuid.Parse(msg.Header.StepID)
	if err != nil {
		return fmt.Errorf("result message missing stepid: %w", err)
	}

	job, err := l.gw.JobGet(ctx, jobID)
	if err != nil {
		return err
	}
	step, err := l.gw.StepGet(ctx, stepID)
	if err != nil {
		return err
	}

	def, _ := l.reg.Get(job.Type)
	eng, err := workflow.NewEngine(l.reg, l.life, l.bus, l.log, job.Type, step.Name, msg.Header.Workflow, def.AllowParallelZombie)
	if err != nil {
		return err
	}
	return eng.HandleResult(ctx, msg)
}

// progressStatus maps the wire-level status string carried on msg.status
// (spec §6: STARTED, OK, FAIL, SCHEDULED, REJECTED, END) onto the
// domain.StepStatus vocabulary.
func progressStatus(raw string) (domain.StepStatus, error) {
	switch strings.ToUpper(raw) {
	case "STARTED":
		return domain.StepStarted, nil
	case "OK":
		return domain.StepOK, nil
	case "FAIL":
		return domain.StepFail, nil
	case "SCHEDULED":
		return domain.StepScheduled, nil
	case "REJECTED":
		return domain.StepRejected, nil
	case "END":
		return domain.StepEnd, nil
	default:
		return "", fmt.Errorf("progress message has unknown status %q", raw)
	}
}

// onWorkflowProgress implements spec §4.7's on_workflow_progress binding:
// dispatch the worker-reported status (spec §6) to step_status (spec §4.4),
// then on OK/FAIL log the elapsed duration along with the worker-supplied
// info_msg.
func (l *Loop) onWorkflowProgress(ctx context.Context, msg *envelope.Envelope) error {
	jobID, err := uuid.Parse(msg.Header.JobID)
	if err != nil {
		return fmt.Errorf("progress message missing jobid: %w", err)
	}
	stepID, err := uuid.Parse(msg.Header.StepID)
	if err != nil {
		return fmt.Errorf("progress message missing stepid: %w", err)
	}

	status, err := progressStatus(msg.Status)
	if err != nil {
		return err
	}
	step, err := l.life.StepStatus(ctx, jobID, stepID, status)
	if err != nil {
		return err
	}

	if status == domain.StepOK || status == domain.StepFail {
		infoMsg := msg.InfoMsg
		if status == domain.StepFail && infoMsg == "" {
			infoMsg = fmt.Sprintf("step %s errors: %v", step.Name, msg.Summary.Errors)
		}
		l.life.LogDuration(ctx, jobID, step, infoMsg)
	}
	return nil
}

// saveLog implements spec §4.7's save_log binding.
func (l *Loop) saveLog(ctx context.Context, msg *envelope.Envelope) error {
	var payload struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if len(msg.Contents) > 0 {
		if err := json.Unmarshal(msg.Contents, &payload); err != nil {
			return fmt.Errorf("invalid log contents: %w", err)
		}
	}
	jobID, err := uuid.Parse(msg.Header.JobID)
	if err != nil {
		return fmt.Errorf("log message missing jobid: %w", err)
	}
	return l.gw.LogSave(ctx, &domain.Log{JobID: jobID, Level: payload.Level, Message: payload.Message})
}

// saveAuditLog implements spec §4.7's save_audit_log binding.
func (l *Loop) saveAuditLog(ctx context.Context, msg *envelope.Envelope) error {
	var payload struct {
		Type        string          `json:"type"`
		RequestUUID string          `json:"request_uuid"`
		Data        json.RawMessage `json:"data"`
	}
	if len(msg.Contents) > 0 {
		if err := json.Unmarshal(msg.Contents, &payload); err != nil {
			return fmt.Errorf("invalid audit_log contents: %w", err)
		}
	}
	return l.gw.AuditLogSave(ctx, &domain.AuditLog{
		Source:      msg.Header.Source,
		Destination: msg.Header.Destination,
		Type:        payload.Type,
		RequestUUID: payload.RequestUUID,
		Data:        payload.Data,
	})
}
