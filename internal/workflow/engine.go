package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/gobflow/workflow-manager/internal/domain"
	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/lifecycle"
	"github.com/gobflow/workflow-manager/internal/logger"
)

// Publisher is the minimal bus capability the engine needs: publish one
// envelope to a routing key on the workflow exchange. Kept as a local
// interface (rather than importing internal/bus) so workflow has no
// dependency on the transport.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg *envelope.Envelope) error
}

// Engine is the workflow interpreter (spec C5), constructed fresh for
// every message: (workflow_name, step_name?, dynamic_steps?).
type Engine struct {
	name             string
	tree             *Node
	current          *Node
	workflowChanged  bool
	allowParallelZombie bool

	reg  *Registry
	life *lifecycle.Manager
	pub  Publisher
	log  *logger.Logger
}

// NewEngine resolves the starting node. If stepName is empty, the tree
// root is used. If stepName is non-empty but not found in the current
// tree (the static workflow definition drifted since the step was
// dispatched), workflowChanged is set and the engine falls back to the
// root — the next handle_result resumes from the beginning (spec §4.5).
func NewEngine(reg *Registry, life *lifecycle.Manager, pub Publisher, log *logger.Logger, workflowName, stepName string, dynamicSteps []envelope.DynamicStep, allowParallelZombie bool) (*Engine, error) {
	var (
		tree *Node
		err  error
	)
	if len(dynamicSteps) > 0 {
		tree, err = BuildDynamic(reg.Snapshot(), dynamicSteps)
	} else {
		tree, err = Build(reg.Snapshot(), workflowName)
	}
	if err != nil {
		return nil, err
	}

	e := &Engine{
		name:                workflowName,
		tree:                tree,
		reg:                 reg,
		life:                life,
		pub:                 pub,
		log:                 log.With("component", "WorkflowEngine", "workflow", workflowName),
		allowParallelZombie: allowParallelZombie,
	}

	if stepName == "" {
		e.current = tree
		return e, nil
	}
	if node := tree.GetNode(stepName); node != nil {
		e.current = node
		return e, nil
	}
	e.workflowChanged = true
	e.current = tree
	return e, nil
}

// endOfWorkflowSentinel mirrors the original's END_OF_WORKFLOW return
// value: a step function that starts a new workflow instance signals the
// engine to end the current one cleanly rather than wait for a result
// that will never arrive on this tree (spec §4.5, §9).
var endOfWorkflowSentinel = struct{}{}

// Start implements spec §4.5 start(): apply header parameters, ensure the
// job exists, check for a duplicate/zombie run, and either reject or
// dispatch the starting step.
func (e *Engine) Start(ctx context.Context, msg *envelope.Envelope, retryTime int, retry func(ctx context.Context, msg *envelope.Envelope, delaySeconds int) error) error {
	applyParams(&msg.Header, e.current.HeaderParameters)

	var job *domain.Job
	if msg.Header.JobID == "" {
		j, err := e.life.JobStart(ctx, e.name, &msg.Header)
		if err != nil {
			return err
		}
		job = j
	} else {
		id, err := uuid.Parse(msg.Header.JobID)
		if err != nil {
			return err
		}
		job = &domain.Job{ID: id, Type: e.name, Catalogue: msg.Header.Catalogue,
			Collection: msg.Header.Collection, Attribute: msg.Header.Attribute, Application: msg.Header.Application}
	}

	dup, err := e.life.IsDuplicate(ctx, job, &msg.Header, e.allowParallelZombie)
	if err != nil {
		return err
	}
	if dup != nil {
		return e.reject(ctx, job, msg, retryTime, retry)
	}

	return e.dispatch(ctx, e.current, job.ID, msg)
}

// reject implements spec §4.5 step 3: start an "accept" step, mark it
// started then rejected, end the job as rejected, and optionally
// republish the original message after a delay.
func (e *Engine) reject(ctx context.Context, job *domain.Job, msg *envelope.Envelope, retryTime int, retry func(ctx context.Context, msg *envelope.Envelope, delaySeconds int) error) error {
	step, err := e.life.StepStart(ctx, job.ID, "accept", &msg.Header)
	if err != nil {
		return err
	}
	if _, err := e.life.StepStatus(ctx, job.ID, step.ID, domain.StepStarted); err != nil {
		return err
	}
	if _, err := e.life.StepStatus(ctx, job.ID, step.ID, domain.StepRejected); err != nil {
		return err
	}
	if err := e.life.JobEnd(ctx, job.ID, domain.JobRejected); err != nil {
		return err
	}

	if retryTime > 0 && retry != nil {
		clone := cloneEnvelope(msg)
		return retry(ctx, clone, retryTime)
	}
	e.log.Error("job rejected: duplicate run in progress", "job_name", job.Name)
	return nil
}

func cloneEnvelope(msg *envelope.Envelope) *envelope.Envelope {
	b, err := json.Marshal(msg)
	if err != nil {
		return msg
	}
	var out envelope.Envelope
	if err := json.Unmarshal(b, &out); err != nil {
		return msg
	}
	return &out
}

// dispatch implements the per-step function described in spec §4.5
// _function(step): apply header params, create the step record, clear the
// summary, and run the step's action.
func (e *Engine) dispatch(ctx context.Context, node *Node, jobID uuid.UUID, msg *envelope.Envelope) error {
	applyParams(&msg.Header, node.HeaderParameters)

	_, err := e.life.StepStart(ctx, jobID, node.Name, &msg.Header)
	if err != nil {
		return err
	}
	msg.Summary = &envelope.Summary{}

	ended, err := e.runAction(ctx, node, msg)
	if err != nil {
		return err
	}
	if ended {
		return e.EndOfWorkflow(ctx, jobID, msg)
	}
	return nil
}

func (e *Engine) runAction(ctx context.Context, node *Node, msg *envelope.Envelope) (endOfWorkflow bool, err error) {
	switch node.Action.Kind {
	case ActionNoop:
		return false, nil
	case ActionPublish:
		return false, e.pub.Publish(ctx, node.Action.Exchange, node.Action.Key, msg)
	case ActionStart:
		msg.Workflow = &envelope.WorkflowRef{WorkflowName: e.name, StepName: node.Action.SubStep}
		if err := e.pub.Publish(ctx, Exchange, "workflow.request", msg); err != nil {
			return false, err
		}
		return true, nil
	case ActionStartMany:
		var items []map[string]any
		if len(msg.Contents) > 0 {
			_ = json.Unmarshal(msg.Contents, &items)
		}
		for _, item := range items {
			clone := cloneEnvelope(msg)
			clone.Workflow = &envelope.WorkflowRef{WorkflowName: e.name, StepName: node.Action.SubStep}
			if clone.Header.Extra == nil {
				clone.Header.Extra = map[string]any{}
			}
			for k, v := range item {
				clone.Header.Extra[k] = v
			}
			if err := e.pub.Publish(ctx, Exchange, "workflow.request", clone); err != nil {
				return false, err
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

func applyParams(h *envelope.Header, params map[string]any) {
	if len(params) == 0 {
		return
	}
	if h.Extra == nil {
		h.Extra = map[string]any{}
	}
	for k, v := range params {
		h.Extra[k] = v
	}
}

// HandleResult implements spec §4.5 handle_result(): accumulate log
// counts, restart from root if the workflow drifted, otherwise evaluate
// the current step's outgoing edges in order and dispatch the first whose
// condition matches, or end the workflow if none does.
func (e *Engine) HandleResult(ctx context.Context, msg *envelope.Envelope) error {
	jobID, err := uuid.Parse(msg.Header.JobID)
	if err != nil {
		return err
	}
	if err := e.life.AccumulateLogCounts(ctx, jobID, msg.Summary); err != nil {
		return err
	}

	if e.workflowChanged {
		return e.dispatch(ctx, e.tree, jobID, msg)
	}

	for _, edge := range e.current.Next {
		if edge.Condition.Eval(msg) {
			return e.dispatch(ctx, edge.Node, jobID, msg)
		}
	}
	return e.EndOfWorkflow(ctx, jobID, msg)
}

// EndOfWorkflow implements spec §4.5 end_of_workflow: publish to
// on_workflow_complete if well-formed, log, and end the job.
func (e *Engine) EndOfWorkflow(ctx context.Context, jobID uuid.UUID, msg *envelope.Envelope) error {
	if owc := msg.Header.OnWorkflowComplete; owc != nil {
		if strings.TrimSpace(owc.Exchange) != "" && strings.TrimSpace(owc.Key) != "" {
			if err := e.pub.Publish(ctx, owc.Exchange, owc.Key, msg); err != nil {
				e.log.Error("failed to publish on_workflow_complete", "error", err)
			}
		} else {
			e.log.Error("malformed on_workflow_complete, skipping publish")
		}
	}
	e.log.Info("End of workflow", "job_id", jobID)
	return e.life.JobEnd(ctx, jobID, domain.JobEnded)
}

// StartWorkflow is the external-API helper from spec §4.5: set
// msg.workflow and publish workflow.request so the dispatch loop's own
// start_workflow consumer picks it up and instantiates a fresh Engine.
// Returns true (the END_OF_WORKFLOW sentinel) so the invoking step ends
// cleanly.
func StartWorkflow(ctx context.Context, pub Publisher, msg *envelope.Envelope, workflowName, stepName string) (bool, error) {
	msg.Workflow = &envelope.WorkflowRef{WorkflowName: workflowName, StepName: stepName}
	if err := pub.Publish(ctx, Exchange, "workflow.request", msg); err != nil {
		return false, err
	}
	_ = endOfWorkflowSentinel
	return true, nil
}
