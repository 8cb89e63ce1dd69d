// Package workflow implements the workflow tree (spec C3) and the
// interpreter that drives it (spec C5). Grounded on the teacher's
// jobs/runtime.Registry (concurrency-safe name->implementation map) and
// jobs/orchestrator/dag.go's topological validation style, generalized
// from a flat job_type dispatch table into a full step graph.
package workflow

import (
	"fmt"

	"github.com/gobflow/workflow-manager/internal/envelope"
)

// ActionKind tags the four things a step can do when it fires, replacing
// the original's `lambda msg: publish(...)` config closures (spec §9
// redesign note).
type ActionKind int

const (
	ActionNoop ActionKind = iota
	ActionPublish
	ActionStart
	ActionStartMany
)

// StepAction is the tagged variant: Publish{exchange,key} | Start{name} |
// Noop, plus the original_source-supplemented StartMany (spec §12).
type StepAction struct {
	Kind     ActionKind
	Exchange string
	Key      string
	SubStep  string
}

func Publish(exchange, key string) StepAction { return StepAction{Kind: ActionPublish, Exchange: exchange, Key: key} }
func Start(subStep string) StepAction         { return StepAction{Kind: ActionStart, SubStep: subStep} }
func StartMany(subStep string) StepAction     { return StepAction{Kind: ActionStartMany, SubStep: subStep} }
func Noop() StepAction                        { return StepAction{Kind: ActionNoop} }

// ConditionKind tags the small expression DSL that replaces the original's
// arbitrary predicate closures on workflow edges (spec §9).
type ConditionKind int

const (
	// CondUnset is the zero value of ConditionKind: a Condition left at its
	// Go zero value (omitted entirely), distinct from one explicitly built
	// with AlwaysTrue. Build() defaults only CondUnset edges to NoErrors.
	CondUnset ConditionKind = iota
	CondAlwaysTrue
	CondNoErrors
	CondPredicate
)

type Condition struct {
	Kind      ConditionKind
	Predicate func(*envelope.Envelope) bool
}

var (
	AlwaysTrue = Condition{Kind: CondAlwaysTrue}
	// NoErrors is the default edge condition (spec §4.3: defaults to
	// has_no_errors).
	NoErrors = Condition{Kind: CondNoErrors}
)

func WhenTrue(fn func(*envelope.Envelope) bool) Condition {
	return Condition{Kind: CondPredicate, Predicate: fn}
}

func (c Condition) Eval(msg *envelope.Envelope) bool {
	switch c.Kind {
	case CondAlwaysTrue:
		return true
	case CondPredicate:
		if c.Predicate == nil {
			return false
		}
		return c.Predicate(msg)
	default: // CondNoErrors, and CondUnset for an edge that skipped Build()
		if msg == nil {
			return true
		}
		return msg.Summary.HasNoErrors()
	}
}

// EdgeDef is one entry of a step's "next" list in the static registry
// config: a reference to another step by name, optionally gated by a
// condition, optionally grafting a foreign workflow's tree instead.
type EdgeDef struct {
	Step      string
	Workflow  string // if set, graft this workflow's tree instead of Step
	Condition Condition
}

// StepDef is the raw, user-authored definition of one workflow node.
type StepDef struct {
	Action           StepAction
	Next             []EdgeDef
	HeaderParameters map[string]any
}

// WorkflowDef is one entry of the static workflow registry: a start step
// name plus a map of step name -> definition. AllowParallelZombie mirrors
// the original Workflow class's `self._allow_parallel_zombie` constructor
// flag (spec §4.1, §9): a per-workflow-type policy on whether a zombie
// duplicate run blocks a new one.
type WorkflowDef struct {
	Start               string
	Steps               map[string]StepDef
	AllowParallelZombie bool
}

// Edge is a resolved, buildable edge: a condition plus the already-built
// destination node.
type Edge struct {
	Condition Condition
	Node      *Node
}

// Node is one built tree node (spec C3's WorkflowTreeNode).
type Node struct {
	Name             string
	Action           StepAction
	Next             []Edge
	HeaderParameters map[string]any
}

// GetNode finds a node by name via depth-first search.
func (n *Node) GetNode(name string) *Node {
	return getNode(n, name, map[*Node]bool{})
}

func getNode(n *Node, name string, seen map[*Node]bool) *Node {
	if n == nil || seen[n] {
		return nil
	}
	seen[n] = true
	if n.Name == name {
		return n
	}
	for _, e := range n.Next {
		if found := getNode(e.Node, name, seen); found != nil {
			return found
		}
	}
	return nil
}

// GetLeafs returns every terminal node (no outgoing edges) reachable from n.
func (n *Node) GetLeafs() []*Node {
	var out []*Node
	collectLeafs(n, map[*Node]bool{}, &out)
	return out
}

func collectLeafs(n *Node, seen map[*Node]bool, out *[]*Node) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	if len(n.Next) == 0 {
		*out = append(*out, n)
		return
	}
	for _, e := range n.Next {
		collectLeafs(e.Node, seen, out)
	}
}

// AppendNode attaches a subtree to every current leaf of n.
func (n *Node) AppendNode(cond Condition, child *Node) {
	for _, leaf := range n.GetLeafs() {
		leaf.Next = append(leaf.Next, Edge{Condition: cond, Node: child})
	}
}

// AppendToNames recursively suffixes every node name in the subtree,
// grounded literally on the original's WorkflowTreeNode.append_to_names:
// a single string concatenation applied to every node, not a
// rename-on-conflict-only scheme (spec §12). Used when splicing the same
// workflow twice into one dynamic composition so step names stay unique.
func (n *Node) AppendToNames(suffix string) {
	appendToNames(n, suffix, map[*Node]bool{})
}

func appendToNames(n *Node, suffix string, seen map[*Node]bool) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	n.Name = n.Name + suffix
	for _, e := range n.Next {
		appendToNames(e.Node, suffix, seen)
	}
}

// Build constructs the in-memory tree for a named workflow from a
// registry, eagerly resolving every string step reference, defaulting
// Action to Noop, Next to empty, and Condition to NoErrors (spec §4.3).
// A grafted workflow is copied into the tree at build time, so the result
// is always a finite tree with no runtime cycles (spec §9); a cyclic
// workflow reference (one workflow grafting another which grafts the
// first) is returned as an error.
func Build(reg map[string]WorkflowDef, workflowName string) (*Node, error) {
	def, ok := reg[workflowName]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", workflowName)
	}
	return buildFrom(reg, def, def.Start, map[string]bool{workflowName: true})
}

func buildFrom(reg map[string]WorkflowDef, def WorkflowDef, stepName string, graftPath map[string]bool) (*Node, error) {
	sd, ok := def.Steps[stepName]
	if !ok {
		return nil, fmt.Errorf("step not found: %s", stepName)
	}
	node := &Node{
		Name:             stepName,
		Action:           sd.Action,
		HeaderParameters: sd.HeaderParameters,
	}
	for _, edge := range sd.Next {
		cond := edge.Condition
		if cond.Kind == CondUnset {
			cond = NoErrors
		}
		if edge.Workflow != "" {
			if graftPath[edge.Workflow] {
				return nil, fmt.Errorf("cyclic workflow reference at %s", edge.Workflow)
			}
			foreignDef, ok := reg[edge.Workflow]
			if !ok {
				return nil, fmt.Errorf("workflow not found: %s", edge.Workflow)
			}
			next := map[string]bool{}
			for k, v := range graftPath {
				next[k] = v
			}
			next[edge.Workflow] = true
			child, err := buildFrom(reg, foreignDef, foreignDef.Start, next)
			if err != nil {
				return nil, err
			}
			node.Next = append(node.Next, Edge{Condition: cond, Node: child})
			continue
		}
		child, err := buildFrom(reg, def, edge.Step, graftPath)
		if err != nil {
			return nil, err
		}
		node.Next = append(node.Next, Edge{Condition: cond, Node: child})
	}
	return node, nil
}
