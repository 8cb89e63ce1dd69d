package workflow

import (
	"fmt"
	"strconv"

	"github.com/gobflow/workflow-manager/internal/envelope"
)

// Exchange is the single topic exchange every workflow-request routing key
// is published on (spec §6: "one workflow exchange").
const Exchange = "workflow"

// synthesizeStep builds the single-node tree for a "workflow_step" dynamic
// entry: its action publishes the named step's request routing key (spec
// §4.3: "the synthesized step for type=workflow_step has a function that
// publishes the named step").
func synthesizeStep(stepName string) *Node {
	return &Node{
		Name:   stepName,
		Action: Publish(Exchange, stepName+".request"),
	}
}

// BuildDynamic composes a tree from a dynamic workflow spec: for each
// entry, build (foreign workflow) or synthesize (bare step) a subtree,
// suffix every name in it with the entry's index to prevent collisions
// when the same workflow/step appears twice, apply the entry's header
// parameters, and attach it to every leaf of the accumulator so far (spec
// §4.3).
func BuildDynamic(reg map[string]WorkflowDef, steps []envelope.DynamicStep) (*Node, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("dynamic workflow has no steps")
	}

	var root *Node
	for i, entry := range steps {
		var sub *Node
		switch entry.Type {
		case "workflow":
			def, ok := reg[entry.Workflow]
			if !ok {
				return nil, fmt.Errorf("dynamic workflow references unknown workflow: %s", entry.Workflow)
			}
			built, err := buildFrom(reg, def, def.Start, map[string]bool{entry.Workflow: true})
			if err != nil {
				return nil, err
			}
			sub = built
		case "workflow_step":
			sub = synthesizeStep(entry.StepName)
		default:
			return nil, fmt.Errorf("unknown dynamic step type: %s", entry.Type)
		}

		suffix := "__" + strconv.Itoa(i)
		sub.AppendToNames(suffix)
		applyHeaderParameters(sub, entry.Header)

		if root == nil {
			root = sub
			continue
		}
		root.AppendNode(NoErrors, sub)
	}
	return root, nil
}

func applyHeaderParameters(n *Node, header map[string]any) {
	if len(header) == 0 {
		return
	}
	visit(n, map[*Node]bool{}, func(node *Node) {
		if node.HeaderParameters == nil {
			node.HeaderParameters = map[string]any{}
		}
		for k, v := range header {
			node.HeaderParameters[k] = v
		}
	})
}

func visit(n *Node, seen map[*Node]bool, fn func(*Node)) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	fn(n)
	for _, e := range n.Next {
		visit(e.Node, seen, fn)
	}
}
