package workflow

import (
	"testing"

	"github.com/gobflow/workflow-manager/internal/envelope"
)

func TestBuildDynamicEmptyStepsErrors(t *testing.T) {
	if _, err := BuildDynamic(simpleRegistry(), nil); err == nil {
		t.Fatalf("expected error for empty dynamic steps")
	}
}

func TestBuildDynamicSynthesizesBareStep(t *testing.T) {
	steps := []envelope.DynamicStep{{Type: "workflow_step", StepName: "export_test"}}
	tree, err := BuildDynamic(simpleRegistry(), steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Name != "export_test__0" {
		t.Fatalf("expected synthesized step name export_test__0, got %s", tree.Name)
	}
	if tree.Action.Kind != ActionPublish || tree.Action.Key != "export_test.request" {
		t.Fatalf("expected synthesized step to publish export_test.request, got %+v", tree.Action)
	}
}

func TestBuildDynamicGraftsKnownWorkflow(t *testing.T) {
	steps := []envelope.DynamicStep{{Type: "workflow", Workflow: "import"}}
	tree, err := BuildDynamic(simpleRegistry(), steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Name != "read__0" {
		t.Fatalf("expected grafted root renamed read__0, got %s", tree.Name)
	}
}

func TestBuildDynamicUnknownWorkflowErrors(t *testing.T) {
	steps := []envelope.DynamicStep{{Type: "workflow", Workflow: "does-not-exist"}}
	if _, err := BuildDynamic(simpleRegistry(), steps); err == nil {
		t.Fatalf("expected error for unknown referenced workflow")
	}
}

func TestBuildDynamicChainsMultipleEntriesAtLeafs(t *testing.T) {
	steps := []envelope.DynamicStep{
		{Type: "workflow_step", StepName: "first"},
		{Type: "workflow_step", StepName: "second"},
	}
	tree, err := BuildDynamic(simpleRegistry(), steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Next) != 1 {
		t.Fatalf("expected first entry's leaf to gain one outgoing edge, got %d", len(tree.Next))
	}
	if tree.Next[0].Node.Name != "second__1" {
		t.Fatalf("expected second entry appended as second__1, got %s", tree.Next[0].Node.Name)
	}
}

func TestBuildDynamicAppliesHeaderParametersToEveryNode(t *testing.T) {
	steps := []envelope.DynamicStep{
		{Type: "workflow", Workflow: "import", Header: map[string]any{"catalogue": "meetbouten"}},
	}
	tree, err := BuildDynamic(simpleRegistry(), steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.HeaderParameters["catalogue"] != "meetbouten" {
		t.Fatalf("expected header parameter on root, got %+v", tree.HeaderParameters)
	}
	if tree.Next[0].Node.HeaderParameters["catalogue"] != "meetbouten" {
		t.Fatalf("expected header parameter propagated to descendant node")
	}
}
