package catalog

import (
	"testing"

	"github.com/gobflow/workflow-manager/internal/workflow"
)

func TestRegisterAddsAllFourWorkflows(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{UpdateModel, Import, Export, Relate} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected workflow %s to be registered", name)
		}
	}
}

func TestRegisterTwiceErrors(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := Register(reg); err == nil {
		t.Fatalf("expected error re-registering the static catalog")
	}
}

func TestImportWorkflowBuildsToEndWithoutError(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tree, err := workflow.Build(reg.Snapshot(), Import)
	if err != nil {
		t.Fatalf("unexpected error building import tree: %v", err)
	}
	if tree.Name != "read" {
		t.Fatalf("expected import workflow to start at 'read', got %s", tree.Name)
	}
	leafs := tree.GetLeafs()
	if len(leafs) != 1 || leafs[0].Name != "apply events" {
		t.Fatalf("expected single leaf 'apply events', got %v", leafs)
	}
}

func TestRelateWorkflowUsesAlwaysTrueEdge(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tree, err := workflow.Build(reg.Snapshot(), Relate)
	if err != nil {
		t.Fatalf("unexpected error building relate tree: %v", err)
	}
	if len(tree.Next) != 1 || tree.Next[0].Condition.Kind != workflow.CondAlwaysTrue {
		t.Fatalf("expected relate->check edge to use always_true condition")
	}
}

func TestExportWorkflowHasTwoIndependentSteps(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tree, err := workflow.Build(reg.Snapshot(), Export)
	if err != nil {
		t.Fatalf("unexpected error building export tree: %v", err)
	}
	if len(tree.Next) != 0 {
		t.Fatalf("expected export's generate step to have no outgoing edges, got %d", len(tree.Next))
	}
}
