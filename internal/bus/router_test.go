package bus

import "testing"

func TestRouterMatchesSingleSegmentWildcard(t *testing.T) {
	r := NewRouter(
		Route{Pattern: "*.result", Queue: "JOBSTEP_RESULT_QUEUE"},
		Route{Pattern: "*.task.request", Queue: "TASK_QUEUE"},
	)

	got := r.Match("import.result")
	if len(got) != 1 || got[0] != "JOBSTEP_RESULT_QUEUE" {
		t.Fatalf("expected import.result to match JOBSTEP_RESULT_QUEUE, got %v", got)
	}
}

func TestRouterMatchesMultiplePatterns(t *testing.T) {
	r := NewRouter(
		Route{Pattern: "*.result", Queue: "A"},
		Route{Pattern: "import.result", Queue: "B"},
	)
	got := r.Match("import.result")
	if len(got) != 2 {
		t.Fatalf("expected both patterns to match, got %v", got)
	}
}

func TestRouterNoMatchReturnsEmpty(t *testing.T) {
	r := NewRouter(Route{Pattern: "workflow.request", Queue: "WORKFLOW_QUEUE"})
	if got := r.Match("heartbeat"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}
}

func TestRouterWildcardDoesNotCrossDots(t *testing.T) {
	// Match compares dot-separated words one by one, so "*.task.request"
	// matches a routing key with exactly one leading word before the fixed
	// suffix, and not one with two.
	r := NewRouter(Route{Pattern: "*.task.request", Queue: "TASK_QUEUE"})
	got := r.Match("import__0.task.request")
	if len(got) != 1 {
		t.Fatalf("expected match for prefixed routing key, got %v", got)
	}
	if got := r.Match("import.read.task.request"); len(got) != 0 {
		t.Fatalf("expected '*' not to span two words, got %v", got)
	}
}
