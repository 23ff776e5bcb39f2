package executor

import (
	"testing"

	"github.com/fathom-ml/fathom/pkg/program"
)

func TestExecutionOrder(t *testing.T) {
	// Listed out of order: the add consumes the mul's output but appears
	// first.
	ops := []*program.OpDesc{
		{Type: program.OpFeed, Outputs: map[string][]string{"Out": {"x"}}},
		{Type: "elementwise_add", Inputs: map[string][]string{"X": {"xw"}, "Y": {"b"}}, Outputs: map[string][]string{"Out": {"y"}}},
		{Type: "mul", Inputs: map[string][]string{"X": {"x"}, "Y": {"w"}}, Outputs: map[string][]string{"Out": {"xw"}}},
		{Type: program.OpFetch, Inputs: map[string][]string{"X": {"y"}}},
	}

	order, err := ExecutionOrder(ops)
	if err != nil {
		t.Fatalf("failed to compute execution order: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("expected 2 scheduled ops, got %d (%v)", len(order), order)
	}
	if order[0] != 2 || order[1] != 1 {
		t.Errorf("expected order [2 1], got %v", order)
	}
}

func TestExecutionOrderCycle(t *testing.T) {
	ops := []*program.OpDesc{
		{Type: "scale", Inputs: map[string][]string{"X": {"b"}}, Outputs: map[string][]string{"Out": {"a"}}},
		{Type: "scale", Inputs: map[string][]string{"X": {"a"}}, Outputs: map[string][]string{"Out": {"b"}}},
	}

	if _, err := ExecutionOrder(ops); err == nil {
		t.Fatalf("expected error for cyclic graph")
	}
}
