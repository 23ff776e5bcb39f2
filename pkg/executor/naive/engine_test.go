package naive

import (
	"context"
	"math"
	"testing"

	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
)

func runProgram(t *testing.T, prog *program.Program, setup func(sc *scope.Scope)) *scope.Scope {
	t.Helper()
	ctx := context.Background()

	prepared, err := NewEngine().Prepare(ctx, prog)
	if err != nil {
		t.Fatalf("failed to prepare program: %v", err)
	}

	sc := scope.New()
	t.Cleanup(func() {
		if err := sc.Release(); err != nil {
			t.Errorf("failed to release scope: %v", err)
		}
	})
	setup(sc)

	if err := prepared.Run(ctx, sc); err != nil {
		t.Fatalf("failed to run program: %v", err)
	}
	return sc
}

func setVar(t *testing.T, sc *scope.Scope, name string, dims []int64, values []float32) {
	t.Helper()
	v, err := sc.Var(name)
	if err != nil {
		t.Fatalf("failed to create var %q: %v", name, err)
	}
	if err := v.LoDTensor().SetFloat32s(dims, values); err != nil {
		t.Fatalf("failed to set var %q: %v", name, err)
	}
}

func readVar(t *testing.T, sc *scope.Scope, name string) []float32 {
	t.Helper()
	v, ok := sc.FindVar(name)
	if !ok {
		t.Fatalf("var %q not found", name)
	}
	lt, ok := v.Tensor()
	if !ok {
		t.Fatalf("var %q has no tensor", name)
	}
	values, err := lt.Float32s()
	if err != nil {
		t.Fatalf("failed to read var %q: %v", name, err)
	}
	return values
}

func TestMulAddRelu(t *testing.T) {
	prog := &program.Program{
		Ops: []*program.OpDesc{
			{Type: "mul", Inputs: map[string][]string{"X": {"x"}, "Y": {"w"}}, Outputs: map[string][]string{"Out": {"xw"}}},
			{Type: "elementwise_add", Inputs: map[string][]string{"X": {"xw"}, "Y": {"b"}}, Outputs: map[string][]string{"Out": {"pre"}}},
			{Type: "relu", Inputs: map[string][]string{"X": {"pre"}}, Outputs: map[string][]string{"Out": {"y"}}},
		},
	}

	sc := runProgram(t, prog, func(sc *scope.Scope) {
		setVar(t, sc, "x", []int64{2, 2}, []float32{1, 2, 3, 4})
		setVar(t, sc, "w", []int64{2, 2}, []float32{1, -1, 1, -1})
		setVar(t, sc, "b", []int64{2}, []float32{0, 1})
	})

	// x·w = [[3,-3],[7,-7]]; +b = [[3,-2],[7,-6]]; relu clamps negatives.
	got := readVar(t, sc, "y")
	expected := []float32{3, 0, 7, 0}
	if !floatingPointEqual(got, expected) {
		t.Errorf("expected %+v, got %+v", expected, got)
	}
}

func TestScale(t *testing.T) {
	prog := &program.Program{
		Ops: []*program.OpDesc{
			{Type: "scale", Inputs: map[string][]string{"X": {"x"}}, Outputs: map[string][]string{"Out": {"y"}}, Attrs: map[string]any{"scale": 2.0, "bias": 1.0}},
		},
	}

	sc := runProgram(t, prog, func(sc *scope.Scope) {
		setVar(t, sc, "x", []int64{3}, []float32{1, 2, 3})
	})

	got := readVar(t, sc, "y")
	expected := []float32{3, 5, 7}
	if !floatingPointEqual(got, expected) {
		t.Errorf("expected %+v, got %+v", expected, got)
	}
}

func TestSoftmaxRows(t *testing.T) {
	prog := &program.Program{
		Ops: []*program.OpDesc{
			{Type: "softmax", Inputs: map[string][]string{"X": {"x"}}, Outputs: map[string][]string{"Out": {"y"}}},
		},
	}

	sc := runProgram(t, prog, func(sc *scope.Scope) {
		setVar(t, sc, "x", []int64{2, 2}, []float32{0, 0, 1000, 1000})
	})

	got := readVar(t, sc, "y")
	expected := []float32{0.5, 0.5, 0.5, 0.5}
	if !floatingPointEqual(got, expected) {
		t.Errorf("expected %+v, got %+v", expected, got)
	}
}

func TestUnsupportedOp(t *testing.T) {
	ctx := context.Background()
	prog := &program.Program{
		Ops: []*program.OpDesc{
			{Type: "conv2d", Inputs: map[string][]string{"X": {"x"}}, Outputs: map[string][]string{"Out": {"y"}}},
		},
	}

	prepared, err := NewEngine().Prepare(ctx, prog)
	if err != nil {
		t.Fatalf("failed to prepare program: %v", err)
	}

	sc := scope.New()
	defer sc.Release()
	setVar(t, sc, "x", []int64{1}, []float32{1})

	if err := prepared.Run(ctx, sc); err == nil {
		t.Fatalf("expected error for unsupported op")
	}
}

func TestMissingInputVariable(t *testing.T) {
	ctx := context.Background()
	prog := &program.Program{
		Ops: []*program.OpDesc{
			{Type: "relu", Inputs: map[string][]string{"X": {"x"}}, Outputs: map[string][]string{"Out": {"y"}}},
		},
	}

	prepared, err := NewEngine().Prepare(ctx, prog)
	if err != nil {
		t.Fatalf("failed to prepare program: %v", err)
	}

	sc := scope.New()
	defer sc.Release()

	if err := prepared.Run(ctx, sc); err == nil {
		t.Fatalf("expected error for missing input variable")
	}
}

func floatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
