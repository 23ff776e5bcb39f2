package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
	"github.com/fathom-ml/fathom/pkg/tensor"
)

// testProgram builds a one-feed, one-fetch affine graph:
//
//	y = x·w + b, with x shaped [-1,4], w [4,2], b [2]
//
// so an input of shape [n,4] produces an output of shape [n,2] with values
// that can be checked by hand.
func testProgram() *program.Program {
	return &program.Program{
		Ops: []*program.OpDesc{
			{Type: program.OpFeed, Outputs: map[string][]string{"Out": {"x"}}, Attrs: map[string]any{"col": 0}},
			{Type: "mul", Inputs: map[string][]string{"X": {"x"}, "Y": {"w"}}, Outputs: map[string][]string{"Out": {"xw"}}},
			{Type: "elementwise_add", Inputs: map[string][]string{"X": {"xw"}, "Y": {"b"}}, Outputs: map[string][]string{"Out": {"y"}}},
			{Type: program.OpFetch, Inputs: map[string][]string{"X": {"y"}}, Attrs: map[string]any{"col": 0}},
		},
		Params: []*program.Param{
			{Name: "w", Type: program.FP32, Dims: []int64{4, 2}, FP32: []float32{1, 0, 0, 1, 1, 0, 0, 1}},
			{Name: "b", Type: program.FP32, Dims: []int64{2}, FP32: []float32{0.5, -0.5}},
		},
	}
}

// expect computes the reference transform of testProgram for one [n,4]
// input.
func expect(x []float32) []float32 {
	n := len(x) / 4
	out := make([]float32, 2*n)
	for i := 0; i < n; i++ {
		out[2*i] = x[4*i] + x[4*i+2] + 0.5
		out[2*i+1] = x[4*i+1] + x[4*i+3] - 0.5
	}
	return out
}

func newTestPredictor(t *testing.T) *Predictor {
	t.Helper()
	p, err := New(context.Background(), Config{Program: testProgram()})
	if err != nil {
		t.Fatalf("failed to create predictor: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("failed to close predictor: %v", err)
		}
	})
	return p
}

func TestRunKnownTransform(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	x := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	in, err := tensor.FromFloat32s("x", []int{3, 4}, x)
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	outputs, err := p.Run(ctx, []*tensor.Tensor{in})
	if err != nil {
		t.Fatalf("failed to run: %v", err)
	}

	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	out := outputs[0]
	if out.Name != "y" {
		t.Errorf("expected output name %q, got %q", "y", out.Name)
	}
	if len(out.Shape) != 2 || out.Shape[0] != 3 || out.Shape[1] != 2 {
		t.Fatalf("expected output shape [3 2], got %v", out.Shape)
	}
	values, err := out.Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if !floatingPointEqual(values, expect(x)) {
		t.Errorf("expected %+v, got %+v", expect(x), values)
	}
}

func TestRunDeterministic(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	in, err := tensor.FromFloat32s("x", []int{2, 4}, []float32{1, 1, 1, 1, 2, 2, 2, 2})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	first, err := p.Run(ctx, []*tensor.Tensor{in})
	if err != nil {
		t.Fatalf("failed to run: %v", err)
	}
	second, err := p.Run(ctx, []*tensor.Tensor{in})
	if err != nil {
		t.Fatalf("failed to run again: %v", err)
	}

	a, err := first[0].Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	b, err := second[0].Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if !floatingPointEqual(a, b) {
		t.Errorf("two sequential runs with identical inputs differ: %+v vs %+v", a, b)
	}
}

func TestRunInputCountMismatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	outputs, err := p.Run(ctx, nil)
	if err == nil {
		t.Fatalf("expected error for missing inputs")
	}
	if !errors.Is(err, ErrRun) || !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected a caller-input run error, got %v", err)
	}
	if outputs != nil {
		t.Errorf("expected no outputs on failure, got %d", len(outputs))
	}
}

func TestRunShapeMismatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	in, err := tensor.FromFloat32s("x", []int{3, 4}, make([]float32, 12))
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}
	in.Shape = []int{3, 5} // buffer no longer matches the declared shape

	_, err = p.Run(ctx, []*tensor.Tensor{in})
	if err == nil {
		t.Fatalf("expected error for shape/buffer mismatch")
	}
	if !errors.Is(err, ErrMarshal) || !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected a caller-input marshal error, got %v", err)
	}
}

func TestRunWrongInputName(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	in, err := tensor.FromFloat32s("not-x", []int{1, 4}, make([]float32, 4))
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	_, err = p.Run(ctx, []*tensor.Tensor{in})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected a caller-input error for mismatched name, got %v", err)
	}
}

func TestBatchSizeOverride(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	x := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	in, err := tensor.FromFloat32s("x", []int{1, 4}, x[:4])
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}
	in.Data = append([]byte(nil), mustTensor(t, "x", []int{2, 4}, x).Data...)

	outputs, err := p.RunWithBatchSize(ctx, []*tensor.Tensor{in}, 2)
	if err != nil {
		t.Fatalf("failed to run with batch override: %v", err)
	}
	if outputs[0].Shape[0] != 2 {
		t.Errorf("expected batch dimension 2, got %v", outputs[0].Shape)
	}

	// The override replaces dim 0, so the original 1x4 buffer no longer
	// matches and must be rejected.
	short, err := tensor.FromFloat32s("x", []int{1, 4}, x[:4])
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}
	if _, err := p.RunWithBatchSize(ctx, []*tensor.Tensor{short}, 2); !errors.Is(err, ErrMarshal) {
		t.Errorf("expected marshal error for buffer/override mismatch, got %v", err)
	}

	// A non-positive override is ignored.
	if _, err := p.RunWithBatchSize(ctx, []*tensor.Tensor{short}, 0); err != nil {
		t.Errorf("expected zero override to be ignored, got %v", err)
	}
}

func TestCloneSharesWeightsAndIsolatesRuns(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	const numClones = 8
	const runsPerClone = 20

	var wg sync.WaitGroup
	errs := make(chan error, numClones)
	for c := 0; c < numClones; c++ {
		clone, err := p.Clone()
		if err != nil {
			t.Fatalf("failed to clone: %v", err)
		}

		wg.Add(1)
		go func(c int, clone *Predictor) {
			defer wg.Done()
			defer clone.Close()

			x := make([]float32, 8)
			for i := range x {
				x[i] = float32(c*100 + i)
			}
			in, err := tensor.FromFloat32s("x", []int{2, 4}, x)
			if err != nil {
				errs <- err
				return
			}

			for r := 0; r < runsPerClone; r++ {
				outputs, err := clone.Run(ctx, []*tensor.Tensor{in})
				if err != nil {
					errs <- err
					return
				}
				values, err := outputs[0].Float32s()
				if err != nil {
					errs <- err
					return
				}
				if !floatingPointEqual(values, expect(x)) {
					errs <- fmt.Errorf("clone %d observed foreign data: expected %+v, got %+v", c, expect(x), values)
					return
				}
			}
		}(c, clone)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestCloneOutlivesOriginal(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, Config{Program: testProgram()})
	if err != nil {
		t.Fatalf("failed to create predictor: %v", err)
	}
	weightScope := p.weightScope

	clone1, err := p.Clone()
	if err != nil {
		t.Fatalf("failed to clone: %v", err)
	}
	clone2, err := p.Clone()
	if err != nil {
		t.Fatalf("failed to clone: %v", err)
	}

	in, err := tensor.FromFloat32s("x", []int{1, 4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	// Destroying one clone and the original must not invalidate the shared
	// weights for the survivor.
	if err := clone1.Close(); err != nil {
		t.Fatalf("failed to close clone1: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("failed to close original: %v", err)
	}
	if weightScope.Released() {
		t.Fatalf("weight store freed while a clone is alive")
	}

	outputs, err := clone2.Run(ctx, []*tensor.Tensor{in})
	if err != nil {
		t.Fatalf("failed to run on surviving clone: %v", err)
	}
	values, err := outputs[0].Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if !floatingPointEqual(values, expect([]float32{1, 2, 3, 4})) {
		t.Errorf("surviving clone produced wrong values: %+v", values)
	}

	if err := clone2.Close(); err != nil {
		t.Fatalf("failed to close clone2: %v", err)
	}
	if !weightScope.Released() {
		t.Errorf("weight store not freed after last session closed")
	}

	if _, err := clone2.Run(ctx, []*tensor.Tensor{in}); err == nil {
		t.Errorf("expected error running a closed session")
	}
}

func TestSharedParentScope(t *testing.T) {
	ctx := context.Background()
	prog := testProgram()

	parent := scope.New()
	if err := LoadParams(parent, prog); err != nil {
		t.Fatalf("failed to load params: %v", err)
	}

	p1, err := NewUnderScope(ctx, Config{Program: prog}, parent)
	if err != nil {
		t.Fatalf("failed to create first session: %v", err)
	}
	p2, err := NewUnderScope(ctx, Config{Program: prog}, parent)
	if err != nil {
		t.Fatalf("failed to create second session: %v", err)
	}

	in, err := tensor.FromFloat32s("x", []int{1, 4}, []float32{4, 3, 2, 1})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	for _, p := range []*Predictor{p1, p2} {
		outputs, err := p.Run(ctx, []*tensor.Tensor{in})
		if err != nil {
			t.Fatalf("failed to run: %v", err)
		}
		values, err := outputs[0].Float32s()
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		if !floatingPointEqual(values, expect([]float32{4, 3, 2, 1})) {
			t.Errorf("sibling sessions disagree on shared weights: %+v", values)
		}
	}

	if err := p1.Close(); err != nil {
		t.Fatalf("failed to close first session: %v", err)
	}
	if parent.Released() {
		t.Fatalf("parent scope freed while second session alive")
	}
	if err := p2.Close(); err != nil {
		t.Fatalf("failed to close second session: %v", err)
	}
	if parent.Released() {
		t.Fatalf("parent scope freed before its owner released it")
	}
	if err := parent.Release(); err != nil {
		t.Fatalf("failed to release parent: %v", err)
	}
	if !parent.Released() {
		t.Errorf("parent scope not freed after owner release")
	}
}

func TestRunLeavesRootScopeUntouched(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(t)

	in, err := tensor.FromFloat32s("x", []int{1, 4}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}
	if _, err := p.Run(ctx, []*tensor.Tensor{in}); err != nil {
		t.Fatalf("failed to run: %v", err)
	}

	// Feeds, intermediates and fetches live only in the call scope, which
	// is gone; the session scope holds weights and nothing else.
	for _, name := range []string{"x", "xw", "y"} {
		if _, ok := p.sessionScope.FindVar(name); ok {
			t.Errorf("call-scope variable %q leaked into the session scope", name)
		}
	}
	for _, name := range []string{"w", "b"} {
		if _, ok := p.sessionScope.FindVar(name); !ok {
			t.Errorf("weight %q missing from session scope", name)
		}
	}
}

func TestInitErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{ModelPath: filepath.Join(t.TempDir(), "missing.json")}); !errors.Is(err, ErrInit) {
		t.Errorf("expected init error for missing model, got %v", err)
	}

	if _, err := New(ctx, Config{Program: testProgram(), Place: program.GPUPlace(0)}); !errors.Is(err, ErrInit) {
		t.Errorf("expected init error for unavailable device, got %v", err)
	}

	dupCol := testProgram()
	dupCol.Ops = append(dupCol.Ops, &program.OpDesc{
		Type:    program.OpFeed,
		Outputs: map[string][]string{"Out": {"x2"}},
		Attrs:   map[string]any{"col": 0},
	})
	if _, err := New(ctx, Config{Program: dupCol}); !errors.Is(err, ErrInit) {
		t.Errorf("expected init error for duplicate feed position, got %v", err)
	}

	noName := testProgram()
	noName.Ops[0].Outputs = map[string][]string{}
	if _, err := New(ctx, Config{Program: noName}); !errors.Is(err, ErrInit) {
		t.Errorf("expected init error for feed without variable, got %v", err)
	}
}

func TestFetchMissingVariableIsInternal(t *testing.T) {
	ctx := context.Background()

	// Fetch names a variable nothing produces: execution succeeds but the
	// fetch marshal must report a desync.
	prog := testProgram()
	prog.Ops[3].Inputs = map[string][]string{"X": {"phantom"}}

	p, err := New(ctx, Config{Program: prog})
	if err != nil {
		t.Fatalf("failed to create predictor: %v", err)
	}
	defer p.Close()

	in, err := tensor.FromFloat32s("x", []int{1, 4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}

	_, err = p.Run(ctx, []*tensor.Tensor{in})
	if !errors.Is(err, ErrRun) || !errors.Is(err, ErrInternal) {
		t.Errorf("expected an internal run error, got %v", err)
	}
}

func mustTensor(t *testing.T, name string, shape []int, values []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromFloat32s(name, shape, values)
	if err != nil {
		t.Fatalf("failed to build tensor: %v", err)
	}
	return out
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
