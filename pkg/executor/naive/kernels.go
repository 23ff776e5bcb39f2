package naive

import (
	"fmt"
	"math"

	"github.com/fathom-ml/fathom/pkg/scope"
)

func runOp(op opDesc, sc *scope.Scope) error {
	switch op.Type {
	case "mul":
		return runMul(op, sc)
	case "elementwise_add":
		return runElementwiseAdd(op, sc)
	case "scale":
		return runScale(op, sc)
	case "relu":
		return runRelu(op, sc)
	case "softmax":
		return runSoftmax(op, sc)
	default:
		return fmt.Errorf("unsupported op type %q", op.Type)
	}
}

func inputFloat32s(op opDesc, sc *scope.Scope, slot string) ([]float32, []int64, error) {
	name, err := op.Input(slot)
	if err != nil {
		return nil, nil, err
	}
	v, ok := sc.FindVar(name)
	if !ok {
		return nil, nil, fmt.Errorf("input variable %q not found in scope", name)
	}
	t, ok := v.Tensor()
	if !ok {
		return nil, nil, fmt.Errorf("input variable %q has no tensor", name)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("reading input %q: %w", name, err)
	}
	return values, t.Dims, nil
}

// writeOutput materializes the result in the scope Run was given, never in
// an ancestor: results of one call must stay invisible to every other call.
func writeOutput(op opDesc, sc *scope.Scope, slot string, dims []int64, values []float32) error {
	name, err := op.Output(slot)
	if err != nil {
		return err
	}
	v, err := sc.Var(name)
	if err != nil {
		return err
	}
	if err := v.LoDTensor().SetFloat32s(dims, values); err != nil {
		return fmt.Errorf("writing output %q: %w", name, err)
	}
	return nil
}

// rows flattens dims into a [rows, cols] view, folding every dimension
// after the first into cols.
func rowsCols(dims []int64) (int64, int64, error) {
	if len(dims) == 0 {
		return 0, 0, fmt.Errorf("tensor has no dimensions")
	}
	rows := dims[0]
	cols := int64(1)
	for _, d := range dims[1:] {
		cols *= d
	}
	return rows, cols, nil
}

func runMul(op opDesc, sc *scope.Scope) error {
	x, xDims, err := inputFloat32s(op, sc, "X")
	if err != nil {
		return err
	}
	y, yDims, err := inputFloat32s(op, sc, "Y")
	if err != nil {
		return err
	}

	m, k, err := rowsCols(xDims)
	if err != nil {
		return err
	}
	if len(yDims) != 2 {
		return fmt.Errorf("mul: Y has dims %v, expected rank 2", yDims)
	}
	if yDims[0] != k {
		return fmt.Errorf("mul: X dims %v are incompatible with Y dims %v", xDims, yDims)
	}
	n := yDims[1]

	out := make([]float32, m*n)
	for i := int64(0); i < m; i++ {
		for j := int64(0); j < n; j++ {
			var sum float32
			for p := int64(0); p < k; p++ {
				sum += x[i*k+p] * y[p*n+j]
			}
			out[i*n+j] = sum
		}
	}

	return writeOutput(op, sc, "Out", []int64{m, n}, out)
}

func runElementwiseAdd(op opDesc, sc *scope.Scope) error {
	x, xDims, err := inputFloat32s(op, sc, "X")
	if err != nil {
		return err
	}
	y, yDims, err := inputFloat32s(op, sc, "Y")
	if err != nil {
		return err
	}

	out := make([]float32, len(x))
	switch {
	case len(x) == len(y):
		for i := range x {
			out[i] = x[i] + y[i]
		}
	default:
		// Row broadcast: Y is a bias over the trailing dimensions of X.
		_, cols, err := rowsCols(xDims)
		if err != nil {
			return err
		}
		if int64(len(y)) != cols {
			return fmt.Errorf("elementwise_add: X dims %v are incompatible with Y dims %v", xDims, yDims)
		}
		for i := range x {
			out[i] = x[i] + y[i%int(cols)]
		}
	}

	return writeOutput(op, sc, "Out", xDims, out)
}

func runScale(op opDesc, sc *scope.Scope) error {
	x, xDims, err := inputFloat32s(op, sc, "X")
	if err != nil {
		return err
	}
	factor, ok := op.FloatAttr("scale")
	if !ok {
		factor = 1
	}
	bias, _ := op.FloatAttr("bias")

	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = v*factor + bias
	}

	return writeOutput(op, sc, "Out", xDims, out)
}

func runRelu(op opDesc, sc *scope.Scope) error {
	x, xDims, err := inputFloat32s(op, sc, "X")
	if err != nil {
		return err
	}

	out := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}

	return writeOutput(op, sc, "Out", xDims, out)
}

func runSoftmax(op opDesc, sc *scope.Scope) error {
	x, xDims, err := inputFloat32s(op, sc, "X")
	if err != nil {
		return err
	}
	rows, cols, err := rowsCols(xDims)
	if err != nil {
		return err
	}
	if cols == 0 {
		return fmt.Errorf("softmax: X dims %v have no columns", xDims)
	}

	out := make([]float32, len(x))
	for i := int64(0); i < rows; i++ {
		row := x[i*cols : (i+1)*cols]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - max))
			out[i*cols+int64(j)] = float32(e)
			sum += e
		}
		for j := int64(0); j < cols; j++ {
			out[i*cols+j] = float32(float64(out[i*cols+j]) / sum)
		}
	}

	return writeOutput(op, sc, "Out", xDims, out)
}
