// Package program holds the compiled graph: an immutable operator list plus
// the learned parameters that go with it. A Program is produced once by Load
// and never mutated afterwards, so it is safe to share by reference across
// every session derived from the same model.
package program

import (
	"fmt"
)

// VarType is the internal numeric type tag of a graph variable.
type VarType int

const (
	FP32 VarType = iota
	FP64
	INT32
	INT64
	UINT8
)

func (v VarType) String() string {
	switch v {
	case FP32:
		return "fp32"
	case FP64:
		return "fp64"
	case INT32:
		return "int32"
	case INT64:
		return "int64"
	case UINT8:
		return "uint8"
	default:
		return fmt.Sprintf("vartype(%d)", int(v))
	}
}

// Size returns the size in bytes of one element.
func (v VarType) Size() (int, error) {
	switch v {
	case FP32, INT32:
		return 4, nil
	case FP64, INT64:
		return 8, nil
	case UINT8:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown vartype %d", int(v))
	}
}

// Operator types with dedicated meaning to the session layer. Everything
// else is executed opaquely by the engine.
const (
	OpFeed  = "feed"
	OpFetch = "fetch"
)

// OpDesc describes one operator: its type and its named input/output slots,
// each binding a slot name (e.g. "X") to graph variable names.
type OpDesc struct {
	Type    string              `json:"type"`
	Inputs  map[string][]string `json:"inputs"`
	Outputs map[string][]string `json:"outputs"`
	Attrs   map[string]any      `json:"attrs,omitempty"`
}

// Input returns the single variable bound to the named input slot.
func (op *OpDesc) Input(slot string) (string, error) {
	names := op.Inputs[slot]
	if len(names) != 1 {
		return "", fmt.Errorf("op %q: input slot %q has %d variables, expected 1", op.Type, slot, len(names))
	}
	return names[0], nil
}

// Output returns the single variable bound to the named output slot.
func (op *OpDesc) Output(slot string) (string, error) {
	names := op.Outputs[slot]
	if len(names) != 1 {
		return "", fmt.Errorf("op %q: output slot %q has %d variables, expected 1", op.Type, slot, len(names))
	}
	return names[0], nil
}

// IntAttr reads an integer attribute, tolerating the numeric types the JSON
// decoder may have produced.
func (op *OpDesc) IntAttr(name string) (int, bool) {
	v, ok := op.Attrs[name]
	if !ok {
		return 0, false
	}
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// FloatAttr reads a float attribute.
func (op *OpDesc) FloatAttr(name string) (float32, bool) {
	v, ok := op.Attrs[name]
	if !ok {
		return 0, false
	}
	switch v := v.(type) {
	case float64:
		return float32(v), true
	case float32:
		return v, true
	case int:
		return float32(v), true
	case int64:
		return float32(v), true
	default:
		return 0, false
	}
}

// Param is one learned parameter: the weight values that Init installs into
// the root scope.
type Param struct {
	Name  string    `json:"name"`
	Type  VarType   `json:"dtype"`
	Dims  []int64   `json:"dims"`
	FP32  []float32 `json:"fp32,omitempty"`
	INT64 []int64   `json:"int64,omitempty"`
}

// Program is the compiled graph plus its parameters.
type Program struct {
	Ops    []*OpDesc `json:"ops"`
	Params []*Param  `json:"params,omitempty"`
}

// Validate rejects programs that cannot be executed: ops without a type,
// params without a name or with a value/dims mismatch.
func (p *Program) Validate() error {
	for i, op := range p.Ops {
		if op == nil || op.Type == "" {
			return fmt.Errorf("op %d has no type", i)
		}
	}
	seen := make(map[string]bool, len(p.Params))
	for _, param := range p.Params {
		if param.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %q", param.Name)
		}
		seen[param.Name] = true

		n := int64(1)
		for _, d := range param.Dims {
			if d <= 0 {
				return fmt.Errorf("parameter %q has non-positive dimension %d", param.Name, d)
			}
			n *= d
		}
		switch param.Type {
		case FP32:
			if int64(len(param.FP32)) != n {
				return fmt.Errorf("parameter %q: %d fp32 values, dims %v imply %d", param.Name, len(param.FP32), param.Dims, n)
			}
		case INT64:
			if int64(len(param.INT64)) != n {
				return fmt.Errorf("parameter %q: %d int64 values, dims %v imply %d", param.Name, len(param.INT64), param.Dims, n)
			}
		default:
			return fmt.Errorf("parameter %q has unsupported vartype %v", param.Name, param.Type)
		}
	}
	return nil
}
