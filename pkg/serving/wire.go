// Package serving defines the JSON wire format the predictserver and its
// clients exchange, and its conversion to and from caller tensors.
package serving

import (
	"fmt"

	"github.com/fathom-ml/fathom/pkg/tensor"
)

// WireTensor is one tensor on the wire. Exactly one of the value fields is
// set, matching DType.
type WireTensor struct {
	Name    string    `json:"name,omitempty"`
	DType   string    `json:"dtype"`
	Shape   []int     `json:"shape"`
	Float32 []float32 `json:"float32,omitempty"`
	Int32   []int32   `json:"int32,omitempty"`
	Int64   []int64   `json:"int64,omitempty"`
	Uint8   []byte    `json:"uint8,omitempty"`
	Lod     [][]int   `json:"lod,omitempty"`
}

type PredictRequest struct {
	Inputs []WireTensor `json:"inputs"`
	// BatchSize overrides dimension 0 of every input when positive.
	BatchSize int `json:"batch_size,omitempty"`
}

type PredictResponse struct {
	Outputs []WireTensor `json:"outputs"`
}

// ToTensor converts a wire tensor to a caller tensor.
func (w *WireTensor) ToTensor() (*tensor.Tensor, error) {
	dtype, err := tensor.ParseDType(w.DType)
	if err != nil {
		return nil, err
	}

	var t *tensor.Tensor
	switch dtype {
	case tensor.Float32:
		t, err = tensor.FromFloat32s(w.Name, w.Shape, w.Float32)
	case tensor.Int32:
		t, err = tensor.FromInt32s(w.Name, w.Shape, w.Int32)
	case tensor.Int64:
		t, err = tensor.FromInt64s(w.Name, w.Shape, w.Int64)
	case tensor.Uint8:
		t, err = tensor.FromUint8s(w.Name, w.Shape, w.Uint8)
	default:
		return nil, fmt.Errorf("unhandled dtype %v", dtype)
	}
	if err != nil {
		return nil, err
	}
	for _, level := range w.Lod {
		t.Lod = append(t.Lod, append([]int(nil), level...))
	}
	return t, nil
}

// FromTensor converts a caller tensor to its wire form.
func FromTensor(t *tensor.Tensor) (WireTensor, error) {
	w := WireTensor{
		Name:  t.Name,
		DType: t.DType.String(),
		Shape: append([]int(nil), t.Shape...),
	}
	var err error
	switch t.DType {
	case tensor.Float32:
		w.Float32, err = t.Float32s()
	case tensor.Int32:
		w.Int32, err = t.Int32s()
	case tensor.Int64:
		w.Int64, err = t.Int64s()
	case tensor.Uint8:
		w.Uint8, err = t.Uint8s()
	default:
		return WireTensor{}, fmt.Errorf("unhandled dtype %v", t.DType)
	}
	if err != nil {
		return WireTensor{}, err
	}
	for _, level := range t.Lod {
		w.Lod = append(w.Lod, append([]int(nil), level...))
	}
	return w, nil
}
