package predictor

import (
	"fmt"

	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
	"github.com/fathom-ml/fathom/pkg/tensor"
)

// The marshaler is pure format translation between caller tensors and graph
// variables. It never computes, but it is the layer that must reject type
// tag mismatches, truncated buffers and inconsistent sequence metadata
// instead of letting them corrupt a call.

// internalType maps an external dtype tag to the graph's internal type tag.
// Both enumerations are closed; every pairing is spelled out here and in
// externalType, with no implicit coercion.
func internalType(d tensor.DType) (program.VarType, error) {
	switch d {
	case tensor.Float32:
		return program.FP32, nil
	case tensor.Int32:
		return program.INT32, nil
	case tensor.Int64:
		return program.INT64, nil
	case tensor.Uint8:
		return program.UINT8, nil
	default:
		return 0, fmt.Errorf("external dtype %v has no internal representation", d)
	}
}

// externalType maps an internal type tag to the external dtype tag.
func externalType(v program.VarType) (tensor.DType, error) {
	switch v {
	case program.FP32:
		return tensor.Float32, nil
	case program.INT32:
		return tensor.Int32, nil
	case program.INT64:
		return tensor.Int64, nil
	case program.UINT8:
		return tensor.Uint8, nil
	case program.FP64:
		return 0, fmt.Errorf("internal type %v has no external representation", v)
	default:
		return 0, fmt.Errorf("unknown internal type %v", v)
	}
}

// feedOne copies one caller tensor into its feed variable in the call
// scope. When batchSize is positive it replaces dimension 0 of the declared
// shape; the buffer is then validated against the overridden shape.
func feedOne(callScope *scope.Scope, s slot, in *tensor.Tensor, batchSize int) error {
	varType, err := internalType(in.DType)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrMarshal, ErrInvalidInput, err)
	}
	elemSize, err := in.DType.Size()
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrMarshal, ErrInvalidInput, err)
	}

	if len(in.Shape) == 0 {
		return fmt.Errorf("%w: %w: tensor has no shape", ErrMarshal, ErrInvalidInput)
	}
	dims := make([]int64, len(in.Shape))
	for i, d := range in.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: %w: dimension %d is %d", ErrMarshal, ErrInvalidInput, i, d)
		}
		dims[i] = int64(d)
	}
	if batchSize > 0 {
		dims[0] = int64(batchSize)
	}

	elems := int64(1)
	for _, d := range dims {
		elems *= d
	}
	if int64(len(in.Data)) != elems*int64(elemSize) {
		return fmt.Errorf("%w: %w: buffer is %d bytes, shape %v (batch %d) with dtype %v implies %d", ErrMarshal, ErrInvalidInput, len(in.Data), in.Shape, dims[0], in.DType, elems*int64(elemSize))
	}
	for _, level := range in.Lod {
		if len(level) < 2 || level[0] != 0 {
			return fmt.Errorf("%w: %w: malformed lod level %v", ErrMarshal, ErrInvalidInput, level)
		}
	}

	v, err := callScope.Var(s.Name)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrMarshal, ErrInternal, err)
	}
	t := v.LoDTensor()
	t.Type = varType
	t.Dims = dims
	// Same flat little-endian layout on both sides, so adopting the bytes
	// is a straight copy regardless of dtype.
	t.Data = append([]byte(nil), in.Data...)
	t.Lod = nil
	for _, level := range in.Lod {
		t.Lod = append(t.Lod, append([]int(nil), level...))
	}
	return nil
}

// fetchOne reads one fetch variable out of the call scope into a freshly
// allocated caller tensor. A missing variable or tensor is the caller's
// signal that the session and the graph have desynced.
func fetchOne(callScope *scope.Scope, s slot) (*tensor.Tensor, error) {
	v, ok := callScope.FindVar(s.Name)
	if !ok {
		return nil, fmt.Errorf("%w: fetch variable %q not in scope after execution", ErrInternal, s.Name)
	}
	t, ok := v.Tensor()
	if !ok {
		return nil, fmt.Errorf("%w: fetch variable %q has no tensor after execution", ErrInternal, s.Name)
	}

	dtype, err := externalType(t.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	elemSize, err := dtype.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	elems := t.NumElements()
	if int64(len(t.Data)) != elems*int64(elemSize) {
		return nil, fmt.Errorf("%w: %w: variable %q has a %d byte buffer, dims %v imply %d", ErrMarshal, ErrInternal, s.Name, len(t.Data), t.Dims, elems*int64(elemSize))
	}

	out := &tensor.Tensor{
		Name:  s.Name,
		DType: dtype,
		Shape: make([]int, len(t.Dims)),
		Data:  append([]byte(nil), t.Data...),
	}
	for i, d := range t.Dims {
		out.Shape[i] = int(d)
	}
	for _, level := range t.Lod {
		out.Lod = append(out.Lod, append([]int(nil), level...))
	}
	return out, nil
}
