package scope

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fathom-ml/fathom/pkg/program"
)

// LoDTensor is the internal tensor stored in scope variables: a typed flat
// buffer plus dims, with optional level-of-detail offsets for
// variable-length sequence data.
type LoDTensor struct {
	Type program.VarType
	Dims []int64
	Data []byte
	Lod  [][]int
}

// NumElements returns the element count implied by Dims.
func (t *LoDTensor) NumElements() int64 {
	if len(t.Dims) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Resize sets dims and dtype and reallocates the buffer to exactly the
// implied byte length.
func (t *LoDTensor) Resize(typ program.VarType, dims []int64) error {
	elemSize, err := typ.Size()
	if err != nil {
		return err
	}
	t.Type = typ
	t.Dims = append([]int64(nil), dims...)
	t.Data = make([]byte, t.NumElements()*int64(elemSize))
	return nil
}

func (t *LoDTensor) checkBuffer() error {
	elemSize, err := t.Type.Size()
	if err != nil {
		return err
	}
	want := t.NumElements() * int64(elemSize)
	if int64(len(t.Data)) != want {
		return fmt.Errorf("tensor buffer is %d bytes, dims %v with type %v imply %d", len(t.Data), t.Dims, t.Type, want)
	}
	return nil
}

// SetFloat32s replaces the tensor contents with an FP32 buffer.
func (t *LoDTensor) SetFloat32s(dims []int64, values []float32) error {
	if err := t.Resize(program.FP32, dims); err != nil {
		return err
	}
	if int64(len(values)) != t.NumElements() {
		return fmt.Errorf("%d values, dims %v imply %d", len(values), dims, t.NumElements())
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.Data[4*i:], math.Float32bits(v))
	}
	return nil
}

// Float32s decodes the buffer as FP32 elements.
func (t *LoDTensor) Float32s() ([]float32, error) {
	if t.Type != program.FP32 {
		return nil, fmt.Errorf("tensor has type %v, not fp32", t.Type)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	values := make([]float32, t.NumElements())
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return values, nil
}

// SetInt64s replaces the tensor contents with an INT64 buffer.
func (t *LoDTensor) SetInt64s(dims []int64, values []int64) error {
	if err := t.Resize(program.INT64, dims); err != nil {
		return err
	}
	if int64(len(values)) != t.NumElements() {
		return fmt.Errorf("%d values, dims %v imply %d", len(values), dims, t.NumElements())
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(t.Data[8*i:], uint64(v))
	}
	return nil
}

// Int64s decodes the buffer as INT64 elements.
func (t *LoDTensor) Int64s() ([]int64, error) {
	if t.Type != program.INT64 {
		return nil, fmt.Errorf("tensor has type %v, not int64", t.Type)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	values := make([]int64, t.NumElements())
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return values, nil
}

// CopyFrom deep-copies src into t. Scopes never alias buffers across
// tensors, so copies are always explicit.
func (t *LoDTensor) CopyFrom(src *LoDTensor) error {
	if err := src.checkBuffer(); err != nil {
		return err
	}
	t.Type = src.Type
	t.Dims = append([]int64(nil), src.Dims...)
	t.Data = append([]byte(nil), src.Data...)
	t.Lod = nil
	for _, level := range src.Lod {
		t.Lod = append(t.Lod, append([]int(nil), level...))
	}
	return nil
}
