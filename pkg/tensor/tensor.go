package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type tag of a caller-facing tensor.
type DType int

const (
	Float32 DType = iota
	Int32
	Int64
	Uint8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size returns the size in bytes of one element.
func (d DType) Size() (int, error) {
	switch d {
	case Float32, Int32:
		return 4, nil
	case Int64:
		return 8, nil
	case Uint8:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown dtype %d", int(d))
	}
}

// Tensor is the external tensor exchanged with callers: a flat data buffer
// plus a type tag and shape. The caller owns Data on both sides of a Run
// call; the predictor always copies.
//
// Lod, when set, carries per-sample sequence offsets for variable-length
// outputs: Lod[level][i] is the start offset of sample i at that nesting
// level, so level length is number-of-samples+1.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	Data  []byte
	Lod   [][]int
}

// ElemCount returns the number of elements implied by the shape.
func (t *Tensor) ElemCount() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	if len(t.Shape) == 0 {
		return 0
	}
	return n
}

func (t *Tensor) checkBuffer() error {
	elemSize, err := t.DType.Size()
	if err != nil {
		return err
	}
	want := t.ElemCount() * elemSize
	if len(t.Data) != want {
		return fmt.Errorf("tensor %q: buffer is %d bytes, shape %v with dtype %v implies %d", t.Name, len(t.Data), t.Shape, t.DType, want)
	}
	return nil
}

// FromFloat32s builds a Float32 tensor over a copy of values.
func FromFloat32s(name string, shape []int, values []float32) (*Tensor, error) {
	t := &Tensor{
		Name:  name,
		DType: Float32,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, 4*len(values)),
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.Data[4*i:], math.Float32bits(v))
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromInt64s builds an Int64 tensor over a copy of values.
func FromInt64s(name string, shape []int, values []int64) (*Tensor, error) {
	t := &Tensor{
		Name:  name,
		DType: Int64,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, 8*len(values)),
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(t.Data[8*i:], uint64(v))
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	return t, nil
}

// Float32s decodes the data buffer as float32 elements.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor %q has dtype %v, not float32", t.Name, t.DType)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	values := make([]float32, t.ElemCount())
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return values, nil
}

// Int64s decodes the data buffer as int64 elements.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DType != Int64 {
		return nil, fmt.Errorf("tensor %q has dtype %v, not int64", t.Name, t.DType)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	values := make([]int64, t.ElemCount())
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(t.Data[8*i:]))
	}
	return values, nil
}

// Int32s decodes the data buffer as int32 elements.
func (t *Tensor) Int32s() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor %q has dtype %v, not int32", t.Name, t.DType)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	values := make([]int32, t.ElemCount())
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(t.Data[4*i:]))
	}
	return values, nil
}
