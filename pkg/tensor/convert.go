package tensor

import (
	"encoding/binary"
	"fmt"
)

// ParseDType maps a dtype name to its tag.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// FromInt32s builds an Int32 tensor over a copy of values.
func FromInt32s(name string, shape []int, values []int32) (*Tensor, error) {
	t := &Tensor{
		Name:  name,
		DType: Int32,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, 4*len(values)),
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.Data[4*i:], uint32(v))
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromUint8s builds a Uint8 tensor over a copy of values.
func FromUint8s(name string, shape []int, values []byte) (*Tensor, error) {
	t := &Tensor{
		Name:  name,
		DType: Uint8,
		Shape: append([]int(nil), shape...),
		Data:  append([]byte(nil), values...),
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	return t, nil
}

// Uint8s returns the data buffer of a Uint8 tensor.
func (t *Tensor) Uint8s() ([]byte, error) {
	if t.DType != Uint8 {
		return nil, fmt.Errorf("tensor %q has dtype %v, not uint8", t.Name, t.DType)
	}
	if err := t.checkBuffer(); err != nil {
		return nil, err
	}
	return append([]byte(nil), t.Data...), nil
}
