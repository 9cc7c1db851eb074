// Package tensor provides the dense float64 arrays carried by batches.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when data does not fit a requested shape.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Dense is a row-major float64 array. Batch fields index it as [B, T, ...].
type Dense struct {
	shape []int
	data  []float64
}

// New wraps data in a tensor of the given shape. A nil data slice
// allocates zeros.
func New(shape []int, data []float64) (*Dense, error) {
	size := Size(shape)
	if size < 0 {
		return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
	}
	if data == nil {
		data = make([]float64, size)
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros returns a zero-filled tensor.
func Zeros(shape ...int) *Dense {
	t, err := New(shape, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Size returns the number of elements a shape holds, or -1 if any
// dimension is negative.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

// Shape returns a copy of the tensor's shape.
func (t *Dense) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dims returns the number of dimensions.
func (t *Dense) Dims() int {
	return len(t.shape)
}

// Len returns the number of elements.
func (t *Dense) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Writes are visible to the tensor.
func (t *Dense) Data() []float64 {
	return t.data
}

// RowSize is the number of elements under one leading index.
func (t *Dense) RowSize() int {
	if len(t.shape) == 0 {
		return 1
	}
	return Size(t.shape[1:])
}

// Row returns the elements under leading index i, sharing storage.
func (t *Dense) Row(i int) []float64 {
	n := t.RowSize()
	return t.data[i*n : (i+1)*n]
}

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d dims", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// At returns the element at idx.
func (t *Dense) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set stores v at idx.
func (t *Dense) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Reshape returns a view with a new shape over the same storage.
func (t *Dense) Reshape(shape ...int) (*Dense, error) {
	if Size(shape) != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Dense{shape: append([]int(nil), shape...), data: t.data}, nil
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{shape: t.Shape(), data: append([]float64(nil), t.data...)}
}

// HasPrefix reports whether shape starts with prefix.
func HasPrefix(shape, prefix []int) bool {
	if len(prefix) > len(shape) {
		return false
	}
	for i, d := range prefix {
		if shape[i] != d {
			return false
		}
	}
	return true
}

func sameShape(a, b *Dense) bool {
	return len(a.shape) == len(b.shape) && HasPrefix(a.shape, b.shape)
}

// Equal reports whether a and b have the same shape and elements.
func Equal(a, b *Dense) bool {
	if a == nil || b == nil {
		return a == b
	}
	return sameShape(a, b) && floats.Equal(a.data, b.data)
}

// EqualApprox is Equal with an absolute/relative tolerance.
func EqualApprox(a, b *Dense, tol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return sameShape(a, b) && floats.EqualApprox(a.data, b.data, tol)
}

func (t *Dense) String() string {
	return fmt.Sprintf("Dense%v%v", t.shape, t.data)
}
