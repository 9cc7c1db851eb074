package tensor

import (
	"encoding/json"
	"fmt"
)

// FromNested builds a tensor from nested slices as produced by JSON or
// structpb decoding. Ragged input is rejected.
func FromNested(v any) (*Dense, error) {
	shape, err := inferShape(v)
	if err != nil {
		return nil, err
	}
	data := make([]float64, 0, Size(shape))
	data, err = flatten(v, shape, data)
	if err != nil {
		return nil, err
	}
	return New(shape, data)
}

func inferShape(v any) ([]int, error) {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return []int{0}, nil
		}
		inner, err := inferShape(x[0])
		if err != nil {
			return nil, err
		}
		return append([]int{len(x)}, inner...), nil
	case []float64:
		return []int{len(x)}, nil
	case [][]float64:
		if len(x) == 0 {
			return []int{0, 0}, nil
		}
		return []int{len(x), len(x[0])}, nil
	default:
		if _, ok := scalar(v); ok {
			return []int{}, nil
		}
		return nil, fmt.Errorf("tensor: unsupported element %T", v)
	}
}

func flatten(v any, shape []int, out []float64) ([]float64, error) {
	if len(shape) == 0 {
		f, ok := scalar(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected number, got %T", ErrShapeMismatch, v)
		}
		return append(out, f), nil
	}
	switch x := v.(type) {
	case []any:
		if len(x) != shape[0] {
			return nil, fmt.Errorf("%w: ragged input (%d vs %d)", ErrShapeMismatch, len(x), shape[0])
		}
		var err error
		for _, e := range x {
			if out, err = flatten(e, shape[1:], out); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []float64:
		if len(shape) != 1 || len(x) != shape[0] {
			return nil, fmt.Errorf("%w: ragged input", ErrShapeMismatch)
		}
		return append(out, x...), nil
	case [][]float64:
		if len(shape) != 2 || len(x) != shape[0] {
			return nil, fmt.Errorf("%w: ragged input", ErrShapeMismatch)
		}
		for _, row := range x {
			if len(row) != shape[1] {
				return nil, fmt.Errorf("%w: ragged input", ErrShapeMismatch)
			}
			out = append(out, row...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected list, got %T", ErrShapeMismatch, v)
	}
}

func scalar(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Nested converts the tensor back into nested []any of float64.
// A zero-dimensional tensor becomes a bare float64.
func (t *Dense) Nested() any {
	if len(t.shape) == 0 {
		return t.data[0]
	}
	v, _ := nest(t.data, t.shape)
	return v
}

func nest(data []float64, shape []int) (any, []float64) {
	if len(shape) == 0 {
		return data[0], data[1:]
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i], data = nest(data, shape[1:])
	}
	return out, data
}
