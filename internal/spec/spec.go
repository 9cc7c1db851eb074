// Package spec describes the layout of observations, model features and
// actions.
package spec

import (
	"fmt"
	"math"

	"github.com/vbprojects/finagg/internal/tensor"
)

// Kind distinguishes value domains.
type Kind int

const (
	Continuous Kind = iota
	Discrete
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Tensor specifies the per-sample shape and domain of a batch field.
type Tensor struct {
	Kind  Kind
	Shape []int
	// Low and High bound continuous values elementwise. Empty means unbounded.
	Low  []float64
	High []float64
	// N is the number of choices of a discrete spec.
	N int
}

// NewContinuous returns an unbounded continuous spec.
func NewContinuous(shape ...int) Tensor {
	return Tensor{Kind: Continuous, Shape: shape}
}

// NewBounded returns a continuous spec bounded by low and high.
func NewBounded(shape []int, low, high []float64) Tensor {
	return Tensor{Kind: Continuous, Shape: shape, Low: low, High: high}
}

// NewDiscrete returns a spec over the integers [0, n).
func NewDiscrete(n int) Tensor {
	return Tensor{Kind: Discrete, Shape: []int{1}, N: n}
}

// Dim returns the number of values per sample.
func (s Tensor) Dim() int {
	return tensor.Size(s.Shape)
}

// Validate checks the spec is self-consistent.
func (s Tensor) Validate() error {
	if len(s.Shape) == 0 {
		return fmt.Errorf("spec: shape is required")
	}
	for _, d := range s.Shape {
		if d <= 0 {
			return fmt.Errorf("spec: non-positive dimension in %v", s.Shape)
		}
	}
	switch s.Kind {
	case Discrete:
		if s.N <= 0 {
			return fmt.Errorf("spec: discrete spec needs N > 0")
		}
	case Continuous:
		if len(s.Low) != len(s.High) {
			return fmt.Errorf("spec: bounds length mismatch (%d vs %d)", len(s.Low), len(s.High))
		}
		if len(s.Low) > 0 && len(s.Low) != s.Dim() {
			return fmt.Errorf("spec: %d bounds for %d values", len(s.Low), s.Dim())
		}
		for i := range s.Low {
			if s.Low[i] > s.High[i] {
				return fmt.Errorf("spec: low %v above high %v at %d", s.Low[i], s.High[i], i)
			}
		}
	default:
		return fmt.Errorf("spec: unknown kind %v", s.Kind)
	}
	return nil
}

// Contains reports whether one sample's values lie in the spec's domain.
func (s Tensor) Contains(values []float64) bool {
	if len(values) != s.Dim() {
		return false
	}
	switch s.Kind {
	case Discrete:
		v := values[0]
		return v == math.Trunc(v) && v >= 0 && int(v) < s.N
	default:
		for i, v := range values {
			if math.IsNaN(v) {
				return false
			}
			if len(s.Low) > 0 && (v < s.Low[i] || v > s.High[i]) {
				return false
			}
		}
		return true
	}
}
