package model

import (
	"fmt"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/tensor"
)

// ViewRequirement states how much trailing context of a [B, T, ...] field
// a model needs to produce outputs for a single time step.
type ViewRequirement struct {
	Key batch.Key
	// Shift is the number of previous steps needed besides the current one.
	Shift int
}

// Window is the number of steps per output row.
func (v ViewRequirement) Window() int {
	return v.Shift + 1
}

// Apply windows the requirement's field. With ViewLast the result is
// [B, W, ...] holding each trajectory's final W steps; with ViewAll it is
// [B*T, W, ...] holding, for every step, that step and the W-1 before it.
// Steps before the start of a trajectory are zero-filled.
func (v ViewRequirement) Apply(in *batch.Batch, kind ViewKind) (*tensor.Dense, error) {
	if v.Shift < 0 {
		return nil, fmt.Errorf("model: negative shift %d for %q", v.Shift, v.Key)
	}
	x, err := in.Get(v.Key)
	if err != nil {
		return nil, err
	}
	shape := x.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: %q needs [B, T, ...], got %v", batch.ErrShapeMismatch, v.Key, shape)
	}
	b, t, inner := shape[0], shape[1], shape[2:]
	step := tensor.Size(inner)
	w := v.Window()
	src := x.Data()

	copyWindow := func(dst []float64, traj, end int) {
		for i := 0; i < w; i++ {
			s := end - w + 1 + i
			if s < 0 {
				continue
			}
			from := (traj*t + s) * step
			copy(dst[i*step:(i+1)*step], src[from:from+step])
		}
	}

	switch kind {
	case ViewLast:
		out := tensor.Zeros(append([]int{b, w}, inner...)...)
		if t == 0 {
			return out, nil
		}
		for traj := 0; traj < b; traj++ {
			copyWindow(out.Row(traj), traj, t-1)
		}
		return out, nil
	case ViewAll:
		out := tensor.Zeros(append([]int{b * t, w}, inner...)...)
		for traj := 0; traj < b; traj++ {
			for s := 0; s < t; s++ {
				copyWindow(out.Row(traj*t+s), traj, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// OutputSize returns the leading size of a preprocessed batch for an
// input batch of size [B, T].
func OutputSize(size []int, kind ViewKind) []int {
	if len(size) < 2 {
		return size
	}
	if kind == ViewLast {
		return []int{size[0]}
	}
	return []int{size[0] * size[1]}
}
