package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/grad"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

// trajectories returns a [b, t, f] observation batch where obs[i, s, k] = 100*i + s + 1.
func trajectories(t *testing.T, b, steps, f int) *batch.Batch {
	t.Helper()
	obs := tensor.Zeros(b, steps, f)
	for i := 0; i < b; i++ {
		for s := 0; s < steps; s++ {
			for k := 0; k < f; k++ {
				obs.Set(float64(100*i+s+1), i, s, k)
			}
		}
	}
	in := batch.New([]int{b, steps}, "")
	require.NoError(t, in.Set(batch.Obs, obs))
	return in
}

func newLinear(t *testing.T, f, k int, cfg Config) *Linear {
	t.Helper()
	m, err := New(LinearName, spec.NewContinuous(f), spec.NewContinuous(k), spec.NewDiscrete(k), cfg)
	require.NoError(t, err)
	return m.(*Linear)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), LinearName)

	_, err := New("nope", spec.NewContinuous(1), spec.NewContinuous(1), spec.NewDiscrete(1), nil)
	assert.ErrorIs(t, err, ErrUnknownModel)

	assert.Panics(t, func() { Register(LinearName, NewLinear) })
}

func TestParseViewKind(t *testing.T) {
	k, err := ParseViewKind("all")
	require.NoError(t, err)
	assert.Equal(t, ViewAll, k)

	_, err = ParseViewKind("first")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestViewRequirementLast(t *testing.T) {
	in := trajectories(t, 2, 10, 1)

	out, err := ViewRequirement{Key: batch.Obs, Shift: 2}.Apply(in, ViewLast)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, out.Shape())
	assert.Equal(t, []float64{8, 9, 10}, out.Row(0))
	assert.Equal(t, []float64{108, 109, 110}, out.Row(1))
}

func TestViewRequirementLastPadsShortTrajectories(t *testing.T) {
	in := trajectories(t, 1, 2, 1)

	out, err := ViewRequirement{Key: batch.Obs, Shift: 3}.Apply(in, ViewLast)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 2}, out.Row(0))
}

func TestViewRequirementAll(t *testing.T) {
	in := trajectories(t, 2, 10, 1)

	out, err := ViewRequirement{Key: batch.Obs, Shift: 1}.Apply(in, ViewAll)
	require.NoError(t, err)
	assert.Equal(t, []int{20, 2, 1}, out.Shape())
	assert.Equal(t, []float64{0, 1}, out.Row(0))
	assert.Equal(t, []float64{9, 10}, out.Row(9))
	assert.Equal(t, []float64{0, 101}, out.Row(10))
}

func TestViewRequirementErrors(t *testing.T) {
	in := trajectories(t, 1, 3, 1)

	_, err := ViewRequirement{Key: batch.Rewards}.Apply(in, ViewLast)
	assert.ErrorIs(t, err, batch.ErrMissingField)

	_, err = ViewRequirement{Key: batch.Obs}.Apply(in, ViewKind("middle"))
	assert.ErrorIs(t, err, ErrInvalidKind)

	flat := batch.New([]int{3}, "")
	require.NoError(t, flat.Set(batch.Obs, tensor.Zeros(3)))
	_, err = ViewRequirement{Key: batch.Obs}.Apply(flat, ViewAll)
	assert.ErrorIs(t, err, batch.ErrShapeMismatch)
}

func TestOutputSize(t *testing.T) {
	assert.Equal(t, []int{4}, OutputSize([]int{4, 10}, ViewLast))
	assert.Equal(t, []int{40}, OutputSize([]int{4, 10}, ViewAll))
}

func TestLinearConfig(t *testing.T) {
	m := newLinear(t, 2, 3, Config{"frame_stack": "4", "seed": 7})
	assert.Equal(t, 4, m.Config().FrameStack)
	assert.Equal(t, uint64(7), m.Config().Seed)
	assert.Equal(t, 0.01, m.Config().InitScale)

	_, err := New(LinearName, spec.NewContinuous(2), spec.NewContinuous(3), spec.NewDiscrete(3), Config{"layers": 2})
	assert.Error(t, err)

	_, err = New(LinearName, spec.NewContinuous(2), spec.NewContinuous(3), spec.NewDiscrete(3), Config{"frame_stack": 0})
	assert.Error(t, err)

	_, err = New(LinearName, spec.NewContinuous(0), spec.NewContinuous(3), spec.NewDiscrete(3), nil)
	assert.Error(t, err)
}

func TestLinearApplyViewRequirements(t *testing.T) {
	m := newLinear(t, 2, 3, Config{"frame_stack": 4})
	in := trajectories(t, 3, 10, 2)
	mask := tensor.Zeros(3, 10, 3)
	require.NoError(t, in.Set(batch.ActionMask, mask))

	last, err := m.ApplyViewRequirements(in, ViewLast)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, last.Size())
	obs, _ := last.Get(batch.Obs)
	assert.Equal(t, []int{3, 4, 2}, obs.Shape())
	lm, _ := last.Get(batch.ActionMask)
	assert.Equal(t, []int{3, 3}, lm.Shape())

	all, err := m.ApplyViewRequirements(in, ViewAll)
	require.NoError(t, err)
	assert.Equal(t, []int{30}, all.Size())
	am, _ := all.Get(batch.ActionMask)
	assert.Equal(t, []int{30, 3}, am.Shape())

	_, err = m.ApplyViewRequirements(in, "")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestLinearForwardAndValues(t *testing.T) {
	m := newLinear(t, 2, 3, Config{"seed": 1, "init_scale": 1})

	_, err := m.ValueFunction()
	assert.ErrorIs(t, err, ErrNoForwardPass)

	in, err := m.ApplyViewRequirements(trajectories(t, 4, 5, 2), ViewLast)
	require.NoError(t, err)
	features, err := m.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, features.Shape())

	v1, err := m.ValueFunction()
	require.NoError(t, err)
	v2, err := m.ValueFunction()
	require.NoError(t, err)
	assert.Equal(t, []int{4}, v1.Shape())
	assert.Same(t, v1, v2)

	again, err := m.Forward(in)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(features, again))
	v3, _ := m.ValueFunction()
	assert.NotSame(t, v1, v3)
	assert.True(t, tensor.Equal(v1, v3))

	_, hasMask := m.ActionMask()
	assert.False(t, hasMask)
}

func TestLinearForwardRejectsWrongWidth(t *testing.T) {
	m := newLinear(t, 2, 3, nil)
	in := batch.New([]int{1}, "")
	require.NoError(t, in.Set(batch.Obs, tensor.Zeros(1, 1, 5)))
	_, err := m.Forward(in)
	assert.ErrorIs(t, err, batch.ErrShapeMismatch)
}

func TestLinearSeedsAreReproducible(t *testing.T) {
	in := trajectories(t, 2, 3, 2)
	run := func(seed int) *tensor.Dense {
		m := newLinear(t, 2, 3, Config{"seed": seed, "init_scale": 1})
		pre, err := m.ApplyViewRequirements(in, ViewAll)
		require.NoError(t, err)
		f, err := m.Forward(pre)
		require.NoError(t, err)
		return f
	}
	assert.True(t, tensor.Equal(run(3), run(3)))
	assert.False(t, tensor.Equal(run(3), run(4)))
}

func TestLinearBackward(t *testing.T) {
	defer grad.SetEnabled(grad.Enabled())
	m := newLinear(t, 1, 1, Config{"init_scale": 0})
	in := batch.New([]int{2}, "")
	obs, err := tensor.New([]int{2, 1, 1}, []float64{1, 2})
	require.NoError(t, err)
	require.NoError(t, in.Set(batch.Obs, obs))

	grad.SetEnabled(false)
	_, err = m.Forward(in)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Backward(tensor.Zeros(2, 1), nil), ErrNotTracked)

	grad.SetEnabled(true)
	_, err = m.Forward(in)
	require.NoError(t, err)

	// d/dw of sum(f) with f = w*x + b is sum(x).
	dF, _ := tensor.New([]int{2, 1}, []float64{1, 1})
	dV, _ := tensor.New([]int{2}, []float64{1, 1})
	require.NoError(t, m.Backward(dF, dV))
	assert.Equal(t, 3.0, m.gw.At(0, 0))
	assert.Equal(t, 2.0, m.gb.AtVec(0))
	assert.Equal(t, 3.0, m.gvw.AtVec(0))
	assert.Equal(t, 2.0, m.gvb)

	m.Step(0.5)
	assert.Equal(t, -1.5, m.w.At(0, 0))
	assert.Equal(t, -1.0, m.b.AtVec(0))
	assert.Equal(t, 0.0, m.gw.At(0, 0))

	f, err := m.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2.5, -4}, f.Data())

	assert.ErrorIs(t, m.Backward(tensor.Zeros(3, 1), nil), batch.ErrShapeMismatch)
}
