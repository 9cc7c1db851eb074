package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/grad"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

// LinearName is the registry name of the linear model.
const LinearName = "linear"

func init() {
	Register(LinearName, NewLinear)
}

// LinearConfig configures a Linear model.
type LinearConfig struct {
	// FrameStack is the number of consecutive observations per input.
	FrameStack int     `mapstructure:"frame_stack"`
	Seed       uint64  `mapstructure:"seed"`
	InitScale  float64 `mapstructure:"init_scale"`
}

// DefaultLinearConfig returns the defaults applied before decoding.
func DefaultLinearConfig() LinearConfig {
	return LinearConfig{FrameStack: 1, InitScale: 0.01}
}

// Validate checks the configuration.
func (c LinearConfig) Validate() error {
	if c.FrameStack < 1 {
		return fmt.Errorf("model: frame_stack must be >= 1, got %d", c.FrameStack)
	}
	if c.InitScale < 0 {
		return fmt.Errorf("model: init_scale must be >= 0, got %v", c.InitScale)
	}
	return nil
}

// Linear maps a stack of flattened observations to features and a value
// estimate with two affine heads.
type Linear struct {
	cfg    LinearConfig
	obsDim int
	inDim  int
	outDim int

	w  *mat.Dense    // [outDim, inDim]
	b  *mat.VecDense // [outDim]
	vw *mat.VecDense // [inDim]
	vb float64

	values *tensor.Dense
	mask   *tensor.Dense
	saved  *mat.Dense

	gw  *mat.Dense
	gb  *mat.VecDense
	gvw *mat.VecDense
	gvb float64
}

// NewLinear is the Constructor registered as "linear".
func NewLinear(obs, feat, act spec.Tensor, cfg Config) (Model, error) {
	for name, s := range map[string]spec.Tensor{"observation": obs, "feature": feat, "action": act} {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("model: %s spec: %w", name, err)
		}
	}
	c := DefaultLinearConfig()
	if err := DecodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	l := &Linear{
		cfg:    c,
		obsDim: obs.Dim(),
		inDim:  obs.Dim() * c.FrameStack,
		outDim: feat.Dim(),
	}
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed))
	w := make([]float64, l.outDim*l.inDim)
	for i := range w {
		w[i] = rng.NormFloat64() * c.InitScale
	}
	vw := make([]float64, l.inDim)
	for i := range vw {
		vw[i] = rng.NormFloat64() * c.InitScale
	}
	l.w = mat.NewDense(l.outDim, l.inDim, w)
	l.b = mat.NewVecDense(l.outDim, nil)
	l.vw = mat.NewVecDense(l.inDim, vw)
	l.ZeroGrad()
	return l, nil
}

// Config returns the decoded configuration.
func (l *Linear) Config() LinearConfig {
	return l.cfg
}

// ViewRequirements lists the windows the model reads.
func (l *Linear) ViewRequirements() []ViewRequirement {
	return []ViewRequirement{
		{Key: batch.Obs, Shift: l.cfg.FrameStack - 1},
		{Key: batch.ActionMask},
	}
}

// ApplyViewRequirements windows observations to [N, frame_stack, ...] and
// reduces an action mask, when present, to the current step's [N, n].
func (l *Linear) ApplyViewRequirements(in *batch.Batch, kind ViewKind) (*batch.Batch, error) {
	if _, err := ParseViewKind(string(kind)); err != nil {
		return nil, err
	}
	reqs := l.ViewRequirements()
	obs, err := reqs[0].Apply(in, kind)
	if err != nil {
		return nil, err
	}
	n := obs.Shape()[0]
	out := batch.New([]int{n}, in.Device())
	if err := out.Set(batch.Obs, obs); err != nil {
		return nil, err
	}
	if in.Has(batch.ActionMask) {
		m, err := reqs[1].Apply(in, kind)
		if err != nil {
			return nil, err
		}
		m, err = m.Reshape(n, m.RowSize())
		if err != nil {
			return nil, err
		}
		if err := out.Set(batch.ActionMask, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Forward computes features [N, K] for a preprocessed batch and caches the
// value estimate [N]. Inputs are retained for Backward only while gradient
// tracking is enabled.
func (l *Linear) Forward(in *batch.Batch) (*tensor.Dense, error) {
	obs, err := in.Get(batch.Obs)
	if err != nil {
		return nil, err
	}
	shape := obs.Shape()
	if len(shape) == 0 || obs.RowSize() != l.inDim {
		return nil, fmt.Errorf("%w: obs %v, want [N, %d, %d]", batch.ErrShapeMismatch, shape, l.cfg.FrameStack, l.obsDim)
	}
	n := shape[0]

	l.mask = nil
	if in.Has(batch.ActionMask) {
		m, _ := in.Get(batch.ActionMask)
		if m.Len() != n*l.outDim {
			return nil, fmt.Errorf("%w: action mask %v for %d features", batch.ErrShapeMismatch, m.Shape(), l.outDim)
		}
		l.mask = m
	}

	features := tensor.Zeros(n, l.outDim)
	values := tensor.Zeros(n)
	if n == 0 {
		l.values, l.saved = values, nil
		return features, nil
	}

	x := mat.NewDense(n, l.inDim, obs.Data())
	f := mat.NewDense(n, l.outDim, features.Data())
	f.Mul(x, l.w.T())
	for i := 0; i < n; i++ {
		row := f.RawRowView(i)
		for j := range row {
			row[j] += l.b.AtVec(j)
		}
	}
	v := mat.NewVecDense(n, values.Data())
	v.MulVec(x, l.vw)
	for i := 0; i < n; i++ {
		v.SetVec(i, v.AtVec(i)+l.vb)
	}

	l.values = values
	l.saved = nil
	if grad.Enabled() {
		l.saved = mat.DenseCopyOf(x)
	}
	return features, nil
}

// ValueFunction returns the estimate cached by the last Forward.
func (l *Linear) ValueFunction() (*tensor.Dense, error) {
	if l.values == nil {
		return nil, ErrNoForwardPass
	}
	return l.values, nil
}

// ActionMask returns the mask seen by the last Forward, if any.
func (l *Linear) ActionMask() (*tensor.Dense, bool) {
	return l.mask, l.mask != nil
}

// Backward accumulates parameter gradients given the loss gradients with
// respect to the last Forward's features [N, K] and values [N]. Either
// may be nil.
func (l *Linear) Backward(dFeatures, dValues *tensor.Dense) error {
	if l.saved == nil {
		return ErrNotTracked
	}
	n, _ := l.saved.Dims()
	if dFeatures != nil {
		if dFeatures.Len() != n*l.outDim {
			return fmt.Errorf("%w: feature gradient %v", batch.ErrShapeMismatch, dFeatures.Shape())
		}
		df := mat.NewDense(n, l.outDim, dFeatures.Data())
		var gw mat.Dense
		gw.Mul(df.T(), l.saved)
		l.gw.Add(l.gw, &gw)
		for j := 0; j < l.outDim; j++ {
			l.gb.SetVec(j, l.gb.AtVec(j)+mat.Sum(df.ColView(j)))
		}
	}
	if dValues != nil {
		if dValues.Len() != n {
			return fmt.Errorf("%w: value gradient %v", batch.ErrShapeMismatch, dValues.Shape())
		}
		dv := mat.NewVecDense(n, dValues.Data())
		var gvw mat.VecDense
		gvw.MulVec(l.saved.T(), dv)
		l.gvw.AddVec(l.gvw, &gvw)
		l.gvb += mat.Sum(dv)
	}
	return nil
}

// Step applies one gradient-descent update and clears the gradients.
func (l *Linear) Step(lr float64) {
	l.w.Sub(l.w, scaled(lr, l.gw))
	l.b.AddScaledVec(l.b, -lr, l.gb)
	l.vw.AddScaledVec(l.vw, -lr, l.gvw)
	l.vb -= lr * l.gvb
	l.ZeroGrad()
}

// ZeroGrad clears accumulated gradients.
func (l *Linear) ZeroGrad() {
	l.gw = mat.NewDense(l.outDim, l.inDim, nil)
	l.gb = mat.NewVecDense(l.outDim, nil)
	l.gvw = mat.NewVecDense(l.inDim, nil)
	l.gvb = 0
}

func scaled(f float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}
