package policy

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

// Random selects uniformly random valid actions. It is a baseline for
// comparing trained policies and has no value estimates. Its features hold
// the sampling distribution's parameters: per-choice probabilities for
// discrete actions, low then high bounds for continuous ones.
type Random struct {
	act spec.Tensor
	rng *rand.Rand
}

// NewRandom creates a random policy over act. Continuous specs must be
// bounded.
func NewRandom(act spec.Tensor, seed uint64) (*Random, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}
	if act.Kind == spec.Continuous && len(act.Low) == 0 {
		return nil, fmt.Errorf("policy: random continuous actions need bounds")
	}
	return &Random{act: act, rng: rand.New(rand.NewPCG(seed, seed))}, nil
}

// Sample writes features and actions, and logp when requested, for every
// row the "last" or "all" view of b's observations would produce. A
// discrete action mask restricts each row to the choices allowed at its
// step.
func (r *Random) Sample(b *batch.Batch, opts SampleOptions) (*batch.Batch, error) {
	if opts.ReturnValues {
		return nil, fmt.Errorf("policy: random policy has no value function")
	}
	kind := opts.Kind
	if kind == "" {
		kind = model.ViewLast
	}
	if _, err := model.ParseViewKind(string(kind)); err != nil {
		return nil, err
	}
	obs, err := b.Get(batch.Obs)
	if err != nil {
		return nil, err
	}
	size := model.OutputSize(obs.Shape(), kind)
	if len(size) != 1 {
		return nil, fmt.Errorf("%w: obs %v", batch.ErrShapeMismatch, obs.Shape())
	}
	n := size[0]

	var features, actions, logp *tensor.Dense
	if r.act.Kind == spec.Discrete {
		features, err = r.choiceProbs(b, kind, n)
		if err != nil {
			return nil, err
		}
		actions, logp = r.sampleDiscrete(features, n)
	} else {
		if b.Has(batch.ActionMask) {
			return nil, fmt.Errorf("%w: action mask for continuous actions", batch.ErrShapeMismatch)
		}
		features, actions, logp = r.sampleContinuous(n)
	}

	out := b
	if !opts.Inplace {
		out = batch.New(size, b.Device())
	}
	fields := []field{{batch.Features, features}, {batch.Actions, actions}}
	if opts.ReturnLogp {
		fields = append(fields, field{batch.Logp, logp})
	}
	if err := setAll(out, fields); err != nil {
		return nil, err
	}
	return out, nil
}

// choiceProbs returns [n, dim*N] uniform probabilities over each
// component's allowed choices.
func (r *Random) choiceProbs(b *batch.Batch, kind model.ViewKind, n int) (*tensor.Dense, error) {
	dim, k := r.act.Dim(), r.act.N
	width := dim * k
	probs := tensor.Zeros(n, width)
	data := probs.Data()
	for i := range data {
		data[i] = 1
	}
	if b.Has(batch.ActionMask) {
		mask, err := model.ViewRequirement{Key: batch.ActionMask}.Apply(b, kind)
		if err != nil {
			return nil, err
		}
		if mask.Len() != n*width {
			return nil, fmt.Errorf("%w: action mask %v for %d choices", batch.ErrShapeMismatch, mask.Shape(), width)
		}
		for i, v := range mask.Data() {
			if v == 0 {
				data[i] = 0
			}
		}
	}
	for row := 0; row < n*dim; row++ {
		choices := data[row*k : (row+1)*k]
		allowed := 0.0
		for _, v := range choices {
			allowed += v
		}
		if allowed == 0 {
			return nil, fmt.Errorf("policy: every action masked in row %d", row/dim)
		}
		for j := range choices {
			choices[j] /= allowed
		}
	}
	return probs, nil
}

func (r *Random) sampleDiscrete(probs *tensor.Dense, n int) (actions, logp *tensor.Dense) {
	dim, k := r.act.Dim(), r.act.N
	actions = tensor.Zeros(append([]int{n}, r.act.Shape...)...)
	logp = tensor.Zeros(n)
	p := probs.Data()
	for i := range actions.Data() {
		choices := p[i*k : (i+1)*k]
		var allowed []int
		for j, v := range choices {
			if v > 0 {
				allowed = append(allowed, j)
			}
		}
		actions.Data()[i] = float64(allowed[r.rng.IntN(len(allowed))])
		logp.Data()[i/dim] -= math.Log(float64(len(allowed)))
	}
	return actions, logp
}

func (r *Random) sampleContinuous(n int) (features, actions, logp *tensor.Dense) {
	dim := r.act.Dim()
	features = tensor.Zeros(n, 2*dim)
	actions = tensor.Zeros(append([]int{n}, r.act.Shape...)...)
	logp = tensor.Zeros(n)
	var lp float64
	for j := 0; j < dim; j++ {
		lp -= math.Log(r.act.High[j] - r.act.Low[j])
	}
	for i := 0; i < n; i++ {
		row := features.Row(i)
		copy(row[:dim], r.act.Low)
		copy(row[dim:], r.act.High)
		logp.Data()[i] = lp
	}
	data := actions.Data()
	for i := range data {
		lo, hi := r.act.Low[i%dim], r.act.High[i%dim]
		data[i] = lo + r.rng.Float64()*(hi-lo)
	}
	return features, actions, logp
}
