// Package policy pairs a model with an action distribution family and
// samples actions from trajectory batches.
package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/dist"
	"github.com/vbprojects/finagg/internal/grad"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

// Sampler produces actions for a batch of trajectories.
type Sampler interface {
	Sample(b *batch.Batch, opts SampleOptions) (*batch.Batch, error)
}

// SampleOptions controls a single Sample call. The zero value samples
// stochastically for the last step of each trajectory into a new batch
// with gradient tracking off.
type SampleOptions struct {
	// Kind selects the model's windowing. Empty means model.ViewLast.
	Kind model.ViewKind
	// Deterministic takes each row's mode instead of drawing an action.
	Deterministic bool
	// Inplace writes outputs into the caller's batch. Its size must
	// prefix the output shapes. A failed call leaves the batch unchanged.
	Inplace bool
	// RequiresGrad enables gradient tracking for the duration of the call.
	RequiresGrad bool
	ReturnLogp   bool
	ReturnValues bool
}

// Policy owns one model and builds a fresh distribution from its features
// on every call. It is not safe for concurrent use.
type Policy struct {
	ObservationSpec spec.Tensor
	FeatureSpec     spec.Tensor
	ActionSpec      spec.Tensor

	model    model.Model
	distKind dist.Kind
	newDist  dist.Factory
	rng      *rand.Rand
	logger   zerolog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithSeed seeds stochastic sampling. Policies built with equal seeds draw
// equal actions for equal inputs.
func WithSeed(seed uint64) Option {
	return func(p *Policy) {
		p.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithLogger sets the logger used for per-call debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// New constructs the named model from the three specs and cfg, and
// resolves the distribution family. Model construction errors are
// returned wrapped.
func New(obs, feat, act spec.Tensor, modelName string, cfg model.Config, distKind dist.Kind, opts ...Option) (*Policy, error) {
	factory, err := dist.Lookup(distKind)
	if err != nil {
		return nil, err
	}
	m, err := model.New(modelName, obs, feat, act, cfg)
	if err != nil {
		return nil, fmt.Errorf("policy: construct model %q: %w", modelName, err)
	}
	p := &Policy{
		ObservationSpec: obs,
		FeatureSpec:     feat,
		ActionSpec:      act,
		model:           m,
		distKind:        distKind,
		newDist:         factory,
		rng:             rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Model returns the policy's model.
func (p *Policy) Model() model.Model {
	return p.model
}

// DistKind returns the distribution family.
func (p *Policy) DistKind() dist.Kind {
	return p.distKind
}

// Sample preprocesses b with the model's view requirements, runs a forward
// pass with gradient tracking set to opts.RequiresGrad, and draws actions
// from the resulting distribution. The returned batch always holds
// features and actions, plus logp and values when requested. The ambient
// gradient mode is restored before returning, including on error.
func (p *Policy) Sample(b *batch.Batch, opts SampleOptions) (*batch.Batch, error) {
	kind := opts.Kind
	if kind == "" {
		kind = model.ViewLast
	}
	in, err := p.model.ApplyViewRequirements(b, kind)
	if err != nil {
		return nil, fmt.Errorf("policy: apply view requirements: %w", err)
	}

	defer grad.Override(opts.RequiresGrad)()

	features, err := p.model.Forward(in)
	if err != nil {
		return nil, fmt.Errorf("policy: forward: %w", err)
	}
	d, err := p.newDist(features, p.model)
	if err != nil {
		return nil, fmt.Errorf("policy: build %s distribution: %w", p.distKind, err)
	}
	var actions *tensor.Dense
	if opts.Deterministic {
		actions = d.DeterministicSample()
	} else {
		actions = d.Sample(p.rng)
	}

	fields := []field{{batch.Features, features}, {batch.Actions, actions}}
	if opts.ReturnLogp {
		logp, err := d.Logp(actions)
		if err != nil {
			return nil, fmt.Errorf("policy: logp: %w", err)
		}
		fields = append(fields, field{batch.Logp, logp})
	}
	if opts.ReturnValues {
		values, err := p.model.ValueFunction()
		if err != nil {
			return nil, fmt.Errorf("policy: value function: %w", err)
		}
		fields = append(fields, field{batch.Values, values})
	}

	out := b
	if !opts.Inplace {
		out = batch.New(in.Size(), b.Device())
	}
	if err := setAll(out, fields); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("kind", string(kind)).
		Ints("size", in.Size()).
		Bool("deterministic", opts.Deterministic).
		Bool("inplace", opts.Inplace).
		Msg("policy sample")
	return out, nil
}

type field struct {
	key batch.Key
	t   *tensor.Dense
}

// setAll writes fields into out only if out accepts every one of them,
// so a rejected field leaves out unchanged.
func setAll(out *batch.Batch, fields []field) error {
	scratch := batch.New(out.Size(), out.Device())
	for _, f := range fields {
		if err := scratch.Set(f.key, f.t); err != nil {
			return err
		}
	}
	for _, f := range fields {
		if err := out.Set(f.key, f.t); err != nil {
			return err
		}
	}
	return nil
}
