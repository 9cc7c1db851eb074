package policy

import (
	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/config"
	"github.com/vbprojects/finagg/internal/dist"
	"github.com/vbprojects/finagg/internal/spec"
)

// Specs derives observation, feature and action specs from c. Categorical
// policies choose among ActionDim discrete actions; gaussian policies emit
// ActionDim continuous values.
func Specs(c config.PolicyConfig) (obs, feat, act spec.Tensor, err error) {
	kind, err := dist.ParseKind(c.Dist)
	if err != nil {
		return obs, feat, act, err
	}
	obs = spec.NewContinuous(c.ObservationDim)
	if kind == dist.Categorical {
		act = spec.NewDiscrete(c.ActionDim)
	} else {
		act = spec.NewContinuous(c.ActionDim)
	}
	width, err := dist.FeatureDim(kind, act)
	if err != nil {
		return obs, feat, act, err
	}
	return obs, spec.NewContinuous(width), act, nil
}

// RandomModel selects the uniform Random baseline in NewSampler.
const RandomModel = "random"

// NewSampler builds the sampler described by c: a Random baseline when
// c.Model is RandomModel, else FromConfig. Random continuous actions are
// drawn from [-1, 1].
func NewSampler(c config.PolicyConfig, logger zerolog.Logger) (Sampler, error) {
	if c.Model != RandomModel {
		return FromConfig(c, logger)
	}
	_, _, act, err := Specs(c)
	if err != nil {
		return nil, err
	}
	if act.Kind == spec.Continuous {
		act.Low, act.High = make([]float64, act.Dim()), make([]float64, act.Dim())
		for i := range act.Low {
			act.Low[i], act.High[i] = -1, 1
		}
	}
	logger.Info().Str("dist", c.Dist).Int("action_dim", c.ActionDim).Msg("Using random policy")
	return NewRandom(act, c.Seed)
}

// FromConfig builds the policy described by c.
func FromConfig(c config.PolicyConfig, logger zerolog.Logger) (*Policy, error) {
	obs, feat, act, err := Specs(c)
	if err != nil {
		return nil, err
	}
	return New(obs, feat, act, c.Model, c.ModelConfig, dist.Kind(c.Dist),
		WithSeed(c.Seed), WithLogger(logger))
}
