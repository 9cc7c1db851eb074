// Package dist provides the action distributions built by the policy
// sampler from model features.
package dist

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

var (
	// ErrUnknownDistribution is returned for an unrecognised distribution kind.
	ErrUnknownDistribution = errors.New("dist: unknown distribution")
	// ErrInvalidAction is returned when Logp is asked about an action
	// outside the distribution's support.
	ErrInvalidAction = errors.New("dist: invalid action")
	// ErrNonFinite is returned when features hold NaN or infinite values.
	ErrNonFinite = errors.New("dist: non-finite features")
)

// Distribution is a batch of per-row action distributions.
type Distribution interface {
	// Sample draws one action per row using rng.
	Sample(rng *rand.Rand) *tensor.Dense
	// DeterministicSample returns each row's mode.
	DeterministicSample() *tensor.Dense
	// Logp returns the log-likelihood [N] of one action per row.
	Logp(action *tensor.Dense) (*tensor.Dense, error)
	// Entropy returns the per-row entropy [N].
	Entropy() *tensor.Dense
}

// Factory builds a distribution from features and the model that
// produced them.
type Factory func(features *tensor.Dense, m model.Model) (Distribution, error)

// Kind tags a distribution family.
type Kind string

const (
	Categorical Kind = "categorical"
	Gaussian    Kind = "gaussian"
)

var factories = map[Kind]Factory{
	Categorical: NewCategorical,
	Gaussian:    NewGaussian,
}

// ParseKind validates s.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := factories[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDistribution, s)
	}
	return k, nil
}

// Lookup returns the factory for kind.
func Lookup(kind Kind) (Factory, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistribution, kind)
	}
	return f, nil
}

// FeatureDim returns the feature width kind needs for actions shaped by act.
func FeatureDim(kind Kind, act spec.Tensor) (int, error) {
	switch kind {
	case Categorical:
		if act.Kind != spec.Discrete {
			return 0, fmt.Errorf("dist: categorical needs a discrete action spec, got %v", act.Kind)
		}
		return act.N, nil
	case Gaussian:
		if act.Kind != spec.Continuous {
			return 0, fmt.Errorf("dist: gaussian needs a continuous action spec, got %v", act.Kind)
		}
		return 2 * act.Dim(), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDistribution, kind)
	}
}

func rows(features *tensor.Dense) (n, k int, err error) {
	shape := features.Shape()
	if len(shape) != 2 {
		return 0, 0, fmt.Errorf("%w: features must be [N, K], got %v", tensor.ErrShapeMismatch, shape)
	}
	for i, v := range features.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("%w: %v at row %d", ErrNonFinite, v, i/max(shape[1], 1))
		}
	}
	return shape[0], shape[1], nil
}
