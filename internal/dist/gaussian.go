package dist

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/tensor"
)

// Log standard deviations are clamped to this range.
const (
	MinLogStd = -20.0
	MaxLogStd = 2.0
)

// GaussianDist is a diagonal normal per row. Actions are [N, D].
type GaussianDist struct {
	n, d  int
	mean  []float64
	sigma []float64
}

// NewGaussian splits features [N, 2D] into means and log standard deviations.
func NewGaussian(features *tensor.Dense, _ model.Model) (Distribution, error) {
	n, k, err := rows(features)
	if err != nil {
		return nil, err
	}
	if k == 0 || k%2 != 0 {
		return nil, fmt.Errorf("%w: gaussian needs an even, non-zero feature width, got %d", tensor.ErrShapeMismatch, k)
	}
	d := k / 2
	g := &GaussianDist{n: n, d: d, mean: make([]float64, n*d), sigma: make([]float64, n*d)}
	for i := 0; i < n; i++ {
		row := features.Row(i)
		for j := 0; j < d; j++ {
			g.mean[i*d+j] = row[j]
			g.sigma[i*d+j] = math.Exp(math.Max(MinLogStd, math.Min(MaxLogStd, row[d+j])))
		}
	}
	return g, nil
}

func (g *GaussianDist) normal(i int) distuv.Normal {
	return distuv.Normal{Mu: g.mean[i], Sigma: g.sigma[i]}
}

func (g *GaussianDist) Sample(rng *rand.Rand) *tensor.Dense {
	out := tensor.Zeros(g.n, g.d)
	for i := range g.mean {
		out.Data()[i] = g.mean[i] + g.sigma[i]*rng.NormFloat64()
	}
	return out
}

func (g *GaussianDist) DeterministicSample() *tensor.Dense {
	out := tensor.Zeros(g.n, g.d)
	copy(out.Data(), g.mean)
	return out
}

func (g *GaussianDist) Logp(action *tensor.Dense) (*tensor.Dense, error) {
	if action.Len() != len(g.mean) {
		return nil, fmt.Errorf("%w: %v actions for [%d, %d]", tensor.ErrShapeMismatch, action.Shape(), g.n, g.d)
	}
	out := tensor.Zeros(g.n)
	for i, a := range action.Data() {
		if math.IsNaN(a) {
			return nil, fmt.Errorf("%w: NaN", ErrInvalidAction)
		}
		out.Data()[i/g.d] += g.normal(i).LogProb(a)
	}
	return out, nil
}

func (g *GaussianDist) Entropy() *tensor.Dense {
	out := tensor.Zeros(g.n)
	for i := range g.mean {
		out.Data()[i/g.d] += g.normal(i).Entropy()
	}
	return out
}
