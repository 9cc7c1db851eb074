package dist

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/tensor"
)

// CategoricalDist is a softmax over per-row logits. Actions are [N, 1]
// choice indices.
type CategoricalDist struct {
	n, k int
	logp []float64 // normalised log-probabilities, row-major [N, K]
}

// NewCategorical treats features as logits. If m reports an action mask,
// choices whose mask entry is zero get zero probability.
func NewCategorical(features *tensor.Dense, m model.Model) (Distribution, error) {
	n, k, err := rows(features)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return nil, fmt.Errorf("dist: categorical over zero choices")
	}
	logits := append([]float64(nil), features.Data()...)

	if masker, ok := m.(model.ActionMasker); ok {
		if mask, ok := masker.ActionMask(); ok {
			if mask.Len() != len(logits) {
				return nil, fmt.Errorf("%w: mask %v for logits %v", tensor.ErrShapeMismatch, mask.Shape(), features.Shape())
			}
			for i, v := range mask.Data() {
				if v == 0 {
					logits[i] = math.Inf(-1)
				}
			}
		}
	}

	for i := 0; i < n; i++ {
		row := logits[i*k : (i+1)*k]
		if floats.Max(row) == math.Inf(-1) {
			return nil, fmt.Errorf("dist: every action masked in row %d", i)
		}
		lse := floats.LogSumExp(row)
		floats.AddConst(-lse, row)
	}
	return &CategoricalDist{n: n, k: k, logp: logits}, nil
}

func (c *CategoricalDist) row(i int) []float64 {
	return c.logp[i*c.k : (i+1)*c.k]
}

// Probs returns the per-row probabilities [N, K].
func (c *CategoricalDist) Probs() *tensor.Dense {
	p := tensor.Zeros(c.n, c.k)
	for i, v := range c.logp {
		p.Data()[i] = math.Exp(v)
	}
	return p
}

func (c *CategoricalDist) Sample(rng *rand.Rand) *tensor.Dense {
	out := tensor.Zeros(c.n, 1)
	for i := 0; i < c.n; i++ {
		u := rng.Float64()
		choice := -1
		var cum float64
		for j, lp := range c.row(i) {
			p := math.Exp(lp)
			if p == 0 {
				continue
			}
			choice = j
			cum += p
			if u < cum {
				break
			}
		}
		out.Set(float64(choice), i, 0)
	}
	return out
}

func (c *CategoricalDist) DeterministicSample() *tensor.Dense {
	out := tensor.Zeros(c.n, 1)
	for i := 0; i < c.n; i++ {
		out.Set(float64(floats.MaxIdx(c.row(i))), i, 0)
	}
	return out
}

func (c *CategoricalDist) Logp(action *tensor.Dense) (*tensor.Dense, error) {
	if action.Len() != c.n {
		return nil, fmt.Errorf("%w: %v actions for %d rows", tensor.ErrShapeMismatch, action.Shape(), c.n)
	}
	out := tensor.Zeros(c.n)
	for i, a := range action.Data() {
		j := int(a)
		if float64(j) != a || j < 0 || j >= c.k {
			return nil, fmt.Errorf("%w: %v not in [0, %d)", ErrInvalidAction, a, c.k)
		}
		out.Data()[i] = c.row(i)[j]
	}
	return out, nil
}

func (c *CategoricalDist) Entropy() *tensor.Dense {
	out := tensor.Zeros(c.n)
	for i := 0; i < c.n; i++ {
		var h float64
		for _, lp := range c.row(i) {
			if p := math.Exp(lp); p > 0 {
				h -= p * lp
			}
		}
		out.Data()[i] = h
	}
	return out
}
