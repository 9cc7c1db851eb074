package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/tensor"
)

// ErrBadRequest wraps every malformed sample request.
var ErrBadRequest = errors.New("policy: bad sample request")

// Request is the transport form of a Sample call. Obs holds nested
// numbers shaped [B, T, ...]; a [B, F] array is read as one step per
// trajectory. ActionMask, when set, is [B, T, n] or [B, n].
type Request struct {
	Obs           any    `json:"obs"`
	ActionMask    any    `json:"action_mask,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Deterministic bool   `json:"deterministic,omitempty"`
	ReturnLogp    bool   `json:"return_logp,omitempty"`
	ReturnValues  bool   `json:"return_values,omitempty"`
}

func stepped(v any, name string) (*tensor.Dense, error) {
	t, err := tensor.FromNested(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRequest, name, err)
	}
	shape := t.Shape()
	switch {
	case len(shape) == 2:
		return t.Reshape(shape[0], 1, shape[1])
	case len(shape) < 2:
		return nil, fmt.Errorf("%w: %s must be at least [B, F], got %v", ErrBadRequest, name, shape)
	}
	return t, nil
}

// Batch converts r into a size-[B] batch and sample options.
func (r Request) Batch() (*batch.Batch, SampleOptions, error) {
	var opts SampleOptions
	if r.Obs == nil {
		return nil, opts, fmt.Errorf("%w: obs is required", ErrBadRequest)
	}
	kind := model.ViewLast
	if r.Kind != "" {
		k, err := model.ParseViewKind(r.Kind)
		if err != nil {
			return nil, opts, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		kind = k
	}
	obs, err := stepped(r.Obs, "obs")
	if err != nil {
		return nil, opts, err
	}
	b := batch.New(obs.Shape()[:1], batch.DefaultDevice)
	if err := b.Set(batch.Obs, obs); err != nil {
		return nil, opts, err
	}
	if r.ActionMask != nil {
		mask, err := stepped(r.ActionMask, "action_mask")
		if err != nil {
			return nil, opts, err
		}
		if err := b.Set(batch.ActionMask, mask); err != nil {
			return nil, opts, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	opts = SampleOptions{
		Kind:          kind,
		Deterministic: r.Deterministic,
		ReturnLogp:    r.ReturnLogp,
		ReturnValues:  r.ReturnValues,
	}
	return b, opts, nil
}

// Locked serialises Sample calls on a sampler that is not safe for
// concurrent use.
type Locked struct {
	mu sync.Mutex
	s  Sampler
}

// NewLocked wraps s.
func NewLocked(s Sampler) *Locked {
	return &Locked{s: s}
}

// Sample calls the wrapped sampler while holding the lock.
func (l *Locked) Sample(b *batch.Batch, opts SampleOptions) (*batch.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Sample(b, opts)
}

// SampleRequest decodes r, samples, and returns the output fields as
// nested slices keyed by field name.
func SampleRequest(s Sampler, r Request) (map[string]any, int, error) {
	b, opts, err := r.Batch()
	if err != nil {
		return nil, 0, err
	}
	out, err := s.Sample(b, opts)
	if err != nil {
		return nil, 0, err
	}
	rows := 1
	for _, d := range out.Size() {
		rows *= d
	}
	return out.Nested(), rows, nil
}
