// Package model defines the contract between the policy sampler and the
// trainable models it drives, and a registry of model implementations
// selectable by name.
package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/spec"
	"github.com/vbprojects/finagg/internal/tensor"
)

var (
	// ErrUnknownModel is returned for an unregistered model name.
	ErrUnknownModel = errors.New("model: unknown model")
	// ErrInvalidKind is returned for a view kind other than "last" or "all".
	ErrInvalidKind = errors.New("model: invalid view kind")
	// ErrNoForwardPass is returned when a value estimate is read before any forward pass.
	ErrNoForwardPass = errors.New("model: no forward pass has run")
	// ErrNotTracked is returned by Backward after an untracked forward pass.
	ErrNotTracked = errors.New("model: forward pass ran without gradient tracking")
)

// ViewKind selects how much of a batch's time dimension is preprocessed.
type ViewKind string

const (
	// ViewLast keeps only the trailing window needed for the most recent
	// step of each trajectory.
	ViewLast ViewKind = "last"
	// ViewAll produces one window per time step.
	ViewAll ViewKind = "all"
)

// ParseViewKind validates s.
func ParseViewKind(s string) (ViewKind, error) {
	switch k := ViewKind(s); k {
	case ViewLast, ViewAll:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Config is the free-form mapping a model is configured from.
type Config map[string]any

// Model turns observation batches into distribution features and value
// estimates.
type Model interface {
	// ApplyViewRequirements reshapes a [B, T, ...] batch into the inputs
	// Forward expects, windowed according to kind.
	ApplyViewRequirements(b *batch.Batch, kind ViewKind) (*batch.Batch, error)
	// Forward computes features for a preprocessed batch and caches the
	// value estimate for the same inputs.
	Forward(b *batch.Batch) (*tensor.Dense, error)
	// ValueFunction returns the value estimate cached by the most recent
	// Forward. Repeated calls return the same tensor.
	ValueFunction() (*tensor.Dense, error)
}

// ActionMasker is implemented by models whose last forward pass carried an
// action mask that distributions must respect.
type ActionMasker interface {
	ActionMask() (*tensor.Dense, bool)
}

// Constructor builds a model from its observation, feature and action
// specs plus a configuration mapping.
type Constructor func(obs, feat, act spec.Tensor, cfg Config) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a constructor available under name. Registering a name
// twice panics.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("model: Register called twice for " + name)
	}
	registry[name] = ctor
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return ctor, nil
}

// Names lists registered model names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the model registered under name.
func New(name string, obs, feat, act spec.Tensor, cfg Config) (Model, error) {
	ctor, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(obs, feat, act, cfg)
}

// DecodeConfig decodes cfg into out, rejecting unknown keys.
func DecodeConfig(cfg Config, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(cfg)); err != nil {
		return fmt.Errorf("model: decode config: %w", err)
	}
	return nil
}
