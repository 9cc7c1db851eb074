// Package batch defines the keyed tensor collections exchanged between
// the policy sampler, models and downstream consumers.
package batch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vbprojects/finagg/internal/tensor"
)

// Key names a batch field.
type Key string

// Field keys shared by the sampler, the training loop and logging.
const (
	Obs        Key = "obs"
	Features   Key = "features"
	Actions    Key = "actions"
	Logp       Key = "logp"
	Values     Key = "values"
	Rewards    Key = "rewards"
	Finals     Key = "finals"
	ActionMask Key = "action_mask"
)

var (
	// ErrMissingField indicates a required field is absent.
	ErrMissingField = errors.New("batch: missing field")
	// ErrShapeMismatch indicates a field does not share the batch's leading dims.
	ErrShapeMismatch = errors.New("batch: field shape does not match batch size")
)

// DefaultDevice is the device label of host-memory batches.
const DefaultDevice = "cpu"

// Batch maps field keys to tensors whose leading dimensions all equal Size.
type Batch struct {
	size   []int
	device string
	fields map[Key]*tensor.Dense
}

// New creates an empty batch with the given leading dimensions.
func New(size []int, device string) *Batch {
	if device == "" {
		device = DefaultDevice
	}
	return &Batch{
		size:   append([]int(nil), size...),
		device: device,
		fields: make(map[Key]*tensor.Dense),
	}
}

// Size returns the leading dimensions shared by every field.
func (b *Batch) Size() []int {
	return append([]int(nil), b.size...)
}

// Device returns where the batch's tensors live.
func (b *Batch) Device() string {
	return b.device
}

// Set stores t under k, enforcing the batch-size prefix.
func (b *Batch) Set(k Key, t *tensor.Dense) error {
	if t == nil {
		return fmt.Errorf("batch: nil tensor for %q", k)
	}
	if !tensor.HasPrefix(t.Shape(), b.size) {
		return fmt.Errorf("%w: %q has shape %v, batch size %v", ErrShapeMismatch, k, t.Shape(), b.size)
	}
	b.fields[k] = t
	return nil
}

// Get returns the tensor under k.
func (b *Batch) Get(k Key) (*tensor.Dense, error) {
	t, ok := b.fields[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, k)
	}
	return t, nil
}

// Has reports whether k is present.
func (b *Batch) Has(k Key) bool {
	_, ok := b.fields[k]
	return ok
}

// Delete removes k if present.
func (b *Batch) Delete(k Key) {
	delete(b.fields, k)
}

// Keys returns the present keys in sorted order.
func (b *Batch) Keys() []Key {
	keys := make([]Key, 0, len(b.fields))
	for k := range b.fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of fields.
func (b *Batch) Len() int {
	return len(b.fields)
}

// Nested converts every field to nested slices, keyed by field name.
func (b *Batch) Nested() map[string]any {
	out := make(map[string]any, len(b.fields))
	for k, t := range b.fields {
		out[string(k)] = t.Nested()
	}
	return out
}
