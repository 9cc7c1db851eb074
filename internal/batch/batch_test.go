package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbprojects/finagg/internal/tensor"
)

func TestSetEnforcesBatchSize(t *testing.T) {
	b := New([]int{4, 10}, "")
	assert.Equal(t, DefaultDevice, b.Device())

	require.NoError(t, b.Set(Obs, tensor.Zeros(4, 10, 3)))
	err := b.Set(Actions, tensor.Zeros(4, 9))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.False(t, b.Has(Actions))
}

func TestGetMissing(t *testing.T) {
	b := New([]int{1}, "cpu")
	_, err := b.Get(Features)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestKeysSortedAndNested(t *testing.T) {
	b := New([]int{2}, "cpu")
	require.NoError(t, b.Set(Values, tensor.Zeros(2)))
	require.NoError(t, b.Set(Actions, tensor.Zeros(2, 1)))

	assert.Equal(t, []Key{Actions, Values}, b.Keys())
	assert.Equal(t, 2, b.Len())

	nested := b.Nested()
	assert.Equal(t, []any{0.0, 0.0}, nested["values"])

	b.Delete(Values)
	assert.Equal(t, []Key{Actions}, b.Keys())
}

func TestSizeIsCopied(t *testing.T) {
	b := New([]int{3}, "cpu")
	size := b.Size()
	size[0] = 99
	assert.Equal(t, []int{3}, b.Size())
}
