package features

import (
	"fmt"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/tensor"
)

// Observations turns the last window rows of frame into a size-[1]
// batch whose obs field has shape [1, T, F]. A non-positive window uses
// every row.
func Observations(frame *Frame, window int) (*batch.Batch, error) {
	m := frame.Matrix()
	if m == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrNoData)
	}
	rows, cols := m.Dims()
	if window <= 0 || window > rows {
		window = rows
	}
	data := make([]float64, 0, window*cols)
	for i := rows - window; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	obs, err := tensor.New([]int{1, window, cols}, data)
	if err != nil {
		return nil, err
	}
	b := batch.New([]int{1}, batch.DefaultDevice)
	if err := b.Set(batch.Obs, obs); err != nil {
		return nil, err
	}
	return b, nil
}
