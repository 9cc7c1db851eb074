// Package features assembles model-ready feature tables from the store.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/vbprojects/finagg/internal/store"
)

// Frame is a date-indexed table of named float columns. Dates are
// YYYY-MM-DD strings kept in ascending order; missing cells are NaN.
type Frame struct {
	dates  []string
	cols   []string
	colIdx map[string]int
	rows   [][]float64
}

// NewFrame returns an empty frame.
func NewFrame() *Frame {
	return &Frame{colIdx: map[string]int{}}
}

// FromLong pivots long-format features into a frame.
func FromLong(feats []store.Feature) *Frame {
	f := NewFrame()
	for _, ft := range feats {
		f.Set(ft.Date, ft.Name, ft.Value)
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.dates) }

// Dates returns the row dates.
func (f *Frame) Dates() []string { return append([]string(nil), f.dates...) }

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string { return append([]string(nil), f.cols...) }

// Has reports whether the frame has column name.
func (f *Frame) Has(name string) bool {
	_, ok := f.colIdx[name]
	return ok
}

func (f *Frame) addColumn(name string) int {
	if j, ok := f.colIdx[name]; ok {
		return j
	}
	j := len(f.cols)
	f.cols = append(f.cols, name)
	f.colIdx[name] = j
	for i := range f.rows {
		f.rows[i] = append(f.rows[i], math.NaN())
	}
	return j
}

func (f *Frame) row(date string) int {
	i := sort.SearchStrings(f.dates, date)
	if i < len(f.dates) && f.dates[i] == date {
		return i
	}
	row := make([]float64, len(f.cols))
	for j := range row {
		row[j] = math.NaN()
	}
	f.dates = append(f.dates, "")
	copy(f.dates[i+1:], f.dates[i:])
	f.dates[i] = date
	f.rows = append(f.rows, nil)
	copy(f.rows[i+1:], f.rows[i:])
	f.rows[i] = row
	return i
}

// Lookup returns the row index of date.
func (f *Frame) Lookup(date string) (int, bool) {
	i := sort.SearchStrings(f.dates, date)
	return i, i < len(f.dates) && f.dates[i] == date
}

// Set stores v at date and column name, adding either if absent.
func (f *Frame) Set(date, name string, v float64) {
	j := f.addColumn(name)
	f.rows[f.row(date)][j] = v
}

// At returns the value at row i and column name, NaN when absent.
func (f *Frame) At(i int, name string) float64 {
	j, ok := f.colIdx[name]
	if !ok {
		return math.NaN()
	}
	return f.rows[i][j]
}

// Column returns a copy of column name, or nil when absent.
func (f *Frame) Column(name string) []float64 {
	j, ok := f.colIdx[name]
	if !ok {
		return nil
	}
	out := make([]float64, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[j]
	}
	return out
}

// SetColumn replaces or adds column name. values must have Len entries.
func (f *Frame) SetColumn(name string, values []float64) {
	j := f.addColumn(name)
	for i := range f.rows {
		f.rows[i][j] = values[i]
	}
}

// Merge adds other's rows and columns to f. Cells present in both take
// other's value.
func (f *Frame) Merge(other *Frame) *Frame {
	for i, d := range other.dates {
		for j, name := range other.cols {
			if v := other.rows[i][j]; !math.IsNaN(v) {
				f.Set(d, name, v)
			} else {
				f.addColumn(name)
				f.row(d)
			}
		}
	}
	return f
}

// FFill replaces NaN cells with the last non-NaN value above them.
func (f *Frame) FFill() *Frame {
	for j := range f.cols {
		last := math.NaN()
		for _, r := range f.rows {
			if math.IsNaN(r[j]) {
				r[j] = last
			} else {
				last = r[j]
			}
		}
	}
	return f
}

// Restrict keeps only the rows whose dates appear in dates.
func (f *Frame) Restrict(dates []string) *Frame {
	keep := make(map[string]bool, len(dates))
	for _, d := range dates {
		keep[d] = true
	}
	return f.filter(func(i int) bool { return keep[f.dates[i]] })
}

// DropIncomplete removes rows with any NaN or infinite cell.
func (f *Frame) DropIncomplete() *Frame {
	return f.filter(func(i int) bool {
		for _, v := range f.rows[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		return true
	})
}

func (f *Frame) filter(keep func(i int) bool) *Frame {
	dates, rows := f.dates[:0:0], f.rows[:0:0]
	for i := range f.dates {
		if keep(i) {
			dates = append(dates, f.dates[i])
			rows = append(rows, f.rows[i])
		}
	}
	f.dates, f.rows = dates, rows
	return f
}

// Select returns a new frame holding only the named columns, in order.
// Absent columns are filled with NaN.
func (f *Frame) Select(names ...string) *Frame {
	out := NewFrame()
	for _, n := range names {
		out.addColumn(n)
	}
	for i, d := range f.dates {
		r := out.row(d)
		for j, n := range names {
			out.rows[r][j] = f.At(i, n)
		}
	}
	return out
}

// Matrix copies the frame into a Len x len(Columns) matrix. It returns
// nil for an empty frame.
func (f *Frame) Matrix() *mat.Dense {
	if len(f.rows) == 0 || len(f.cols) == 0 {
		return nil
	}
	m := mat.NewDense(len(f.rows), len(f.cols), nil)
	for i, r := range f.rows {
		m.SetRow(i, r)
	}
	return m
}

// ToLong converts the frame to long-format features for ticker, skipping
// NaN cells.
func (f *Frame) ToLong(ticker string) []store.Feature {
	out := make([]store.Feature, 0, len(f.rows)*len(f.cols))
	for i, d := range f.dates {
		for j, name := range f.cols {
			if v := f.rows[i][j]; !math.IsNaN(v) {
				out = append(out, store.Feature{Ticker: ticker, Date: d, Name: name, Value: v})
			}
		}
	}
	return out
}
