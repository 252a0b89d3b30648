// Package dataset holds the tabular data representation shared by plugins,
// evaluation and studies. Missing values are stored as NaN.
package dataset

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Frame is a dense table of float64 values with named columns.
type Frame struct {
	Columns []string
	Rows    [][]float64
	// Categories maps label-encoded column names to their original values,
	// the code of a value being its index.
	Categories map[string][]string
}

// NewFrame builds a frame, checking that every row matches the column count.
func NewFrame(columns []string, rows [][]float64) (*Frame, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, errors.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.Errorf("row %d has %d values, expected %d", i, len(row), len(columns))
		}
	}
	return &Frame{Columns: columns, Rows: rows}, nil
}

// FromDense wraps a gonum matrix. Column names are generated when nil.
func FromDense(columns []string, m mat.Matrix) *Frame {
	r, c := m.Dims()
	if columns == nil {
		columns = GeneratedColumns(c)
	}
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		rows[i] = row
	}
	return &Frame{Columns: columns, Rows: rows}
}

// GeneratedColumns returns "0".."n-1", the names used for derived features.
func GeneratedColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = strconv.Itoa(i)
	}
	return cols
}

// Nrow returns the number of rows.
func (f *Frame) Nrow() int { return len(f.Rows) }

// Ncol returns the number of columns.
func (f *Frame) Ncol() int { return len(f.Columns) }

// HasMissing reports whether any cell is NaN.
func (f *Frame) HasMissing() bool {
	for _, row := range f.Rows {
		for _, v := range row {
			if math.IsNaN(v) {
				return true
			}
		}
	}
	return false
}

// ColumnIndex returns the index of a column or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of a column's values.
func (f *Frame) Column(name string) ([]float64, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}
	return f.ColumnAt(idx), nil
}

// ColumnAt returns a copy of the values in column j.
func (f *Frame) ColumnAt(j int) []float64 {
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[j]
	}
	return out
}

// Drop returns a frame without the named columns.
func (f *Frame) Drop(names ...string) (*Frame, error) {
	drop := make(map[int]bool, len(names))
	for _, n := range names {
		idx := f.ColumnIndex(n)
		if idx < 0 {
			return nil, errors.Errorf("column %q not found", n)
		}
		drop[idx] = true
	}
	keep := make([]int, 0, f.Ncol()-len(drop))
	for j := range f.Columns {
		if !drop[j] {
			keep = append(keep, j)
		}
	}
	return f.selectIndices(keep), nil
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := f.ColumnIndex(n)
		if j < 0 {
			return nil, errors.Errorf("column %q not found", n)
		}
		idx[i] = j
	}
	return f.selectIndices(idx), nil
}

// SelectIndices returns a frame with the columns at the given positions.
func (f *Frame) SelectIndices(idx []int) *Frame {
	return f.selectIndices(idx)
}

func (f *Frame) selectIndices(idx []int) *Frame {
	cols := make([]string, len(idx))
	for i, j := range idx {
		cols[i] = f.Columns[j]
	}
	rows := make([][]float64, len(f.Rows))
	for r, row := range f.Rows {
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	sub := &Frame{Columns: cols, Rows: rows}
	for _, c := range cols {
		if cats, ok := f.Categories[c]; ok {
			if sub.Categories == nil {
				sub.Categories = make(map[string][]string)
			}
			sub.Categories[c] = cats
		}
	}
	return sub
}

// Take returns the rows at the given indices. Rows are shared, not copied.
func (f *Frame) Take(indices []int) *Frame {
	rows := make([][]float64, len(indices))
	for i, idx := range indices {
		rows[i] = f.Rows[idx]
	}
	return &Frame{Columns: f.Columns, Rows: rows, Categories: f.Categories}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	rows := make([][]float64, len(f.Rows))
	for i, row := range f.Rows {
		rows[i] = append([]float64(nil), row...)
	}
	cols := append([]string(nil), f.Columns...)
	out := &Frame{Columns: cols, Rows: rows}
	if f.Categories != nil {
		out.Categories = make(map[string][]string, len(f.Categories))
		for k, v := range f.Categories {
			out.Categories[k] = v
		}
	}
	return out
}

// Dense copies the frame into a gonum matrix.
func (f *Frame) Dense() *mat.Dense {
	r, c := f.Nrow(), f.Ncol()
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	flat := make([]float64, 0, r*c)
	for _, row := range f.Rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(r, c, flat)
}

// SplitTarget removes the target columns from the frame and returns them.
func SplitTarget(f *Frame, targets ...string) (*Frame, [][]float64, error) {
	values := make([][]float64, len(targets))
	for i, t := range targets {
		col, err := f.Column(t)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to extract target")
		}
		for r, v := range col {
			if math.IsNaN(v) {
				return nil, nil, errors.Errorf("target %q has a missing value at row %d", t, r)
			}
		}
		values[i] = col
	}
	X, err := f.Drop(targets...)
	if err != nil {
		return nil, nil, err
	}
	return X, values, nil
}
