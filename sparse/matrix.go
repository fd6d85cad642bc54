// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sparse provides the column compressed matrix shared by the
// linear engine and the quadratic reformulation.
package sparse

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape = errors.New("sparse: inconsistent matrix shape")
	ErrIndex = errors.New("sparse: index out of range")
)

// Triplet is one stored element (row, column, value).
type Triplet struct {
	Row, Col int
	Value    float64
}

// Matrix is a column-major compressed sparse matrix.
//
//	column j occupies index[start[j]:start[j+1]] and value[start[j]:start[j+1]]
//
// Row indices within a column are strictly increasing.
type Matrix struct {
	rows, cols int
	start      []int
	index      []int
	value      []float64
}

var _ mat.Matrix = (*Matrix)(nil)

// New builds a matrix from compressed column arrays which are taken over by the matrix.
func New(rows, cols int, start, index []int, value []float64) (*Matrix, error) {
	switch {
	case rows < 0 || cols < 0:
		return nil, errors.Wrapf(ErrShape, "dimension %d×%d", rows, cols)
	case len(start) != cols+1:
		return nil, errors.Wrapf(ErrShape, "column start length %d, want %d", len(start), cols+1)
	case len(index) != len(value):
		return nil, errors.Wrapf(ErrShape, "%d indices for %d values", len(index), len(value))
	case start[0] != 0 || start[cols] != len(index):
		return nil, errors.Wrapf(ErrShape, "column start range [%d,%d] for %d elements", start[0], start[cols], len(index))
	}
	for j := 0; j < cols; j++ {
		if start[j] > start[j+1] {
			return nil, errors.Wrapf(ErrShape, "column %d start decreasing", j)
		}
		for k := start[j]; k < start[j+1]; k++ {
			i := index[k]
			if i < 0 || i >= rows {
				return nil, errors.Wrapf(ErrIndex, "row %d in column %d", i, j)
			}
			if k > start[j] && index[k-1] >= i {
				return nil, errors.Wrapf(ErrShape, "column %d rows not increasing", j)
			}
		}
	}
	return &Matrix{rows: rows, cols: cols, start: start, index: index, value: value}, nil
}

// FromTriplets builds a matrix from unordered elements, duplicates are summed.
// Elements whose sum is exactly zero are kept so that explicit zeros survive.
func FromTriplets(rows, cols int, elements []Triplet) (*Matrix, error) {
	for _, e := range elements {
		if e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols {
			return nil, errors.Wrapf(ErrIndex, "element (%d,%d) outside %d×%d", e.Row, e.Col, rows, cols)
		}
	}
	sorted := slices.Clone(elements)
	slices.SortStableFunc(sorted, func(a, b Triplet) int {
		if a.Col != b.Col {
			return a.Col - b.Col
		}
		return a.Row - b.Row
	})
	start := make([]int, cols+1)
	index := make([]int, 0, len(sorted))
	value := make([]float64, 0, len(sorted))
	for k, e := range sorted {
		if k > 0 && sorted[k-1].Col == e.Col && sorted[k-1].Row == e.Row {
			value[len(value)-1] += e.Value
			continue
		}
		index = append(index, e.Row)
		value = append(value, e.Value)
		start[e.Col+1]++
	}
	for j := 0; j < cols; j++ {
		start[j+1] += start[j]
	}
	return &Matrix{rows: rows, cols: cols, start: start, index: index, value: value}, nil
}

// FromDense builds a matrix from row-major dense data, dropping exact zeros.
func FromDense(rows, cols int, data []float64) (*Matrix, error) {
	if len(data) != rows*cols {
		return nil, errors.Wrapf(ErrShape, "%d values for %d×%d", len(data), rows, cols)
	}
	var elements []Triplet
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := data[i*cols+j]; v != 0 {
				elements = append(elements, Triplet{i, j, v})
			}
		}
	}
	return FromTriplets(rows, cols, elements)
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (r, c int) { return m.rows, m.cols }

// At returns the element at row i and column j.
func (m *Matrix) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	idx := m.index[m.start[j]:m.start[j+1]]
	if k, found := slices.BinarySearch(idx, i); found {
		return m.value[m.start[j]+k]
	}
	return 0
}

// T returns the implicit transpose view.
func (m *Matrix) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored elements, explicit zeros included.
func (m *Matrix) NNZ() int { return len(m.index) }

// Column returns the stored rows and values of column j.
// The slices alias the matrix storage and must not be modified.
func (m *Matrix) Column(j int) (index []int, value []float64) {
	lo, hi := m.start[j], m.start[j+1]
	return m.index[lo:hi], m.value[lo:hi]
}

// ColumnLength returns the number of stored elements in column j.
func (m *Matrix) ColumnLength(j int) int { return m.start[j+1] - m.start[j] }

// Triplets returns all stored elements in column order.
func (m *Matrix) Triplets() []Triplet {
	ts := make([]Triplet, 0, len(m.index))
	for j := 0; j < m.cols; j++ {
		for k := m.start[j]; k < m.start[j+1]; k++ {
			ts = append(ts, Triplet{m.index[k], j, m.value[k]})
		}
	}
	return ts
}

// Transpose returns an explicit compressed copy of mᵀ, which is the row copy of m.
func (m *Matrix) Transpose() *Matrix {
	start := make([]int, m.rows+1)
	for _, i := range m.index {
		start[i+1]++
	}
	for i := 0; i < m.rows; i++ {
		start[i+1] += start[i]
	}
	next := slices.Clone(start[:m.rows])
	index := make([]int, len(m.index))
	value := make([]float64, len(m.value))
	for j := 0; j < m.cols; j++ {
		for k := m.start[j]; k < m.start[j+1]; k++ {
			i := m.index[k]
			p := next[i]
			index[p], value[p] = j, m.value[k]
			next[i]++
		}
	}
	return &Matrix{rows: m.cols, cols: m.rows, start: start, index: index, value: value}
}

// Times computes y += scalar × m × x.
func (m *Matrix) Times(scalar float64, x, y []float64) {
	if len(x) != m.cols || len(y) != m.rows {
		panic(ErrShape)
	}
	for j, xj := range x {
		if xj == 0 {
			continue
		}
		xj *= scalar
		for k := m.start[j]; k < m.start[j+1]; k++ {
			y[m.index[k]] += xj * m.value[k]
		}
	}
}

// TransposeTimes computes y += scalar × mᵀ × x.
func (m *Matrix) TransposeTimes(scalar float64, x, y []float64) {
	if len(x) != m.rows || len(y) != m.cols {
		panic(ErrShape)
	}
	for j := range y {
		sum := 0.0
		for k := m.start[j]; k < m.start[j+1]; k++ {
			sum += x[m.index[k]] * m.value[k]
		}
		y[j] += scalar * sum
	}
}

// ColumnDot returns the dot product of column j with the dense vector x.
func (m *Matrix) ColumnDot(j int, x []float64) float64 {
	sum := 0.0
	for k := m.start[j]; k < m.start[j+1]; k++ {
		sum += x[m.index[k]] * m.value[k]
	}
	return sum
}

// QuadraticForm returns xᵀ m y over the stored elements.
func (m *Matrix) QuadraticForm(x, y []float64) float64 {
	if len(x) != m.rows || len(y) != m.cols {
		panic(ErrShape)
	}
	sum := 0.0
	for j, yj := range y {
		if yj == 0 {
			continue
		}
		sum += yj * m.ColumnDot(j, x)
	}
	return sum
}

// Dense returns a dense copy of the matrix.
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(m.rows, m.cols, nil)
	for j := 0; j < m.cols; j++ {
		for k := m.start[j]; k < m.start[j+1]; k++ {
			d.Set(m.index[k], j, m.value[k])
		}
	}
	return d
}
