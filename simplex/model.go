// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import (
	"math"
	"slices"

	"github.com/curioloop/qpsimplex/sparse"
	"github.com/pkg/errors"
)

var (
	ErrDimension          = errors.New("simplex: dimension mismatch")
	ErrInconsistentBounds = errors.New("simplex: lower bound exceeds upper bound")
	ErrInvalidData        = errors.New("simplex: model contains NaN")
)

// Model is a linear program
//
//	minimize    cᵀx + offset
//	subject to  rowLower ≤ Ax ≤ rowUpper
//	            colLower ≤ x ≤ colUpper
//
// Infinite bounds are ±Inf.
type Model struct {
	Matrix      *sparse.Matrix
	ColumnLower []float64
	ColumnUpper []float64
	RowLower    []float64
	RowUpper    []float64
	Cost        []float64
	Offset      float64
}

// Dims returns the number of rows and columns.
func (m *Model) Dims() (rows, cols int) {
	if m.Matrix == nil {
		return 0, len(m.Cost)
	}
	return m.Matrix.Dims()
}

// Clone returns a deep copy sharing only the read-only matrix.
func (m *Model) Clone() *Model {
	return &Model{
		Matrix:      m.Matrix,
		ColumnLower: slices.Clone(m.ColumnLower),
		ColumnUpper: slices.Clone(m.ColumnUpper),
		RowLower:    slices.Clone(m.RowLower),
		RowUpper:    slices.Clone(m.RowUpper),
		Cost:        slices.Clone(m.Cost),
		Offset:      m.Offset,
	}
}

// Validate checks dimensions and bound consistency.
func (m *Model) Validate() (err error) {
	rows, cols := m.Dims()
	switch {
	case m.Matrix == nil && rows > 0:
		err = errors.Wrap(ErrDimension, "constraint matrix is required")
	case len(m.Cost) != cols:
		err = errors.Wrapf(ErrDimension, "cost size %d, want %d", len(m.Cost), cols)
	case len(m.ColumnLower) != cols || len(m.ColumnUpper) != cols:
		err = errors.Wrapf(ErrDimension, "column bounds size %d/%d, want %d", len(m.ColumnLower), len(m.ColumnUpper), cols)
	case len(m.RowLower) != rows || len(m.RowUpper) != rows:
		err = errors.Wrapf(ErrDimension, "row bounds size %d/%d, want %d", len(m.RowLower), len(m.RowUpper), rows)
	case math.IsNaN(m.Offset) || math.IsInf(m.Offset, 0):
		err = errors.Wrap(ErrInvalidData, "objective offset")
	}
	if err != nil {
		return
	}
	for j := 0; j < cols; j++ {
		if math.IsNaN(m.Cost[j]) || math.IsInf(m.Cost[j], 0) {
			return errors.Wrapf(ErrInvalidData, "cost of column %d", j)
		}
		if err = checkBound(m.ColumnLower[j], m.ColumnUpper[j]); err != nil {
			return errors.Wrapf(err, "column %d", j)
		}
	}
	for i := 0; i < rows; i++ {
		if err = checkBound(m.RowLower[i], m.RowUpper[i]); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
	}
	if m.Matrix != nil {
		for _, e := range m.Matrix.Triplets() {
			if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
				return errors.Wrapf(ErrInvalidData, "element (%d,%d)", e.Row, e.Col)
			}
		}
	}
	return nil
}

func checkBound(l, u float64) error {
	switch {
	case math.IsNaN(l) || math.IsNaN(u):
		return ErrInvalidData
	case math.IsInf(l, 1) || math.IsInf(u, -1):
		return errors.Wrapf(ErrInconsistentBounds, "[%g, %g]", l, u)
	case l > u:
		return errors.Wrapf(ErrInconsistentBounds, "[%g, %g]", l, u)
	}
	return nil
}

// ObjectiveValue evaluates cᵀx + offset.
func (m *Model) ObjectiveValue(x []float64) float64 {
	f := m.Offset
	for j, c := range m.Cost {
		f += c * x[j]
	}
	return f
}
