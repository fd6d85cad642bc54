// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import (
	"bytes"
	"math"
	"testing"

	"github.com/curioloop/qpsimplex/sparse"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

var inf = math.Inf(1)

func repeat(v float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func denseModel(t *testing.T, rows, cols int, a []float64, cost []float64, rowLower, rowUpper []float64) *Model {
	m, err := sparse.FromDense(rows, cols, a)
	require.NoError(t, err)
	return &Model{
		Matrix:      m,
		ColumnLower: repeat(0, cols),
		ColumnUpper: repeat(inf, cols),
		RowLower:    rowLower,
		RowUpper:    rowUpper,
		Cost:        cost,
	}
}

func solve(t *testing.T, model *Model) *Simplex {
	var buf bytes.Buffer
	s, err := New(model, &Logger{Level: LogIter, Msg: &buf, Out: &buf})
	require.NoError(t, err)
	s.Primal(false)
	return s
}

func TestPrimalOptimal(t *testing.T) {
	model := denseModel(t, 2, 2, []float64{
		1, 1,
		1, 3,
	}, []float64{-1, -2}, []float64{-inf, -inf}, []float64{4, 6})

	s := solve(t, model)
	require.Equal(t, Optimal, s.ProblemStatus())
	assert.InDelta(t, -5, s.ObjectiveValue(), 1e-9)
	assert.InDeltaSlice(t, []float64{3, 1}, s.ColumnSolution(), 1e-9)
	assert.InDeltaSlice(t, []float64{4, 6}, s.RowActivity(), 1e-9)
	assert.InDeltaSlice(t, []float64{-0.5, -0.5}, s.Dual(), 1e-9)

	n, _ := s.DualInfeasibilities()
	assert.Zero(t, n)
	n, _ = s.PrimalInfeasibilities()
	assert.Zero(t, n)
}

func TestPrimalAgainstGonum(t *testing.T) {
	tests := []struct {
		name string
		rows int
		cols int
		a    []float64
		b    []float64
		c    []float64
	}{
		{
			name: "slack form",
			rows: 2, cols: 4,
			a: []float64{
				1, 1, 1, 0,
				1, 3, 0, 1,
			},
			b: []float64{4, 6},
			c: []float64{-1, -2, 0, 0},
		},
		{
			name: "surplus needs phase one",
			rows: 2, cols: 4,
			a: []float64{
				1, 2, -1, 0,
				3, 1, 0, -1,
			},
			b: []float64{4, 3},
			c: []float64{1, 1, 0, 0},
		},
		{
			name: "transportation",
			rows: 4, cols: 5,
			a: []float64{
				1, 1, 0, 0, 0,
				0, 0, 1, 1, 0,
				1, 0, 1, 0, 1,
				0, 1, 0, 1, 0,
			},
			b: []float64{3, 5, 4, 4},
			c: []float64{4, 6, 5, 3, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, _, err := lp.Simplex(tt.c, mat.NewDense(tt.rows, tt.cols, tt.a), tt.b, 0, nil)
			require.NoError(t, err)

			s := solve(t, denseModel(t, tt.rows, tt.cols, tt.a, tt.c, tt.b, tt.b))
			require.Equal(t, Optimal, s.ProblemStatus())
			assert.InDelta(t, want, s.ObjectiveValue(), 1e-8)

			// primal feasibility of the returned point
			x := s.ColumnSolution()
			ax := make([]float64, tt.rows)
			model := s.Model()
			model.Matrix.Times(1, x, ax)
			assert.InDeltaSlice(t, tt.b, ax, 1e-8)
			for _, v := range x {
				assert.GreaterOrEqual(t, v, -1e-9)
			}
		})
	}
}

func TestPrimalStatus(t *testing.T) {
	t.Run("infeasible", func(t *testing.T) {
		model := denseModel(t, 2, 2, []float64{
			1, 1,
			1, 1,
		}, []float64{1, 1}, []float64{-inf, 3}, []float64{1, inf})
		assert.Equal(t, Infeasible, solve(t, model).ProblemStatus())
	})
	t.Run("unbounded", func(t *testing.T) {
		model := denseModel(t, 1, 2, []float64{1, -1}, []float64{-1, 0}, []float64{-inf}, []float64{1})
		assert.Equal(t, Unbounded, solve(t, model).ProblemStatus())
	})
	t.Run("iteration limit", func(t *testing.T) {
		model := denseModel(t, 2, 2, []float64{
			1, 1,
			1, 3,
		}, []float64{-1, -2}, []float64{-inf, -inf}, []float64{4, 6})
		s, err := New(model, nil)
		require.NoError(t, err)
		s.SetMaximumIterations(1)
		assert.Equal(t, StoppedIterations, s.Primal(false))
	})
}

func TestPrimalBoundFlip(t *testing.T) {
	model := denseModel(t, 1, 2, []float64{1, 1}, []float64{-1, -1}, []float64{-inf}, []float64{10})
	model.ColumnUpper = []float64{3, 3}
	s := solve(t, model)
	require.Equal(t, Optimal, s.ProblemStatus())
	assert.InDelta(t, -6, s.ObjectiveValue(), 1e-12)
	assert.Equal(t, AtUpperBound, s.State(0).Basis)
	assert.Equal(t, AtUpperBound, s.State(1).Basis)
	assert.Equal(t, Basic, s.State(2).Basis)
}

func TestPrimalFreeColumn(t *testing.T) {
	model := denseModel(t, 1, 2, []float64{1, -1}, []float64{-1, 1}, []float64{-inf}, []float64{1})
	model.ColumnLower = []float64{-inf, 0}
	model.ColumnUpper = []float64{inf, 5}
	s := solve(t, model)
	require.Equal(t, Optimal, s.ProblemStatus())
	assert.InDelta(t, -1, s.ObjectiveValue(), 1e-9)
}

func TestPrimalNoRows(t *testing.T) {
	model := &Model{
		ColumnLower: []float64{-1, 0},
		ColumnUpper: []float64{2, 4},
		Cost:        []float64{-1, 1},
	}
	s := solve(t, model)
	require.Equal(t, Optimal, s.ProblemStatus())
	assert.InDeltaSlice(t, []float64{2, 0}, s.ColumnSolution(), 0)
}

func TestPrimalWarmStart(t *testing.T) {
	model := denseModel(t, 2, 2, []float64{
		1, 1,
		1, 3,
	}, []float64{-1, -2}, []float64{-inf, -inf}, []float64{4, 6})
	s := solve(t, model)
	require.Equal(t, Optimal, s.ProblemStatus())
	iterations := s.NumberIterations()

	// solving again from the optimal basis needs no pivot
	assert.Equal(t, Optimal, s.Primal(false))
	assert.Equal(t, iterations, s.NumberIterations())

	// tighter bounds keep the basis, the engine repairs feasibility
	s.Upper()[0] = 2
	assert.Equal(t, Optimal, s.Primal(true))
	assert.InDeltaSlice(t, []float64{2, 4.0 / 3}, s.ColumnSolution(), 1e-9)
}

func TestNewValidation(t *testing.T) {
	model := denseModel(t, 1, 2, []float64{1, 1}, []float64{1, 1}, []float64{0}, []float64{1})
	model.ColumnLower[1] = 2
	model.ColumnUpper[1] = 1
	_, err := New(model, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentBounds))

	model = denseModel(t, 1, 2, []float64{1, 1}, []float64{1}, []float64{0}, []float64{1})
	_, err = New(model, nil)
	assert.True(t, errors.Is(err, ErrDimension))

	model = denseModel(t, 1, 2, []float64{1, 1}, []float64{1, math.NaN()}, []float64{0}, []float64{1})
	_, err = New(model, nil)
	assert.True(t, errors.Is(err, ErrInvalidData))
}

func TestSnapshot(t *testing.T) {
	model := denseModel(t, 2, 2, []float64{
		1, 1,
		1, 3,
	}, []float64{-1, -2}, []float64{-inf, -inf}, []float64{4, 6})
	s, err := New(model, nil)
	require.NoError(t, err)
	s.AllSlackBasis(false)

	var snap Snapshot
	s.Save(&snap)
	require.True(t, snap.Valid())
	require.Equal(t, Optimal, s.Primal(false))

	s.SetFlagged(1)
	s.Restore(&snap)
	assert.Equal(t, []BasisState{AtLowerBound, AtLowerBound, Basic, Basic}, s.BasisStates())
	assert.True(t, s.Flagged(1), "flags survive a restore")
	assert.Equal(t, 1, s.NumberFlagged())
	assert.True(t, s.Unflag())
	assert.False(t, s.Unflag())
}

func TestProgressLooping(t *testing.T) {
	var p Progress
	assert.Equal(t, -1, p.Looping(1, 0, 0, 1))
	assert.Equal(t, -1, p.Looping(1, 0, 0, 1), "same iteration is not a loop")
	assert.Equal(t, -1, p.Looping(1, 0, 0, 2))
	assert.Equal(t, -1, p.Looping(1, 0, 0, 3))
	assert.Equal(t, -2, p.Looping(1, 0, 0, 4))
	assert.Equal(t, -2, p.Looping(1, 0, 0, 5))
	assert.Equal(t, int(LoopDetected), p.Looping(1, 0, 0, 6))
	assert.Equal(t, 6, p.LastIterationNumber(0))
	assert.Equal(t, 5, p.LastIterationNumber(1))

	p.Reset()
	for i := 0; i < 20; i++ {
		assert.Equal(t, -1, p.Looping(float64(i), 0, 0, i))
	}
}
