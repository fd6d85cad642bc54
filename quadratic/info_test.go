// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"testing"

	"github.com/curioloop/qpsimplex/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	info := newQuadraticInfo(2, 3, make([]float64, 3), diagonal(t, 1, 1, 1), defaultInfeasibilityCost)
	// columns X0..2 Π3..4 Sj5..7, rows 8..9, stationarity 10..12
	assert.Equal(t, 8, info.numberColumns())
	assert.Equal(t, 5, info.numberRows())
	assert.Equal(t, 13, info.numberTotal())

	tests := []struct {
		seq        int
		kind       block
		complement int
		primal     bool
	}{
		{0, blockX, 5, true},
		{2, blockX, 7, true},
		{3, blockPi, 8, false},
		{4, blockPi, 9, false},
		{5, blockSj, 0, false},
		{7, blockSj, 2, false},
		{8, blockRow, 3, true},
		{9, blockRow, 4, true},
		{10, blockStationarity, -1, false},
		{12, blockStationarity, -1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, info.kind(tt.seq), "kind of %d", tt.seq)
		assert.Equal(t, tt.complement, info.complement(tt.seq), "complement of %d", tt.seq)
		assert.Equal(t, tt.primal, info.primal(tt.seq), "primal %d", tt.seq)
		if c := tt.complement; c >= 0 {
			assert.Equal(t, tt.seq, info.complement(c), "complement is an involution at %d", tt.seq)
		}
	}
	assert.Equal(t, 10, info.stationarityLogical(0))
	assert.Equal(t, 9, info.rowLogical(1))
}

func TestInfoSaveRestore(t *testing.T) {
	info := newQuadraticInfo(1, 2, []float64{1, 2}, diagonal(t, 2, 2), defaultInfeasibilityCost)
	info.currentSequenceIn, info.crucialSj, info.currentPhase = 0, 3, 2
	info.currentSolution = []float64{1, 2}
	info.saveStatus()

	info.currentSequenceIn, info.crucialSj, info.currentPhase = -1, -1, 0
	info.currentSolution[0] = 9
	info.restoreStatus()
	assert.Equal(t, 0, info.currentSequenceIn)
	assert.Equal(t, 3, info.CrucialSj())
	assert.Equal(t, 2, info.CurrentPhase())
	assert.Equal(t, []float64{1, 2}, info.currentSolution)

	c := info.Clone()
	c.basicRow[0], c.gradient[0], c.currentSolution[0] = 7, 7, 7
	assert.Equal(t, -1, info.basicRow[0])
	assert.Zero(t, info.gradient[0])
	assert.Equal(t, 1.0, info.currentSolution[0])
}

func TestRefreshRows(t *testing.T) {
	info := newQuadraticInfo(1, 2, []float64{0, 0}, diagonal(t, 2, 2), defaultInfeasibilityCost)
	// rows: original row, two stationarity rows
	info.refreshRows([]int{info.rowLogical(0), info.sjColumn(1), info.xColumn(0)})
	assert.Equal(t, 0, info.basicRow[info.rowLogical(0)])
	assert.Equal(t, 2, info.basicRow[0])
	assert.Equal(t, -1, info.basicRow[1])
	assert.Equal(t, []int{-1, 1}, info.impliedSj)
}

func TestGradientObjective(t *testing.T) {
	q, err := sparse.FromTriplets(2, 2, []sparse.Triplet{
		{Row: 0, Col: 0, Value: 2},
		{Row: 0, Col: 1, Value: 2},
	})
	require.NoError(t, err)
	hessian := symmetrize(q)
	info := newQuadraticInfo(0, 2, []float64{1, -1}, hessian, defaultInfeasibilityCost)
	x := []float64{1, 2, 99}
	// Q̂ = [2 1; 1 0], g = c + Q̂x = (1+2+2, -1+1)
	assert.Equal(t, []float64{5, 0}, info.computeGradient(x))
	assert.Equal(t, info.gradient, info.Gradient())
	// f = 3 + 1 - 2 + ½(2 + 4)
	assert.InDelta(t, 5, info.objective(x, 3), 1e-12)
}

func TestSymmetrize(t *testing.T) {
	q, err := sparse.FromTriplets(2, 2, []sparse.Triplet{
		{Row: 0, Col: 0, Value: 2},
		{Row: 0, Col: 1, Value: 4},
		{Row: 1, Col: 0, Value: 2},
		{Row: 1, Col: 1, Value: 0},
	})
	require.NoError(t, err)
	s := symmetrize(q)
	assert.Equal(t, 2.0, s.At(0, 0))
	assert.Equal(t, 3.0, s.At(0, 1))
	assert.Equal(t, 3.0, s.At(1, 0))
	assert.Equal(t, 4, s.NNZ(), "explicit zero survives")

	partial, err := sparse.FromTriplets(3, 3, []sparse.Triplet{{Row: 0, Col: 1, Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, nonlinearColumns(partial, 3))
	assert.Equal(t, []bool{false, false}, nonlinearColumns(nil, 2))
}
