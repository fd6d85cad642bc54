// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"slices"

	"github.com/curioloop/qpsimplex/sparse"
)

// block is the part of the enlarged problem a sequence belongs to.
type block uint8

const (
	blockX block = iota
	blockPi
	blockSj
	blockRow
	blockStationarity
)

// QuadraticInfo is the bookkeeping of the enlarged problem.
//
// Columns of the enlarged problem are laid out as [X | Π | Sj] followed by
// the logicals of the original rows and of the stationarity rows.
// The complement of Xᵢ is Sjᵢ and the complement of the logical of row k
// is Πₖ. Stationarity logicals are fixed and have no complement.
type QuadraticInfo struct {
	numberXRows            int // rows of the original problem
	numberXColumns         int // columns of the original problem
	numberQuadraticRows    int // dual columns Π, one per original row
	numberQuadraticColumns int // reduced cost columns Sj and stationarity rows

	currentSequenceIn int // variable to enter in the next cleanup iteration
	crucialSj         int // dual partner that must return to zero, or -1
	currentPhase      int // 2 while the values pass runs, 0 otherwise

	validSequenceIn int
	validCrucialSj  int
	validPhase      int

	impliedSj []int // basis row of Sjᵢ or -1
	basicRow  []int // basis row of every sequence or -1
	gradient  []float64

	currentSolution []float64 // start point of the values pass
	validSolution   []float64

	infeasibilityCost float64

	linear    []float64
	quadratic *sparse.Matrix // Q̂
}

func newQuadraticInfo(rows, cols int, linear []float64, hessian *sparse.Matrix, infeasibilityCost float64) *QuadraticInfo {
	q := &QuadraticInfo{
		numberXRows:            rows,
		numberXColumns:         cols,
		numberQuadraticRows:    rows,
		numberQuadraticColumns: cols,
		currentSequenceIn:      -1,
		crucialSj:              -1,
		validSequenceIn:        -1,
		validCrucialSj:         -1,
		impliedSj:              make([]int, cols),
		gradient:               make([]float64, cols),
		infeasibilityCost:      infeasibilityCost,
		linear:                 linear,
		quadratic:              hessian,
	}
	q.basicRow = make([]int, q.numberTotal())
	for i := range q.basicRow {
		q.basicRow[i] = -1
	}
	for i := range q.impliedSj {
		q.impliedSj[i] = -1
	}
	return q
}

// Clone returns a copy that shares nothing mutable with q.
func (q *QuadraticInfo) Clone() *QuadraticInfo {
	c := *q
	c.impliedSj = slices.Clone(q.impliedSj)
	c.basicRow = slices.Clone(q.basicRow)
	c.gradient = slices.Clone(q.gradient)
	c.currentSolution = slices.Clone(q.currentSolution)
	c.validSolution = slices.Clone(q.validSolution)
	return &c
}

// saveStatus records the iteration state as the last valid one.
func (q *QuadraticInfo) saveStatus() {
	q.validSequenceIn = q.currentSequenceIn
	q.validCrucialSj = q.crucialSj
	q.validPhase = q.currentPhase
	q.validSolution = append(q.validSolution[:0], q.currentSolution...)
}

// restoreStatus returns to the last valid iteration state.
func (q *QuadraticInfo) restoreStatus() {
	q.currentSequenceIn = q.validSequenceIn
	q.crucialSj = q.validCrucialSj
	q.currentPhase = q.validPhase
	q.currentSolution = append(q.currentSolution[:0], q.validSolution...)
}

// CrucialSj returns the dual partner being driven to zero, or -1.
func (q *QuadraticInfo) CrucialSj() int { return q.crucialSj }

// CurrentPhase returns 2 during the values pass and 0 otherwise.
func (q *QuadraticInfo) CurrentPhase() int { return q.currentPhase }

// Gradient returns the gradient c + Q̂x at the last reduced cost computation.
func (q *QuadraticInfo) Gradient() []float64 { return q.gradient }

func (q *QuadraticInfo) numberColumns() int {
	return q.numberXColumns + q.numberQuadraticRows + q.numberQuadraticColumns
}

func (q *QuadraticInfo) numberRows() int { return q.numberXRows + q.numberQuadraticColumns }

func (q *QuadraticInfo) numberTotal() int { return q.numberColumns() + q.numberRows() }

func (q *QuadraticInfo) xColumn(i int) int  { return i }
func (q *QuadraticInfo) piColumn(k int) int { return q.numberXColumns + k }
func (q *QuadraticInfo) sjColumn(i int) int { return q.numberXColumns + q.numberQuadraticRows + i }
func (q *QuadraticInfo) rowLogical(k int) int {
	return q.numberColumns() + k
}
func (q *QuadraticInfo) stationarityLogical(i int) int {
	return q.numberColumns() + q.numberXRows + i
}

func (q *QuadraticInfo) kind(seq int) block {
	n, m := q.numberXColumns, q.numberXRows
	switch {
	case seq < n:
		return blockX
	case seq < n+m:
		return blockPi
	case seq < q.numberColumns():
		return blockSj
	case seq < q.numberColumns()+m:
		return blockRow
	}
	return blockStationarity
}

// primal reports whether the sequence is a bounded variable of the original
// problem, that is a column or a row logical.
func (q *QuadraticInfo) primal(seq int) bool {
	k := q.kind(seq)
	return k == blockX || k == blockRow
}

// complement returns the dual partner of a sequence, or -1.
func (q *QuadraticInfo) complement(seq int) int {
	n, N := q.numberXColumns, q.numberColumns()
	switch q.kind(seq) {
	case blockX:
		return q.sjColumn(seq)
	case blockPi:
		return q.rowLogical(seq - n)
	case blockSj:
		return seq - n - q.numberQuadraticRows
	case blockRow:
		return q.piColumn(seq - N)
	}
	return -1
}

// refreshRows rebuilds basicRow and impliedSj from the pivot variables.
func (q *QuadraticInfo) refreshRows(pivotVariable []int) {
	for i := range q.basicRow {
		q.basicRow[i] = -1
	}
	for row, seq := range pivotVariable {
		q.basicRow[seq] = row
	}
	for i := range q.impliedSj {
		q.impliedSj[i] = q.basicRow[q.sjColumn(i)]
	}
}

// computeGradient sets the gradient from the column values.
func (q *QuadraticInfo) computeGradient(x []float64) []float64 {
	quadraticGradient(q.linear, q.quadratic, x[:q.numberXColumns], q.gradient)
	return q.gradient
}

// objective evaluates cᵀx + ½xᵀQ̂x + offset at the column values.
func (q *QuadraticInfo) objective(x []float64, offset float64) float64 {
	return quadraticValue(q.linear, q.quadratic, offset, x[:q.numberXColumns])
}
