// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"math"
	"slices"

	"github.com/curioloop/qpsimplex/simplex"
	"github.com/curioloop/qpsimplex/sparse"
	"github.com/pkg/errors"
)

// makeQuadratic builds the enlarged problem of lp and installs its initial
// basis. Without a start point the basis of lp becomes a complementary
// vertex: every nonbasic column or row logical gets its dual partner basic.
// With a start point every row logical and every Sj is basic and the
// columns are nonbasic at the start values, ready for a values pass.
func makeQuadratic(lp *simplex.Simplex, obj *Quadratic, start []float64, infeasibilityCost float64) (*simplex.Simplex, *QuadraticInfo, error) {
	if !obj.hasHessian() {
		return nil, nil, ErrNotQuadratic
	}
	m, n := lp.NumberRows(), lp.NumberColumns()
	if r, c := obj.Q.Dims(); r != n || c != n {
		return nil, nil, errors.Wrapf(ErrDimension, "hessian is %d×%d, want %d×%d", r, c, n, n)
	}
	if start == nil && !lp.HasBasis() {
		return nil, nil, errors.Wrap(simplex.ErrBasis, "no start point and no linear basis")
	}
	hessian := symmetrize(obj.Q)
	info := newQuadraticInfo(m, n, obj.Cost, hessian, infeasibilityCost)
	model := enlargedModel(lp, obj.Cost, hessian, info)

	qp, err := simplex.New(model, lp.Logger())
	if err != nil {
		return nil, nil, errors.Wrap(err, "enlarged problem")
	}
	qp.SetPrimalTolerance(lp.PrimalTolerance())
	qp.SetDualTolerance(lp.DualTolerance())

	x := qp.Solution()
	states := make([]simplex.BasisState, info.numberTotal())
	for i := 0; i < n; i++ {
		states[info.stationarityLogical(i)] = simplex.IsFixed
	}

	if start == nil {
		lpx := lp.Solution()
		for i := 0; i < n; i++ {
			x[i] = lpx[i]
			states[i] = lp.State(i).Basis
			if states[i] == simplex.Basic {
				states[info.sjColumn(i)] = simplex.IsFree
			} else {
				states[info.sjColumn(i)] = simplex.Basic
			}
		}
		for k := 0; k < m; k++ {
			r := info.rowLogical(k)
			x[r] = lpx[lp.RowSequence(k)]
			states[r] = lp.State(lp.RowSequence(k)).Basis
			if states[r] == simplex.Basic {
				states[info.piColumn(k)] = simplex.IsFree
			} else {
				states[info.piColumn(k)] = simplex.Basic
			}
		}
		info.currentPhase = 0
	} else {
		for i := 0; i < n; i++ {
			x[i] = start[i]
			states[i] = simplex.SuperBasic
			states[info.sjColumn(i)] = simplex.Basic
		}
		for k := 0; k < m; k++ {
			states[info.rowLogical(k)] = simplex.Basic
			states[info.piColumn(k)] = simplex.IsFree
		}
		info.currentPhase = 2
		info.currentSolution = slices.Clone(start)
	}
	if err = qp.SetBasis(states); err != nil {
		return nil, nil, err
	}
	return qp, info, nil
}

// enlargedModel assembles the KKT system of the quadratic program.
//
//	X column i:   Aᵢ in the original rows, -Q̂ᵢ in the stationarity rows
//	Π column k:   row k of A placed in the stationarity rows
//	Sj column i:  +1 in stationarity row i
//
// Stationarity rows are fixed at c and the duals are free.
func enlargedModel(lp *simplex.Simplex, c []float64, hessian *sparse.Matrix, info *QuadraticInfo) *simplex.Model {
	m, n := info.numberXRows, info.numberXColumns
	a := lp.Matrix()
	entries := make([]sparse.Triplet, 0, 2*a.NNZ()+hessian.NNZ()+n)
	for j := 0; j < n; j++ {
		index, value := a.Column(j)
		for k, i := range index {
			entries = append(entries, sparse.Triplet{Row: i, Col: info.xColumn(j), Value: value[k]})
		}
		index, value = hessian.Column(j)
		for k, i := range index {
			entries = append(entries, sparse.Triplet{Row: m + i, Col: info.xColumn(j), Value: -value[k]})
		}
	}
	for j := 0; j < n; j++ {
		index, value := a.Column(j)
		for k, i := range index {
			entries = append(entries, sparse.Triplet{Row: m + j, Col: info.piColumn(i), Value: value[k]})
		}
	}
	for i := 0; i < n; i++ {
		entries = append(entries, sparse.Triplet{Row: m + i, Col: info.sjColumn(i), Value: one})
	}
	matrix, err := sparse.FromTriplets(info.numberRows(), info.numberColumns(), entries)
	if err != nil {
		panic(err)
	}

	N, M := info.numberColumns(), info.numberRows()
	model := &simplex.Model{
		Matrix:      matrix,
		ColumnLower: make([]float64, N),
		ColumnUpper: make([]float64, N),
		RowLower:    make([]float64, M),
		RowUpper:    make([]float64, M),
		Cost:        make([]float64, N),
		Offset:      lp.Offset(),
	}
	lower, upper := lp.Lower(), lp.Upper()
	copy(model.ColumnLower, lower[:n])
	copy(model.ColumnUpper, upper[:n])
	copy(model.Cost, c)
	for j := n; j < N; j++ {
		model.ColumnLower[j], model.ColumnUpper[j] = math.Inf(-1), math.Inf(1)
	}
	copy(model.RowLower, lower[n:])
	copy(model.RowUpper, upper[n:])
	for i := 0; i < n; i++ {
		model.RowLower[m+i], model.RowUpper[m+i] = c[i], c[i]
	}
	return model
}

// endQuadratic copies the solution of the enlarged problem back to lp:
// column and row values with their status, the row duals Π, the reduced
// costs g - Aᵀπ and the objective evaluated from scratch.
func endQuadratic(qp *simplex.Simplex, info *QuadraticInfo, lp *simplex.Simplex) {
	m, n := info.numberXRows, info.numberXColumns
	x, lpx := qp.Solution(), lp.Solution()
	for i := 0; i < n; i++ {
		lpx[i] = x[i]
		lp.SetState(i, qp.State(i).Basis)
	}
	pi := lp.Dual()
	for k := 0; k < m; k++ {
		r := info.rowLogical(k)
		lpx[lp.RowSequence(k)] = x[r]
		lp.SetState(lp.RowSequence(k), qp.State(r).Basis)
		pi[k] = x[info.piColumn(k)]
	}
	g := info.computeGradient(x)
	dj := lp.DJ()
	for i := 0; i < n; i++ {
		dj[i] = g[i] - lp.Matrix().ColumnDot(i, pi)
	}
	for k := 0; k < m; k++ {
		dj[lp.RowSequence(k)] = pi[k]
	}
	lp.SetObjectiveValue(info.objective(x, qp.Offset()))
	if log := qp.Logger(); log.Enable(simplex.LogVerbose) {
		log.Vector("x", lpx[:n])
		log.Vector("dj", dj[:n])
		log.Vector("pi", pi)
	}
}
