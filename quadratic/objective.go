// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"github.com/curioloop/qpsimplex/sparse"
	"gonum.org/v1/gonum/floats"
)

// Objective is either a Linear or a Quadratic objective.
type Objective interface {
	// Linear returns the linear cost vector c.
	Linear() []float64
	sealed()
}

// Linear objective cᵀx.
type Linear struct {
	Cost []float64
}

func (o *Linear) Linear() []float64 { return o.Cost }
func (*Linear) sealed()             {}

// Quadratic objective cᵀx + ½xᵀQx. Q is square and need not be symmetric,
// only its symmetric part contributes. A Q without stored elements makes the
// objective linear while explicitly stored zeros keep it quadratic.
type Quadratic struct {
	Cost []float64
	Q    *sparse.Matrix
}

func (o *Quadratic) Linear() []float64 { return o.Cost }
func (*Quadratic) sealed()             {}

// hasHessian reports whether any Hessian element is stored.
func (o *Quadratic) hasHessian() bool {
	return o.Q != nil && o.Q.NNZ() > 0
}

// symmetrize returns Q̂ = (Q+Qᵀ)/2 keeping explicit zeros.
func symmetrize(q *sparse.Matrix) *sparse.Matrix {
	n, _ := q.Dims()
	elements := q.Triplets()
	entries := make([]sparse.Triplet, 0, 2*len(elements))
	for _, e := range elements {
		if e.Row == e.Col {
			entries = append(entries, e)
			continue
		}
		v := half * e.Value
		entries = append(entries,
			sparse.Triplet{Row: e.Row, Col: e.Col, Value: v},
			sparse.Triplet{Row: e.Col, Col: e.Row, Value: v})
	}
	sym, err := sparse.FromTriplets(n, n, entries)
	if err != nil {
		panic(err)
	}
	return sym
}

// nonlinearColumns marks the columns touched by a Hessian element.
func nonlinearColumns(q *sparse.Matrix, n int) []bool {
	mark := make([]bool, n)
	if q == nil {
		return mark
	}
	for _, e := range q.Triplets() {
		mark[e.Row], mark[e.Col] = true, true
	}
	return mark
}

// quadraticValue evaluates offset + cᵀx + ½xᵀQ̂x.
func quadraticValue(c []float64, hessian *sparse.Matrix, offset float64, x []float64) float64 {
	f := offset + floats.Dot(c, x)
	if hessian != nil {
		f += half * hessian.QuadraticForm(x, x)
	}
	return f
}

// quadraticGradient writes g = c + Q̂x.
func quadraticGradient(c []float64, hessian *sparse.Matrix, x, g []float64) {
	copy(g, c)
	if hessian != nil {
		hessian.Times(one, x, g)
	}
}
