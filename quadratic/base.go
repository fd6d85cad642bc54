// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quadratic minimizes a convex quadratic objective
//
//	minimize    cᵀx + ½xᵀQx + offset
//	subject to  rowLower ≤ Ax ≤ rowUpper
//	            l ≤ x ≤ u
//
// with a primal simplex over the KKT system of the problem. The linear
// program is enlarged with one free dual Πₖ per row and one free reduced
// cost Sjᵢ per column, tied together by the stationarity rows
//
//	-Q̂x + Aᵀπ + s = c,   Q̂ = (Q+Qᵀ)/2
//
// and the engine only admits bases in which every structural or row logical
// is complementary to its dual partner, except for the single pair being
// repaired after a blocking pivot.
//
// A sequential linear programming loop with trust regions is provided as an
// alternative method over the same problem description.
package quadratic

import (
	"fmt"

	"github.com/curioloop/qpsimplex/factor"
	"github.com/curioloop/qpsimplex/simplex"
	"github.com/pkg/errors"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	two  = 2.0
	ten  = 10.0
)

var (
	// ErrNotQuadratic is returned by the reformulation when the objective has
	// no stored Hessian element, the problem is then solved as a linear program.
	ErrNotQuadratic = errors.New("quadratic: objective has no quadratic term")
	// ErrComplementarity reports a basis where a complementary pair other
	// than the one being repaired is basic on both sides.
	ErrComplementarity = errors.New("quadratic: complementarity violated")
	// ErrDimension reports vectors or matrices whose sizes disagree with the
	// problem, such as a start point of the wrong length.
	ErrDimension = simplex.ErrDimension
	// ErrInconsistentBounds reports a column or row whose lower bound exceeds
	// its upper bound.
	ErrInconsistentBounds = simplex.ErrInconsistentBounds
	// ErrSingular reports a basis that could not be factorized.
	ErrSingular = factor.ErrSingular
)

// Severity grades a disagreement between the predicted and the recomputed
// reduced cost of the entering variable.
type Severity int

const (
	Mild   Severity = 1 // continue, treated as a slightly inaccurate update
	Severe Severity = 2 // discard the pivot and refactorize
)

func (s Severity) String() string {
	switch s {
	case Mild:
		return "mild"
	case Severe:
		return "severe"
	}
	return "none"
}

// AccuracyFault is returned by the ratio test when the slope derived from the
// transformed column does not match the reduced cost used for pricing.
type AccuracyFault struct {
	Severity Severity
	Sequence int
	DualIn   float64 // reduced cost from pricing
	Computed float64 // slope of the objective along the ray
}

func (e *AccuracyFault) Error() string {
	return fmt.Sprintf("quadratic: %s accuracy fault on %d, dj %g against %g",
		e.Severity, e.Sequence, e.DualIn, e.Computed)
}

// improving returns the direction in which a nonbasic variable decreases the
// objective, or 0 when its reduced cost is within tolerance.
func improving(st simplex.Status, dj, tol float64) float64 {
	if st.Flagged {
		return 0
	}
	switch st.Basis {
	case simplex.AtLowerBound:
		if dj < -tol {
			return one
		}
	case simplex.AtUpperBound:
		if dj > tol {
			return -one
		}
	case simplex.IsFree, simplex.SuperBasic:
		if dj > tol || dj < -tol {
			return -simplex.Sign(dj)
		}
	}
	return 0
}
