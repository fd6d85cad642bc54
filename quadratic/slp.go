// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"math"
	"slices"

	"github.com/curioloop/qpsimplex/simplex"
	"github.com/curioloop/qpsimplex/sparse"
	"gonum.org/v1/gonum/floats"
)

const (
	initialTrust   = 0.5
	growTrust      = 1.5
	shrinkTrust    = 0.5
	backtrackTrust = 0.2
	dropTolerance  = 1.0e-4
	targetDrop     = 1.0e-5
	stalledStep    = 1.0e-5
	fitTolerance   = 1.0e-6
)

// TrustRegion configures the sequential linear programming method.
type TrustRegion struct {
	// Maximum number of linearizations, also the cap on rejected passes.
	Passes int
	// The loop stops when no column moved more than DeltaTolerance and the
	// objective dropped by less than 1e-4.
	DeltaTolerance float64
}

// slpDriver linearizes the objective at the current point and solves the
// linear program restricted to a box around it.
type slpDriver struct {
	lp      *simplex.Simplex
	linear  []float64
	hessian *sparse.Matrix
	offset  float64

	nonlinear            []bool
	trueLower, trueUpper []float64
	trust                []float64
	last                 [3][]int // move codes of the last three passes

	g, x, xNew, xNext, dir []float64
	f                      float64

	snap         simplex.Snapshot
	passes       int
	backtracks   int
	numberPasses int
	deltaTol     float64
	maxIter      int
}

func newSLP(lp *simplex.Simplex, obj *Quadratic, tr TrustRegion, maxIter int) *slpDriver {
	n := lp.NumberColumns()
	hessian := symmetrize(obj.Q)
	d := &slpDriver{
		lp:           lp,
		linear:       obj.Cost,
		hessian:      hessian,
		offset:       lp.Offset(),
		nonlinear:    nonlinearColumns(hessian, n),
		trueLower:    slices.Clone(lp.Lower()[:n]),
		trueUpper:    slices.Clone(lp.Upper()[:n]),
		trust:        make([]float64, n),
		g:            make([]float64, n),
		xNew:         make([]float64, n),
		xNext:        make([]float64, n),
		dir:          make([]float64, n),
		numberPasses: tr.Passes,
		deltaTol:     tr.DeltaTolerance,
		maxIter:      maxIter,
	}
	for k := range d.last {
		d.last[k] = make([]int, n)
	}
	for j := range d.trust {
		d.trust[j] = initialTrust
	}
	return d
}

func (d *slpDriver) value(x []float64) float64 {
	return quadraticValue(d.linear, d.hessian, d.offset, x)
}

func (d *slpDriver) solve() simplex.ProblemStatus {
	d.lp.SetMaximumIterations(d.lp.NumberIterations() + d.maxIter)
	return d.lp.Primal(true)
}

// primalSLP runs the trust region loop from the point found by a zero cost
// feasibility solve, or from start when it is given.
func (d *slpDriver) primalSLP(start []float64) simplex.ProblemStatus {
	lp := d.lp
	log := lp.Logger()
	n := lp.NumberColumns()

	clear(lp.Cost())
	d.lp.SetMaximumIterations(d.maxIter)
	if status := lp.Primal(false); status != simplex.Optimal {
		return status
	}
	d.x = lp.ColumnSolution()
	if start != nil {
		copy(d.x, start)
	}
	d.f = d.value(d.x)
	lp.Save(&d.snap)
	if log.Enable(simplex.LogStatus) {
		log.Log("SLP: %d columns, start objective %.10g\n", n, d.f)
	}

	status, converged := simplex.Optimal, false
	for d.passes < d.numberPasses {
		d.passes++
		quadraticGradient(d.linear, d.hessian, d.x, d.g)
		copy(lp.Cost(), d.g)
		lp.SetOffset(d.f - floats.Dot(d.g, d.x))
		d.setTrustBounds()

		if status = d.solve(); status != simplex.Optimal {
			if log.Enable(simplex.LogStatus) {
				log.Log("SLP pass %d: linear program %v\n", d.passes, status)
			}
			break
		}
		copy(d.xNew, lp.Solution()[:n])
		drop := floats.Dot(d.g, d.x) - floats.Dot(d.g, d.xNew)
		if drop < targetDrop {
			if log.Enable(simplex.LogStatus) {
				log.Log("SLP pass %d: predicted drop %.3e, converged\n", d.passes, drop)
			}
			converged = true
			break
		}

		// best point on the segment from x to the new vertex
		copy(d.dir, d.xNew)
		floats.Sub(d.dir, d.x)
		coeff1 := floats.Dot(d.g, d.dir)
		coeff2 := half * d.hessian.QuadraticForm(d.dir, d.dir)
		t := one
		if d.passes > 1 && coeff2 > 0 {
			t = simplex.Clamp(-coeff1/(two*coeff2), 0, 1)
		}
		floats.AddScaledTo(d.xNext, d.x, t, d.dir)
		fNext := d.value(d.xNext)
		poorFit := math.Abs(fNext-(d.f+t*coeff1+t*t*coeff2)) > fitTolerance*(one+math.Abs(d.f))

		if fNext > d.f+eps(d.f) || (t < stalledStep && poorFit) {
			d.backtracks++
			lp.Restore(&d.snap)
			for j, nl := range d.nonlinear {
				if nl && d.trust[j] > ten*d.deltaTol {
					d.trust[j] *= backtrackTrust
				}
			}
			if log.Enable(simplex.LogStatus) {
				log.Log("SLP pass %d: objective %.10g rejected, backtrack %d\n", d.passes, fNext, d.backtracks)
			}
			if d.backtracks >= d.numberPasses {
				break
			}
			continue
		}

		maxDelta := d.recordMoves()
		improvement := d.f - fNext
		copy(d.x, d.xNext)
		d.f = fNext
		lp.Save(&d.snap)
		if log.Enable(simplex.LogStatus) {
			log.Log("SLP pass %d: objective %.10g, step %.4f, largest move %.3e\n", d.passes, d.f, t, maxDelta)
		}
		if maxDelta < d.deltaTol && improvement < dropTolerance {
			converged = true
			break
		}
	}
	if status == simplex.Optimal {
		if status = d.finish(); status == simplex.Optimal && !converged {
			status = simplex.StoppedIterations
		}
	}
	return status
}

func eps(f float64) float64 { return 1.0e-12 * (one + math.Abs(f)) }

// setTrustBounds restricts the nonlinear columns to their trust box.
func (d *slpDriver) setTrustBounds() {
	lp := d.lp
	lower, upper := lp.Lower(), lp.Upper()
	for j, nl := range d.nonlinear {
		if !nl {
			continue
		}
		lower[j], upper[j] = d.trueLower[j], d.trueUpper[j]
		fake := simplex.NoFake
		if l := d.x[j] - d.trust[j]; l > lower[j] {
			lower[j], fake = l, simplex.LowerFake
		}
		if u := d.x[j] + d.trust[j]; u < upper[j] {
			upper[j] = u
			if fake == simplex.LowerFake {
				fake = simplex.BothFake
			} else {
				fake = simplex.UpperFake
			}
		}
		lp.SetFake(j, fake)
	}
}

// recordMoves classifies the move of every nonlinear column and adapts its
// trust radius. Code ±1 means the trust bound was hit, ±2 a move inside.
func (d *slpDriver) recordMoves() (maxDelta float64) {
	tol := d.lp.PrimalTolerance()
	d.last[2], d.last[1], d.last[0] = d.last[1], d.last[0], d.last[2]
	for j, nl := range d.nonlinear {
		if !nl {
			continue
		}
		full, delta := d.xNew[j]-d.x[j], d.xNext[j]-d.x[j]
		code := 0
		switch {
		case math.Abs(full) > tol && math.Abs(full) >= d.trust[j]-tol:
			code = int(simplex.Sign(full))
		case math.Abs(delta) > tol:
			code = 2 * int(simplex.Sign(delta))
		}
		d.last[0][j] = code
		s0, s1, s2 := sgn(code), sgn(d.last[1][j]), sgn(d.last[2][j])
		switch {
		case s0*s1 < 0:
			d.trust[j] *= shrinkTrust
		case s0 != 0 && s0 == s1 && s1 == s2:
			d.trust[j] *= growTrust
		}
		maxDelta = max(maxDelta, math.Abs(delta))
	}
	return
}

func sgn(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// finish fixes the nonlinear columns at the final point and solves once more
// for duals, then returns to the true bounds and the quadratic objective.
func (d *slpDriver) finish() simplex.ProblemStatus {
	lp := d.lp
	lower, upper := lp.Lower(), lp.Upper()
	for j, nl := range d.nonlinear {
		if nl {
			lower[j], upper[j] = d.x[j], d.x[j]
			lp.SetFake(j, simplex.BothFake)
		}
	}
	quadraticGradient(d.linear, d.hessian, d.x, d.g)
	copy(lp.Cost(), d.g)
	lp.SetOffset(d.f - floats.Dot(d.g, d.x))
	status := d.solve()

	n := lp.NumberColumns()
	x := lp.Solution()
	for j := 0; j < n; j++ {
		lower[j], upper[j] = d.trueLower[j], d.trueUpper[j]
		lp.SetFake(j, simplex.NoFake)
		if d.nonlinear[j] {
			x[j] = d.x[j]
			if st := lp.State(j); !st.IsBasic() {
				b, v := lp.NonbasicState(j, x[j], true)
				lp.SetState(j, b)
				x[j] = v
			}
		}
	}
	copy(lp.Cost(), d.linear)
	lp.SetOffset(d.offset)
	lp.SetObjectiveValue(d.value(x[:n]))
	return status
}
