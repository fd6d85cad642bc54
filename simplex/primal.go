// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import (
	"math"

	"github.com/curioloop/qpsimplex/factor"
)

const (
	pivotTolerance   = 1.0e-9
	degenerateStep   = 1.0e-12
	blandThreshold   = 50
	maxTimesOptimal  = 4
	areaGrowth       = 1.1
	maxUpdateRejects = 2
)

// primalDriver runs the two phase bounded primal simplex on a Simplex.
type primalDriver struct {
	s         *Simplex
	column    []float64 // transformed entering column
	phaseCost []float64
	target    []float64 // bound each basic row would leave at
	distance  []float64 // distance of each basic row to that bound
	phase     int
	degen     int
	rejects   int
	optimal   int
}

// Primal solves the linear program with the bounded primal simplex. When
// valuesPass is set nonbasic values inside their bounds are kept as
// superbasic instead of being moved to a bound.
func (s *Simplex) Primal(valuesPass bool) ProblemStatus {
	if !s.hasBasis {
		s.AllSlackBasis(valuesPass)
	} else {
		s.PlaceNonbasics()
	}
	m := s.numberRows
	d := primalDriver{
		s:         s,
		column:    make([]float64, m),
		phaseCost: make([]float64, s.NumberTotal()),
		target:    make([]float64, m),
		distance:  make([]float64, m),
		phase:     1,
	}
	s.progress.Reset()
	s.problemStatus = d.mainLoop()
	d.finish()
	return s.problemStatus
}

func (d *primalDriver) mainLoop() ProblemStatus {
	s := d.s
	log := s.logger
	f := s.factor

	if log.Enable(LogStatus) {
		log.Log("Primal simplex: %d rows, %d columns\n", s.numberRows, s.numberColumns)
	}

	refactor := true
	for {
		if refactor || !f.Valid() || f.Pivots() >= f.MaximumPivots() {
			if !d.refactorize() {
				return Odd
			}
			refactor = false
		}

		nInf, sumInf := s.ComputePrimalInfeasibilities()
		if d.phase == 1 && nInf == 0 {
			d.phase = 2
			if log.Enable(LogStatus) {
				log.Log("Primal feasible after %d iterations\n", s.numberIterations)
			}
		}
		cost := d.costs()
		if err := s.ComputeDuals(cost); err != nil {
			refactor = true
			continue
		}

		if f.Pivots() == 0 {
			obj := sumInf
			if d.phase == 2 {
				obj = s.ComputeObjectiveValue()
			}
			nDual, sumDual := d.dualInfeasibilities()
			switch s.progress.Looping(obj, sumDual, nInf+nDual, s.numberIterations) {
			case -2:
				d.degen = blandThreshold
			case int(LoopDetected):
				return LoopDetected
			}
			if log.Enable(LogStatus) {
				log.Log("%6d  phase %d  obj %15.8e  primal inf %d/%.3e  dual inf %d/%.3e\n",
					s.numberIterations, d.phase, obj, nInf, sumInf, nDual, sumDual)
			}
		}

		q, way := d.price()
		if q < 0 {
			if f.Pivots() > 0 {
				refactor = true
				continue
			}
			if d.phase == 1 {
				return Infeasible
			}
			if s.Unflag() && d.optimal < maxTimesOptimal {
				d.optimal++
				continue
			}
			return Optimal
		}
		if s.numberIterations >= s.maximumIterations {
			return StoppedIterations
		}

		s.Column(q, d.column)
		if err := f.UpdateColumnFT(d.column); err != nil {
			refactor = true
			continue
		}
		row, theta, flip := d.ratioTest(q, way)
		if row < 0 && !flip {
			if f.Pivots() > 0 {
				refactor = true
				continue
			}
			if d.phase == 1 {
				s.SetFlagged(q)
				continue
			}
			return Unbounded
		}

		var ok bool
		if ok, refactor = d.update(q, way, row, theta, flip); ok {
			s.numberIterations++
			if theta < degenerateStep {
				d.degen++
			} else {
				d.degen = 0
			}
		}
	}
}

// refactorize factorizes the basis, falling back to the all slack basis.
func (d *primalDriver) refactorize() bool {
	s := d.s
	if _, err := s.Factorize(); err != nil {
		if s.logger.Enable(LogStatus) {
			s.logger.Log("Singular basis replaced by slack basis\n")
		}
		s.AllSlackBasis(true)
		if _, err = s.Factorize(); err != nil {
			return false
		}
	}
	return s.ComputePrimals() == nil
}

// costs returns the composite phase one costs or the true costs.
func (d *primalDriver) costs() []float64 {
	s := d.s
	if d.phase == 2 {
		return s.cost
	}
	c := d.phaseCost
	clear(c)
	tol := s.primalTolerance
	for _, seq := range s.pivotVariable {
		v := s.solution[seq]
		switch {
		case v < s.lower[seq]-tol:
			c[seq] = -one
		case v > s.upper[seq]+tol:
			c[seq] = one
		}
	}
	return c
}

// eligible returns the direction a nonbasic variable should move given its
// reduced cost, or 0 if it cannot improve.
func eligible(st Status, dj, tol float64) float64 {
	if st.Flagged {
		return 0
	}
	switch st.Basis {
	case AtLowerBound:
		if dj < -tol {
			return one
		}
	case AtUpperBound:
		if dj > tol {
			return -one
		}
	case IsFree, SuperBasic:
		if math.Abs(dj) > tol {
			return -sign(dj)
		}
	}
	return 0
}

func (d *primalDriver) dualInfeasibilities() (int, float64) {
	s := d.s
	n, sum := 0, zero
	for seq, st := range s.status {
		if st.Basis == Basic {
			continue
		}
		if w := eligible(Status{Basis: st.Basis}, s.dj[seq], s.dualTolerance); w != 0 {
			n++
			sum += math.Abs(s.dj[seq])
		}
	}
	s.numberDualInfeasibilities, s.sumDualInfeasibilities = n, sum
	return n, sum
}

// price chooses the entering variable by Dantzig's rule, or by lowest index
// after a long run of degenerate pivots.
func (d *primalDriver) price() (int, float64) {
	s := d.s
	bland := d.degen >= blandThreshold
	best, bestWay, bestValue := -1, zero, zero
	for seq, st := range s.status {
		if st.Basis == Basic {
			continue
		}
		way := eligible(st, s.dj[seq], s.dualTolerance)
		if way == 0 {
			continue
		}
		if bland {
			return seq, way
		}
		if v := math.Abs(s.dj[seq]); v > bestValue {
			best, bestWay, bestValue = seq, way, v
		}
	}
	return best, bestWay
}

// ratioTest runs the Harris two pass ratio test. Basic variables change at
// rate -way×αᵢ per unit step of the entering variable.
func (d *primalDriver) ratioTest(q int, way float64) (row int, theta float64, flip bool) {
	s := d.s
	tol := s.primalTolerance

	move := math.Inf(1)
	if way > 0 && Finite(s.upper[q]) {
		move = max(s.upper[q]-s.solution[q], 0)
	} else if way < 0 && Finite(s.lower[q]) {
		move = max(s.solution[q]-s.lower[q], 0)
	}

	relaxed := move
	for i, a := range d.column {
		d.distance[i] = math.Inf(1)
		if math.Abs(a) < pivotTolerance {
			continue
		}
		seq := s.pivotVariable[i]
		v, l, u := s.solution[seq], s.lower[seq], s.upper[seq]
		rate := -way * a
		var bound float64
		if rate < 0 {
			switch {
			case d.phase == 1 && v > u+tol:
				bound = u
			case d.phase == 1 && v < l-tol:
				continue
			case Finite(l):
				bound = l
			default:
				continue
			}
			d.distance[i] = max(v-bound, 0)
		} else {
			switch {
			case d.phase == 1 && v < l-tol:
				bound = l
			case d.phase == 1 && v > u+tol:
				continue
			case Finite(u):
				bound = u
			default:
				continue
			}
			d.distance[i] = max(bound-v, 0)
		}
		d.target[i] = bound
		relaxed = min(relaxed, (d.distance[i]+tol)/math.Abs(rate))
	}

	row, theta = -1, math.Inf(1)
	bestAlpha := zero
	for i, a := range d.column {
		if math.IsInf(d.distance[i], 1) {
			continue
		}
		ratio := d.distance[i] / math.Abs(a)
		if ratio <= relaxed && math.Abs(a) > bestAlpha {
			row, theta, bestAlpha = i, ratio, math.Abs(a)
		}
	}
	if !math.IsInf(move, 1) && move <= theta {
		return -1, move, true
	}
	return
}

// update applies a pivot or bound flip. It reports whether the step was taken
// and whether the basis must be refactorized.
func (d *primalDriver) update(q int, way float64, row int, theta float64, flip bool) (ok, refactor bool) {
	s := d.s
	f := s.factor
	log := s.logger

	out := -1
	if !flip {
		out = s.pivotVariable[row]
		alpha, err := s.RowAlpha(row, q)
		if err != nil {
			return false, true
		}
		st := s.ReplaceBasic(row, q, d.column, alpha)
		switch st {
		case factor.UpdateMajor:
			d.rejects++
			if f.Pivots() == 0 || d.rejects >= maxUpdateRejects {
				s.SetFlagged(q)
				d.rejects = 0
			}
			if log.Enable(LogIter) {
				log.Log("Pivot on %d rejected (%v)\n", q, st)
			}
			return false, true
		case factor.UpdateNoSpace:
			f.SetAreaFactor(f.AreaFactor() * areaGrowth)
			refactor = true
		case factor.UpdateSlight:
			refactor = f.Pivots() > 5
		case factor.UpdateDegenerate:
			refactor = true
		}
		d.rejects = 0
	}

	for i, a := range d.column {
		if a != 0 {
			seq := s.pivotVariable[i]
			if i == row {
				seq = out
			}
			s.solution[seq] -= theta * way * a
		}
	}
	s.solution[q] += theta * way

	if flip {
		if way > 0 {
			s.status[q].Basis, s.solution[q] = AtUpperBound, s.upper[q]
		} else {
			s.status[q].Basis, s.solution[q] = AtLowerBound, s.lower[q]
		}
	} else {
		bound := d.target[row]
		s.solution[out] = bound
		switch {
		case s.lower[out] == s.upper[out]:
			s.status[out].Basis = IsFixed
		case bound == s.upper[out]:
			s.status[out].Basis = AtUpperBound
		default:
			s.status[out].Basis = AtLowerBound
		}
	}
	if log.Enable(LogIter) {
		log.Log("%6d  in %5d  out %5d  theta %12.5e  dj %12.5e\n", s.numberIterations, q, out, theta, s.dj[q])
	}
	return true, refactor
}

// finish leaves duals, reduced costs and objective consistent with the true costs.
func (d *primalDriver) finish() {
	s := d.s
	if !s.factor.Valid() {
		if _, err := s.Factorize(); err != nil {
			return
		}
		_ = s.ComputePrimals()
	}
	if err := s.ComputeDuals(s.cost); err == nil {
		d.dualInfeasibilities()
	}
	s.ComputePrimalInfeasibilities()
	s.ComputeObjectiveValue()
	if log := s.logger; log.Enable(LogLast) {
		log.Log("Primal simplex %s - objective %.10g after %d iterations\n",
			s.problemStatus, s.objectiveValue, s.numberIterations)
	}
}
