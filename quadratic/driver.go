// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"math"

	"github.com/curioloop/qpsimplex/factor"
	"github.com/curioloop/qpsimplex/simplex"
	"github.com/pkg/errors"
)

const (
	maxTimesOptimal    = 4
	tightZeroTolerance = 1.0e-15
	usableAlpha        = 1.0e-5
	slightRefactor     = 5
	areaGrowth         = 1.1
	maxAreaPivots      = 200
	forcedRefactor     = 200
)

// qpDriver iterates the quadratic primal over the enlarged problem.
type qpDriver struct {
	s    *simplex.Simplex
	info *QuadraticInfo

	column     []float64 // transformed entering column
	cost       []float64 // gradient costs by sequence
	dx         []float64 // change of the columns along the ray
	candidates []candidate

	snap      simplex.Snapshot
	objective float64
	history   []float64 // objective after every step

	primalFloor float64

	lastValues   int // last column entered by the values pass
	lastEntering int
	origin       int // variable that opened the current cleanup
	rejected     int // variable whose update was rejected
	timesOptimal int
	failures     int
	checkOptimal bool
	restore      bool
}

// newDriver refactorizes every refactorInterval pivots, but only outside
// a cleanup sequence.
func newDriver(qp *simplex.Simplex, info *QuadraticInfo, refactorInterval int) *qpDriver {
	qp.Factorization().SetMaximumPivots(refactorInterval)
	return &qpDriver{
		s:            qp,
		info:         info,
		column:       make([]float64, qp.NumberRows()),
		cost:         make([]float64, qp.NumberTotal()),
		dx:           make([]float64, info.numberXColumns),
		primalFloor:  qp.PrimalTolerance(),
		lastValues:   -1,
		lastEntering: -1,
		origin:       -1,
		rejected:     -1,
	}
}

// primalQuadratic2 alternates status checks and iterations until the
// problem status becomes terminal.
func (d *qpDriver) primalQuadratic2() (simplex.ProblemStatus, error) {
	log := d.s.Logger()
	if log.Enable(simplex.LogStatus) {
		log.Log("Quadratic primal: %d rows, %d columns, phase %d\n",
			d.info.numberXRows, d.info.numberXColumns, d.info.currentPhase)
	}
	kind := 0
	for {
		status, err := d.statusOfProblemInPrimal(kind)
		if err != nil || status.Terminal() {
			return status, err
		}
		d.restore = false
		status = d.whileIterating()
		switch {
		case d.restore:
			kind = 2
		case status == simplex.Refactorize:
			kind = 1
		case status == simplex.Recheck:
			kind = 1
			d.checkOptimal = true
		case status == simplex.LooksUnbounded:
			return simplex.Unbounded, nil
		default:
			return status, nil
		}
	}
}

// statusOfProblemInPrimal refactorizes, recomputes the solution and decides
// whether to go on. Kind 2 returns to the last saved basis first, kinds 0
// and 1 save the basis after a successful check.
func (d *qpDriver) statusOfProblemInPrimal(kind int) (simplex.ProblemStatus, error) {
	s, info := d.s, d.info
	log := s.Logger()

	if kind == 2 && d.snap.Valid() {
		d.restoreSnapshot()
	}
	if _, err := s.Factorize(); err != nil {
		if !d.snap.Valid() {
			return simplex.Odd, nil
		}
		d.failures++
		if d.failures > 1 {
			return simplex.Odd, nil
		}
		if s.NumberIterations()-d.snap.Iteration() == 1 && d.lastEntering >= 0 {
			s.SetFlagged(d.lastEntering)
		}
		d.restoreSnapshot()
		if _, err = s.Factorize(); err != nil {
			return simplex.Odd, nil
		}
	} else {
		d.failures = 0
	}
	if err := d.createDjs(); err != nil {
		return simplex.Odd, nil
	}

	if info.crucialSj < 0 {
		nDual, sumDual, err := d.checkComplementarity()
		if err != nil {
			return simplex.Abandoned, err
		}
		nInf, sumInf := s.PrimalInfeasibilities()
		switch s.Progress().Looping(d.objective, sumDual+sumInf, nDual+nInf, s.NumberIterations()) {
		case int(simplex.LoopDetected):
			return simplex.LoopDetected, nil
		case -2:
			if d.lastEntering >= 0 {
				s.SetFlagged(d.lastEntering)
			}
		}
		if log.Enable(simplex.LogStatus) {
			log.Log("%6d  obj %15.8e  primal inf %d/%.3e  dual inf %d/%.3e\n",
				s.NumberIterations(), d.objective, nInf, sumInf, nDual, sumDual)
		}
		if log.Enable(simplex.LogVerbose) {
			log.Vector("x", s.Solution()[:info.numberXColumns])
			log.Vector("dj", s.DJ()[:info.numberXColumns])
		}
	}

	if d.checkOptimal {
		d.checkOptimal = false
		if info.crucialSj < 0 {
			if in, _ := d.price(); in < 0 {
				if s.NumberFlagged() > 0 && d.timesOptimal < maxTimesOptimal {
					d.timesOptimal++
					s.Unflag()
					if log.Enable(simplex.LogStatus) {
						log.Log("Unflagging variables, optimal check %d\n", d.timesOptimal)
					}
				} else {
					s.SetPrimalTolerance(d.primalFloor)
					return simplex.Optimal, nil
				}
			}
		}
	}

	if kind != 2 {
		s.Save(&d.snap)
		info.saveStatus()
	}
	return simplex.Iterating, nil
}

// restoreSnapshot returns to the saved basis. The crucial variable is kept
// only if it is still basic.
func (d *qpDriver) restoreSnapshot() {
	s, info := d.s, d.info
	s.Restore(&d.snap)
	info.restoreStatus()
	info.refreshRows(s.PivotVariable())
	if c := info.crucialSj; c >= 0 && !s.State(c).IsBasic() {
		info.crucialSj, info.currentSequenceIn = -1, -1
	}
}

// price chooses the entering variable. The values pass takes superbasic
// columns in index order, then superbasic row logicals, and ends when none
// is left. Afterwards the largest reduced cost wins.
func (d *qpDriver) price() (int, float64) {
	s, info := d.s, d.info
	m, n := info.numberXRows, info.numberXColumns
	dj, tol := s.DJ(), ten*s.DualTolerance()

	if info.currentPhase == 2 {
		for k := 1; k <= n; k++ {
			i := (d.lastValues + k) % n
			if st := s.State(i); st.Basis == simplex.SuperBasic && !st.Flagged {
				if math.Abs(dj[i]) > tol || s.State(info.sjColumn(i)).IsBasic() {
					d.lastValues = i
					return i, improving(st, dj[i], tol)
				}
			}
		}
		for k := 0; k < m; k++ {
			r := info.rowLogical(k)
			if st := s.State(r); st.Basis == simplex.SuperBasic && !st.Flagged {
				return r, improving(st, dj[r], tol)
			}
		}
		info.currentPhase = 0
		if s.Logger().Enable(simplex.LogStatus) {
			s.Logger().Log("Values pass finished after %d iterations\n", s.NumberIterations())
		}
	}

	best, bestWay, bestValue := -1, zero, zero
	consider := func(seq int) {
		st := s.State(seq)
		if st.IsBasic() {
			return
		}
		if way := improving(st, dj[seq], tol); way != 0 {
			if v := math.Abs(dj[seq]); v > bestValue {
				best, bestWay, bestValue = seq, way, v
			}
		}
	}
	for i := 0; i < n; i++ {
		consider(info.xColumn(i))
	}
	for k := 0; k < m; k++ {
		consider(info.rowLogical(k))
	}
	return best, bestWay
}

// whileIterating pivots until a refactorization, an optimality check or a
// terminal condition is needed.
func (d *qpDriver) whileIterating() simplex.ProblemStatus {
	s, info := d.s, d.info
	f := s.Factorization()
	log := s.Logger()

	stale := false
	for {
		if f.Pivots() >= forcedRefactor ||
			(info.crucialSj < 0 && f.Pivots() >= f.MaximumPivots()) {
			return simplex.Refactorize
		}
		if stale {
			if err := d.createDjs(); err != nil {
				return simplex.Refactorize
			}
			stale = false
		}

		cleanup := info.crucialSj >= 0 && info.currentSequenceIn >= 0
		var in int
		var way float64
		if cleanup {
			in = info.currentSequenceIn
		} else {
			info.crucialSj = -1
			if in, way = d.price(); in < 0 {
				return simplex.Recheck
			}
		}
		if s.NumberIterations() >= s.MaximumIterations() {
			return simplex.StoppedIterations
		}

		s.Column(in, d.column)
		if err := f.UpdateColumnFT(d.column); err != nil {
			return simplex.Refactorize
		}
		previous := info.crucialSj
		if !cleanup {
			c := info.complement(in)
			if c < 0 || !s.State(c).IsBasic() {
				if log.Enable(simplex.LogIter) {
					log.Log("Partner of %d is not basic, flagging\n", in)
				}
				s.SetFlagged(in)
				continue
			}
			info.crucialSj = c
			d.origin = in
		}
		if way == 0 {
			way = d.crucialWay()
		}
		d.lastEntering = in

		choice, err := d.primalRow(in, way, cleanup)
		mild := false
		if err != nil {
			var fault *AccuracyFault
			if !errors.As(err, &fault) || fault.Severity == Severe {
				info.crucialSj = previous
				if f.Pivots() > 0 {
					return simplex.Refactorize
				}
				s.SetFlagged(in)
				continue
			}
			mild = true
		}

		if choice.row == unboundedRow {
			info.crucialSj = previous
			if f.Pivots() > 0 {
				return simplex.Refactorize
			}
			if log.Enable(simplex.LogStatus) {
				log.Log("Ray on %d is unbounded\n", in)
			}
			return simplex.LooksUnbounded
		}

		refactor := false
		if choice.row != flipRow {
			var ok bool
			if ok, refactor = d.replace(in, choice, mild, previous, cleanup); !ok {
				return simplex.Refactorize
			}
		}
		d.step(in, way, choice)
		stale = true
		if refactor {
			return simplex.Refactorize
		}
	}
}

// crucialWay moves the entering variable so that the crucial variable heads
// towards zero.
func (d *qpDriver) crucialWay() float64 {
	info := d.info
	if c := info.crucialSj; c >= 0 {
		if r := info.basicRow[c]; r >= 0 {
			if w := simplex.Sign(d.s.Solution()[c]) * simplex.Sign(d.column[r]); w != 0 {
				return w
			}
		}
	}
	return one
}

// replace updates the factorization for a basis exchange and grades the
// update. It reports whether the exchange was done and whether the basis
// must be refactorized afterwards.
func (d *qpDriver) replace(in int, choice rowChoice, mild bool, previous int, cleanup bool) (ok, refactor bool) {
	s, info := d.s, d.info
	f := s.Factorization()
	log := s.Logger()

	alpha, err := s.RowAlpha(choice.row, in)
	if err != nil {
		info.crucialSj = previous
		return false, true
	}
	if mild {
		f.RelaxAccuracyCheck(ten)
	}
	status := s.ReplaceBasic(choice.row, in, d.column, alpha)
	if mild && status == factor.UpdateOK {
		status = factor.UpdateSlight
	}
	if status != factor.UpdateOK && log.Enable(simplex.LogIter) {
		log.Log("Update on %d in row %d: %v\n", in, choice.row, status)
	}

	switch status {
	case factor.UpdateMajor:
		if f.Pivots() == 0 && math.Abs(alpha) > usableAlpha {
			s.PivotVariable()[choice.row] = in
			s.SetState(in, simplex.Basic)
			return true, true
		}
		info.crucialSj = previous
		f.SetZeroTolerance(tightZeroTolerance)
		f.SetMaximumPivots(f.MaximumPivots() / 2)
		retry := in
		if cleanup {
			retry = d.origin
		}
		if d.rejected == retry && f.Pivots() == 0 {
			s.SetFlagged(retry)
			d.rejected = -1
			if cleanup {
				d.restore = true
			}
		} else {
			d.rejected = retry
		}
		return false, true
	case factor.UpdateNoSpace:
		if p := f.Pivots(); float64(p) < half*float64(f.MaximumPivots()) && p < maxAreaPivots {
			f.SetAreaFactor(f.AreaFactor() * areaGrowth)
		}
		refactor = true
	case factor.UpdateSlight:
		refactor = f.Pivots() > slightRefactor
	case factor.UpdateDegenerate:
		refactor = true
	}
	d.rejected = -1
	return true, refactor
}

// step moves along the ray, places the leaving variable and maintains the
// crucial variable and the cleanup sequence.
func (d *qpDriver) step(in int, way float64, choice rowChoice) {
	s, info := d.s, d.info
	x, lower, upper := s.Solution(), s.Lower(), s.Upper()
	pv := s.PivotVariable()
	log := s.Logger()
	theta := choice.theta

	for i, a := range d.column {
		if a == 0 {
			continue
		}
		seq := pv[i]
		if i == choice.row {
			seq = choice.out
		}
		x[seq] -= theta * way * a
	}
	x[in] += theta * way

	out, partner := choice.out, -1
	if info.crucialSj >= 0 {
		partner = info.complement(info.crucialSj)
	}
	switch {
	case choice.row == flipRow:
		x[in] = choice.target
		if way > 0 {
			s.SetState(in, simplex.AtUpperBound)
		} else {
			s.SetState(in, simplex.AtLowerBound)
		}
		if in == partner {
			info.crucialSj, info.currentSequenceIn = -1, -1
		}
	case choice.crucial:
		x[out] = 0
		s.SetState(out, simplex.IsFree)
		info.crucialSj, info.currentSequenceIn = -1, -1
	default:
		x[out] = choice.target
		switch {
		case lower[out] == upper[out]:
			s.SetState(out, simplex.IsFixed)
		case choice.target == upper[out]:
			s.SetState(out, simplex.AtUpperBound)
		default:
			s.SetState(out, simplex.AtLowerBound)
		}
		if out == partner {
			info.crucialSj, info.currentSequenceIn = -1, -1
		} else {
			info.currentSequenceIn = info.complement(out)
		}
	}
	s.AddIteration()

	predicted := d.objective + choice.predicted
	d.objective = info.objective(x, s.Offset())
	s.SetObjectiveValue(d.objective)
	d.history = append(d.history, d.objective)
	if log.Enable(simplex.LogDetail) && math.Abs(predicted-d.objective) > 1.0e-6*(one+math.Abs(d.objective)) {
		log.Log("Objective %.10e differs from prediction %.10e\n", d.objective, predicted)
	}
	if log.Enable(simplex.LogIter) {
		log.Log("%6d  in %5d  out %5d  theta %12.5e  obj %15.8e  crucial %d\n",
			s.NumberIterations(), in, out, theta, d.objective, info.crucialSj)
	}
}
