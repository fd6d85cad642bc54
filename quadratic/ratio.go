// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"cmp"
	"math"
	"slices"

	"github.com/curioloop/qpsimplex/simplex"
	"gonum.org/v1/gonum/floats"
)

const (
	acceptablePivot      = 1.0e-7
	acceptablePivotLater = 1.0e-5
	tinyAlpha            = 1.0e-12
	forcedPivot          = 1.0e-9
	crucialAlpha         = 1.0e-7
	curvatureTolerance   = 1.0e-9
	slopeTolerance       = 1.0e-6
	mildMismatch         = 1.0e-2
	severeMismatch       = 1.0e-1
	rayMismatch          = 1.0e-3
	minimumTheta         = 1.0e-7
)

const (
	unboundedRow = -1
	flipRow      = -2
)

// rowChoice is the outcome of the ratio test.
type rowChoice struct {
	row     int // basis row of the leaving variable, unboundedRow or flipRow
	out     int // leaving sequence
	theta   float64
	target  float64 // value of the leaving variable after the step
	crucial bool    // the crucial variable leaves

	coeff1, coeff2 float64 // slope and curvature of the objective along the ray
	predicted      float64 // θ·coeff1 + θ²·coeff2
}

type candidate struct {
	row   int
	alpha float64 // |rate of change|
	dist  float64 // distance to the blocking bound
	ratio float64
	bound float64
}

// primalRow runs the ratio test for the entering sequence moving in
// direction way. Basic variables change at rate -way×αᵢ where α is the
// transformed column. The step is limited by the entering bound, by the
// crucial variable reaching zero and by bounded basic columns or row
// logicals reaching a bound. Candidates are processed in lots of
// increasing tentative step, those with a tiny pivot are passed through
// when the objective still gains more than their infeasibility costs.
func (d *qpDriver) primalRow(in int, way float64, cleanup bool) (rowChoice, error) {
	s, info := d.s, d.info
	log := s.Logger()
	x, lower, upper := s.Solution(), s.Lower(), s.Upper()
	pv := s.PivotVariable()
	tol := s.PrimalTolerance()

	// objective along the ray
	clear(d.dx)
	if info.kind(in) == blockX {
		d.dx[in] = way
	}
	for i, a := range d.column {
		if seq := pv[i]; a != 0 && info.kind(seq) == blockX {
			d.dx[seq] = -way * a
		}
	}
	coeff1 := floats.Dot(info.gradient, d.dx)
	coeff2 := half * info.quadratic.QuadraticForm(d.dx, d.dx)
	choice := rowChoice{row: unboundedRow, out: -1, coeff1: coeff1, coeff2: coeff2}

	var fault *AccuracyFault
	if !cleanup {
		dualIn, computed := s.DJ()[in], way*coeff1
		diff, scale := math.Abs(computed-dualIn), one+math.Abs(dualIn)
		wrongSign := computed*dualIn < 0 && math.Abs(computed) > slopeTolerance
		switch {
		case diff > severeMismatch*scale || wrongSign:
			fault = &AccuracyFault{Severity: Severe, Sequence: in, DualIn: dualIn, Computed: computed}
		case diff > mildMismatch*scale:
			fault = &AccuracyFault{Severity: Mild, Sequence: in, DualIn: dualIn, Computed: computed}
		}
		if fault != nil && log.Enable(simplex.LogIter) {
			log.Log("%v\n", fault)
		}
		if fault != nil && fault.Severity == Severe {
			return choice, fault
		}
	}

	// unconstrained minimum along the ray
	var d1 float64
	switch {
	case coeff2 > curvatureTolerance:
		d1 = max(-coeff1/(two*coeff2), 0)
	case coeff1 <= slopeTolerance:
		d1 = math.Inf(1)
	}

	// crucial variable reaching zero
	d2, crucialRow := math.Inf(1), -1
	if c := info.crucialSj; c >= 0 {
		if r := info.basicRow[c]; r >= 0 && math.Abs(d.column[r]) >= crucialAlpha {
			if t := x[c] / (way * d.column[r]); t >= 0 {
				d2, crucialRow = t, r
			}
		}
	}
	if !cleanup && !math.IsInf(d1, 1) && !math.IsInf(d2, 1) &&
		math.Abs(d1-d2) > rayMismatch*(one+d1) && log.Enable(simplex.LogDetail) {
		log.Log("Bad ray test on %d: curvature step %.6e, crucial step %.6e\n", in, d1, d2)
	}

	// entering bound
	move := math.Inf(1)
	if info.primal(in) {
		if way > 0 && simplex.Finite(upper[in]) {
			move = max(upper[in]-x[in], 0)
		} else if way < 0 && simplex.Finite(lower[in]) {
			move = max(x[in]-lower[in], 0)
		}
	}

	d.candidates = d.candidates[:0]
	for i, a := range d.column {
		seq := pv[i]
		if math.Abs(a) < tinyAlpha || seq == info.crucialSj || !info.primal(seq) {
			continue
		}
		v, rate := x[seq], -way*a
		c := candidate{row: i, alpha: math.Abs(a)}
		if rate < 0 {
			if !simplex.Finite(lower[seq]) {
				continue
			}
			c.bound, c.dist = lower[seq], max(v-lower[seq], 0)
		} else {
			if !simplex.Finite(upper[seq]) {
				continue
			}
			c.bound, c.dist = upper[seq], max(upper[seq]-v, 0)
		}
		c.ratio = c.dist / c.alpha
		d.candidates = append(d.candidates, c)
	}
	slices.SortFunc(d.candidates, func(a, b candidate) int { return cmp.Compare(a.ratio, b.ratio) })

	acceptable := acceptablePivot
	if s.Factorization().Pivots() > 0 {
		acceptable = acceptablePivotLater
	}
	limit := min(move, d2)
	cands := d.candidates
	var chosen *candidate
	passed := 0
	if len(cands) > 0 {
		tentative := max(ten*cands[0].ratio, minimumTheta)
		sumCost := zero
		for next := 0; next < len(cands) && cands[next].ratio <= limit; {
			end := next
			for end < len(cands) && cands[end].ratio <= tentative {
				end++
			}
			if end == next {
				tentative *= two
				continue
			}
			lot := cands[next:end]
			relaxed := math.Inf(1)
			for _, c := range lot {
				if c.alpha >= acceptable {
					relaxed = min(relaxed, (c.dist+tol)/c.alpha)
				}
			}
			best, bestTiny := -1, -1
			for k, c := range lot {
				sumCost += c.alpha * info.infeasibilityCost
				if c.alpha >= acceptable {
					if c.ratio <= relaxed && (best < 0 || c.alpha > lot[best].alpha) {
						best = k
					}
				} else if bestTiny < 0 || c.alpha > lot[bestTiny].alpha {
					bestTiny = k
				}
			}
			dualCheck := -two*coeff2*lot[0].ratio - coeff1
			if log.Enable(simplex.LogDetail) {
				log.Log("Ratio lot %d..%d up to %.4e: pass cost %.4e, dual check %.4e\n",
					next, end, tentative, sumCost, dualCheck)
			}
			if best >= 0 {
				chosen = &lot[best]
				break
			}
			if sumCost > dualCheck && lot[bestTiny].alpha > forcedPivot {
				chosen = &lot[bestTiny]
				break
			}
			passed = end
			next = end
			tentative *= two
		}
	}

	block := math.Inf(1)
	if chosen != nil {
		block = chosen.ratio
	}
	switch {
	case !math.IsInf(move, 1) && move <= min(block, d2):
		choice.row, choice.theta = flipRow, move
		choice.target = x[in] + way*move
	case !math.IsInf(d2, 1) && d2 <= block:
		choice.row, choice.theta, choice.crucial = crucialRow, d2, true
		choice.out, choice.target = pv[crucialRow], 0
	case chosen != nil:
		choice.row, choice.theta = chosen.row, chosen.ratio
		choice.out, choice.target = pv[chosen.row], chosen.bound
	default:
		return choice, nil
	}
	choice.predicted = choice.theta*coeff1 + choice.theta*choice.theta*coeff2

	// tiny pivots that were passed through become slightly infeasible
	for _, c := range cands[:passed] {
		if over := c.alpha*choice.theta - c.dist; over > s.PrimalTolerance() {
			s.SetPrimalTolerance(over)
		}
	}
	if log.Enable(simplex.LogDetail) {
		log.Log("Ratio test on %d: theta %.6e, row %d, slope %.6e, curvature %.6e\n",
			in, choice.theta, choice.row, coeff1, coeff2)
	}
	if fault != nil {
		return choice, fault
	}
	return choice, nil
}
