// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import "math"

const progressDepth = 5

// Progress detects cycling by remembering the last few status checks.
// A check matches an earlier one when objective and infeasibilities are
// identical although iterations were done in between.
type Progress struct {
	objective       [progressDepth]float64
	infeasibility   [progressDepth]float64
	numberInfeasibs [progressDepth]int
	iterationNumber [progressDepth]int
	numberTimes     int
	numberBadTimes  int
}

// Reset forgets the recorded history.
func (p *Progress) Reset() { *p = Progress{} }

// Looping records one status check. It returns -1 when progress is made,
// -2 when the state repeats and the caller should change strategy, or the
// status LoopDetected once the repetition persists.
func (p *Progress) Looping(objective, sumInfeasibilities float64, numberInfeasibilities, iteration int) int {
	if p.numberTimes > 0 && p.iterationNumber[progressDepth-1] == iteration {
		return -1
	}
	matched := 0
	for k := progressDepth - p.numberTimes; k < progressDepth; k++ {
		if k < 0 {
			continue
		}
		if p.numberInfeasibs[k] == numberInfeasibilities &&
			same(p.objective[k], objective) && same(p.infeasibility[k], sumInfeasibilities) {
			matched++
		}
	}
	copy(p.objective[:], p.objective[1:])
	copy(p.infeasibility[:], p.infeasibility[1:])
	copy(p.numberInfeasibs[:], p.numberInfeasibs[1:])
	copy(p.iterationNumber[:], p.iterationNumber[1:])
	last := progressDepth - 1
	p.objective[last] = objective
	p.infeasibility[last] = sumInfeasibilities
	p.numberInfeasibs[last] = numberInfeasibilities
	p.iterationNumber[last] = iteration
	p.numberTimes = min(p.numberTimes+1, progressDepth)

	if matched < 3 {
		return -1
	}
	p.numberBadTimes++
	if p.numberBadTimes >= 3 {
		return int(LoopDetected)
	}
	return -2
}

// LastIterationNumber returns the iteration of the check back steps ago.
func (p *Progress) LastIterationNumber(back int) int {
	if back < 0 || back >= p.numberTimes {
		return -1
	}
	return p.iterationNumber[progressDepth-1-back]
}

func same(a, b float64) bool {
	return math.Abs(a-b) <= 1.0e-12*(1+math.Abs(a)+math.Abs(b))
}
