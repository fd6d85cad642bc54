// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simplex implements the bounded primal simplex engine over a
// model whose rows are written as
//
//	Σⱼ aᵢⱼxⱼ - rᵢ = 0,   rowLowerᵢ ≤ rᵢ ≤ rowUpperᵢ,   lⱼ ≤ xⱼ ≤ uⱼ
//
// Every variable has a sequence number: columns come first and the row
// logical rᵢ has sequence numberColumns+i.
package simplex

import (
	"math"

	"golang.org/x/exp/constraints"
)

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	ten  = 10.0
	hun  = 100.0
	eps  = 2.220446049250313e-16
)

// ProblemStatus is the state of a solve. Negative values are transient.
type ProblemStatus int

const (
	Iterating         ProblemStatus = -1
	Refactorize       ProblemStatus = -2
	Recheck           ProblemStatus = -3
	LooksInfeasible   ProblemStatus = -4
	LooksUnbounded    ProblemStatus = -5
	Optimal           ProblemStatus = 0
	Infeasible        ProblemStatus = 1
	Unbounded         ProblemStatus = 2
	StoppedIterations ProblemStatus = 3
	Abandoned         ProblemStatus = 4
	Odd               ProblemStatus = 5
	LoopDetected      ProblemStatus = 6
)

// Terminal reports whether the status ends a solve.
func (s ProblemStatus) Terminal() bool { return s >= 0 }

func (s ProblemStatus) String() string {
	switch s {
	case Iterating:
		return "ITERATING"
	case Refactorize:
		return "REFACTORIZE"
	case Recheck:
		return "RECHECK"
	case LooksInfeasible:
		return "LOOKS INFEASIBLE"
	case LooksUnbounded:
		return "LOOKS UNBOUNDED"
	case Optimal:
		return "OPTIMAL"
	case Infeasible:
		return "INFEASIBLE"
	case Unbounded:
		return "UNBOUNDED"
	case StoppedIterations:
		return "STOPPED ON ITERATIONS"
	case Abandoned:
		return "ABANDONED"
	case Odd:
		return "FAILED"
	case LoopDetected:
		return "LOOP DETECTED"
	}
	return "UNKNOWN"
}

// BasisState is the position of a variable relative to the basis.
type BasisState uint8

const (
	IsFree BasisState = iota
	Basic
	AtUpperBound
	AtLowerBound
	SuperBasic
	IsFixed
)

func (b BasisState) String() string {
	switch b {
	case IsFree:
		return "free"
	case Basic:
		return "basic"
	case AtUpperBound:
		return "at upper"
	case AtLowerBound:
		return "at lower"
	case SuperBasic:
		return "superbasic"
	case IsFixed:
		return "fixed"
	}
	return "?"
}

// FakeBound marks working bounds that differ from the true bounds.
type FakeBound uint8

const (
	NoFake FakeBound = iota
	LowerFake
	UpperFake
	BothFake
)

// Status of one variable.
type Status struct {
	Basis   BasisState
	Fake    FakeBound
	Flagged bool
}

// IsBasic reports whether the variable is in the basis.
func (s Status) IsBasic() bool { return s.Basis == Basic }

func sign[T constraints.Float](v T) T {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// Sign returns -1, 0 or +1 following the sign of v.
func Sign(v float64) float64 { return sign(v) }

// Clamp projects v onto [lo, hi].
func Clamp(v, lo, hi float64) float64 { return clamp(v, lo, hi) }

// Finite reports whether the bound is neither infinite nor NaN.
func Finite(b float64) bool { return !math.IsInf(b, 0) && !math.IsNaN(b) }
