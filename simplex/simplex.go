// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simplex

import (
	"math"
	"slices"

	"github.com/curioloop/qpsimplex/factor"
	"github.com/curioloop/qpsimplex/sparse"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrBasis reports a basis that does not have one basic variable per row.
var ErrBasis = errors.New("simplex: invalid basis")

const (
	defaultPrimalTolerance = 1.0e-7
	defaultDualTolerance   = 1.0e-7
)

// Simplex owns the working state of one solve. Working regions are indexed
// by sequence number, see the package documentation.
type Simplex struct {
	model         *Model
	numberRows    int
	numberColumns int
	matrix        *sparse.Matrix

	lower    []float64
	upper    []float64
	cost     []float64
	solution []float64
	dj       []float64
	dual     []float64

	status        []Status
	pivotVariable []int
	hasBasis      bool

	factor *factor.Factorization

	primalTolerance   float64
	dualTolerance     float64
	maximumIterations int
	numberIterations  int
	offset            float64
	objectiveValue    float64

	numberPrimalInfeasibilities int
	sumPrimalInfeasibilities    float64
	numberDualInfeasibilities   int
	sumDualInfeasibilities      float64

	progress      Progress
	problemStatus ProblemStatus
	logger        *Logger

	work []float64
}

// New creates the working state for the model.
func New(model *Model, logger *Logger) (*Simplex, error) {
	if model == nil {
		return nil, errors.Wrap(ErrDimension, "model is required")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	rows, cols := model.Dims()
	matrix := model.Matrix
	if matrix == nil {
		matrix, _ = sparse.FromTriplets(0, cols, nil)
	}
	total := rows + cols
	s := &Simplex{
		model:             model,
		numberRows:        rows,
		numberColumns:     cols,
		matrix:            matrix,
		lower:             make([]float64, total),
		upper:             make([]float64, total),
		cost:              make([]float64, total),
		solution:          make([]float64, total),
		dj:                make([]float64, total),
		dual:              make([]float64, rows),
		status:            make([]Status, total),
		pivotVariable:     make([]int, rows),
		factor:            factor.New(rows),
		primalTolerance:   defaultPrimalTolerance,
		dualTolerance:     defaultDualTolerance,
		maximumIterations: 1000 + 100*total,
		offset:            model.Offset,
		problemStatus:     Iterating,
		logger:            logger.Normalize(),
		work:              make([]float64, rows),
	}
	copy(s.lower, model.ColumnLower)
	copy(s.upper, model.ColumnUpper)
	copy(s.lower[cols:], model.RowLower)
	copy(s.upper[cols:], model.RowUpper)
	copy(s.cost, model.Cost)
	for j := 0; j < cols; j++ {
		s.solution[j] = clamp(0, s.lower[j], s.upper[j])
	}
	return s, nil
}

// Model returns the model the state was created from.
func (s *Simplex) Model() *Model { return s.model }

// Matrix returns the constraint matrix.
func (s *Simplex) Matrix() *sparse.Matrix { return s.matrix }

// NumberRows returns the number of rows.
func (s *Simplex) NumberRows() int { return s.numberRows }

// NumberColumns returns the number of columns.
func (s *Simplex) NumberColumns() int { return s.numberColumns }

// NumberTotal returns the number of sequences.
func (s *Simplex) NumberTotal() int { return s.numberRows + s.numberColumns }

// RowSequence returns the sequence of the logical of row i.
func (s *Simplex) RowSequence(i int) int { return s.numberColumns + i }

// Solution returns the working primal values by sequence.
func (s *Simplex) Solution() []float64 { return s.solution }

// Lower returns the working lower bounds by sequence.
func (s *Simplex) Lower() []float64 { return s.lower }

// Upper returns the working upper bounds by sequence.
func (s *Simplex) Upper() []float64 { return s.upper }

// Cost returns the working costs by sequence.
func (s *Simplex) Cost() []float64 { return s.cost }

// DJ returns the reduced costs by sequence.
func (s *Simplex) DJ() []float64 { return s.dj }

// Dual returns the row duals.
func (s *Simplex) Dual() []float64 { return s.dual }

// PivotVariable returns the basic sequence of every basis row.
func (s *Simplex) PivotVariable() []int { return s.pivotVariable }

// Factorization returns the basis factorization.
func (s *Simplex) Factorization() *factor.Factorization { return s.factor }

// HasBasis reports whether a basis was installed.
func (s *Simplex) HasBasis() bool { return s.hasBasis }

// State returns the status of a sequence.
func (s *Simplex) State(seq int) Status { return s.status[seq] }

// SetState sets the basis position of a sequence keeping its flags.
func (s *Simplex) SetState(seq int, b BasisState) { s.status[seq].Basis = b }

// SetFake sets the fake bound marker of a sequence.
func (s *Simplex) SetFake(seq int, f FakeBound) { s.status[seq].Fake = f }

// Flagged reports whether the sequence is excluded from pricing.
func (s *Simplex) Flagged(seq int) bool { return s.status[seq].Flagged }

// SetFlagged excludes the sequence from pricing.
func (s *Simplex) SetFlagged(seq int) { s.status[seq].Flagged = true }

// Unflag clears all flags and reports whether any was set.
func (s *Simplex) Unflag() bool {
	found := false
	for i := range s.status {
		if s.status[i].Flagged {
			s.status[i].Flagged = false
			found = true
		}
	}
	return found
}

// NumberFlagged returns the number of flagged sequences.
func (s *Simplex) NumberFlagged() int {
	n := 0
	for _, st := range s.status {
		if st.Flagged {
			n++
		}
	}
	return n
}

// PrimalTolerance returns the current primal feasibility tolerance.
func (s *Simplex) PrimalTolerance() float64 { return s.primalTolerance }

// SetPrimalTolerance sets the primal feasibility tolerance.
func (s *Simplex) SetPrimalTolerance(t float64) { s.primalTolerance = t }

// DualTolerance returns the dual feasibility tolerance.
func (s *Simplex) DualTolerance() float64 { return s.dualTolerance }

// SetDualTolerance sets the dual feasibility tolerance.
func (s *Simplex) SetDualTolerance(t float64) { s.dualTolerance = t }

// NumberIterations returns the pivots done so far.
func (s *Simplex) NumberIterations() int { return s.numberIterations }

// AddIteration counts one pivot.
func (s *Simplex) AddIteration() { s.numberIterations++ }

// MaximumIterations returns the iteration limit.
func (s *Simplex) MaximumIterations() int { return s.maximumIterations }

// SetMaximumIterations sets the iteration limit.
func (s *Simplex) SetMaximumIterations(n int) { s.maximumIterations = max(n, 0) }

// Offset returns the objective constant.
func (s *Simplex) Offset() float64 { return s.offset }

// SetOffset sets the objective constant.
func (s *Simplex) SetOffset(v float64) { s.offset = v }

// ObjectiveValue returns the objective at the last solution.
func (s *Simplex) ObjectiveValue() float64 { return s.objectiveValue }

// SetObjectiveValue records an externally evaluated objective.
func (s *Simplex) SetObjectiveValue(v float64) { s.objectiveValue = v }

// ComputeObjectiveValue evaluates the working linear costs at the solution.
func (s *Simplex) ComputeObjectiveValue() float64 {
	s.objectiveValue = s.offset + floats.Dot(s.cost[:s.numberColumns], s.solution[:s.numberColumns])
	return s.objectiveValue
}

// ProblemStatus returns the status of the last solve.
func (s *Simplex) ProblemStatus() ProblemStatus { return s.problemStatus }

// Logger returns the logger of the solve.
func (s *Simplex) Logger() *Logger { return s.logger }

// Progress returns the loop detector.
func (s *Simplex) Progress() *Progress { return &s.progress }

// PrimalInfeasibilities returns the count and sum computed by ComputePrimalInfeasibilities.
func (s *Simplex) PrimalInfeasibilities() (int, float64) {
	return s.numberPrimalInfeasibilities, s.sumPrimalInfeasibilities
}

// DualInfeasibilities returns the count and sum of dual infeasibilities.
func (s *Simplex) DualInfeasibilities() (int, float64) {
	return s.numberDualInfeasibilities, s.sumDualInfeasibilities
}

// SetDualInfeasibilities records dual infeasibilities computed by a caller.
func (s *Simplex) SetDualInfeasibilities(n int, sum float64) {
	s.numberDualInfeasibilities, s.sumDualInfeasibilities = n, sum
}

// Column writes the column of a sequence densely into dst.
func (s *Simplex) Column(seq int, dst []float64) {
	clear(dst)
	if seq >= s.numberColumns {
		dst[seq-s.numberColumns] = -one
		return
	}
	index, value := s.matrix.Column(seq)
	for k, i := range index {
		dst[i] = value[k]
	}
}

// ColumnDot returns the dot product of the column of seq with a row vector.
func (s *Simplex) ColumnDot(seq int, y []float64) float64 {
	if seq >= s.numberColumns {
		return -y[seq-s.numberColumns]
	}
	return s.matrix.ColumnDot(seq, y)
}

// NonbasicState chooses the nonbasic position of a sequence at value.
// With keep a value strictly inside the bounds becomes superbasic,
// otherwise the variable is moved to its nearest finite bound.
func (s *Simplex) NonbasicState(seq int, value float64, keep bool) (BasisState, float64) {
	l, u, tol := s.lower[seq], s.upper[seq], s.primalTolerance
	fl, fu := Finite(l), Finite(u)
	switch {
	case fl && fu && l == u:
		return IsFixed, l
	case !fl && !fu:
		if keep && value != 0 {
			return SuperBasic, value
		}
		return IsFree, 0
	case keep && fl && math.Abs(value-l) <= tol:
		return AtLowerBound, l
	case keep && fu && math.Abs(value-u) <= tol:
		return AtUpperBound, u
	case keep && (!fl || value > l) && (!fu || value < u):
		return SuperBasic, value
	case fl && (!fu || math.Abs(value-l) <= math.Abs(value-u)):
		return AtLowerBound, l
	}
	return AtUpperBound, u
}

// placeNonbasic puts a nonbasic variable at the value implied by its state.
func (s *Simplex) placeNonbasic(seq int) {
	st := &s.status[seq]
	l, u := s.lower[seq], s.upper[seq]
	switch st.Basis {
	case AtLowerBound, IsFixed:
		if Finite(l) {
			st.Basis, s.solution[seq] = AtLowerBound, l
			if l == u {
				st.Basis = IsFixed
			}
		} else {
			st.Basis, s.solution[seq] = s.NonbasicState(seq, s.solution[seq], false)
		}
	case AtUpperBound:
		if Finite(u) {
			st.Basis, s.solution[seq] = AtUpperBound, u
			if l == u {
				st.Basis = IsFixed
			}
		} else {
			st.Basis, s.solution[seq] = s.NonbasicState(seq, s.solution[seq], false)
		}
	case SuperBasic:
		st.Basis, s.solution[seq] = s.NonbasicState(seq, clamp(s.solution[seq], l, u), true)
	case IsFree:
		if Finite(l) || Finite(u) {
			st.Basis, s.solution[seq] = s.NonbasicState(seq, 0, false)
		} else {
			s.solution[seq] = 0
		}
	}
}

// PlaceNonbasics moves every nonbasic variable to the value implied by its state.
func (s *Simplex) PlaceNonbasics() {
	for seq := range s.status {
		if s.status[seq].Basis != Basic {
			s.placeNonbasic(seq)
		}
	}
}

// AllSlackBasis installs the basis made of all row logicals.
func (s *Simplex) AllSlackBasis(keepValues bool) {
	for j := 0; j < s.numberColumns; j++ {
		s.status[j].Basis, s.solution[j] = s.NonbasicState(j, s.solution[j], keepValues)
	}
	for i := 0; i < s.numberRows; i++ {
		s.status[s.numberColumns+i].Basis = Basic
		s.pivotVariable[i] = s.numberColumns + i
	}
	s.hasBasis = true
}

// SetBasis installs the basis given by the state of every sequence. Values of
// nonbasic variables follow their state, superbasic ones keep the current value.
func (s *Simplex) SetBasis(states []BasisState) error {
	if len(states) != len(s.status) {
		return errors.Wrapf(ErrBasis, "%d states for %d sequences", len(states), len(s.status))
	}
	n := 0
	for _, b := range states {
		if b == Basic {
			n++
		}
	}
	if n != s.numberRows {
		return errors.Wrapf(ErrBasis, "%d basic variables for %d rows", n, s.numberRows)
	}
	k := 0
	for seq, b := range states {
		s.status[seq].Basis = b
		if b == Basic {
			s.pivotVariable[k] = seq
			k++
		} else {
			s.placeNonbasic(seq)
		}
	}
	s.hasBasis = true
	return nil
}

// Factorize factorizes the basis given by the pivot variables.
func (s *Simplex) Factorize() (int, error) {
	n, err := s.factor.Factorize(func(k int, dst []float64) {
		s.Column(s.pivotVariable[k], dst)
	})
	if s.logger.Enable(LogStatus) {
		if err != nil {
			s.logger.Log("Factorization of %d rows failed with %d singularities\n", s.numberRows, n)
		}
	}
	return n, err
}

// ComputePrimals recomputes the basic values xB = -B⁻¹ N xN.
func (s *Simplex) ComputePrimals() error {
	rhs := s.work
	clear(rhs)
	for seq, st := range s.status {
		if st.Basis == Basic {
			continue
		}
		v := s.solution[seq]
		if v == 0 {
			continue
		}
		if seq >= s.numberColumns {
			rhs[seq-s.numberColumns] += v
			continue
		}
		index, value := s.matrix.Column(seq)
		for k, i := range index {
			rhs[i] -= value[k] * v
		}
	}
	if err := s.factor.UpdateColumnFT(rhs); err != nil {
		return err
	}
	for k, seq := range s.pivotVariable {
		s.solution[seq] = rhs[k]
	}
	return nil
}

// ComputeDuals solves Bᵀy = c_B for the given costs and fills the reduced costs.
func (s *Simplex) ComputeDuals(cost []float64) error {
	y := s.dual
	for k, seq := range s.pivotVariable {
		y[k] = cost[seq]
	}
	if err := s.factor.UpdateColumnTranspose(y); err != nil {
		return err
	}
	for seq, st := range s.status {
		if st.Basis == Basic {
			s.dj[seq] = 0
		} else {
			s.dj[seq] = cost[seq] - s.ColumnDot(seq, y)
		}
	}
	return nil
}

// ComputePrimalInfeasibilities counts basic variables outside their bounds.
func (s *Simplex) ComputePrimalInfeasibilities() (int, float64) {
	n, sum := 0, zero
	tol := s.primalTolerance
	for _, seq := range s.pivotVariable {
		v := s.solution[seq]
		if d := s.lower[seq] - v; d > tol {
			n++
			sum += d
		} else if d := v - s.upper[seq]; d > tol {
			n++
			sum += d
		}
	}
	s.numberPrimalInfeasibilities, s.sumPrimalInfeasibilities = n, sum
	return n, sum
}

// RowAlpha returns the pivot element of seq in basis row computed from the
// row of B⁻¹, independent of the transformed column.
func (s *Simplex) RowAlpha(row, seq int) (float64, error) {
	rho := s.work
	clear(rho)
	rho[row] = one
	if err := s.factor.UpdateColumnTranspose(rho); err != nil {
		return 0, err
	}
	return s.ColumnDot(seq, rho), nil
}

// ReplaceBasic pivots sequence in into basis row using the transformed column.
// Unless the update is rejected the pivot variable and the status of in are
// updated, the caller must place the leaving variable.
func (s *Simplex) ReplaceBasic(row, in int, column []float64, alpha float64) factor.UpdateStatus {
	st := s.factor.ReplaceColumn(column, row, alpha)
	if st == factor.UpdateMajor {
		return st
	}
	s.pivotVariable[row] = in
	s.status[in].Basis = Basic
	return st
}

// Snapshot is a saved basis and solution.
type Snapshot struct {
	status        []Status
	solution      []float64
	pivotVariable []int
	iteration     int
}

// Iteration returns the iteration count at which the snapshot was taken.
func (p *Snapshot) Iteration() int { return p.iteration }

// Save copies the basis and solution into p, reusing its storage.
func (s *Simplex) Save(p *Snapshot) {
	p.status = append(p.status[:0], s.status...)
	p.solution = append(p.solution[:0], s.solution...)
	p.pivotVariable = append(p.pivotVariable[:0], s.pivotVariable...)
	p.iteration = s.numberIterations
}

// Restore reinstalls a saved basis and solution. Flags set after the save are kept.
func (s *Simplex) Restore(p *Snapshot) {
	if len(p.status) != len(s.status) {
		return
	}
	for i := range s.status {
		flagged := s.status[i].Flagged
		s.status[i] = p.status[i]
		s.status[i].Flagged = s.status[i].Flagged || flagged
	}
	copy(s.solution, p.solution)
	copy(s.pivotVariable, p.pivotVariable)
	s.hasBasis = true
}

// Valid reports whether a snapshot holds data.
func (p *Snapshot) Valid() bool { return len(p.status) > 0 }

// BasisStates returns a copy of the basis position of every sequence.
func (s *Simplex) BasisStates() []BasisState {
	states := make([]BasisState, len(s.status))
	for i, st := range s.status {
		states[i] = st.Basis
	}
	return states
}

// ColumnSolution returns a copy of the column values.
func (s *Simplex) ColumnSolution() []float64 { return slices.Clone(s.solution[:s.numberColumns]) }

// RowActivity returns a copy of the row activities.
func (s *Simplex) RowActivity() []float64 { return slices.Clone(s.solution[s.numberColumns:]) }
