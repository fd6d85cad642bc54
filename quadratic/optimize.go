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

const (
	defaultBndInf            = 1.0e30
	defaultTolerance         = 1.0e-7
	defaultRefactorInterval  = 10
	defaultInfeasibilityCost = 1.0e10
	defaultPasses            = 50
	defaultDeltaTolerance    = 1.0e-5
)

// Bound represents the bounds of a column or a row. Values at or beyond
// BndInf in magnitude are infinite.
type Bound struct {
	Lower, Upper float64
}

// Tolerance of primal and dual feasibility.
type Tolerance struct {
	Primal float64 // default 1e-7
	Dual   float64 // default 1e-7
}

// Termination specifies the stopping criteria.
type Termination struct {
	// The solve stops when the number of pivots exceeds limit.
	// Zero means 100×(n+m)+1000.
	MaxIterations int
	// Pivots between two refactorizations of the basis, default 10.
	RefactorInterval int
	// Default number of linearizations of FitSLP.
	MaxPasses int
}

// Problem specifies a convex quadratic program
//
//	minimize    cᵀx + ½xᵀQx + offset
//	subject to  RowBounds ≤ Ax ≤ RowBounds
//	            Bounds ≤ x ≤ Bounds
type Problem struct {
	N         int            // Number of columns
	M         int            // Number of rows
	Objective Objective      // Linear or Quadratic objective
	A         *sparse.Matrix // M×N constraint matrix, optional when M is 0
	Bounds    []Bound        // Optional column bounds, free when nil
	RowBounds []Bound        // Row bounds
	Offset    float64        // Constant term of the objective
	BndInf    float64        // Infinite bound threshold, default 1e30
	Tolerance Tolerance
	Stop      Termination
	// Cost per unit of pivot magnitude of passing a blocking candidate in
	// the ratio test, default 1e10.
	InfeasibilityCost float64
}

// New validates the problem and creates an optimizer for it.
func (p *Problem) New(logger *simplex.Logger) (optimizer *Optimizer, err error) {
	n, m := p.N, p.M
	stop, tol := p.Stop, p.Tolerance
	bndInf := p.BndInf
	if bndInf <= 0 {
		bndInf = defaultBndInf
	}

	switch {
	case n <= 0:
		err = errors.Wrap(ErrDimension, "problem dimension must greater than 0")
	case m < 0:
		err = errors.Wrap(ErrDimension, "row number must not less than 0")
	case p.Objective == nil:
		err = errors.New("objective is required")
	case len(p.Objective.Linear()) != n:
		err = errors.Wrapf(ErrDimension, "cost size %d, want %d", len(p.Objective.Linear()), n)
	case p.Bounds != nil && len(p.Bounds) != n:
		err = errors.Wrapf(ErrDimension, "bounds size %d, want %d", len(p.Bounds), n)
	case len(p.RowBounds) != m:
		err = errors.Wrapf(ErrDimension, "row bounds size %d, want %d", len(p.RowBounds), m)
	case m > 0 && p.A == nil:
		err = errors.Wrap(ErrDimension, "constraint matrix is required")
	case tol.Primal < 0 || tol.Dual < 0:
		err = errors.New("tolerance must not less than 0")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must not less than 0")
	}
	if err != nil {
		return
	}
	if p.A != nil {
		if r, c := p.A.Dims(); r != m || c != n {
			return nil, errors.Wrapf(ErrDimension, "constraint matrix is %d×%d, want %d×%d", r, c, m, n)
		}
	}
	if q, ok := p.Objective.(*Quadratic); ok && q.Q != nil {
		if r, c := q.Q.Dims(); r != n || c != n {
			return nil, errors.Wrapf(ErrDimension, "hessian is %d×%d, want %d×%d", r, c, n, n)
		}
	}

	if tol.Primal == 0 {
		tol.Primal = defaultTolerance
	}
	if tol.Dual == 0 {
		tol.Dual = defaultTolerance
	}
	if stop.MaxIterations == 0 {
		stop.MaxIterations = 100*(n+m) + 1000
	}
	if stop.RefactorInterval <= 0 {
		stop.RefactorInterval = defaultRefactorInterval
	}
	if stop.MaxPasses <= 0 {
		stop.MaxPasses = defaultPasses
	}
	infCost := p.InfeasibilityCost
	if infCost <= 0 {
		infCost = defaultInfeasibilityCost
	}

	bound := func(v float64) float64 {
		switch {
		case v >= bndInf:
			return math.Inf(1)
		case v <= -bndInf:
			return math.Inf(-1)
		}
		return v
	}
	model := &simplex.Model{
		Matrix:      p.A,
		ColumnLower: make([]float64, n),
		ColumnUpper: make([]float64, n),
		RowLower:    make([]float64, m),
		RowUpper:    make([]float64, m),
		Cost:        slices.Clone(p.Objective.Linear()),
		Offset:      p.Offset,
	}
	for j := 0; j < n; j++ {
		if p.Bounds == nil {
			model.ColumnLower[j], model.ColumnUpper[j] = math.Inf(-1), math.Inf(1)
			continue
		}
		model.ColumnLower[j], model.ColumnUpper[j] = bound(p.Bounds[j].Lower), bound(p.Bounds[j].Upper)
	}
	for i, b := range p.RowBounds {
		model.RowLower[i], model.RowUpper[i] = bound(b.Lower), bound(b.Upper)
	}
	if err = model.Validate(); err != nil {
		return nil, err
	}

	optimizer = &Optimizer{
		n: n, m: m,
		model:     model,
		objective: p.Objective,
		tolerance: tol,
		stop:      stop,
		infCost:   infCost,
		logger:    logger.Normalize(),
	}
	return
}

// Optimizer solves one validated problem. It is not modified by a solve.
type Optimizer struct {
	n, m      int
	model     *simplex.Model
	objective Objective
	tolerance Tolerance
	stop      Termination
	infCost   float64
	logger    *simplex.Logger
}

// Workspace contains the state of one solve.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
type Workspace struct {
	n, m    int
	lp      *simplex.Simplex
	history []float64
	ax      []float64
}

// History returns the objective after every pivot of the last quadratic solve.
func (w *Workspace) History() []float64 { return w.history }

// Result contains the final result of the optimization process.
type Result struct {
	OK           bool      // Whether the solve ended optimal.
	F            float64   // Final objective value.
	X            []float64 // Final column values.
	RowActivity  []float64 // Final row activities Ax.
	Duals        []float64 // Row duals π.
	ReducedCosts []float64 // Column reduced costs c + Qx - Aᵀπ.
	Summary                // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  simplex.ProblemStatus // Final status of the solve.
	NumIter int                   // Number of pivots performed.
	NumPass int                   // Number of linearizations of FitSLP.
	NumFlag int                   // Number of variables still flagged.
}

// Init allocates the workspace for the optimizer.
func (o *Optimizer) Init() *Workspace {
	return &Workspace{n: o.n, m: o.m, ax: make([]float64, o.m)}
}

func (o *Optimizer) check(x []float64, w *Workspace) error {
	switch {
	case w == nil:
		return errors.New("workspace is required")
	case w.n != o.n || w.m != o.m:
		return errors.Wrapf(ErrDimension, "workspace is %d×%d, want %d×%d", w.m, w.n, o.m, o.n)
	case x != nil && len(x) != o.n:
		return errors.Wrapf(ErrDimension, "initial x size %d, want %d", len(x), o.n)
	}
	return nil
}

func (o *Optimizer) engine(w *Workspace) (*simplex.Simplex, error) {
	lp, err := simplex.New(o.model.Clone(), o.logger)
	if err != nil {
		return nil, err
	}
	lp.SetPrimalTolerance(o.tolerance.Primal)
	lp.SetDualTolerance(o.tolerance.Dual)
	lp.SetMaximumIterations(o.stop.MaxIterations)
	w.lp, w.history = lp, w.history[:0]
	return lp, nil
}

// feasible reports whether x satisfies the bounds and the rows.
func (o *Optimizer) feasible(x []float64, w *Workspace) bool {
	tol := o.tolerance.Primal
	md := o.model
	for j, v := range x {
		if v < md.ColumnLower[j]-tol || v > md.ColumnUpper[j]+tol {
			return false
		}
	}
	if o.m == 0 {
		return true
	}
	clear(w.ax)
	md.Matrix.Times(one, x, w.ax)
	for i, v := range w.ax {
		if v < md.RowLower[i]-tol || v > md.RowUpper[i]+tol {
			return false
		}
	}
	return true
}

// Fit solves the problem with the quadratic primal. Without x, or when x is
// infeasible, a zero cost linear solve supplies a starting vertex. A feasible
// x is improved by a values pass first.
func (o *Optimizer) Fit(x []float64, w *Workspace) (*Result, error) {
	if err := o.check(x, w); err != nil {
		return nil, err
	}
	lp, err := o.engine(w)
	if err != nil {
		return nil, err
	}
	log := o.logger

	q, ok := o.objective.(*Quadratic)
	if !ok || !q.hasHessian() {
		status := lp.Primal(false)
		return o.result(lp, status, 0), nil
	}

	var start []float64
	if x != nil && o.feasible(x, w) {
		start = x
	} else {
		if x != nil && log.Enable(simplex.LogStatus) {
			log.Log("Start point is infeasible, solving for a vertex\n")
		}
		clear(lp.Cost())
		if status := lp.Primal(false); status != simplex.Optimal {
			copy(lp.Cost(), q.Cost)
			return o.result(lp, status, 0), nil
		}
	}

	qp, info, err := makeQuadratic(lp, q, start, o.infCost)
	if err != nil {
		return nil, err
	}
	qp.SetMaximumIterations(max(o.stop.MaxIterations-lp.NumberIterations(), 0))
	d := newDriver(qp, info, o.stop.RefactorInterval)
	status, err := d.primalQuadratic2()
	w.history = append(w.history, d.history...)
	if err != nil {
		return nil, err
	}
	endQuadratic(qp, info, lp)

	r := o.result(lp, status, 0)
	r.NumIter += qp.NumberIterations()
	r.NumFlag = qp.NumberFlagged()
	if log.Enable(simplex.LogLast) {
		log.Output("Quadratic primal %s - objective %.10g after %d iterations, %d flagged\n",
			status, r.F, r.NumIter, r.NumFlag)
	}
	return r, nil
}

// FitSLP solves the problem by sequential linear programming with a trust
// region on the columns touched by Q. Zero fields of tr take the defaults.
func (o *Optimizer) FitSLP(x []float64, w *Workspace, tr TrustRegion) (*Result, error) {
	if err := o.check(x, w); err != nil {
		return nil, err
	}
	lp, err := o.engine(w)
	if err != nil {
		return nil, err
	}
	if tr.Passes <= 0 {
		tr.Passes = o.stop.MaxPasses
	}
	if tr.DeltaTolerance <= 0 {
		tr.DeltaTolerance = defaultDeltaTolerance
	}

	q, ok := o.objective.(*Quadratic)
	if !ok || !q.hasHessian() {
		status := lp.Primal(false)
		return o.result(lp, status, 0), nil
	}

	var start []float64
	if x != nil && o.feasible(x, w) {
		start = x
	}
	d := newSLP(lp, q, tr, o.stop.MaxIterations)
	status := d.primalSLP(start)
	r := o.result(lp, status, d.passes)
	if log := o.logger; log.Enable(simplex.LogLast) {
		log.Output("SLP %s - objective %.10g after %d passes, %d backtracks, %d iterations\n",
			status, r.F, d.passes, d.backtracks, r.NumIter)
	}
	return r, nil
}

func (o *Optimizer) result(lp *simplex.Simplex, status simplex.ProblemStatus, passes int) *Result {
	n := o.n
	return &Result{
		OK:           status == simplex.Optimal,
		F:            lp.ObjectiveValue(),
		X:            lp.ColumnSolution(),
		RowActivity:  lp.RowActivity(),
		Duals:        slices.Clone(lp.Dual()),
		ReducedCosts: slices.Clone(lp.DJ()[:n]),
		Summary: Summary{
			Status:  status,
			NumIter: lp.NumberIterations(),
			NumPass: passes,
			NumFlag: lp.NumberFlagged(),
		},
	}
}
