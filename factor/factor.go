// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package factor maintains the basis factorization of the simplex engine.
//
// The basis B is factorized densely as PB = LU and subsequent column
// replacements are kept in product form
//
//	B⁻¹ₖ = Eₖ⁻¹ ⋯ E₁⁻¹ B⁻¹
//
// where each Eᵢ is the identity with its pivot column replaced by the
// transformed entering column. The file is discarded on refactorization.
package factor

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// UpdateStatus grades a column replacement.
type UpdateStatus int

const (
	UpdateOK         UpdateStatus = 0 // update applied
	UpdateSlight     UpdateStatus = 1 // applied with slight pivot mismatch
	UpdateMajor      UpdateStatus = 2 // rejected, factorization unchanged
	UpdateNoSpace    UpdateStatus = 3 // eta storage exhausted, refactorize
	UpdateDegenerate UpdateStatus = 4 // applied, pivot small relative to column
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateOK:
		return "ok"
	case UpdateSlight:
		return "slight error"
	case UpdateMajor:
		return "major error"
	case UpdateNoSpace:
		return "no space"
	case UpdateDegenerate:
		return "degenerate"
	}
	return "unknown"
}

var (
	ErrSingular = errors.New("factor: singular basis")
	ErrInvalid  = errors.New("factor: factorization is not valid")
)

const (
	defaultZeroTolerance = 1.0e-13
	defaultMaximumPivots = 200
	singularCondition    = 1.0e14
	slightMismatch       = 1.0e-8
	majorMismatch        = 1.0e-4
	smallPivotRatio      = 1.0e-7
)

// eta holds one product form update Eᵢ⁻¹.
type eta struct {
	pivot int
	alpha float64
	index []int
	value []float64 // transformed column except the pivot entry
}

// Factorization of an m×m basis.
type Factorization struct {
	m     int
	basis *mat.Dense
	lu    mat.LU
	valid bool

	etas        []eta
	etaElements int

	maximumPivots int
	zeroTolerance float64
	areaFactor    float64
	relax         float64

	column   []float64
	rhs, sol *mat.VecDense
}

// New allocates a factorization for bases of dimension m.
func New(m int) *Factorization {
	f := &Factorization{
		m:             m,
		maximumPivots: defaultMaximumPivots,
		zeroTolerance: defaultZeroTolerance,
		areaFactor:    1,
		relax:         1,
		column:        make([]float64, m),
	}
	if m > 0 {
		f.basis = mat.NewDense(m, m, nil)
		f.rhs = mat.NewVecDense(m, nil)
		f.sol = mat.NewVecDense(m, nil)
	}
	return f
}

// Valid reports whether the factorization may be used for solves.
func (f *Factorization) Valid() bool { return f.valid }

// Pivots returns the number of column replacements since the last factorization.
func (f *Factorization) Pivots() int { return len(f.etas) }

// MaximumPivots returns the number of replacements allowed before refactorization.
func (f *Factorization) MaximumPivots() int { return f.maximumPivots }

// SetMaximumPivots sets the refactorization frequency.
func (f *Factorization) SetMaximumPivots(n int) { f.maximumPivots = max(n, 1) }

// ZeroTolerance returns the magnitude below which elements are dropped.
func (f *Factorization) ZeroTolerance() float64 { return f.zeroTolerance }

// SetZeroTolerance sets the drop tolerance.
func (f *Factorization) SetZeroTolerance(t float64) { f.zeroTolerance = t }

// AreaFactor returns the multiplier on eta storage.
func (f *Factorization) AreaFactor() float64 { return f.areaFactor }

// SetAreaFactor sets the multiplier on eta storage.
func (f *Factorization) SetAreaFactor(a float64) { f.areaFactor = max(a, 0) }

// RelaxAccuracyCheck scales the pivot mismatch thresholds of ReplaceColumn
// until the next factorization.
func (f *Factorization) RelaxAccuracyCheck(r float64) { f.relax = max(r, 1) }

func (f *Factorization) capacity() int {
	return int(f.areaFactor * float64(f.m*(f.maximumPivots/2+1)))
}

// Factorize builds the factorization from the basis columns. column(k, dst)
// must write column k densely into dst which is zeroed beforehand. It returns
// the estimated number of singularities together with ErrSingular when the basis
// cannot be factorized.
func (f *Factorization) Factorize(column func(k int, dst []float64)) (int, error) {
	f.etas = f.etas[:0]
	f.etaElements = 0
	f.valid = false
	f.relax = 1
	if f.m == 0 {
		f.valid = true
		return 0, nil
	}
	f.basis.Zero()
	for k := 0; k < f.m; k++ {
		clear(f.column)
		column(k, f.column)
		for i, v := range f.column {
			if math.Abs(v) > f.zeroTolerance {
				f.basis.Set(i, k, v)
			}
		}
	}
	f.lu.Factorize(f.basis)
	if cond := f.lu.Cond(); math.IsNaN(cond) || cond > singularCondition {
		return f.singularities(), errors.Wrapf(ErrSingular, "condition %.3g", cond)
	}
	f.valid = true
	return 0, nil
}

// singularities estimates the rank deficiency of the current basis.
func (f *Factorization) singularities() int {
	var svd mat.SVD
	if !svd.Factorize(f.basis, mat.SVDNone) {
		return f.m
	}
	values := svd.Values(nil)
	cut := floats.Max(values) * 1.0e-12
	n := 0
	for _, s := range values {
		if s <= cut {
			n++
		}
	}
	return max(n, 1)
}

func (f *Factorization) solve(region []float64, trans bool) error {
	copy(f.rhs.RawVector().Data, region)
	err := f.lu.SolveVecTo(f.sol, trans, f.rhs)
	if _, ok := err.(mat.Condition); ok {
		err = nil
	}
	if err != nil {
		return errors.Wrap(ErrSingular, err.Error())
	}
	copy(region, f.sol.RawVector().Data)
	return nil
}

// UpdateColumnFT replaces region by B⁻¹ region.
func (f *Factorization) UpdateColumnFT(region []float64) error {
	if !f.valid {
		return ErrInvalid
	}
	if f.m == 0 {
		return nil
	}
	if err := f.solve(region, false); err != nil {
		return err
	}
	for _, e := range f.etas {
		xp := region[e.pivot]
		if xp == 0 {
			continue
		}
		xp /= e.alpha
		for k, i := range e.index {
			region[i] -= e.value[k] * xp
		}
		region[e.pivot] = xp
	}
	for i, v := range region {
		if math.Abs(v) < f.zeroTolerance {
			region[i] = 0
		}
	}
	return nil
}

// UpdateColumnTranspose replaces region by B⁻ᵀ region.
func (f *Factorization) UpdateColumnTranspose(region []float64) error {
	if !f.valid {
		return ErrInvalid
	}
	if f.m == 0 {
		return nil
	}
	for k := len(f.etas) - 1; k >= 0; k-- {
		e := &f.etas[k]
		sum := region[e.pivot]
		for j, i := range e.index {
			sum -= e.value[j] * region[i]
		}
		region[e.pivot] = sum / e.alpha
	}
	if err := f.solve(region, true); err != nil {
		return err
	}
	for i, v := range region {
		if math.Abs(v) < f.zeroTolerance {
			region[i] = 0
		}
	}
	return nil
}

// ReplaceColumn replaces the basic column at pivotRow by the entering column.
// column is the entering column after UpdateColumnFT and alpha is the pivot
// computed independently from the row of B⁻¹. Both must agree for the update
// to be accepted.
func (f *Factorization) ReplaceColumn(column []float64, pivotRow int, alpha float64) UpdateStatus {
	if !f.valid {
		return UpdateMajor
	}
	pivot := column[pivotRow]
	if math.Abs(pivot) < f.zeroTolerance || math.Abs(alpha) < f.zeroTolerance {
		return UpdateMajor
	}
	mismatch := math.Abs(pivot-alpha) / (1 + math.Abs(alpha))
	if mismatch > majorMismatch*f.relax || pivot*alpha < 0 {
		return UpdateMajor
	}

	e := eta{pivot: pivotRow, alpha: pivot}
	for i, v := range column {
		if i != pivotRow && math.Abs(v) > f.zeroTolerance {
			e.index = append(e.index, i)
			e.value = append(e.value, v)
		}
	}
	if f.etaElements+len(e.index)+1 > f.capacity() {
		f.valid = false
		return UpdateNoSpace
	}
	f.etas = append(f.etas, e)
	f.etaElements += len(e.index) + 1

	switch {
	case mismatch > slightMismatch*f.relax:
		return UpdateSlight
	case math.Abs(pivot) < smallPivotRatio*floats.Norm(column, math.Inf(1)):
		return UpdateDegenerate
	}
	return UpdateOK
}
