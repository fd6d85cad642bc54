// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"math"

	"github.com/curioloop/qpsimplex/simplex"
	"github.com/pkg/errors"
)

// createDjs recomputes basic values, the gradient and the reduced costs of
// the enlarged problem. The duals solve Bᵀy = c_B with the gradient as cost
// of the basic columns, so in a complementary basis y is (π, 0) and the
// reduced cost of Xᵢ equals Sjᵢ while the one of row logical k equals Πₖ.
// Duals and reduced cost columns carry no reduced cost.
func (d *qpDriver) createDjs() error {
	s, info := d.s, d.info
	if err := s.ComputePrimals(); err != nil {
		return err
	}
	info.refreshRows(s.PivotVariable())
	x := s.Solution()
	g := info.computeGradient(x)
	clear(d.cost)
	copy(d.cost, g)
	if err := s.ComputeDuals(d.cost); err != nil {
		return err
	}
	dj := s.DJ()
	n, N := info.numberXColumns, info.numberColumns()
	clear(dj[n:N])
	d.objective = info.objective(x, s.Offset())
	s.SetObjectiveValue(d.objective)
	return nil
}

// checkComplementarity verifies that every dual pair has exactly one basic
// member, except the pair of the crucial variable which may have both.
// It also counts the dual infeasibilities of columns and row logicals and
// the primal infeasibilities of the basis.
func (d *qpDriver) checkComplementarity() (numberDual int, sumDual float64, err error) {
	s, info := d.s, d.info
	m, n := info.numberXRows, info.numberXColumns
	crucialPair := -1
	if info.crucialSj >= 0 {
		crucialPair = info.crucialSj
		if !info.primal(crucialPair) {
			crucialPair = info.complement(crucialPair)
		}
	}

	both, neither := 0, 0
	pair := func(p int) error {
		c := info.complement(p)
		pb, cb := s.State(p).IsBasic(), s.State(c).IsBasic()
		switch {
		case pb && cb:
			both++
			if p != crucialPair {
				return errors.Wrapf(ErrComplementarity, "sequence %d and its partner %d are both basic", p, c)
			}
		case !pb && !cb:
			neither++
		}
		return nil
	}
	for i := 0; i < n; i++ {
		if err = pair(info.xColumn(i)); err != nil {
			return
		}
	}
	for k := 0; k < m; k++ {
		if err = pair(info.rowLogical(k)); err != nil {
			return
		}
	}
	if both != neither {
		return 0, 0, errors.Wrapf(ErrComplementarity, "%d pairs basic twice, %d nonbasic", both, neither)
	}

	dj, tol := s.DJ(), s.DualTolerance()
	count := func(seq int) {
		st := s.State(seq)
		if st.IsBasic() || st.Flagged {
			return
		}
		if improving(st, dj[seq], tol) != 0 {
			numberDual++
			sumDual += math.Abs(dj[seq])
		}
	}
	for i := 0; i < n; i++ {
		count(info.xColumn(i))
	}
	for k := 0; k < m; k++ {
		count(info.rowLogical(k))
	}
	s.SetDualInfeasibilities(numberDual, sumDual)
	s.ComputePrimalInfeasibilities()

	if log := s.Logger(); log.Enable(simplex.LogDetail) {
		log.Log("Complementarity: %d pairs repaired, %d dual infeasibilities %.3e\n", both, numberDual, sumDual)
	}
	return
}
