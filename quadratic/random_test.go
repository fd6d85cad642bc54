// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quadratic

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/curioloop/qpsimplex/simplex"
	"github.com/curioloop/qpsimplex/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const randomTolerance = 1e-5

func uniform(rnd *rand.Rand, lo, hi float64) float64 { return lo + (hi-lo)*rnd.Float64() }

// randomConvex builds a convex problem around a feasible point x0 which is
// returned with it. Q is BᵀB plus a positive diagonal on every column that
// is not boxed, so the objective is bounded below on the feasible set. With
// rankDeficient B has fewer rows than columns.
func randomConvex(t *testing.T, rnd *rand.Rand, rankDeficient bool) (*Problem, []float64) {
	n, m := 2+rnd.Intn(4), 1+rnd.Intn(3)
	x0 := make([]float64, n)
	bounds := make([]Bound, n)
	boxed := make([]bool, n)
	for j := range bounds {
		switch rnd.Intn(6) {
		case 0, 1:
			l := uniform(rnd, -2, 1)
			bounds[j] = Bound{Lower: l, Upper: l + uniform(rnd, 0.5, 3)}
			x0[j] = uniform(rnd, bounds[j].Lower, bounds[j].Upper)
			boxed[j] = true
		case 2:
			bounds[j] = Bound{Lower: uniform(rnd, -2, 1), Upper: math.Inf(1)}
			x0[j] = bounds[j].Lower + uniform(rnd, 0, 2)
		case 3:
			bounds[j] = Bound{Lower: math.Inf(-1), Upper: uniform(rnd, -1, 2)}
			x0[j] = bounds[j].Upper - uniform(rnd, 0, 2)
		case 4:
			bounds[j] = Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
			x0[j] = uniform(rnd, -2, 2)
		default:
			v := uniform(rnd, -1, 1)
			bounds[j] = Bound{Lower: v, Upper: v}
			x0[j] = v
			boxed[j] = true
		}
	}

	k := n
	if rankDeficient {
		k = max(1, n/2)
	}
	b := make([]float64, k*n)
	for i := range b {
		b[i] = uniform(rnd, -1, 1)
	}
	q := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for r := 0; r < k; r++ {
				q[i*n+j] += b[r*n+i] * b[r*n+j]
			}
		}
		if !boxed[i] {
			q[i*n+i] += uniform(rnd, 0.5, 1.5)
		}
	}

	a := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if rnd.Float64() < 0.7 {
				a[i*n+j] = uniform(rnd, -1.5, 1.5)
			}
		}
		a[i*n+rnd.Intn(n)] = uniform(rnd, 0.5, 1.5)
	}
	matrix := dense(t, m, n, a...)
	ax0 := make([]float64, m)
	matrix.Times(1, x0, ax0)
	rows := make([]Bound, m)
	for i, v := range ax0 {
		switch rnd.Intn(4) {
		case 0:
			rows[i] = Bound{Lower: math.Inf(-1), Upper: v + uniform(rnd, 0, 1.5)}
		case 1:
			rows[i] = Bound{Lower: v - uniform(rnd, 0, 1.5), Upper: math.Inf(1)}
		case 2:
			rows[i] = Bound{Lower: v, Upper: v}
		default:
			rows[i] = Bound{Lower: v - uniform(rnd, 0, 1), Upper: v + uniform(rnd, 0, 1)}
		}
	}

	cost := make([]float64, n)
	for j := range cost {
		cost[j] = uniform(rnd, -3, 3)
	}
	return &Problem{
		N: n, M: m,
		Objective: &Quadratic{Cost: cost, Q: dense(t, n, n, q...)},
		A:         matrix,
		Bounds:    bounds,
		RowBounds: rows,
	}, x0
}

func checkMonotone(t *testing.T, history []float64) {
	t.Helper()
	for k := 1; k < len(history); k++ {
		assert.LessOrEqual(t, history[k], history[k-1]+1e-7*(1+math.Abs(history[k-1])),
			"objective rose at pivot %d", k)
	}
}

func TestFitRandomConvex(t *testing.T) {
	rnd := rand.New(rand.NewSource(20250611))
	for c := 0; c < 60; c++ {
		rankDeficient := c%2 == 1
		p, x0 := randomConvex(t, rnd, rankDeficient)
		t.Run(fmt.Sprintf("%d_n%d_m%d_deficient_%v", c, p.N, p.M, rankDeficient), func(t *testing.T) {
			o, buf := optimizer(t, p)
			w := o.Init()

			cold, err := o.Fit(nil, w)
			require.NoError(t, err)
			require.True(t, cold.OK, "status %v\n%s", cold.Status, buf.String())
			checkKKTWithin(t, p, cold, randomTolerance)
			checkMonotone(t, w.History())

			buf.Reset()
			warm, err := o.Fit(x0, w)
			require.NoError(t, err)
			require.True(t, warm.OK, "status %v\n%s", warm.Status, buf.String())
			assert.NotContains(t, buf.String(), "Start point is infeasible")
			checkKKTWithin(t, p, warm, randomTolerance)
			checkMonotone(t, w.History())
			assert.InDelta(t, cold.F, warm.F, randomTolerance*(1+math.Abs(cold.F)))
		})
	}
}

// vertices returns the objective values of a history with repeats removed.
func vertices(history []float64) []float64 {
	var v []float64
	for _, h := range history {
		if len(v) == 0 || math.Abs(h-v[len(v)-1]) > 1e-9 {
			v = append(v, h)
		}
	}
	return v
}

// linearTrajectory runs the linear engine from the vertex of the zero cost
// solve one pivot at a time and records the objective after each pivot.
func linearTrajectory(t *testing.T, p *Problem) []float64 {
	o, _ := optimizer(t, p)
	var trace []float64
	for k := 1; ; k++ {
		require.Less(t, k, 20, "linear engine did not finish")
		lp, err := o.engine(o.Init())
		require.NoError(t, err)
		clear(lp.Cost())
		require.Equal(t, simplex.Optimal, lp.Primal(false))
		copy(lp.Cost(), p.Objective.Linear())
		lp.SetMaximumIterations(lp.NumberIterations() + k)
		status := lp.Primal(false)
		trace = append(trace, lp.ObjectiveValue())
		if status == simplex.Optimal {
			return vertices(trace)
		}
		require.Equal(t, simplex.StoppedIterations, status)
	}
}

func TestFitZeroHessianTrajectory(t *testing.T) {
	q, err := sparse.FromTriplets(2, 2, []sparse.Triplet{{Row: 0, Col: 0, Value: 0}, {Row: 1, Col: 1, Value: 0}})
	require.NoError(t, err)
	p := linearProblem(t, &Quadratic{Cost: []float64{-1, -2}, Q: q})
	o, _ := optimizer(t, p)
	w := o.Init()
	r, err := o.Fit(nil, w)
	require.NoError(t, err)
	require.True(t, r.OK)
	checkKKT(t, p, r)
	checkMonotone(t, w.History())

	want := linearTrajectory(t, p)
	assert.InDeltaSlice(t, []float64{-4, -5}, want, 1e-9)
	assert.InDeltaSlice(t, want, vertices(w.History()), 1e-9)

	lp, err := o.engine(o.Init())
	require.NoError(t, err)
	require.Equal(t, simplex.Optimal, lp.Primal(false))
	assert.InDeltaSlice(t, lp.ColumnSolution(), r.X, 1e-9)
	assert.InDelta(t, lp.ObjectiveValue(), r.F, 1e-9)
}

// minimize ½q₁x₁² + ½q₂x₂² - q·t x over the unit box has the solution
// clamp(t, 0, 1) and the trust region loop must reach it in a bounded
// number of passes.
func TestFitSLPSeparable(t *testing.T) {
	const passBound = 40
	rnd := rand.New(rand.NewSource(7))
	for c := 0; c < 100; c++ {
		q := []float64{uniform(rnd, 0.5, 4), uniform(rnd, 0.5, 4)}
		target := []float64{uniform(rnd, -0.5, 1.5), uniform(rnd, -0.5, 1.5)}
		cost := make([]float64, 2)
		want := make([]float64, 2)
		f := 0.0
		for j := range q {
			cost[j] = -q[j] * target[j]
			want[j] = min(max(target[j], 0), 1)
			f += half*q[j]*want[j]*want[j] + cost[j]*want[j]
		}
		p := &Problem{
			N:         2,
			Objective: &Quadratic{Cost: cost, Q: diagonal(t, q...)},
			Bounds:    []Bound{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 1}},
		}
		t.Run(fmt.Sprintf("%d", c), func(t *testing.T) {
			o, buf := optimizer(t, p)
			r, err := o.FitSLP(nil, o.Init(), TrustRegion{Passes: 50, DeltaTolerance: 1e-5})
			require.NoError(t, err)
			require.True(t, r.OK, "status %v\n%s", r.Status, buf.String())
			assert.LessOrEqual(t, r.NumPass, passBound)
			assert.InDeltaSlice(t, want, r.X, 1e-4)
			assert.InDelta(t, f, r.F, 1e-6)
		})
	}
}
