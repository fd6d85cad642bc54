// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package factor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func columns(d *mat.Dense) func(k int, dst []float64) {
	return func(k int, dst []float64) {
		mat.Col(dst, k, d)
	}
}

func multiply(d *mat.Dense, x []float64, trans bool) []float64 {
	var y mat.VecDense
	if trans {
		y.MulVec(d.T(), mat.NewVecDense(len(x), x))
	} else {
		y.MulVec(d, mat.NewVecDense(len(x), x))
	}
	return y.RawVector().Data
}

func TestFactorizeSolve(t *testing.T) {
	b := mat.NewDense(3, 3, []float64{
		4, 1, 0,
		1, 3, 1,
		0, 1, 2,
	})
	f := New(3)
	n, err := f.Factorize(columns(b))
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, f.Valid())

	rhs := []float64{1, 2, 3}
	x := append([]float64(nil), rhs...)
	require.NoError(t, f.UpdateColumnFT(x))
	assert.True(t, floats.EqualApprox(multiply(b, x, false), rhs, 1e-12))

	y := append([]float64(nil), rhs...)
	require.NoError(t, f.UpdateColumnTranspose(y))
	assert.True(t, floats.EqualApprox(multiply(b, y, true), rhs, 1e-12))
}

func TestReplaceColumn(t *testing.T) {
	b := mat.NewDense(3, 3, []float64{
		2, 0, 1,
		0, 1, 0,
		1, 0, 3,
	})
	f := New(3)
	_, err := f.Factorize(columns(b))
	require.NoError(t, err)

	// replace column 1 and then column 0
	for step, c := range []struct {
		row int
		col []float64
	}{
		{1, []float64{1, 2, 1}},
		{0, []float64{0, 1, 4}},
	} {
		alpha := append([]float64(nil), c.col...)
		require.NoError(t, f.UpdateColumnFT(alpha))

		// pivot from the row of B⁻¹
		row := make([]float64, 3)
		row[c.row] = 1
		require.NoError(t, f.UpdateColumnTranspose(row))
		status := f.ReplaceColumn(alpha, c.row, floats.Dot(row, c.col))
		require.Equal(t, UpdateOK, status, "step %d", step)
		b.SetCol(c.row, c.col)
		require.Equal(t, step+1, f.Pivots())

		rhs := []float64{1, -1, 2}
		x := append([]float64(nil), rhs...)
		require.NoError(t, f.UpdateColumnFT(x))
		assert.True(t, floats.EqualApprox(multiply(b, x, false), rhs, 1e-10), "ftran step %d", step)

		y := append([]float64(nil), rhs...)
		require.NoError(t, f.UpdateColumnTranspose(y))
		assert.True(t, floats.EqualApprox(multiply(b, y, true), rhs, 1e-10), "btran step %d", step)
	}

	_, err = f.Factorize(columns(b))
	require.NoError(t, err)
	assert.Zero(t, f.Pivots())
}

func TestReplaceColumnStatus(t *testing.T) {
	identity := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	f := New(2)
	_, err := f.Factorize(columns(identity))
	require.NoError(t, err)

	col := []float64{0.5, 1}
	assert.Equal(t, UpdateMajor, f.ReplaceColumn(col, 0, 0.7), "alpha mismatch")
	assert.Equal(t, UpdateMajor, f.ReplaceColumn(col, 0, -0.5), "alpha sign")
	assert.Zero(t, f.Pivots(), "rejected update must not be applied")
	assert.Equal(t, UpdateSlight, f.ReplaceColumn(col, 0, 0.5+1e-6))
	assert.Equal(t, UpdateDegenerate, f.ReplaceColumn([]float64{1, 1e-9}, 1, 1e-9))

	g := New(2)
	g.SetAreaFactor(0.001)
	_, err = g.Factorize(columns(identity))
	require.NoError(t, err)
	assert.Equal(t, UpdateNoSpace, g.ReplaceColumn(col, 1, 1))
	assert.False(t, g.Valid())
	assert.ErrorIs(t, g.UpdateColumnFT([]float64{1, 1}), ErrInvalid)
}

func TestRelaxAccuracyCheck(t *testing.T) {
	identity := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	f := New(2)
	_, err := f.Factorize(columns(identity))
	require.NoError(t, err)

	col := []float64{0.5, 1}
	assert.Equal(t, UpdateMajor, f.ReplaceColumn(col, 0, 0.5+3e-4))
	f.RelaxAccuracyCheck(100)
	assert.Equal(t, UpdateSlight, f.ReplaceColumn(col, 0, 0.5+3e-4))
	assert.Equal(t, UpdateOK, f.ReplaceColumn(col, 1, 1+1e-7))
	assert.Equal(t, 2, f.Pivots())

	_, err = f.Factorize(columns(identity))
	require.NoError(t, err)
	assert.Equal(t, UpdateSlight, f.ReplaceColumn(col, 0, 0.5+1e-7), "factorization resets the relaxation")

	f.RelaxAccuracyCheck(0.1)
	assert.Equal(t, UpdateMajor, f.ReplaceColumn(col, 1, 1+5e-4), "relaxation never tightens")
}

func TestSingular(t *testing.T) {
	b := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		2, 4, 6,
		1, 0, 1,
	})
	f := New(3)
	n, err := f.Factorize(columns(b))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingular))
	assert.Equal(t, 1, n)
	assert.False(t, f.Valid())
}

func TestEmpty(t *testing.T) {
	f := New(0)
	n, err := f.Factorize(func(int, []float64) {})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, f.UpdateColumnFT(nil))
	assert.NoError(t, f.UpdateColumnTranspose(nil))
}
