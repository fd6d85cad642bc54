// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"math"
	"os"

	"github.com/curioloop/qpsimplex/quadratic"
	"github.com/curioloop/qpsimplex/sparse"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// element is one stored value of a sparse matrix.
type element struct {
	Row   int     `yaml:"row"`
	Col   int     `yaml:"col"`
	Value float64 `yaml:"value"`
}

// bound of a column or row, a missing side is infinite.
type bound struct {
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
}

// problemFile is the YAML or JSON description of a quadratic program. A
// start point, when given, is the initial point of the solve.
type problemFile struct {
	Columns   int       `yaml:"columns"`
	Rows      int       `yaml:"rows"`
	Cost      []float64 `yaml:"cost"`
	Offset    float64   `yaml:"offset"`
	Hessian   []element `yaml:"hessian"`
	Matrix    []element `yaml:"matrix"`
	Bounds    []bound   `yaml:"bounds"`
	RowBounds []bound   `yaml:"row_bounds"`
	Start     []float64 `yaml:"start"`
}

func readProblem(path string) (*problemFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read problem")
	}
	var f problemFile
	if err = yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if f.Columns == 0 {
		f.Columns = len(f.Cost)
	}
	if f.Rows == 0 {
		f.Rows = len(f.RowBounds)
	}
	return &f, nil
}

func triplets(elements []element) []sparse.Triplet {
	t := make([]sparse.Triplet, len(elements))
	for k, e := range elements {
		t[k] = sparse.Triplet{Row: e.Row, Col: e.Col, Value: e.Value}
	}
	return t
}

func (b bound) resolve() quadratic.Bound {
	r := quadratic.Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
	if b.Lower != nil {
		r.Lower = *b.Lower
	}
	if b.Upper != nil {
		r.Upper = *b.Upper
	}
	return r
}

// problem converts the file into a problem. Without hessian elements the
// objective is linear.
func (f *problemFile) problem() (*quadratic.Problem, error) {
	n, m := f.Columns, f.Rows
	p := &quadratic.Problem{N: n, M: m, Offset: f.Offset}
	if len(f.Hessian) > 0 {
		q, err := sparse.FromTriplets(n, n, triplets(f.Hessian))
		if err != nil {
			return nil, errors.Wrap(err, "hessian")
		}
		p.Objective = &quadratic.Quadratic{Cost: f.Cost, Q: q}
	} else {
		p.Objective = &quadratic.Linear{Cost: f.Cost}
	}
	if m > 0 {
		a, err := sparse.FromTriplets(m, n, triplets(f.Matrix))
		if err != nil {
			return nil, errors.Wrap(err, "constraint matrix")
		}
		p.A = a
	}
	if f.Bounds != nil {
		p.Bounds = make([]quadratic.Bound, len(f.Bounds))
		for j, b := range f.Bounds {
			p.Bounds[j] = b.resolve()
		}
	}
	p.RowBounds = make([]quadratic.Bound, len(f.RowBounds))
	for i, b := range f.RowBounds {
		p.RowBounds[i] = b.resolve()
	}
	return p, nil
}
