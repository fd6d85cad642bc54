// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const circleYAML = `
cost: [0, 0]
hessian:
  - {row: 0, col: 0, value: 2}
  - {row: 1, col: 1, value: 2}
matrix:
  - {row: 0, col: 0, value: 1}
  - {row: 0, col: 1, value: 1}
bounds:
  - {lower: 0}
  - {lower: 0, upper: 1e30}
row_bounds:
  - {lower: 2}
`

const linearJSON = `{
  "cost": [-1, -2],
  "matrix": [
    {"row": 0, "col": 0, "value": 1}, {"row": 0, "col": 1, "value": 1},
    {"row": 1, "col": 0, "value": 1}, {"row": 1, "col": 1, "value": 3}
  ],
  "bounds": [{"lower": 0}, {"lower": 0}],
  "row_bounds": [{"upper": 4}, {"upper": 6}]
}`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestReadProblem(t *testing.T) {
	f, err := readProblem(writeFile(t, "circle.yaml", circleYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Columns)
	assert.Equal(t, 1, f.Rows)

	p, err := f.problem()
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Bounds[0].Lower)
	assert.True(t, math.IsInf(p.Bounds[0].Upper, 1))
	assert.Equal(t, 1e30, p.Bounds[1].Upper)
	assert.True(t, math.IsInf(p.RowBounds[0].Upper, 1))

	_, err = readProblem(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = readProblem(writeFile(t, "bad.yaml", "cost: {"))
	assert.Error(t, err)
}

func TestSolve(t *testing.T) {
	circle := writeFile(t, "circle.yaml", circleYAML)
	linear := writeFile(t, "linear.json", linearJSON)
	tests := []struct {
		name string
		args []string
		x    []float64
		f    float64
	}{
		{"quadratic", []string{"solve", circle, "--output", "json"}, []float64{1, 1}, 2},
		{"slp", []string{"solve", circle, "--output", "json", "--method", "slp", "--passes", "20"}, []float64{1, 1}, 2},
		{"linear", []string{"solve", linear, "--output", "json"}, []float64{3, 1}, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := execute(t, tt.args...)
			require.NoError(t, err, stderr)
			var s solution
			require.NoError(t, json.Unmarshal([]byte(stdout), &s))
			assert.True(t, s.Optimal)
			assert.Equal(t, "OPTIMAL", s.Status)
			assert.InDeltaSlice(t, tt.x, s.X, 1e-5)
			assert.InDelta(t, tt.f, s.Objective, 1e-5)
		})
	}
}

func TestSolveOutputs(t *testing.T) {
	circle := writeFile(t, "circle.yaml", circleYAML)

	stdout, _, err := execute(t, "solve", circle, "--output", "yaml")
	require.NoError(t, err)
	var s solution
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &s))
	assert.InDeltaSlice(t, []float64{2}, s.Duals, 1e-6)

	stdout, _, err = execute(t, "solve", circle)
	require.NoError(t, err)
	assert.Contains(t, stdout, "status      OPTIMAL")
	assert.Contains(t, stdout, "row[0]")

	_, stderr, err := execute(t, "solve", circle, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, stderr, "qpsolve_iterations_total")
	assert.Contains(t, stderr, `method="quadratic"`)
	assert.Contains(t, stderr, "qpsolve_solve_seconds_bucket")

	_, stderr, err = execute(t, "solve", circle, "--log-level", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Quadratic primal")
}

func TestSolveStart(t *testing.T) {
	circle := writeFile(t, "circle.yaml", circleYAML+"start: [2, 2]\n")
	f, err := readProblem(circle)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, f.Start)

	tests := []struct {
		name string
		args []string
		log  string
	}{
		{"values pass", []string{"solve", circle, "--output", "json", "--log-level", "1"}, "Values pass finished"},
		{"slp", []string{"solve", circle, "--output", "json", "--method", "slp", "--log-level", "0"}, "SLP OPTIMAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := execute(t, tt.args...)
			require.NoError(t, err, stderr)
			assert.Contains(t, stderr, tt.log)
			var s solution
			require.NoError(t, json.Unmarshal([]byte(stdout), &s))
			assert.True(t, s.Optimal)
			assert.InDeltaSlice(t, []float64{1, 1}, s.X, 1e-5)
		})
	}

	short := writeFile(t, "short.yaml", circleYAML+"start: [2]\n")
	_, _, err = execute(t, "solve", short)
	assert.ErrorContains(t, err, "initial x size")
}

func TestSolveErrors(t *testing.T) {
	circle := writeFile(t, "circle.yaml", circleYAML)
	_, _, err := execute(t, "solve", circle, "--method", "newton")
	assert.ErrorContains(t, err, "unknown method")
	_, _, err = execute(t, "solve", circle, "--output", "xml")
	assert.ErrorContains(t, err, "unknown output format")
	_, _, err = execute(t, "solve")
	assert.Error(t, err)

	inconsistent := writeFile(t, "bad.yaml", `
cost: [1]
bounds:
  - {lower: 1, upper: 0}
`)
	_, _, err = execute(t, "solve", inconsistent)
	assert.ErrorContains(t, err, "invalid problem")
}
