// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qpsolve solves a quadratic program described in a YAML or JSON file.
//
//	qpsolve solve problem.yaml --method slp --output json
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/curioloop/qpsimplex/quadratic"
	"github.com/curioloop/qpsimplex/simplex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type solveOptions struct {
	method   string
	passes   int
	delta    float64
	maxIter  int
	logLevel int
	metrics  bool
	output   string
}

// solution is the printed form of a result.
type solution struct {
	Status       string    `json:"status" yaml:"status"`
	Optimal      bool      `json:"optimal" yaml:"optimal"`
	Objective    float64   `json:"objective" yaml:"objective"`
	X            []float64 `json:"x" yaml:"x"`
	RowActivity  []float64 `json:"row_activity" yaml:"row_activity"`
	Duals        []float64 `json:"duals" yaml:"duals"`
	ReducedCosts []float64 `json:"reduced_costs" yaml:"reduced_costs"`
	Iterations   int       `json:"iterations" yaml:"iterations"`
	Passes       int       `json:"passes" yaml:"passes"`
	Flagged      int       `json:"flagged" yaml:"flagged"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "qpsolve",
		Short:        "Convex quadratic programming with a primal simplex",
		SilenceUsage: true,
	}
	root.AddCommand(newSolveCmd())
	return root
}

func newSolveCmd() *cobra.Command {
	var opts solveOptions
	cmd := &cobra.Command{
		Use:   "solve <file>",
		Short: "Solve the problem in a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.method, "method", "quadratic", "solution method: quadratic or slp")
	flags.IntVar(&opts.passes, "passes", 0, "maximum linearizations of the slp method")
	flags.Float64Var(&opts.delta, "delta", 0, "move tolerance of the slp method")
	flags.IntVar(&opts.maxIter, "max-iter", 0, "maximum simplex pivots, 0 for the default")
	flags.IntVar(&opts.logLevel, "log-level", int(simplex.LogNoop), "solver trace level from -1 to 4")
	flags.BoolVar(&opts.metrics, "metrics", false, "print solver metrics in Prometheus text format")
	flags.StringVar(&opts.output, "output", "text", "result format: json, yaml or text")
	return cmd
}

func runSolve(stdout, stderr io.Writer, path string, opts solveOptions) error {
	switch opts.method {
	case "quadratic", "slp":
	default:
		return errors.Errorf("unknown method %q", opts.method)
	}
	switch opts.output {
	case "json", "yaml", "text":
	default:
		return errors.Errorf("unknown output format %q", opts.output)
	}

	f, err := readProblem(path)
	if err != nil {
		return err
	}
	p, err := f.problem()
	if err != nil {
		return err
	}
	p.Stop.MaxIterations = opts.maxIter
	p.Stop.MaxPasses = opts.passes
	logger := &simplex.Logger{Level: simplex.LogLevel(opts.logLevel), Msg: stderr, Out: stderr}
	o, err := p.New(logger)
	if err != nil {
		return errors.Wrap(err, "invalid problem")
	}

	w := o.Init()
	begin := time.Now()
	var r *quadratic.Result
	if opts.method == "slp" {
		r, err = o.FitSLP(f.Start, w, quadratic.TrustRegion{Passes: opts.passes, DeltaTolerance: opts.delta})
	} else {
		r, err = o.Fit(f.Start, w)
	}
	if err != nil {
		return errors.Wrap(err, "solve")
	}
	elapsed := time.Since(begin)

	if err = printResult(stdout, r, opts.output); err != nil {
		return err
	}
	if opts.metrics {
		m := newSolverMetrics()
		m.observe(opts.method, r, elapsed)
		if err = m.write(stderr); err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, r *quadratic.Result, format string) error {
	s := solution{
		Status:       r.Status.String(),
		Optimal:      r.OK,
		Objective:    r.F,
		X:            r.X,
		RowActivity:  r.RowActivity,
		Duals:        r.Duals,
		ReducedCosts: r.ReducedCosts,
		Iterations:   r.NumIter,
		Passes:       r.NumPass,
		Flagged:      r.NumFlag,
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(s), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(s); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return errors.Wrap(enc.Close(), "encode yaml")
	}
	_, _ = fmt.Fprintf(w, "status      %s\n", s.Status)
	_, _ = fmt.Fprintf(w, "objective   %.10g\n", s.Objective)
	_, _ = fmt.Fprintf(w, "iterations  %d\n", s.Iterations)
	if s.Passes > 0 {
		_, _ = fmt.Fprintf(w, "passes      %d\n", s.Passes)
	}
	for j, v := range s.X {
		_, _ = fmt.Fprintf(w, "x[%d]  %14.8g  dj %14.8g\n", j, v, s.ReducedCosts[j])
	}
	for i, v := range s.RowActivity {
		_, _ = fmt.Fprintf(w, "row[%d]  %12.8g  dual %14.8g\n", i, v, s.Duals[i])
	}
	return nil
}
