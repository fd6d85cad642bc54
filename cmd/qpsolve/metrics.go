// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"time"

	"github.com/curioloop/qpsimplex/quadratic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// solverMetrics records the counters of one invocation.
type solverMetrics struct {
	registry   *prometheus.Registry
	iterations *prometheus.CounterVec
	passes     *prometheus.CounterVec
	flagged    *prometheus.GaugeVec
	objective  *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
}

func newSolverMetrics() *solverMetrics {
	labels := []string{"method", "status"}
	m := &solverMetrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qpsolve",
			Name:      "iterations_total",
			Help:      "Simplex pivots performed",
		}, labels),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qpsolve",
			Name:      "passes_total",
			Help:      "Linearizations of the trust region method",
		}, labels),
		flagged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qpsolve",
			Name:      "flagged_variables",
			Help:      "Variables left flagged at the end of the solve",
		}, labels),
		objective: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qpsolve",
			Name:      "objective",
			Help:      "Final objective value",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qpsolve",
			Name:      "solve_seconds",
			Help:      "Wall time of the solve",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 10, 6),
		}, labels),
	}
	m.registry.MustRegister(m.iterations, m.passes, m.flagged, m.objective, m.duration)
	return m
}

func (m *solverMetrics) observe(method string, r *quadratic.Result, elapsed time.Duration) {
	lv := prometheus.Labels{"method": method, "status": r.Status.String()}
	m.iterations.With(lv).Add(float64(r.NumIter))
	m.passes.With(lv).Add(float64(r.NumPass))
	m.flagged.With(lv).Set(float64(r.NumFlag))
	m.objective.With(lv).Set(r.F)
	m.duration.With(lv).Observe(elapsed.Seconds())
}

// write prints every metric family in the Prometheus text format.
func (m *solverMetrics) write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}
