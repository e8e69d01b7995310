// Package metrics exposes pipeline counters and histograms to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	runs        *prometheus.CounterVec
	solve       prometheus.Histogram
	recovery    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg gets a
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hygiene_transitions_total",
				Help: "Pipeline state transitions.",
			},
			[]string{"from", "to", "success"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hygiene_runs_total",
				Help: "Finished pipeline runs by final state.",
			},
			[]string{"outcome"},
		),
		solve: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hygiene_solve_duration_seconds",
				Help:    "Wall time of individual solve calls.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		recovery: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hygiene_recovery_attempts_total",
				Help: "Recovery attempts by strategy and result.",
			},
			[]string{"strategy", "success"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.transitions, m.runs, m.solve, m.recovery)
	return m
}

// Transition counts one state transition.
func (m *Metrics) Transition(from, to string, success bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, strconv.FormatBool(success)).Inc()
}

// RunFinished counts a run that reached a terminal state.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveSolve records the duration of one solve call.
func (m *Metrics) ObserveSolve(d time.Duration) {
	if m == nil {
		return
	}
	m.solve.Observe(d.Seconds())
}

// RecoveryAttempt counts one recovery attempt.
func (m *Metrics) RecoveryAttempt(strategy string, success bool) {
	if m == nil {
		return
	}
	m.recovery.WithLabelValues(strategy, strconv.FormatBool(success)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
