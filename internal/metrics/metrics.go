// Package metrics exposes Prometheus instrumentation for SPSA runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/spsa/internal/optimization/spsa"
)

const namespace = "spsa"

// Outcome labels a finished run.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Metrics holds the collectors of the optimization service.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	activeRuns   prometheus.Gauge
	iterations   prometheus.Histogram
	evaluations  prometheus.Counter
	rejected     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Number of minimization runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Number of minimization runs finished, by outcome.",
		}, []string{"outcome"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of minimization runs in progress.",
		}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations completed per finished run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objective_evaluations_total",
			Help:      "Perturbation evaluations of the objective across all runs.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_steps_total",
			Help:      "Steps rejected by the blocking rule.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runsStarted, m.runsFinished, m.activeRuns, m.iterations, m.evaluations, m.rejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished records the end of a run that completed the given number of
// iterations.
func (m *Metrics) RunFinished(outcome Outcome, iterations int) {
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(string(outcome)).Inc()
	m.iterations.Observe(float64(iterations))
}

// Record implements spsa.Recorder. Each iterate accounts for the two
// perturbation evaluations of its step.
func (m *Metrics) Record(it spsa.Iterate) error {
	m.evaluations.Add(2)
	if !it.Accepted {
		m.rejected.Inc()
	}
	return nil
}

var _ spsa.Recorder = (*Metrics)(nil)
