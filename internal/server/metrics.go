package server

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeConverged    = "converged"
	outcomeNotConverged = "not_converged"
	outcomeStopped      = "stopped"
	outcomeError        = "error"
)

type metrics struct {
	runs   *prometheus.CounterVec
	iters  *prometheus.HistogramVec
	active prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bisect_runs_total",
			Help: "Number of solver runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		iters: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bisect_iterations",
			Help:    "Bisection iterations per run.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"mode"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bisect_active_runs",
			Help: "Asynchronous runs currently in progress.",
		}),
	}
	reg.MustRegister(m.runs, m.iters, m.active)
	return m
}

func (m *metrics) observe(mode, outcome string, iters int) {
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.iters.WithLabelValues(mode).Observe(float64(iters))
}
