package cmdgate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatch outcomes per command.
type Metrics struct {
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the dispatch collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdgate_dispatch_total",
				Help: "Dispatch calls by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdgate_dispatch_duration_seconds",
				Help:    "Time from dispatch to result, validation included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.dispatches, m.duration)
	}
	return m
}

// observe records one call. Unknown command names are folded into a single
// label value so callers cannot grow the series set.
func (m *Metrics) observe(command string, known bool, err error, took time.Duration) {
	if m == nil {
		return
	}
	if !known {
		command = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = KindName(err)
	}
	m.dispatches.WithLabelValues(command, outcome).Inc()
	m.duration.WithLabelValues(command).Observe(took.Seconds())
}
