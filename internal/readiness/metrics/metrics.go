package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for readiness validation runs.
type Metrics struct {
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Scores      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_readiness_runs_total",
			Help: "Readiness validation runs by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custos_readiness_run_duration_seconds",
			Help:    "Readiness validation run duration",
			Buckets: prometheus.DefBuckets,
		}),
		Scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custos_readiness_score",
			Help:    "Distribution of composite readiness scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	m.Runs.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.RunDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveScore(score int) {
	m.Scores.Observe(float64(score))
}
