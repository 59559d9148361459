package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts reconciler operations by direction and outcome.
type Metrics struct {
	Syncs *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Syncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_scheme_syncs_total",
			Help: "Scheme sync operations by direction and outcome",
		}, []string{"direction", "outcome"}),
	}
}

func (m *Metrics) ObserveSync(direction, outcome string) {
	m.Syncs.WithLabelValues(direction, outcome).Inc()
}
