package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the workspace lifecycle module.
type Metrics struct {
	WorkspacesCreated  prometheus.Counter
	WorkspacesCloned   prometheus.Counter
	ActivationAttempts *prometheus.CounterVec
}

// New creates a Metrics instance with all workspace module metrics registered.
func New() *Metrics {
	return &Metrics{
		WorkspacesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_workspaces_created_total",
			Help: "Total number of workspaces created",
		}),
		WorkspacesCloned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_workspaces_cloned_total",
			Help: "Total number of template-to-branch clones",
		}),
		ActivationAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_workspace_activation_attempts_total",
			Help: "Activation gate evaluations by outcome",
		}, []string{"outcome"}),
	}
}

// IncrementCreated records a successful workspace creation.
func (m *Metrics) IncrementCreated() {
	m.WorkspacesCreated.Inc()
}

// IncrementCloned records a successful template clone.
func (m *Metrics) IncrementCloned() {
	m.WorkspacesCloned.Inc()
}

// ObserveActivation records an activation gate evaluation outcome
// ("passed" or "blocked").
func (m *Metrics) ObserveActivation(outcome string) {
	m.ActivationAttempts.WithLabelValues(outcome).Inc()
}
