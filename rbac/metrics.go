package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts resolver, gate and administration outcomes. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	admin       *prometheus.CounterVec
}

// NewMetrics registers the rbac collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmda",
			Subsystem: "rbac",
			Name:      "resolutions_total",
			Help:      "Role resolutions by the source that decided them.",
		}, []string{"source"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmda",
			Subsystem: "rbac",
			Name:      "gate_decisions_total",
			Help:      "Access gate decisions by resulting state.",
		}, []string{"state"}),
		admin: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmda",
			Subsystem: "rbac",
			Name:      "admin_operations_total",
			Help:      "Role administration operations by outcome.",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) observeResolution(source Source) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) observeDecision(state GateState) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) observeAdmin(operation, outcome string) {
	if m == nil {
		return
	}
	m.admin.WithLabelValues(operation, outcome).Inc()
}
