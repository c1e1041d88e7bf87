package rbac

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts authorization decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the decision counter on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edu_rbac_decisions_total",
		Help: "Authorization decisions by required permission and outcome.",
	}, []string{"permission", "decision"})
	if reg != nil {
		reg.MustRegister(decisions)
	}
	return &Metrics{decisions: decisions}
}

func (m *Metrics) observe(permission string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.decisions.WithLabelValues(permission, decision).Inc()
}
