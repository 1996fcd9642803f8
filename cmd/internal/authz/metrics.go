package authz

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	decisionAllow           = "allow"
	decisionDeny            = "deny"
	decisionUnauthenticated = "unauthenticated"
)

// Metrics counts gate decisions by requirement. A nil *Metrics records
// nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the decision counter on reg (the default registerer
// when nil), reusing an existing registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_authz_decisions_total",
		Help: "Authorization gate decisions by requirement and decision.",
	}, []string{"requirement", "decision"})

	if err := reg.Register(decisions); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		decisions = existing
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) record(req Requirement, decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(req.String(), decision).Inc()
}
