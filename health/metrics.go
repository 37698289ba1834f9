package health

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycore/relaycore/candidate"
)

// metrics wraps the Prometheus collectors the tracker emits on every state
// transition. A nil-safe no-op variant is used until WithMetrics attaches a
// real registerer, so tests never need a registry.
type metrics struct {
	circuitState    *prometheus.GaugeVec
	attemptsTotal   *prometheus.CounterVec
	enabled         bool
}

func newNopMetrics() *metrics {
	return &metrics{enabled: false}
}

// NewMetrics registers the tracker's collectors against reg and returns a
// metrics value ready for Tracker.WithMetrics. Safe to call once per
// registerer; re-registration errors (e.g. in tests reusing the default
// registry) are swallowed since the collectors are stateless by candidate
// label and idempotent to redeclare.
func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaycore_circuit_state",
			Help: "Circuit breaker state per candidate (0=closed, 1=open).",
		}, []string{"candidate"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaycore_candidate_attempts_total",
			Help: "Attempts per candidate by outcome.",
		}, []string{"candidate", "outcome"}),
		enabled: true,
	}
	if reg != nil {
		_ = reg.Register(m.circuitState)
		_ = reg.Register(m.attemptsTotal)
	}
	return m
}

func (m *metrics) observeCircuitState(c candidate.Candidate, s CircuitState) {
	if m == nil || !m.enabled {
		return
	}
	v := 0.0
	if s == StateOpen {
		v = 1.0
	}
	m.circuitState.WithLabelValues(c.Key()).Set(v)
}

func (m *metrics) incAttempt(c candidate.Candidate, outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.attemptsTotal.WithLabelValues(c.Key(), outcome).Inc()
}
