package worker

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeDiscarded = "discarded"
	OutcomeRetry     = "retry"
	OutcomeStopped   = "stopped"
	OutcomeExported  = "exported"
	OutcomeFailed    = "failed"
)

// Metrics counts processed imports and exports.
type Metrics struct {
	imports *prometheus.CounterVec
	exports *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "imports_total",
			Help:      "Import messages handled by outcome.",
		}, []string{"outcome"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "exports_total",
			Help:      "Periodic sheet exports by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.imports, m.exports)
	}
	return m
}

func (m *Metrics) importDone(outcome string) {
	if m != nil {
		m.imports.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) exportDone(outcome string) {
	if m != nil {
		m.exports.WithLabelValues(outcome).Inc()
	}
}
