// Package metrics provides Prometheus observability for the canonization
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so callers never branch on whether metrics are wired.
type Metrics struct {
	// Canonization outcomes by entity type
	Canonizations *prometheus.CounterVec

	// Identity unions performed, by entity type
	IdentityUnions *prometheus.CounterVec

	// Audit sink write failures (each one failed a canonization)
	AuditWriteFailures prometheus.Counter

	// Full canonization latency across all six phases
	CanonizeLatency *prometheus.HistogramVec
}

// New creates a Metrics instance registered on the default registry.
func New() *Metrics {
	return &Metrics{
		Canonizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_canonizations_total",
			Help: "Total canonization requests by entity type and outcome",
		}, []string{"entity_type", "outcome"}),

		IdentityUnions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_identity_unions_total",
			Help: "Total identity unions performed by entity type",
		}, []string{"entity_type"}),

		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_audit_write_failures_total",
			Help: "Total audit sink write failures, each failing its canonization",
		}),

		CanonizeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_canonize_duration_seconds",
			Help:    "Duration of full canonization runs by entity type",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"entity_type"}),
	}
}

// IncrementCanonization records a finished canonization.
func (m *Metrics) IncrementCanonization(entityType, outcome string) {
	if m != nil {
		m.Canonizations.WithLabelValues(entityType, outcome).Inc()
	}
}

// IncrementUnion records an identity union.
func (m *Metrics) IncrementUnion(entityType string) {
	if m != nil {
		m.IdentityUnions.WithLabelValues(entityType).Inc()
	}
}

// IncrementAuditFailure records a failed audit sink write.
func (m *Metrics) IncrementAuditFailure() {
	if m != nil {
		m.AuditWriteFailures.Inc()
	}
}

// ObserveCanonizeLatency records the duration of a full canonization run.
func (m *Metrics) ObserveCanonizeLatency(entityType string, d time.Duration) {
	if m != nil {
		m.CanonizeLatency.WithLabelValues(entityType).Observe(d.Seconds())
	}
}
