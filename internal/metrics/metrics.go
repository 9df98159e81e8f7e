// Package metrics exposes Prometheus instruments for the ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's counters and histograms.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsAppended    *prometheus.CounterVec
	AppendLatency      prometheus.Histogram
	AppendConflicts    prometheus.Counter
	GrantsStarted      *prometheus.CounterVec
	GrantsEnded        prometheus.Counter
	CrossReadRecords   prometheus.Histogram
	CrossReadDenied    *prometheus.CounterVec
	AuditEventsDropped prometheus.Counter
}

// New registers all ledger metrics with the default registry.
// Call it once per process.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all ledger metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epoch_records_appended_total",
			Help: "Records appended to user chains by record type",
		}, []string{"record_type"}),

		AppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "epoch_append_duration_seconds",
			Help:    "Duration of a chained append including the tail lock",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		AppendConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "epoch_append_conflicts_total",
			Help: "Appends rejected because the chain link was already taken",
		}),

		GrantsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epoch_read_grants_started_total",
			Help: "Read grants started by grant type",
		}, []string{"type"}),

		GrantsEnded: f.NewCounter(prometheus.CounterOpts{
			Name: "epoch_read_grants_ended_total",
			Help: "Read grants explicitly ended",
		}),

		CrossReadRecords: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "epoch_cross_read_records",
			Help:    "Number of records returned per cross-user read",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		CrossReadDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epoch_cross_read_denied_total",
			Help: "Cross-user reads refused by reason",
		}, []string{"reason"}), // reason: "self", "not_entitled", "no_grant"

		AuditEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "epoch_audit_events_dropped_total",
			Help: "Audit events dropped because the publisher buffer was full",
		}),
	}
}

// RecordAppended counts a successful append.
func (m *Metrics) RecordAppended(recordType string, d time.Duration) {
	if m != nil {
		m.RecordsAppended.WithLabelValues(recordType).Inc()
		m.AppendLatency.Observe(d.Seconds())
	}
}

// AppendConflict counts a rejected fork.
func (m *Metrics) AppendConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

// GrantStarted counts a started grant.
func (m *Metrics) GrantStarted(grantType string) {
	if m != nil {
		m.GrantsStarted.WithLabelValues(grantType).Inc()
	}
}

// GrantEnded counts an ended grant.
func (m *Metrics) GrantEnded() {
	if m != nil {
		m.GrantsEnded.Inc()
	}
}

// ObserveCrossRead records how many records a cross-user read exposed.
func (m *Metrics) ObserveCrossRead(n int) {
	if m != nil {
		m.CrossReadRecords.Observe(float64(n))
	}
}

// CrossReadRefused counts a refused cross-user read.
func (m *Metrics) CrossReadRefused(reason string) {
	if m != nil {
		m.CrossReadDenied.WithLabelValues(reason).Inc()
	}
}

// AuditDropped counts an audit event lost to back-pressure.
func (m *Metrics) AuditDropped() {
	if m != nil {
		m.AuditEventsDropped.Inc()
	}
}
