package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects auditor counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	recorded         *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	appendDuration   prometheus.Histogram
	notifyFailures   prometheus.Counter
	resolverFailures *prometheus.CounterVec
}

// NewMetrics registers the auditor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Audit records appended, labeled by event.",
		}, []string{"event"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_skipped_total",
			Help: "Mutations that produced no audit record, labeled by reason.",
		}, []string{"reason"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_append_duration_seconds",
			Help:    "Duration of audit store appends in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_notify_failures_total",
			Help: "Notifications that failed after the record was persisted.",
		}),
		resolverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_resolver_failures_total",
			Help: "Context resolver failures, labeled by resolver name.",
		}, []string{"resolver"}),
	}
	if reg != nil {
		reg.MustRegister(m.recorded, m.skipped, m.appendDuration, m.notifyFailures, m.resolverFailures)
	}
	return m
}

func (m *Metrics) incRecorded(event Event) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) incSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeAppend(start time.Time) {
	if m == nil {
		return
	}
	m.appendDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) incNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) incResolverFailure(resolver string) {
	if m == nil {
		return
	}
	m.resolverFailures.WithLabelValues(resolver).Inc()
}
