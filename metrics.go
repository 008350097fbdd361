package auditlog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the audit engine.
// A nil *Metrics records nothing.
type Metrics struct {
	RecordsWritten   *prometheus.CounterVec
	RecordsCommitted prometheus.Counter
	Failures         *prometheus.CounterVec
	ContextMisses    prometheus.Counter
	WriteDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_records_written_total",
			Help: "Audit records written, by event",
		}, []string{"event"}),
		RecordsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_records_committed_total",
			Help: "Audit records whose transaction committed",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_failures_total",
			Help: "Audited mutations that failed, by the last stage reached",
		}, []string{"stage"}),
		ContextMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_context_misses_total",
			Help: "Mutations recorded without transaction metadata",
		}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditlog_write_duration_seconds",
			Help:    "Time spent appending a single audit record",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

func (m *Metrics) recordWritten(e Event, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(string(e)).Inc()
	m.WriteDuration.Observe(d.Seconds())
}

func (m *Metrics) recordCommitted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsCommitted.Add(float64(n))
}

func (m *Metrics) recordFailure(s Stage) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) recordContextMiss() {
	if m == nil {
		return
	}
	m.ContextMisses.Inc()
}
