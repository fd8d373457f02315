package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// #region metrics

// Metrics holds the governance counters. A nil *Metrics is valid and records
// nothing, so components can take it as optional.
type Metrics struct {
	decisions    *prometheus.CounterVec
	reports      *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governance",
				Subsystem: "gateway",
				Name:      "decisions_total",
				Help:      "Gateway policy decisions by operation, outcome and reason.",
			},
			[]string{"op", "outcome", "reason"},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governance",
				Subsystem: "agent",
				Name:      "reports_total",
				Help:      "Agent-side report submissions by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governance",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "governance",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(m.decisions, m.reports, m.httpRequests, m.httpDuration)
	return m
}

// RecordDecision counts one gateway decision.
func (m *Metrics) RecordDecision(op string, ok bool, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(op, outcome(ok), reason).Inc()
}

// RecordReport counts one agent-side report attempt. outcome is "accepted",
// "rejected", "evaluation_rejected" or "transient".
func (m *Metrics) RecordReport(outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts one HTTP request and its latency.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, code).Inc()
	m.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}

// #endregion metrics
