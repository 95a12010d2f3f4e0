// Package telemetry carries the guard's Prometheus metrics and the opt-in
// OpenTelemetry provider.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for AgentGuard.
// Pass to components that need to record metrics.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ApprovalsTotal     *prometheus.CounterVec
	PendingApprovals   prometheus.Gauge
	WebhookAttempts    prometheus.Counter
	WebhookFailures    prometheus.Counter
	DecisionLogDrops   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentguard",
				Name:      "decisions_total",
				Help:      "Policy decisions by action",
			},
			[]string{"action"}, // allow/block/require_approval
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentguard",
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8), // 1µs to 10s
			},
		),
		ApprovalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentguard",
				Name:      "approvals_total",
				Help:      "Approval outcomes",
			},
			[]string{"outcome"}, // approved/denied/timeout/cancelled/webhook_failed
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentguard",
				Name:      "pending_approvals",
				Help:      "Number of approval requests awaiting a response",
			},
		),
		WebhookAttempts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentguard",
				Name:      "webhook_attempts_total",
				Help:      "Webhook delivery attempts",
			},
		),
		WebhookFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentguard",
				Name:      "webhook_failures_total",
				Help:      "Failed webhook delivery attempts",
			},
		),
		DecisionLogDrops: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentguard",
				Name:      "decision_log_drops_total",
				Help:      "Decision records dropped due to backpressure",
			},
		),
	}
}
