package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Mend
type Metrics struct {
	// Challenge metrics
	ChallengesRecorded *prometheus.CounterVec
	ChallengesDeduped  prometheus.Counter
	ChallengesByStatus *prometheus.GaugeVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge

	// Learning metrics
	LearningsRecorded  *prometheus.CounterVec
	PatternsExtracted  prometheus.Counter
	PatternsActive     prometheus.Gauge

	// Transfer metrics
	PackagesSent     *prometheus.CounterVec
	PackagesReceived *prometheus.CounterVec
	DeliveryFallback prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ChallengesRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mend_challenges_recorded_total",
					Help: "Challenges recorded, by type and severity",
				},
				[]string{"type", "severity"},
			),
			ChallengesDeduped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mend_challenges_deduplicated_total",
					Help: "Detections folded into an existing open challenge",
				},
			),
			ChallengesByStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mend_challenges",
					Help: "Current challenge count by lifecycle status",
				},
				[]string{"status"},
			),
			ExecutionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mend_executions_total",
					Help: "Solution executions, by outcome",
				},
				[]string{"outcome"},
			),
			ExecutionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mend_execution_duration_seconds",
					Help:    "Duration of solution executions in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
				},
				[]string{"outcome"},
			),
			QueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mend_execution_queue_depth",
					Help: "Challenges waiting in the execution queue",
				},
			),
			LearningsRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mend_learnings_recorded_total",
					Help: "Learning records appended, by outcome",
				},
				[]string{"outcome"},
			),
			PatternsExtracted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mend_patterns_extracted_total",
					Help: "Patterns distilled from repeated successes",
				},
			),
			PatternsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mend_patterns_active",
					Help: "Patterns currently clearing the promotion gate",
				},
			),
			PackagesSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mend_transfer_packages_sent_total",
					Help: "Knowledge packages sent, by delivery path",
				},
				[]string{"path"}, // "network" or "fallback"
			),
			PackagesReceived: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mend_transfer_packages_received_total",
					Help: "Knowledge packages received, by result",
				},
				[]string{"result"}, // "accepted" or "rejected"
			),
			DeliveryFallback: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mend_transfer_delivery_fallback_total",
					Help: "Deliveries that degraded to the local file fallback",
				},
			),
		}
	})
	return sharedMetrics
}
