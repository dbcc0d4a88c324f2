// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scoring metrics
	TransactionsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendguard",
			Subsystem: "scoring",
			Name:      "transactions_total",
			Help:      "Transactions scored, by verdict",
		},
		[]string{"verdict"},
	)

	TransactionsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spendguard",
			Subsystem: "scoring",
			Name:      "skipped_total",
			Help:      "Transactions dropped before scoring",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "spendguard",
			Subsystem: "scoring",
			Name:      "batch_duration_seconds",
			Help:      "Time to score one batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
	)

	AnomalyScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "spendguard",
			Subsystem: "scoring",
			Name:      "anomaly_score",
			Help:      "Distribution of anomaly scores",
			Buckets:   prometheus.LinearBuckets(0.3, 0.05, 12),
		},
	)

	// Pipeline metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendguard",
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Alerts handed to the notifier, by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendguard",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spendguard",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Verdict label values.
const (
	VerdictNormal    = "normal"
	VerdictAnomalous = "anomalous"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
