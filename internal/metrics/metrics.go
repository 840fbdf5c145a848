// ================================
// internal/metrics/metrics.go - Self-monitoring for SentinelOps
// ================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tick pipeline metrics
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_ticks_total",
			Help: "Total number of pipeline ticks by outcome",
		},
		[]string{"status"}, // completed, skipped, aborted
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinelops_tick_duration_seconds",
			Help:    "Full pipeline tick duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_anomalies_detected_total",
			Help: "Total number of anomalies emitted by the detector",
		},
		[]string{"service", "metric", "severity"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"severity"},
	)

	DedupSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinelops_dedup_suppressed_total",
			Help: "Incident candidates suppressed by dedup cooldown",
		},
	)

	IncidentsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelops_incidents_tracked",
			Help: "Incidents currently retained in the store",
		},
	)

	// Observability backend metrics
	ESQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_es_queries_total",
			Help: "Total number of Elasticsearch queries",
		},
		[]string{"operation", "status"}, // services/buckets/aggregate/events/runbooks, success/error
	)

	ESQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinelops_es_query_duration_seconds",
			Help:    "Elasticsearch query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	// Analyzer metrics
	AnalyzerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_analyzer_requests_total",
			Help: "Total number of language-model analysis attempts",
		},
		[]string{"status"}, // success, timeout, error, unparseable
	)

	AnalyzerRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinelops_analyzer_request_duration_seconds",
			Help:    "Language-model request duration in seconds",
			Buckets: []float64{0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0},
		},
	)

	// External integration metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"channel", "success"}, // slack/pagerduty, true/false
	)

	// HTTP read API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinelops_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Valkey cache metrics
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_cache_requests_total",
			Help: "Total number of cache requests",
		},
		[]string{"operation", "result"}, // get/set/delete, hit/miss/error/success
	)

	// WebSocket stream metrics
	ActiveWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelops_websocket_connections_active",
			Help: "Number of connected incident-stream clients",
		},
	)

	// Incident search index metrics
	SearchIndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelops_search_index_operations_total",
			Help: "Incident search index operations",
		},
		[]string{"operation", "status"}, // index/search, success/error
	)
)

// RecordCacheOperation records a cache operation outcome. Shared helper so
// pkg/cache does not import prometheus directly.
func RecordCacheOperation(operation, result string) {
	CacheRequestsTotal.WithLabelValues(operation, result).Inc()
}

// RecordESQuery records an Elasticsearch query outcome with duration in
// seconds.
func RecordESQuery(operation string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ESQueriesTotal.WithLabelValues(operation, status).Inc()
	ESQueryDuration.WithLabelValues(operation).Observe(seconds)
}
