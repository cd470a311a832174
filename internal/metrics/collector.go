// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and exposes the engine's Prometheus metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	nodeProcessedTotal *prometheus.CounterVec
	runCompletedTotal  *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec

	searchesTotal      *prometheus.CounterVec
	embedSyncDocuments *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.nodeProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_nodes_processed_total",
			Help:      "Workflow nodes processed by type and terminal state",
		},
		[]string{"node_type", "state"},
	)

	c.runCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by terminal status",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Wall-clock duration of workflow runs",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	c.searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_searches_total",
			Help:      "Semantic searches by corpus",
		},
		[]string{"corpus"},
	)

	c.embedSyncDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_sync_documents_total",
			Help:      "Documents handled by embedding sync, by outcome",
		},
		[]string{"corpus", "outcome"},
	)

	return c
}

// ObserveHTTP records one HTTP request.
func (c *Collector) ObserveHTTP(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusText(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// NodeProcessed implements workflow.Metrics.
func (c *Collector) NodeProcessed(nodeType, state string, seconds float64) {
	c.nodeProcessedTotal.WithLabelValues(nodeType, state).Inc()
}

// RunCompleted implements workflow.Metrics.
func (c *Collector) RunCompleted(status string, seconds float64) {
	c.runCompletedTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(seconds)
}

// SearchObserved records one semantic search.
func (c *Collector) SearchObserved(corpus string) {
	c.searchesTotal.WithLabelValues(corpus).Inc()
}

// SyncObserved records an embedding sync outcome.
func (c *Collector) SyncObserved(corpus string, embedded, reused, deleted int) {
	c.embedSyncDocuments.WithLabelValues(corpus, "embedded").Add(float64(embedded))
	c.embedSyncDocuments.WithLabelValues(corpus, "reused").Add(float64(reused))
	c.embedSyncDocuments.WithLabelValues(corpus, "deleted").Add(float64(deleted))
}

func statusText(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
