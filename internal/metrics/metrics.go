// Package metrics provides Prometheus metrics for the hierarchy service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivecms_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Sync metrics
	syncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_syncs_total",
			Help: "Total hierarchy rebuilds by mode and result",
		},
		[]string{"mode", "result"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivecms_sync_duration_seconds",
			Help:    "Time to fetch, build and persist a route hierarchy",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	syncConcurrentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_sync_concurrent_total",
			Help: "Sync calls that found a rebuild already in flight",
		},
		[]string{"action"}, // joined, rejected
	)

	driveFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_drive_fetches_total",
			Help: "Drive listing calls by result",
		},
		[]string{"result"},
	)

	driveFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drivecms_drive_fetch_duration_seconds",
			Help:    "Drive listing call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	hierarchyNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drivecms_hierarchy_nodes",
			Help: "Number of nodes in the last built hierarchy per route",
		},
		[]string{"route"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_cache_lookups_total",
			Help: "Hierarchy cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, stale, fallback
	)

	cacheInvalidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_cache_invalidated_entries_total",
			Help: "Cache entries removed by invalidation or cleanup",
		},
		[]string{"reason"}, // route, all, expired
	)

	// Store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivecms_store_operation_duration_seconds",
			Help:    "Route and cache store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_store_operations_total",
			Help: "Route and cache store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivecms_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivecms_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivecms_admin_auth_attempts_total",
			Help: "Admin authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric. Hierarchy paths are
// collapsed so route keys do not explode label cardinality.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	path = normalizePath(path)
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func normalizePath(path string) string {
	for _, prefix := range []string{
		"/api/v1/hierarchy/",
		"/api/v1/admin/sync/",
		"/api/v1/admin/invalidate/",
		"/api/v1/admin/routes/",
		"/api/v1/admin/toggle/",
	} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "*"
		}
	}
	return path
}

// RecordSync records a finished rebuild.
func RecordSync(mode string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	syncsTotal.WithLabelValues(mode, result).Inc()
	syncDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordSyncJoined records a caller that waited on an in-flight rebuild.
func RecordSyncJoined() {
	syncConcurrentTotal.WithLabelValues("joined").Inc()
}

// RecordSyncRejected records a caller turned away by an in-flight rebuild.
func RecordSyncRejected() {
	syncConcurrentTotal.WithLabelValues("rejected").Inc()
}

// RecordDriveFetch records one Drive listing call.
func RecordDriveFetch(result string, duration time.Duration) {
	driveFetchesTotal.WithLabelValues(result).Inc()
	driveFetchDuration.Observe(duration.Seconds())
}

// SetHierarchyNodes sets the node count of a route's last built tree.
func SetHierarchyNodes(route string, count int) {
	hierarchyNodes.WithLabelValues(route).Set(float64(count))
}

// RecordCacheLookup records a cache lookup outcome.
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheInvalidated records removed cache entries.
func RecordCacheInvalidated(reason string, count int) {
	cacheInvalidatedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordStoreOperation records a store call.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open DB connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuthAttempt records an admin authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}
