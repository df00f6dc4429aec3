// Package metrics holds the Prometheus instruments for sync, playback
// monitoring and the Audiobookshelf gateway. Instruments register with the
// default registry at init; the daemon exposes them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_sync_operations_total",
			Help: "Total number of per-key sync operations",
		},
		[]string{"operation", "result"}, // operation: upload, pull, push, fetch; result: success, failure
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_sync_runs_total",
			Help: "Total number of batch reconciliation passes",
		},
		[]string{"kind"}, // startup, reconnect, manual, poll, upload
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfsync_sync_run_duration_seconds",
			Help:    "Duration of batch reconciliation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RemoteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_remote_errors_total",
			Help: "Total number of failed remote calls by error kind",
		},
		[]string{"kind"}, // transient, not_found, malformed, auth, unknown
	)

	PendingUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_pending_uploads",
			Help: "Number of local records awaiting upload",
		},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_online",
			Help: "Whether a server gateway is currently attached (1) or not (0)",
		},
	)

	// Playback Monitor Metrics
	MonitorSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_monitor_saves_total",
			Help: "Total number of progress saves issued by playback monitors",
		},
		[]string{"target"}, // local, remote, final
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_active_monitors",
			Help: "Number of playback monitors currently running",
		},
	)

	// Local API Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_api_requests_total",
			Help: "Total number of local API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfsync_api_request_duration_seconds",
			Help:    "Local API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordSyncOperation counts one per-key operation.
func RecordSyncOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	SyncOperations.WithLabelValues(operation, result).Inc()
}

// RecordSyncRun counts a batch pass and observes its duration.
func RecordSyncRun(kind string, duration time.Duration) {
	SyncRuns.WithLabelValues(kind).Inc()
	SyncRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRemoteError counts a failed remote call by its classified kind.
func RecordRemoteError(kind string) {
	RemoteErrors.WithLabelValues(kind).Inc()
}

// SetOnline flips the online gauge.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
