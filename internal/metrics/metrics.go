// Package metrics holds the Prometheus collectors shared by the sync engine,
// the HTTP adapter and the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_entity_runs_total",
			Help: "Entity sync runs by outcome",
		},
		[]string{"provider", "entity", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashsync_entity_run_duration_seconds",
			Help:    "Duration of one entity sync run",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"provider", "entity"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_records_upserted_total",
			Help: "Rows upserted by the sync engine",
		},
		[]string{"entity"},
	)

	SyncPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_records_pruned_total",
			Help: "Rows deleted after a complete full sync",
		},
		[]string{"entity"},
	)

	SyncPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_pages_fetched_total",
			Help: "Provider pages fetched",
		},
		[]string{"entity"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashsync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful entity run",
		},
		[]string{"tenant_id", "entity"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_http_attempts_total",
			Help: "Outbound provider HTTP attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_http_retries_total",
			Help: "Outbound provider HTTP retries by reason",
		},
		[]string{"provider", "reason"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashsync_http_attempt_duration_seconds",
			Help:    "Duration of one outbound provider HTTP attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashsync_token_refreshes_total",
			Help: "OAuth token refreshes by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashsync_events_dropped_total",
			Help: "Run events dropped because a subscriber was slow",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
