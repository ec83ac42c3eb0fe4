// Package metrics defines and registers the Prometheus metrics exposed by
// beehive-server, mirroring the package-level MustRegister pattern the
// teacher's own metrics package would use. All metrics live in this single
// file at package scope so any component can import and update them without
// threading a registry handle through constructors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncConnectionsActive tracks how many sync-protocol TCP connections
	// (spec §4.9) are currently established, from authentication success
	// until the connection closes.
	SyncConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beehive_sync_connections_active",
			Help: "Number of authenticated sync connections currently open",
		},
	)

	// SyncOperationsTotal counts dispatched sync-protocol operations by tag
	// (spec §4.9's opcode table) and outcome.
	SyncOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_sync_operations_total",
			Help: "Total sync operations dispatched, by opcode tag and outcome",
		},
		[]string{"tag", "outcome"},
	)

	// SyncOperationDuration records how long each dispatched operation took.
	SyncOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beehive_sync_operation_duration_seconds",
			Help:    "Sync operation handling duration in seconds, by opcode tag",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tag"},
	)

	// HeaderApplyTotal counts HeadApply attempts (spec §4.6) by outcome, the
	// operation most likely to fail on a stale client header.
	HeaderApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_header_apply_total",
			Help: "Total HeadApply attempts, by outcome (applied, rejected, error, stale, inactive_member, unknown_version)",
		},
		[]string{"outcome"},
	)

	// PushTokensIssued and PushTokensRedeemed track the share-token lifecycle
	// (spec §4.8): a Push mints a token, a Pull redeems it.
	PushTokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beehive_push_tokens_issued_total",
			Help: "Total share-push tokens created",
		},
	)
	PushTokensRedeemed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beehive_push_tokens_redeemed_total",
			Help: "Total share-push tokens redeemed via Pull",
		},
	)

	// PushTokensSwept counts tokens purged by the background expiry sweep
	// (internal/scheduler).
	PushTokensSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beehive_push_tokens_swept_total",
			Help: "Total expired share-push tokens removed by the background sweep",
		},
	)

	// RegistryCacheHits/Misses instrument cmd/server's registryCache so a
	// schema that's rebuilt on every connection (e.g. after a busy publish
	// cycle) shows up instead of being silently absorbed.
	RegistryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beehive_registry_cache_hits_total",
			Help: "Total schema.Registry lookups served from cache",
		},
	)
	RegistryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beehive_registry_cache_misses_total",
			Help: "Total schema.Registry lookups that rebuilt the registry",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SyncConnectionsActive,
		SyncOperationsTotal,
		SyncOperationDuration,
		HeaderApplyTotal,
		PushTokensIssued,
		PushTokensRedeemed,
		PushTokensSwept,
		RegistryCacheHits,
		RegistryCacheMisses,
	)
}

// Handler returns the HTTP handler that exposes the registered metrics in
// the Prometheus text exposition format, for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation and records its duration to a
// histogram on Observe.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// ObserveSeconds records the elapsed time since NewTimer to histogram,
// labeled by labelValues.
func (t Timer) ObserveSeconds(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}
