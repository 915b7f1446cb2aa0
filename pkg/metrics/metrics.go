package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freedm_connections_accepted_total",
			Help: "Total number of connections accepted, by transport (uxd/tcp)",
		},
		[]string{"transport"},
	)

	ConnectionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freedm_connections_rejected_total",
			Help: "Total number of connections rejected, by reason (pool_full/auth_failed)",
		},
		[]string{"reason"},
	)

	ConnectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freedm_connections_closed_total",
			Help: "Total number of connections closed, by cause (eof/error/shutdown)",
		},
		[]string{"cause"},
	)

	PoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freedm_pool_size",
			Help: "Current number of connections registered in a pool, by pool name",
		},
		[]string{"pool"},
	)

	PoolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freedm_pool_capacity",
			Help: "Configured maximum size of a pool, by pool name (0 = unbounded)",
		},
		[]string{"pool"},
	)

	StoreSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freedm_store_sync_duration_seconds",
			Help:    "Time taken to sync a data store's tainted domains, by store alias",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	StoreSyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freedm_store_sync_failures_total",
			Help: "Total number of failed store sync attempts, by store alias",
		},
		[]string{"store"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freedm_messages_dropped_total",
			Help: "Total number of messages dropped for exceeding a configured size limit",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		ConnectionsRejected,
		ConnectionsClosed,
		PoolSize,
		PoolCapacity,
		StoreSyncDuration,
		StoreSyncFailuresTotal,
		MessagesDropped,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
