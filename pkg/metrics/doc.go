/*
Package metrics provides Prometheus metrics collection and exposition for the daemon.

The metrics package defines and registers every metric using the Prometheus client
library, giving observability into connection lifecycle, pool occupancy, and data
store sync behavior. Metrics are exposed via an HTTP endpoint for scraping by
Prometheus servers, alongside health and readiness probes for orchestrators.

# Architecture

The metrics system follows Prometheus best practices with instrumentation across
the transport and store layers:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (pool size)           │          │
	│  │  Counter: Monotonic increases (accepted)     │          │
	│  │  Histogram: Distributions (sync duration)    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Connections: Accepted, rejected, closed    │          │
	│  │  Pools: Current size, configured capacity   │          │
	│  │  Store: Sync duration, sync failures        │          │
	│  │  Messages: Dropped for exceeding limits     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics on an interval           │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: pool size, pool capacity
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: connections accepted, store sync failures
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Example: store sync duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Collector:
  - Polls a set of named connection pools on a ticker
  - Reports each pool's current size and configured max
  - See Collector and NamedPool

# Metrics Catalog

Connection Metrics:

freedm_connections_accepted_total{transport}:
  - Type: Counter
  - Description: Total connections accepted, by transport (uxd/tcp)
  - Labels: transport
  - Example: freedm_connections_accepted_total{transport="uxd"} 42

freedm_connections_rejected_total{reason}:
  - Type: Counter
  - Description: Total connections rejected, by reason (pool_full/auth_failed)
  - Labels: reason
  - Example: freedm_connections_rejected_total{reason="pool_full"} 3

freedm_connections_closed_total{cause}:
  - Type: Counter
  - Description: Total connections closed, by cause (eof/error/shutdown)
  - Labels: cause
  - Example: freedm_connections_closed_total{cause="shutdown"} 7

Pool Metrics:

freedm_pool_size{pool}:
  - Type: Gauge
  - Description: Current number of connections registered in a pool
  - Labels: pool
  - Example: freedm_pool_size{pool="api"} 12

freedm_pool_capacity{pool}:
  - Type: Gauge
  - Description: Configured maximum size of a pool (0 = unbounded)
  - Labels: pool
  - Example: freedm_pool_capacity{pool="api"} 100

Store Metrics:

freedm_store_sync_duration_seconds{store}:
  - Type: Histogram
  - Description: Time taken to sync a data store's tainted domains
  - Labels: store
  - Buckets: Default Prometheus buckets

freedm_store_sync_failures_total{store}:
  - Type: Counter
  - Description: Total number of failed store sync attempts
  - Labels: store
  - Example: freedm_store_sync_failures_total{store="config"} 1

Message Metrics:

freedm_messages_dropped_total{direction}:
  - Type: Counter
  - Description: Total messages dropped for exceeding a configured size limit
  - Labels: direction (inbound/outbound)
  - Example: freedm_messages_dropped_total{direction="inbound"} 2

# Usage

Updating Gauge Metrics:

	import "github.com/freedm/core/pkg/metrics"

	// Set absolute value
	metrics.PoolSize.WithLabelValues("api").Set(5)

Updating Counter Metrics:

	// Increment by 1
	metrics.ConnectionsAccepted.WithLabelValues("uxd").Inc()

	// Add arbitrary value
	metrics.ConnectionsRejected.WithLabelValues("pool_full").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.StoreSyncDuration.WithLabelValues("config").Observe(0.125) // 125ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform sync ...
	timer.ObserveDurationVec(metrics.StoreSyncDuration, "config")

Using the Collector:

	pools := []metrics.NamedPool{
		{Name: "api", Pool: apiPool},
		{Name: "admin", Pool: adminPool},
	}
	collector := metrics.NewCollector(pools...)
	collector.Start()
	defer collector.Stop()

Complete Example:

	package main

	import (
		"net/http"

		"github.com/freedm/core/pkg/metrics"
	)

	func main() {
		metrics.RegisterComponent("store", true, "")
		metrics.RegisterComponent("transport", true, "")
		metrics.RegisterComponent("api", true, "")

		http.Handle("/metrics", metrics.Handler())
		http.HandleFunc("/health", metrics.HealthHandler())
		http.HandleFunc("/ready", metrics.ReadyHandler())
		http.HandleFunc("/live", metrics.LivenessHandler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

This package integrates with:

  - pkg/pool: Source of pool size/capacity samples via Collector
  - Prometheus: Scrapes /metrics endpoint

The pool gauges are the only metrics this module updates itself. The
connection accept/reject/close counters, the store sync duration histogram
and failure counter, and the dropped-message counter are defined and
registered here, but pkg/transport/server, pkg/store and pkg/transport do
not update them; they stay at zero unless other code records to them.

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (connection IDs, timestamps)
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration/ObserveDurationVec
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any package in the module
  - Thread-safe concurrent updates
  - No initialization required by callers

Readiness vs. Liveness:
  - Liveness answers "is the process running" and never depends on peers
  - Readiness answers "can this instance serve traffic" and checks the
    critical component set (store, transport, api)
  - A component registered but unhealthy fails readiness without
    affecting liveness

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Cardinality Management:
  - Low cardinality: transport, reason, cause, store (< 10 values)
  - Avoid: connection IDs, timestamps (unbounded)
  - Best practice: aggregate high-cardinality detail in logs instead

# Troubleshooting

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

Pool Gauges Not Updating:
  - Symptom: freedm_pool_size stays at zero
  - Cause: Collector never started, or pool not passed to NewCollector
  - Solution: Call collector.Start() after registering every live pool

Readiness Stuck Not Ready:
  - Symptom: /ready returns 503 after startup
  - Cause: one of store/transport/api never called RegisterComponent
  - Solution: register all three components during daemon bootstrap

# Monitoring

Prometheus Queries (PromQL):

Connection Health:
  - Acceptance rate: rate(freedm_connections_accepted_total[1m])
  - Rejection rate: rate(freedm_connections_rejected_total[5m])
  - Rejection reasons: sum by (reason) (freedm_connections_rejected_total)

Pool Occupancy:
  - Utilization: freedm_pool_size / freedm_pool_capacity
  - Near capacity: freedm_pool_size / freedm_pool_capacity > 0.9

Store Sync:
  - p95 sync latency: histogram_quantile(0.95, freedm_store_sync_duration_seconds_bucket)
  - Failure rate: rate(freedm_store_sync_failures_total[5m])

# Alerting Rules

Recommended Prometheus alerts:

High Connection Rejection Rate:
  - Alert: rate(freedm_connections_rejected_total[5m]) > 1
  - Description: Connections are being rejected persistently
  - Action: Check pool capacity and authentication configuration

Pool Near Capacity:
  - Alert: freedm_pool_size / freedm_pool_capacity > 0.9
  - Description: A connection pool is close to its configured maximum
  - Action: Raise pool capacity or investigate a stuck client

Store Sync Failures:
  - Alert: rate(freedm_store_sync_failures_total[5m]) > 0
  - Description: A backend is failing to persist tainted domains
  - Action: Check backend connectivity and disk/network health

# Grafana Dashboards

Recommended dashboard panels:

Connections Overview:
  - Time series: Connections accepted/rejected/closed per transport
  - Single stat: Current total pool size across all pools

Store Performance:
  - Heatmap: Sync duration distribution by store
  - Time series: Sync failure rate by store

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
