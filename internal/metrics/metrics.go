// Package metrics defines the Prometheus metrics exported by the cache proxy.
// Labels are kept low-cardinality throughout: request host/uri never appear as
// label values. The outcome label takes only hit/miss/stale, and the origin
// label takes only the operator-configured origin addresses.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_connections_accepted_total",
			Help: "Total client connections accepted by the proxy",
		},
	)

	cacheOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheproxy_cache_outcomes_total",
			Help: "Cache lookup outcomes by type",
		},
		[]string{"outcome"}, // hit, miss, stale
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_cache_evictions_total",
			Help: "Total cache slots released, whether by LRU eviction or stale release",
		},
	)

	cacheRefusalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_cache_refusals_total",
			Help: "Total origin responses refused admission to the cache",
		},
	)

	bytesForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheproxy_bytes_forwarded_total",
			Help: "Total response bytes forwarded from origin to clients",
		},
	)

	originDialDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheproxy_origin_dial_duration_seconds",
			Help:    "Time spent resolving and connecting to an origin server",
			Buckets: prometheus.DefBuckets,
		},
	)

	originHealthyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheproxy_origin_healthy",
			Help: "Health-check status of a configured origin (1 healthy, 0 unhealthy)",
		},
		[]string{"origin"},
	)
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		cacheOutcomesTotal,
		cacheEvictionsTotal,
		cacheRefusalsTotal,
		bytesForwardedTotal,
		originDialDuration,
		originHealthyGauge,
	)
}

// ConnectionAccepted records one accepted client connection.
func ConnectionAccepted() { connectionsTotal.Inc() }

// CacheHit records a fresh cache hit.
func CacheHit() { cacheOutcomesTotal.WithLabelValues("hit").Inc() }

// CacheMiss records a lookup that matched no slot at all.
func CacheMiss() { cacheOutcomesTotal.WithLabelValues("miss").Inc() }

// CacheStale records a lookup that matched a now-stale slot.
func CacheStale() { cacheOutcomesTotal.WithLabelValues("stale").Inc() }

// CacheEviction records one slot release, whether for LRU eviction, stale
// release after an uncacheable refetch, or an oversized refetch.
func CacheEviction() { cacheEvictionsTotal.Inc() }

// CacheRefusal records one origin response refused cache admission.
func CacheRefusal() { cacheRefusalsTotal.Inc() }

// BytesForwarded adds n to the total bytes forwarded to clients.
func BytesForwarded(n int64) { bytesForwardedTotal.Add(float64(n)) }

// ObserveOriginDial records how long an origin dial took.
func ObserveOriginDial(d time.Duration) { originDialDuration.Observe(d.Seconds()) }

// SetOriginHealthy records a health probe's outcome for origin.
func SetOriginHealthy(origin string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	originHealthyGauge.WithLabelValues(origin).Set(v)
}
