// Package observability defines the Prometheus metrics shared across the
// service: request-level counters, cache outcomes and per-operation latency
// of the cache and renderer backends.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome.",
		},
		[]string{"outcome", "backend"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "backend", "result"},
	)

	renderResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_results_total",
			Help: "Renderer invocations by outcome.",
		},
		[]string{"outcome"},
	)

	colormapSynthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colormap_synth_total",
			Help: "Colormap synthesis runs, split by memo outcome.",
		},
		[]string{"memo"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Invalidation events processed, by operation and result.",
		},
		[]string{"op", "result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveCacheOp(op, backend string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, backend, result).Observe(durationSeconds)
}

func IncCacheHit(backend string) {
	cacheResults.WithLabelValues("hit", backend).Inc()
}

func IncCacheMiss(backend string) {
	cacheResults.WithLabelValues("miss", backend).Inc()
}

func IncRenderResult(outcome string) {
	renderResults.WithLabelValues(outcome).Inc()
}

func IncColormapSynth(memoHit bool) {
	memo := "miss"
	if memoHit {
		memo = "hit"
	}
	colormapSynthTotal.WithLabelValues(memo).Inc()
}

func IncInvalidation(op, result string) {
	invalidationsTotal.WithLabelValues(op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
