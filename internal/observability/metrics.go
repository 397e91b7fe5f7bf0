package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// One Call API attempts by status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per attempt. Watch for: p99 near the per-attempt timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Failed attempts by error category (timeout, network, upstream_5xx, parsing, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Completed refresh cycles by outcome (success, error).
	RefreshCyclesTotal *prometheus.CounterVec

	// Unix time of the last completed refresh cycle. Watch for: staleness > 2x interval.
	RefreshLastTimestampSeconds prometheus.Gauge

	// Size in bytes of the cached upstream payload.
	CacheResultBytes prometheus.Gauge

	// Snapshot mirror publish failures.
	MirrorErrorsTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of One Call API attempts",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "One Call API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Failed One Call API attempts by error category",
		},
		[]string{"category"},
	)
	RefreshCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshCyclesTotal",
			Help: "Completed refresh cycles by outcome",
		},
		[]string{"outcome"},
	)
	RefreshLastTimestampSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "refreshLastTimestampSeconds",
			Help: "Unix time of the last completed refresh cycle",
		},
	)
	CacheResultBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheResultBytes",
			Help: "Size in bytes of the cached upstream payload",
		},
	)
	MirrorErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirrorErrorsTotal",
			Help: "Total number of failed snapshot mirror publishes",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		RefreshCyclesTotal, RefreshLastTimestampSeconds, CacheResultBytes,
		MirrorErrorsTotal,
	)
}

// RecordRefresh records the outcome of one refresh cycle.
func RecordRefresh(success bool, at time.Time, resultBytes int) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	RefreshCyclesTotal.WithLabelValues(outcome).Inc()
	RefreshLastTimestampSeconds.Set(float64(at.UnixNano()) / 1e9)
	CacheResultBytes.Set(float64(resultBytes))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
