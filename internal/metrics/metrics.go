// Package metrics exposes Prometheus collectors for the taskshell service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll tick outcomes.
const (
	PollOK             = "ok"
	PollTransportError = "transport_error"
)

var (
	pollTicksTotal             *prometheus.CounterVec
	taskTerminalTotal          *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	cacheInstallsTotal         *prometheus.CounterVec
	cacheGenerationsPurged     prometheus.Counter
	originRateLimitDelay       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pollTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskshell_poll_ticks_total",
				Help: "Total number of status poll ticks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		taskTerminalTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskshell_task_terminal_total",
				Help: "Total number of tasks observed reaching a terminal state.",
			},
			[]string{"state"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskshell_cache_lookups_total",
				Help: "Total number of cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		cacheInstallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskshell_cache_installs_total",
				Help: "Total number of cache install attempts, labeled by result.",
			},
			[]string{"result"},
		)

		cacheGenerationsPurged = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskshell_cache_generations_purged_total",
				Help: "Total number of stale cache generations deleted on activation.",
			},
		)

		originRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskshell_origin_ratelimit_delay_seconds",
				Help:    "Time origin fetches spent waiting on the per-host rate limiter.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePollTick counts a single poll tick.
func ObservePollTick(outcome string) {
	Init()
	pollTicksTotal.WithLabelValues(outcome).Inc()
}

// ObserveTaskTerminal counts a task reaching a terminal state.
func ObserveTaskTerminal(state string) {
	Init()
	taskTerminalTotal.WithLabelValues(state).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheInstall counts an install attempt.
func ObserveCacheInstall(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheInstallsTotal.WithLabelValues(result).Inc()
}

// AddGenerationsPurged records deleted cache generations.
func AddGenerationsPurged(n int) {
	Init()
	if n > 0 {
		cacheGenerationsPurged.Add(float64(n))
	}
}

// ObserveRateLimitDelay records time spent waiting for an origin token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	originRateLimitDelay.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
