// Package metrics exposes Prometheus collectors for draw sessions.
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

var (
	sessionIterationsTotal     *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	changeEventsTotal          *prometheus.CounterVec
	publishFailuresTotal       *prometheus.CounterVec
	recordWritesTotal          *prometheus.CounterVec
	extractDurationSeconds     *prometheus.HistogramVec
	throttleDelaySeconds       *prometheus.HistogramVec
	activeSessions             *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sessionIterationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawwatch_session_iterations_total",
				Help: "Total polling iterations, labeled by family and result.",
			},
			[]string{"family", "result"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawwatch_sessions_total",
				Help: "Total finished sessions, labeled by family and outcome.",
			},
			[]string{"family", "outcome"},
		)

		changeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawwatch_change_events_total",
				Help: "Total change events accepted by the event channel, labeled by family.",
			},
			[]string{"family"},
		)

		publishFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawwatch_publish_failures_total",
				Help: "Total failed event publishes, labeled by family.",
			},
			[]string{"family"},
		)

		recordWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawwatch_record_writes_total",
				Help: "Total record persistence attempts, labeled by family and result.",
			},
			[]string{"family", "result"},
		)

		extractDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drawwatch_extract_duration_seconds",
				Help:    "Histogram of extractor call latencies, labeled by family.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"family"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drawwatch_throttle_delay_seconds",
				Help:    "Time extractor calls waited for the per-host rate limit, labeled by family.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"family"},
		)

		activeSessions = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drawwatch_active_sessions",
				Help: "Number of sessions currently polling, labeled by family.",
			},
			[]string{"family"},
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

// ObserveIteration counts one polling iteration. result is "success" or "failure".
func ObserveIteration(family, result string) {
	Init()
	sessionIterationsTotal.WithLabelValues(family, result).Inc()
}

// ObserveExtract records the latency of one extractor call.
func ObserveExtract(family string, d time.Duration) {
	Init()
	extractDurationSeconds.WithLabelValues(family).Observe(d.Seconds())
}

// ObserveThrottleDelay records how long an extractor call waited for its host's rate limit.
func ObserveThrottleDelay(family string, d time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(family).Observe(d.Seconds())
}

// ObserveEvents adds accepted change events.
func ObserveEvents(family string, n int) {
	Init()
	if n > 0 {
		changeEventsTotal.WithLabelValues(family).Add(float64(n))
	}
}

// ObservePublishFailure counts a failed publish.
func ObservePublishFailure(family string) {
	Init()
	publishFailuresTotal.WithLabelValues(family).Inc()
}

// ObserveRecordWrite counts one persistence attempt. result is "upserted", "unchanged" or "error".
func ObserveRecordWrite(family, result string) {
	Init()
	recordWritesTotal.WithLabelValues(family, result).Inc()
}

// SessionStarted increments the active sessions gauge.
func SessionStarted(family string) {
	Init()
	activeSessions.WithLabelValues(family).Inc()
}

// SessionFinished decrements the active sessions gauge and counts the outcome.
func SessionFinished(family, outcome string) {
	Init()
	activeSessions.WithLabelValues(family).Dec()
	sessionsTotal.WithLabelValues(family, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
