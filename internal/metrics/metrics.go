// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterJobsTotal              *prometheus.CounterVec
	harvesterFetchAttemptsTotal     *prometheus.CounterVec
	harvesterArtifactBytesTotal     *prometheus.CounterVec
	harvesterSideEffectFailures     *prometheus.CounterVec
	harvesterActiveWorkers          prometheus.Gauge
	harvesterRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of jobs finished, labeled by category and final state.",
			},
			[]string{"category", "state"},
		)

		harvesterFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterArtifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_artifact_bytes_total",
				Help: "Total number of fragment bytes stored, labeled by category.",
			},
			[]string{"category"},
		)

		harvesterSideEffectFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_side_effect_failures_total",
				Help: "Failures of the artifact index or publisher after a successful store.",
			},
			[]string{"target"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		harvesterRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The observers below are no-ops until Init has run, so library code can
// record unconditionally.

// ObserveJob counts a job that reached a terminal state.
func ObserveJob(category, state string) {
	if harvesterJobsTotal == nil {
		return
	}
	harvesterJobsTotal.WithLabelValues(category, state).Inc()
}

// ObserveFetchAttempt counts one fetch attempt by outcome
// (success, transient, permanent, canceled).
func ObserveFetchAttempt(outcome string) {
	if harvesterFetchAttemptsTotal == nil {
		return
	}
	harvesterFetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveArtifact records the size of a stored fragment.
func ObserveArtifact(category string, size int) {
	if harvesterArtifactBytesTotal == nil || size <= 0 {
		return
	}
	harvesterArtifactBytesTotal.WithLabelValues(category).Add(float64(size))
}

// ObserveSideEffectFailure counts a failed index write or publish.
func ObserveSideEffectFailure(target string) {
	if harvesterSideEffectFailures == nil {
		return
	}
	harvesterSideEffectFailures.WithLabelValues(target).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if harvesterActiveWorkers == nil {
		return
	}
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if harvesterActiveWorkers == nil {
		return
	}
	harvesterActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if harvesterRateLimitDelaysSeconds == nil {
		return
	}
	harvesterRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
