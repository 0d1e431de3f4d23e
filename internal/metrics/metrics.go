// Package metrics exposes Prometheus collectors for the collector service.
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
	runsTotal                  *prometheus.CounterVec
	recordsExtractedTotal      *prometheus.CounterVec
	transformDroppedTotal      *prometheus.CounterVec
	deliveryItemsTotal         *prometheus.CounterVec
	deliveryRetriesTotal       *prometheus.CounterVec
	deliveryBatchDuration      prometheus.Histogram
	sessionChallengesTotal     *prometheus.CounterVec
	activeRuns                 prometheus.Gauge
	navigationRateLimitDelays  *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_runs_total",
				Help: "Total number of scrape runs, labeled by source kind and final status.",
			},
			[]string{"source_kind", "status"},
		)

		recordsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_records_extracted_total",
				Help: "Total number of raw records extracted, labeled by source kind.",
			},
			[]string{"source_kind"},
		)

		transformDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_transform_dropped_total",
				Help: "Total number of records dropped by the transformer, labeled by error kind.",
			},
			[]string{"kind"},
		)

		deliveryItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_delivery_items_total",
				Help: "Total number of messages delivered, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		deliveryRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_delivery_retries_total",
				Help: "Total number of batch resubmissions, labeled by failure class.",
			},
			[]string{"class"},
		)

		deliveryBatchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "polmsg_delivery_batch_duration_seconds",
				Help:    "Histogram of storage boundary call latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		sessionChallengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polmsg_session_challenges_total",
				Help: "Total number of challenge pages detected, labeled by signature.",
			},
			[]string{"signature"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "polmsg_active_runs",
				Help: "Number of scrape runs currently in progress.",
			},
		)

		navigationRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polmsg_navigation_rate_limit_delay_seconds",
				Help:    "Histogram of navigation pacing waits.",
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
	Init()
	return promhttp.Handler()
}

// ObserveRun counts a finished run.
func ObserveRun(sourceKind, status string) {
	Init()
	runsTotal.WithLabelValues(sourceKind, status).Inc()
}

// ObserveExtracted counts extracted records.
func ObserveExtracted(sourceKind string, n int) {
	Init()
	if n > 0 {
		recordsExtractedTotal.WithLabelValues(sourceKind).Add(float64(n))
	}
}

// ObserveTransformDrop counts a record the transformer rejected.
func ObserveTransformDrop(kind string) {
	Init()
	transformDroppedTotal.WithLabelValues(kind).Inc()
}

// ObserveDeliveryItems counts delivered messages by outcome (submitted, duplicate, failed).
func ObserveDeliveryItems(outcome string, n int) {
	Init()
	if n > 0 {
		deliveryItemsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveDeliveryRetry counts one batch resubmission.
func ObserveDeliveryRetry(class string) {
	Init()
	deliveryRetriesTotal.WithLabelValues(class).Inc()
}

// ObserveDeliveryBatch records one storage boundary call.
func ObserveDeliveryBatch(duration time.Duration) {
	Init()
	deliveryBatchDuration.Observe(duration.Seconds())
}

// ObserveChallenge counts a detected challenge page.
func ObserveChallenge(signature string) {
	Init()
	sessionChallengesTotal.WithLabelValues(signature).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveNavigationDelay records time spent waiting for a navigation slot.
func ObserveNavigationDelay(domain string, duration time.Duration) {
	Init()
	navigationRateLimitDelays.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
