// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons for FeedSkippedRows.
const (
	ReasonUnknownProduct = "unknown_product"
	ReasonDuplicateKey   = "duplicate_key"
	ReasonMalformedDate  = "malformed_date"
	ReasonMalformedMonth = "malformed_month"
)

var (
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_store_query_duration_seconds",
			Help:    "Duration of document store reads in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_store_query_errors_total",
			Help: "Total number of failed document store reads",
		},
		[]string{"operation", "collection"},
	)

	StoreUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_store_up",
			Help: "1 when the last health check reached the store, 0 otherwise",
		},
	)

	FeedRowsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_feed_rows_emitted_total",
			Help: "Fact rows written to clients, by output format",
		},
		[]string{"format"},
	)

	// FeedSkippedRows counts data consistency warnings: records dropped from
	// the feed without failing the request.
	FeedSkippedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_feed_skipped_rows_total",
			Help: "Source records skipped while building the fact feed",
		},
		[]string{"reason"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_api_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_api_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analytics_circuit_breaker_state",
			Help: "Store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveStoreQuery records the latency and outcome of one store read.
func ObserveStoreQuery(operation, collection string, start time.Time, err error) {
	StoreQueryDuration.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation, collection).Inc()
	}
}

// RecordSkipped adds n skipped records for reason. Zero is a no-op.
func RecordSkipped(reason string, n int64) {
	if n > 0 {
		FeedSkippedRows.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordAPIRequest records one finished HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
