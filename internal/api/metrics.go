// Package api – Prometheus instrumentation for outbound traffic.
//
// Labels are chosen with cardinality in mind:
//
//   - method:  HTTP method verb (GET/POST/…)
//   - route:   the logical route template (e.g. /orders/:id/cancel), supplied
//     by the caller via Request.Route; never the raw URL with IDs in it
//   - outcome: success | client_error | server_error | network_error | timeout
//
// All collectors are safe for concurrent use.
package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// apiReqs counts completed requests by method, route, and outcome.
	apiReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_api_requests_total",
			Help: "Total number of outbound API requests by outcome.",
		},
		[]string{"method", "route", "outcome"},
	)

	// apiLat records end-to-end request duration (including retries) by
	// method and route. Outcome is omitted to keep histogram cardinality low.
	apiLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shop_api_request_duration_seconds",
			Help:    "Duration of outbound API requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// apiRetries counts individual retry attempts beyond the first try.
	apiRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_api_retries_total",
			Help: "Total number of retry attempts beyond the first.",
		},
		[]string{"method", "route"},
	)

	// apiDedup counts requests coalesced onto an identical in-flight request.
	apiDedup = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shop_api_deduplicated_total",
			Help: "Total number of requests served by an identical in-flight request.",
		},
	)

	// apiInflight gauges currently executing network requests.
	apiInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shop_api_requests_inflight",
			Help: "Current number of in-flight outbound requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(apiReqs, apiLat, apiRetries, apiDedup, apiInflight)
}

// observe records a completed request.
func observe(method, route, outcome string, start time.Time) {
	apiReqs.WithLabelValues(method, route, outcome).Inc()
	apiLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
