// Package metrics holds the telemetry sinks of the API and the schedule
// worker: Prometheus collectors scraped from /metrics, and CloudWatch
// datapoints pushed by the worker Lambda.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BookingCollector implements core.MetricsCollector and
// booking.OutcomeRecorder on a private Prometheus registry.
type BookingCollector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
}

// NewBookingCollector registers the API metrics under namespace.
func NewBookingCollector(namespace string) *BookingCollector {
	reg := prometheus.NewRegistry()
	c := &BookingCollector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Booking operations by operation and outcome code.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(c.requests, c.requestDuration, c.outcomes)
	reg.MustRegister(prometheus.NewGoCollector())
	return c
}

// RecordRequest implements core.MetricsCollector.
func (c *BookingCollector) RecordRequest(method, route, status string, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if _, err := strconv.Atoi(status); err != nil {
		status = "unknown"
	}
	c.requests.WithLabelValues(method, route, status).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBookingOutcome implements booking.OutcomeRecorder. outcome is "ok"
// or the error code of a refused operation.
func (c *BookingCollector) RecordBookingOutcome(operation, outcome string) {
	c.outcomes.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *BookingCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *BookingCollector) Registry() *prometheus.Registry {
	return c.registry
}
