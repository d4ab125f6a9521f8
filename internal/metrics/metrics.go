// Package metrics provides Prometheus instrumentation for the sitewatch client
// layer: stream connection health, inbound message outcomes, request latency
// and classified failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamStatus is 1 for the current connection status label and 0 for
	// the others.
	StreamStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitewatch_stream_status",
		Help: "Current stream connection status (1 = active state)",
	}, []string{"status"})

	// StreamReconnects counts reconnect attempts scheduled after a failure.
	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitewatch_stream_reconnects_total",
		Help: "Total number of scheduled stream reconnect attempts",
	})

	// StreamMessages counts inbound stream payloads, labeled by outcome.
	StreamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_stream_messages_total",
		Help: "Total number of inbound stream messages",
	}, []string{"outcome"}) // outcome = "decoded", "dropped"

	// RequestDuration records API request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitewatch_api_request_duration_seconds",
		Help:    "API request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "outcome"}) // outcome = "ok", "failed"

	// RequestFailures counts classified request failures by category.
	RequestFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_api_failures_total",
		Help: "Total number of classified API failures",
	}, []string{"category"})

	// RelayDropped counts relay publishes skipped by the rate limiter.
	RelayDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_relay_dropped_total",
		Help: "Relay messages dropped by the rate limiter",
	}, []string{"kind"}) // kind = "failure", "alarm"

	// AlarmWrites counts queued alarm store writes by outcome.
	AlarmWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_alarm_store_writes_total",
		Help: "Alarm store writes, labeled by outcome",
	}, []string{"outcome"}) // outcome = "ok", "failed", "dropped"
)

func init() {
	prometheus.MustRegister(
		StreamStatus,
		StreamReconnects,
		StreamMessages,
		RequestDuration,
		RequestFailures,
		RelayDropped,
		AlarmWrites,
	)
}

// SetStreamStatus marks status as the active label.
func SetStreamStatus(status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		StreamStatus.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
