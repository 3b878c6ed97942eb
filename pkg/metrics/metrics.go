// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsPublished tracks events published to the bus per topic.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total events published to the event bus",
		},
		[]string{"topic"},
	)

	// EventsDropped tracks events dropped on slow subscriber buffers.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)

	// PublishFailures tracks publishes that could not reach the broker.
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_failures_total",
			Help: "Event publishes that failed; the mutation stands regardless",
		},
		[]string{"topic"},
	)

	// FilterEvaluations tracks visibility predicate outcomes per topic.
	FilterEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_filter_evaluations_total",
			Help: "Subscription filter evaluations by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	// SSEConnectionsActive tracks active SSE subscription streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFilterEvaluation records a visibility decision.
func RecordFilterEvaluation(topic string, visible bool) {
	outcome := "hidden"
	if visible {
		outcome = "visible"
	}
	FilterEvaluations.WithLabelValues(topic, outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
