// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksDispatched counts tasks handed to the runner pool.
	TasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentco",
		Name:      "tasks_dispatched_total",
		Help:      "Tasks dispatched for execution.",
	})

	// AttemptsFinished counts attempts reaching a terminal state, by status.
	AttemptsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentco",
		Name:      "attempts_finished_total",
		Help:      "Attempts reaching a terminal state.",
	}, []string{"status"})

	// SchedulingPasses counts coordinator scheduling passes.
	SchedulingPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentco",
		Name:      "scheduling_passes_total",
		Help:      "Scheduling passes over project task graphs.",
	})

	// WorkerRetries counts failed deliveries to the worker daemon.
	WorkerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentco",
		Name:      "worker_transport_failures_total",
		Help:      "Transport failures while calling the worker daemon.",
	})

	// EventsDropped counts bus deliveries missed by slow subscribers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentco",
		Name:      "bus_events_dropped_total",
		Help:      "Event deliveries dropped because a subscriber buffer was full.",
	})

	// WebsocketSessions tracks currently connected websocket sessions.
	WebsocketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentco",
		Name:      "websocket_sessions",
		Help:      "Open websocket sessions.",
	})

	// HTTPDuration observes API request latency by route and status class.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentco",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
