// Package telemetry exposes Prometheus metrics for the console.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconnects counts streaming-channel reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "transport_reconnects_total",
		Help:      "Number of streaming channel reconnect attempts.",
	})

	// FramesDropped counts inbound frames dropped at the transport
	// boundary, partitioned by reason (parse_error, unknown_type).
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "transport_frames_dropped_total",
		Help:      "Inbound frames dropped at the transport boundary.",
	}, []string{"reason"})

	// SearchResults counts streamed grep results accepted into the
	// current generation.
	SearchResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "search_results_total",
		Help:      "Streamed search results accepted into the current generation.",
	})

	// StaleResults counts results discarded because their generation
	// was superseded.
	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "search_stale_results_total",
		Help:      "Streamed search results discarded as stale.",
	})

	// RefreshFailures counts inventory fetch failures.
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "inventory_refresh_failures_total",
		Help:      "Inventory refresh fetch failures.",
	})

	// ActionsDispatched counts destructive commands sent to the
	// executor, partitioned by variant (pid, name, port, zombies).
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "periscope",
		Name:      "actions_dispatched_total",
		Help:      "Destructive commands dispatched to the executor.",
	}, []string{"variant"})

	// ConnectionState reports the streaming channel state as a gauge
	// (0 closed, 1 connecting, 2 open, 3 reconnecting).
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "periscope",
		Name:      "transport_connection_state",
		Help:      "Streaming channel state (0 closed, 1 connecting, 2 open, 3 reconnecting).",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
