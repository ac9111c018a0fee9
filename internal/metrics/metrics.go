// Package metrics defines the Prometheus collectors for the risk core and
// the /metrics exposition handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesIngested counts telemetry samples accepted for processing.
	SamplesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdwatch", Subsystem: "ingest", Name: "samples_total",
		Help: "Total telemetry samples processed.",
	})

	// BatchFailures counts whole-batch ingestion failures.
	BatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdwatch", Subsystem: "ingest", Name: "batch_failures_total",
		Help: "Total ingestion batches that failed and were rolled back.",
	})

	// EventsProduced counts risk events by classified level.
	EventsProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdwatch", Subsystem: "risk", Name: "events_total",
		Help: "Total risk events produced, by level.",
	}, []string{"level"})

	// WindowDegraded is 1 once the window store has switched to the
	// in-process fallback, 0 while the networked store is active.
	WindowDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdwatch", Subsystem: "window", Name: "degraded",
		Help: "Whether the window store runs on the in-process fallback.",
	})

	// Subscribers tracks currently connected WebSocket clients.
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdwatch", Subsystem: "fanout", Name: "subscribers",
		Help: "Currently connected WebSocket subscribers.",
	})
)

func init() {
	prometheus.MustRegister(
		SamplesIngested,
		BatchFailures,
		EventsProduced,
		WindowDegraded,
		Subscribers,
	)
}

// Handler returns the HTTP handler serving Prometheus exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}
