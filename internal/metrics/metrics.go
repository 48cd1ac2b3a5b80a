// Package metrics holds the Prometheus instruments shared by the ingestion
// pipeline and the broadcast hub. Exposed via /metrics on the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts accepted location samples, split by whether the
	// sample was an official tracking tick or a supplementary one.
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leavetrack_samples_ingested_total",
		Help: "Location samples accepted by the ingestion pipeline.",
	}, []string{"official"})

	// SamplesRejected counts samples rejected before persistence.
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leavetrack_samples_rejected_total",
		Help: "Location samples rejected by the ingestion pipeline.",
	}, []string{"reason"})

	// RadiusAlerts counts out-of-radius latch activations.
	RadiusAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leavetrack_radius_alerts_total",
		Help: "Times a tracked subject was first observed outside the geofence.",
	})

	// EventsPublished counts broadcast events by kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leavetrack_broadcast_events_total",
		Help: "Events published to school channels.",
	}, []string{"kind"})

	// EventsDropped counts deliveries skipped because a subscriber was slow.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leavetrack_broadcast_dropped_total",
		Help: "Event deliveries dropped due to a full subscriber buffer.",
	})

	// RelayDropped counts events whose cross-instance copy was discarded
	// because the relay's forwarding queue was full.
	RelayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leavetrack_relay_dropped_total",
		Help: "Cross-instance event copies dropped due to a full relay queue.",
	})

	// Subscribers tracks currently connected supervisor sessions.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leavetrack_broadcast_subscribers",
		Help: "Currently subscribed supervisor sessions.",
	})
)
