package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SourcePush = "push"
	SourcePoll = "poll"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_received_total",
			Help: "Total number of telemetry events handed to the ingestion pipeline",
		},
		[]string{"source"},
	)

	EventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_stored_total",
			Help: "Total number of telemetry records written",
		},
		[]string{"source"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_failed_total",
			Help: "Total number of telemetry events that could not be stored",
		},
		[]string{"source", "reason"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_anomalies_detected_total",
			Help: "Total number of readings classified as anomalies",
		},
		[]string{"metric_type"},
	)

	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_poll_ticks_total",
			Help: "Polling attempts against the telemetry source by outcome",
		},
		[]string{"outcome"},
	)

	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_ingest_latency_seconds",
			Help:    "Time spent storing a single telemetry event",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)
