// Package metrics holds the Prometheus collectors for the scan service.
//
// Scan metrics:
//   - scans_created_total: accepted submissions (counter), labels: media_type
//   - scans_completed_total: terminal scans (counter), labels: status, verdict
//   - scan_duration_seconds: pipeline wall time (histogram), labels: media_type
//   - scan_frames_analyzed_total: scored frames (counter)
//   - scan_queue_depth: scans waiting for a worker (gauge)
//   - scans_in_flight: scans being processed by this process (gauge)
//
// Classifier metrics:
//   - classifier_requests_total: adapter calls (counter), labels: result
//   - classifier_request_duration_seconds: adapter latency (histogram)
//   - circuit_breaker_state: 0=closed, 1=open, 2=half-open (gauge), labels: name
//
// Outbox metrics:
//   - outbox_events_published_total / outbox_events_failed_total (counters)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_created_total",
			Help: "Total number of accepted scan submissions",
		},
		[]string{"media_type"},
	)

	ScansCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_completed_total",
			Help: "Total number of scans that reached a terminal state",
		},
		[]string{"status", "verdict"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Wall time of the analysis pipeline per scan",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"media_type"},
	)

	FramesAnalyzed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_frames_analyzed_total",
			Help: "Total number of frames scored",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_queue_depth",
			Help: "Number of scans waiting for a worker",
		},
	)

	ScansInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scans_in_flight",
			Help: "Number of scans currently being processed",
		},
	)

	ClassifierRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_requests_total",
			Help: "Total number of classifier adapter calls",
		},
		[]string{"result"},
	)

	ClassifierDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_request_duration_seconds",
			Help:    "Latency of classifier adapter calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events relayed to Kafka",
		},
	)

	OutboxFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Total number of outbox events that failed to publish",
		},
	)
)
