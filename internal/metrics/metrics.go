// Package metrics provides Prometheus metrics for the studio service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts total runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "runs_total",
			Help:      "Total number of workflow runs by final status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	// RunsActive tracks currently active runs.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "runs_active",
			Help:      "Number of currently running workflow executions",
		},
	)

	// RunDuration tracks run execution duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// StepsTotal counts steps executed by status.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "steps_total",
			Help:      "Total number of workflow steps executed by status",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	// EventsTotal counts events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "events_total",
			Help:      "Total number of execution events emitted",
		},
		[]string{"type"},
	)

	// ValidationIssuesTotal counts validation findings by code.
	ValidationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "validation_issues_total",
			Help:      "Total number of graph validation issues by code",
		},
		[]string{"code"},
	)

	// AutosavesTotal counts autosave attempts by outcome.
	AutosavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "autosaves_total",
			Help:      "Total number of autosave attempts by outcome",
		},
		[]string{"outcome"}, // "saved", "skipped", "failed"
	)

	// SchedulesActive tracks registered schedules.
	SchedulesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "schedules_active",
			Help:      "Number of active workflow schedules",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEClientsActive tracks connected event stream clients.
	SSEClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "sse_clients_active",
			Help:      "Number of connected SSE event stream clients",
		},
	)

	// WSClientsActive tracks connected websocket clients.
	WSClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helixsec",
			Subsystem: "studio",
			Name:      "ws_clients_active",
			Help:      "Number of connected websocket event feed clients",
		},
	)
)
