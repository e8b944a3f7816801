package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Sweep metrics
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sweeps_total",
			Help: "Total sweeps by result",
		},
		[]string{"result"}, // "ok" or "error"
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminders_sweep_duration_seconds",
			Help:    "Time spent in the select/retire/reschedule statements of a sweep",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_dispatches_total",
			Help: "Total notification dispatches by result",
		},
		[]string{"result"},
	)

	MessagesRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_messages_retired_total",
			Help: "Total event/task messages deleted by sweeps",
		},
	)

	MessagesRescheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_messages_rescheduled_total",
			Help: "Total todo messages rescheduled by sweeps",
		},
	)

	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_messages_created_total",
			Help: "Total messages created through the API",
		},
		[]string{"type"},
	)
)
