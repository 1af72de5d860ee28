package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts notifications persisted by channel and priority.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"channel", "priority"},
	)

	// ValidationRejections counts create requests rejected before persistence.
	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_validation_rejections_total",
			Help: "Total number of notification requests rejected at create time",
		},
		[]string{"reason"},
	)

	// SendAttempts counts delivery attempts by channel and outcome (sent|delivered|failed|circuit_open).
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_send_attempts_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	// SendLatency measures the duration of channel sends.
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_send_latency_seconds",
			Help:    "Channel send latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// BreakerState reports 0 closed, 1 half-open, 2 open per breaker.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_circuit_breaker_state",
			Help: "Circuit breaker state per channel (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// TaskRetries counts retries scheduled by the task layer.
	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_task_retries_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"channel"},
	)

	// SweepItems counts records acted on by each periodic sweep.
	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_sweep_items_total",
			Help: "Records processed by periodic sweeps",
		},
		[]string{"sweep"},
	)

	// APILatency measures HTTP handler latency by method, route and status.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
