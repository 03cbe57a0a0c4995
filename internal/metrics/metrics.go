// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentra_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zentra_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zentra_connections_active",
			Help: "Currently registered websocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zentra_connections_total",
			Help: "Total websocket connections registered",
		},
	)

	// Broadcast metrics
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zentra_messages_total",
			Help: "Total messages recorded and broadcast",
		},
	)

	DeliveriesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zentra_deliveries_failed_total",
			Help: "Fan-out deliveries that failed and pruned their connection",
		},
	)

	// Heartbeat metrics
	HeartbeatMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentra_heartbeat_misses_total",
			Help: "Heartbeat responses rejected, by close code",
		},
		[]string{"code"},
	)

	HeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zentra_heartbeat_evictions_total",
			Help: "Connections closed after two consecutive heartbeat misses",
		},
	)

	// Rate limit metrics
	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentra_rate_limit_denied_total",
			Help: "Requests denied by a cooldown limiter",
		},
		[]string{"limiter"},
	)
)
