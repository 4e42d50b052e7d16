package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"transport"}, // "http" or "ws"
	)

	HistoryFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_history_fetches_total",
			Help: "Total history page fetches",
		},
	)

	UnreadReturned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_unread_messages_returned_total",
			Help: "Unread messages handed out and retired from unread sets",
		},
	)

	// Realtime metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Currently registered WebSocket connections",
		},
	)

	RoomEventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_room_events_delivered_total",
			Help: "Room events written to connection send queues",
		},
		[]string{"type"},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_slow_consumers_dropped_total",
			Help: "Connections dropped because their send queue was full",
		},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_errors_total",
			Help: "Failures publishing room events to peer nodes",
		},
	)
)
