// Package metrics holds the process-wide Prometheus instruments. They are
// registered on the default registry and exposed by the daemon's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connects counts successful WebSocket handshakes.
	Connects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qchat_connects_total",
		Help: "Successful WebSocket connections to the messaging server.",
	})

	// ReconnectsScheduled counts backoff reconnect attempts scheduled after
	// an unexpected close.
	ReconnectsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qchat_reconnects_scheduled_total",
		Help: "Reconnect attempts scheduled by the backoff policy.",
	})

	// SendsDropped counts outbound payloads dropped because the connection
	// was down (no queuing, at-most-once delivery).
	SendsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qchat_sends_dropped_total",
		Help: "Outbound frames dropped while disconnected.",
	})

	// FramesReceived counts dispatched inbound frames by protocol kind.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qchat_frames_received_total",
		Help: "Inbound frames dispatched, by protocol kind.",
	}, []string{"kind"})

	// FramesDropped counts inbound frames discarded before dispatch
	// (malformed, unknown kind, or benign server noise).
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qchat_frames_dropped_total",
		Help: "Inbound frames dropped before dispatch.",
	})
)
