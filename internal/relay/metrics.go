// Package relay implements Portal's untrusted pairing broker: it matches a
// Sender and Receiver by channel ID and, once paired, forwards opaque bytes
// between their sockets without ever observing plaintext.
package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal_relay"

// Metrics holds the relay's Prometheus instrumentation: connection churn,
// pairing outcomes, and forwarded byte volume.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	SessionsPaired     prometheus.Counter
	SessionsActive     prometheus.Gauge
	PendingPeers       prometheus.Gauge
	PairingTimeouts    prometheus.Counter
	DuplicateRejected  prometheus.Counter
	ProtocolErrors     prometheus.Counter
	BytesForwarded     prometheus.Counter
	PanicsRecovered    prometheus.Counter
}

// NewMetrics registers a Metrics instance against reg. A nil reg registers
// against prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections accepted by the relay",
		}),
		SessionsPaired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_paired_total",
			Help:      "Total Sender/Receiver pairs successfully matched",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently forwarding paired sessions",
		}),
		PendingPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_peers",
			Help:      "Number of endpoints parked waiting for a counter-party",
		}),
		PairingTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_timeouts_total",
			Help:      "Total pending peers evicted without finding a counter-party",
		}),
		DuplicateRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_rejected_total",
			Help:      "Total connections rejected for duplicating an already-pending role",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total connections rejected for a malformed or unexpected first record",
		}),
		BytesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total bytes copied between paired sockets in either direction",
		}),
		PanicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total panics recovered in a per-connection goroutine",
		}),
	}
}
