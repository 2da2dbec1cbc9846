// Package metrics wires optional Prometheus counters/gauges into a
// session: connection state, packets and bytes sent/received, reconnect
// attempts, and inflight occupancy.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge a session reports. The zero value is
// unusable; construct with New or NewUnregistered.
type Metrics struct {
	Connects          prometheus.Counter
	Disconnects       prometheus.Counter
	ActiveConnections prometheus.Gauge
	PacketsSent       prometheus.Counter
	PacketsReceived   prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	InflightSize      prometheus.Gauge
	ReconnectAttempts prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		Connects:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_connects_total", Help: "Total successful CONNACKs."}),
		Disconnects:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_disconnects_total", Help: "Total session closes, any reason."}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqttcore_active_connections", Help: "1 while the session is opened, else 0."}),
		PacketsSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_packets_sent_total", Help: "Total control packets sent."}),
		PacketsReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_packets_received_total", Help: "Total control packets received."}),
		BytesSent:         prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_bytes_sent_total", Help: "Total encoded bytes sent."}),
		BytesReceived:     prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_bytes_received_total", Help: "Total raw bytes received."}),
		InflightSize:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqttcore_inflight_size", Help: "Current inflight table occupancy."}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttcore_reconnect_attempts_total", Help: "Total reconnection attempts made by the retrier."}),
	}
}

// New constructs a Metrics and registers every collector against reg.
// Registration failures (e.g. a duplicate name on a shared registry) are
// returned rather than panicked, since a session is often one of several
// components sharing a process-wide registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics()
	for _, c := range []prometheus.Collector{
		m.Connects, m.Disconnects, m.ActiveConnections, m.PacketsSent,
		m.PacketsReceived, m.BytesSent, m.BytesReceived, m.InflightSize,
		m.ReconnectAttempts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewUnregistered returns a Metrics not registered against any registry,
// for sessions that only want the in-process counters (e.g. tests).
func NewUnregistered() *Metrics {
	return newMetrics()
}
