// Package metrics exposes signaling counters to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons.
const (
	DropUnknownTarget = "unknown_target"
	DropNotJoined     = "not_joined"
	DropIllegalState  = "illegal_state"
	DropBackpressure  = "backpressure"
	DropInvalid       = "invalid"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Memberships prometheus.Gauge
	Messages    *prometheus.CounterVec
	Relayed     *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	UserLeft    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Name: "connections",
			Help: "Registered signaling connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		Memberships: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Name: "memberships",
			Help: "Joined participants across all rooms.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "messages_total",
			Help: "Inbound signaling messages by type.",
		}, []string{"type"}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "relayed_total",
			Help: "Relayed offer/answer/candidate messages by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "dropped_total",
			Help: "Messages dropped by the router by reason.",
		}, []string{"reason"}),
		UserLeft: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "user_left_total",
			Help: "Membership removals by cause.",
		}, []string{"cause"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Rooms, m.Memberships, m.Messages, m.Relayed, m.Dropped, m.UserLeft)
	}
	return m
}

func (m *Metrics) Message(typ string) {
	if m != nil {
		m.Messages.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Relay(typ string) {
	if m != nil {
		m.Relayed.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Left(cause string) {
	if m != nil {
		m.UserLeft.WithLabelValues(cause).Inc()
	}
}

// Observe records the current registry and table sizes.
func (m *Metrics) Observe(connections, rooms, memberships int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(connections))
	m.Rooms.Set(float64(rooms))
	m.Memberships.Set(float64(memberships))
}
