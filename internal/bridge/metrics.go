package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	messages      *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	dropped       prometheus.Counter
	broadcasts    *prometheus.CounterVec
	commands      prometheus.Counter
	rejected      prometheus.Counter
	publishErrors prometheus.Counter
	busConnected  prometheus.Gauge
	state         prometheus.Gauge
	stateChanges  *prometheus.CounterVec
}

// NewMetrics registers the bridge collectors on reg.
// A nil reg creates collectors that are not registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_bridge_messages_total",
			Help: "Bus messages received, by category",
		}, []string{"category"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_bridge_decode_errors_total",
			Help: "Bus messages dropped because the payload was not a JSON object",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_bridge_messages_dropped_total",
			Help: "Bus messages dropped because the bridge was not running",
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_bridge_broadcasts_total",
			Help: "Messages broadcast to live-view sessions, by event name",
		}, []string{"event"}),
		commands: f.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_bridge_commands_total",
			Help: "Simulation commands published",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_bridge_commands_rejected_total",
			Help: "Simulation commands rejected before publishing",
		}),
		publishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "greenhouse_bridge_publish_errors_total",
			Help: "Command publishes that failed",
		}),
		busConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_bridge_bus_connected",
			Help: "1 when the bus connection is up",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_bridge_state",
			Help: "Current bridge state (0 starting, 1 bus_connecting, 2 running, 3 bus_reconnecting)",
		}),
		stateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_bridge_state_transitions_total",
			Help: "Bridge state transitions, by target state",
		}, []string{"to"}),
	}
}

// RecordMessage counts a received message of category c.
func (m *Metrics) RecordMessage(c Category) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(c.String()).Inc()
}

// RecordDecodeError counts an undecodable payload.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) recordBroadcast(event string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Inc()
}

func (m *Metrics) recordCommand() {
	if m == nil {
		return
	}
	m.commands.Inc()
}

func (m *Metrics) recordRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) recordPublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

func (m *Metrics) setBusConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.busConnected.Set(1)
	} else {
		m.busConnected.Set(0)
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
	m.stateChanges.WithLabelValues(s.String()).Inc()
}
