// Package metrics holds the Prometheus collectors of the telemetry pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pumpmon"

// Metrics groups every collector exported by the service.
type Metrics struct {
	framesReceived  *prometheus.CounterVec // by source
	framesRejected  *prometheus.CounterVec // by reason
	framesApplied   *prometheus.CounterVec // by message_type
	bufferEvictions *prometheus.CounterVec // by system_id
	snapshotsSent   *prometheus.CounterVec // by kind (live/stale)
	droppedSends    prometheus.Counter
	operatorRelayed *prometheus.CounterVec // by scope
	connections     *prometheus.GaugeVec   // by role
	systems         prometheus.Gauge
	drainDuration   prometheus.Histogram
	fatalErrors     *prometheus.CounterVec // by cause
}

// New creates the collectors and registers them with reg. A nil registerer
// disables metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Telemetry frames received from devices",
		}, []string{"source"}),

		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "rejected_total",
			Help:      "Frames dropped by the validator",
		}, []string{"reason"}),

		framesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "applied_total",
			Help:      "Frames applied to aggregated state",
		}, []string{"message_type"}),

		bufferEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "evictions_total",
			Help:      "Frames evicted from a full ordering buffer",
		}, []string{"system_id"}),

		snapshotsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "snapshots_total",
			Help:      "State snapshots delivered to viewer queues",
		}, []string{"kind"}),

		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Outbound messages dropped because a connection queue was full",
		}),

		operatorRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operator",
			Name:      "messages_total",
			Help:      "Operator messages relayed",
		}, []string{"scope"}),

		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open connections",
		}, []string{"role"}),

		systems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "systems",
			Help:      "Systems with aggregated state",
		}),

		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "drain_duration_seconds",
			Help:      "Time spent draining all ordering buffers in one tick",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		fatalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Errors classified as fatal to the process",
		}, []string{"cause"}),
	}

	for _, c := range []prometheus.Collector{
		m.framesReceived, m.framesRejected, m.framesApplied, m.bufferEvictions,
		m.snapshotsSent, m.droppedSends, m.operatorRelayed, m.connections,
		m.systems, m.drainDuration, m.fatalErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// FrameReceived counts a raw telemetry frame.
func (m *Metrics) FrameReceived(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.framesReceived.WithLabelValues(source).Inc()
}

// FrameRejected counts a validator rejection.
func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

// FrameApplied counts a frame applied by an interpreter.
func (m *Metrics) FrameApplied(messageType string) {
	if m == nil {
		return
	}
	m.framesApplied.WithLabelValues(messageType).Inc()
}

// BufferEvicted counts an ordering buffer eviction.
func (m *Metrics) BufferEvicted(systemID string) {
	if m == nil {
		return
	}
	m.bufferEvictions.WithLabelValues(systemID).Inc()
}

// SnapshotsSent counts n snapshot deliveries.
func (m *Metrics) SnapshotsSent(stale bool, n int) {
	if m == nil || n == 0 {
		return
	}
	kind := "live"
	if stale {
		kind = "stale"
	}
	m.snapshotsSent.WithLabelValues(kind).Add(float64(n))
}

// SendDropped counts outbound messages lost to full queues.
func (m *Metrics) SendDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.droppedSends.Add(float64(n))
}

// OperatorRelayed counts a relayed operator message.
func (m *Metrics) OperatorRelayed(scope string) {
	if m == nil {
		return
	}
	m.operatorRelayed.WithLabelValues(scope).Inc()
}

// ConnectionOpened increments the open connection gauge for role.
func (m *Metrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

// ConnectionClosed decrements the open connection gauge for role.
func (m *Metrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

// SetSystems records the number of systems with state.
func (m *Metrics) SetSystems(n int) {
	if m == nil {
		return
	}
	m.systems.Set(float64(n))
}

// ObserveDrain records one drain tick.
func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(d.Seconds())
}

// FatalError counts an error that stops the process.
func (m *Metrics) FatalError(cause string) {
	if m == nil {
		return
	}
	m.fatalErrors.WithLabelValues(cause).Inc()
}
