package api

import (
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/dispatch"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/fault"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/state"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/telemetry"
)

// StatePort is the read side of the broadcast engine.
type StatePort interface {
	SystemIDs() []string
	Snapshot(systemID string) (state.AggregatedState, bool)
	Waveform(systemID, sensor string) (state.Waveform, bool)
	WaveformSensors(systemID string) []string
}

// RoutingPort is the read side of the connection registry.
type RoutingPort interface {
	Devices() []registry.DeviceInfo
	Count() int
	CountByRole(role registry.Role) int
	Waiting() int
}

// ConnectionHandler receives every WebSocket lifecycle event and frame.
type ConnectionHandler interface {
	OnConnect(conn registry.Conn, role registry.Role, label, systemID string)
	OnDisconnect(conn registry.Conn)
	HandleFrame(conn registry.Conn, raw []byte) error
}

// ErrorReporter decides whether a connection I/O error is fatal.
type ErrorReporter interface {
	Report(op string, err error) bool
}

// Compile-time assertions for port conformance
var (
	_ StatePort         = (*telemetry.Hub)(nil)
	_ RoutingPort       = (*registry.Registry)(nil)
	_ ConnectionHandler = (*dispatch.Dispatcher)(nil)
	_ ErrorReporter     = (*fault.Supervisor)(nil)
)
