package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/audit"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/telemetry"
)

// ErrEmptyText is returned for an operator message with no text.
var ErrEmptyText = errors.New("operator message text is empty")

// reasonReplaced labels frames dropped because their device lost its system id.
const reasonReplaced = "replaced_device"

// Hub is the part of the broadcast engine the dispatcher drives.
type Hub interface {
	Enqueue(systemID string, env *frame.Envelope)
	Remove(systemID string)
	Relay(msg telemetry.OperatorRelay) int
	SendJSON(c registry.Conn, v any) bool
	SendSnapshot(c registry.Conn, systemID string) bool
	PublishSystems(systems []string)
}

// AuditLogger writes the operator and device trail.
type AuditLogger interface {
	OperatorMessage(from, id, scope, systemID, text string, recipients int)
	Device(action, label, systemID, previous string)
}

// Compile-time assertions
var (
	_ Hub         = (*telemetry.Hub)(nil)
	_ AuditLogger = (*audit.Logger)(nil)
)

// Dispatcher routes inbound frames between the registry and the hub.
type Dispatcher struct {
	config   *config.Config
	registry *registry.Registry
	hub      Hub
	audit    AuditLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAudit records operator and device events to a.
func WithAudit(a AuditLogger) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// WithMetrics records frame and connection metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces the wall clock used to stamp arrivals and operator messages.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a dispatcher and subscribes the hub to registry changes.
func New(cfg *config.Config, reg *registry.Registry, hub Hub, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		config:   cfg,
		registry: reg,
		hub:      hub,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}

	reg.OnChange(hub.PublishSystems)
	return d
}

// OnConnect registers a new connection. For devices a non-empty systemID
// declares the identity up front; for viewers it pins the viewer.
func (d *Dispatcher) OnConnect(conn registry.Conn, role registry.Role, label, systemID string) {
	d.metrics.ConnectionOpened(string(role))

	switch role {
	case registry.RoleDevice:
		reg := d.registry.AddDevice(conn, label, systemID)
		d.logger.Info("device connected", "conn", conn.ID(), "label", label, "system_id", systemID)
		if reg.SystemID != "" {
			d.registered(conn, label, reg)
		}
	default:
		a := d.registry.AddViewer(conn, label, systemID)
		d.logger.Info("viewer connected", "conn", conn.ID(), "label", label, "system_id", a.SystemID, "pinned", a.Pinned)
		d.assign(a)
	}
}

// OnDisconnect removes a connection and parks the viewers of a departing device.
func (d *Dispatcher) OnDisconnect(conn registry.Conn) {
	dep, ok := d.registry.Remove(conn.ID())
	if !ok {
		return
	}
	d.metrics.ConnectionClosed(string(dep.Role))
	d.logger.Info("connection closed", "conn", conn.ID(), "role", dep.Role, "system_id", dep.SystemID)

	// A device replaced by a newer connection no longer holds an id.
	if dep.Role != registry.RoleDevice || dep.SystemID == "" {
		return
	}
	d.hub.Remove(dep.SystemID)
	d.auditDevice(audit.ActionDeviceDisconnected, dep.Label, dep.SystemID, "")
	for _, a := range dep.Moved {
		d.assign(a)
	}
}

// HandleFrame processes one inbound text frame from conn. Returned errors
// are informational; the connection stays open.
func (d *Dispatcher) HandleFrame(conn registry.Conn, raw []byte) error {
	switch frame.Classify(raw) {
	case frame.KindTelemetry:
		return d.handleTelemetry(conn, raw)
	case frame.KindIdentification:
		return d.handleIdentification(conn, raw)
	case frame.KindOperator:
		return d.handleOperator(conn, raw)
	case frame.KindSelect:
		return d.handleSelect(conn, raw)
	default:
		d.logger.Debug("ignoring control frame", "conn", conn.ID())
		return nil
	}
}

func (d *Dispatcher) handleTelemetry(conn registry.Conn, raw []byte) error {
	env, err := frame.ParseAt(raw, d.now())
	if err != nil {
		d.metrics.FrameRejected(string(frame.RejectionReason(err)))
		d.logger.Warn("frame rejected", "conn", conn.ID(), "error", err)
		return err
	}
	d.metrics.FrameReceived(string(env.Source))

	if role, ok := d.registry.RoleOf(conn.ID()); !ok {
		return registry.ErrUnknownConn
	} else if role != registry.RoleDevice {
		d.logger.Debug("telemetry from viewer dropped", "conn", conn.ID())
		return registry.ErrWrongRole
	}

	systemID, _ := d.registry.SystemOf(conn.ID())
	if systemID == "" && d.registry.Replaced(conn.ID()) {
		d.metrics.FrameRejected(reasonReplaced)
		d.logger.Debug("telemetry from replaced device dropped", "conn", conn.ID())
		return registry.ErrReplaced
	}
	if systemID == "" {
		// Single-device deployments never identify.
		reg, err := d.registry.Identify(conn.ID(), d.config.DefaultSystemID)
		if err != nil {
			return err
		}
		d.registered(conn, d.registry.Label(conn.ID()), reg)
		systemID = reg.SystemID
	}

	d.hub.Enqueue(systemID, env)
	return nil
}

func (d *Dispatcher) handleIdentification(conn registry.Conn, raw []byte) error {
	id, err := decode[frame.Identification](raw)
	if err != nil {
		return err
	}
	systemID := strings.TrimSpace(id.SystemID)

	// Devices repeat their status object; only a change of id matters.
	if current, _ := d.registry.SystemOf(conn.ID()); current == systemID {
		return nil
	}
	reg, err := d.registry.Identify(conn.ID(), systemID)
	if err != nil {
		d.logger.Debug("identification ignored", "conn", conn.ID(), "system_id", systemID, "error", err)
		return err
	}
	d.registered(conn, d.registry.Label(conn.ID()), reg)
	return nil
}

// registered finishes a device registration: the previous identity's state
// is discarded, the trail is written and moved viewers are told.
func (d *Dispatcher) registered(conn registry.Conn, label string, reg registry.Registration) {
	switch {
	case reg.Previous != "":
		d.hub.Remove(reg.Previous)
		d.auditDevice(audit.ActionDeviceRekeyed, label, reg.SystemID, reg.Previous)
		d.logger.Info("device re-keyed", "conn", conn.ID(), "from", reg.Previous, "to", reg.SystemID)
	default:
		d.auditDevice(audit.ActionDeviceRegistered, label, reg.SystemID, "")
		d.logger.Info("device registered", "conn", conn.ID(), "system_id", reg.SystemID)
	}
	if reg.Replaced != nil {
		d.auditDevice(audit.ActionDeviceReplaced, d.registry.Label(reg.Replaced.ID()), reg.SystemID, "")
	}
	for _, a := range reg.Moved {
		d.assign(a)
	}
}

func (d *Dispatcher) handleOperator(conn registry.Conn, raw []byte) error {
	msg, err := decode[frame.OperatorMessage](raw)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ErrEmptyText
	}

	relay := telemetry.OperatorRelay{
		ID:        d.newID(),
		Text:      text,
		From:      d.registry.Label(conn.ID()),
		Scope:     frame.NormalizeScope(msg.Scope),
		Timestamp: d.now().UnixMilli(),
	}
	if relay.From == "" {
		relay.From = "unknown"
	}
	if relay.Scope == frame.ScopeSystem {
		relay.SystemID = strings.TrimSpace(msg.SystemID)
		if relay.SystemID == "" {
			relay.SystemID, _ = d.registry.SystemOf(conn.ID())
		}
		if relay.SystemID == "" {
			relay.Scope = frame.ScopeAll
		}
	}

	n := d.hub.Relay(relay)
	d.logger.Info("operator message relayed", "id", relay.ID, "from", relay.From, "scope", relay.Scope, "system_id", relay.SystemID, "recipients", n)
	if d.audit != nil {
		d.audit.OperatorMessage(relay.From, relay.ID, relay.Scope, relay.SystemID, relay.Text, n)
	}
	return nil
}

func (d *Dispatcher) handleSelect(conn registry.Conn, raw []byte) error {
	sel, err := decode[frame.SelectSystem](raw)
	if err != nil {
		return err
	}
	a, err := d.registry.Select(conn.ID(), strings.TrimSpace(sel.SystemID))
	if err != nil {
		d.logger.Debug("select ignored", "conn", conn.ID(), "error", err)
		return err
	}
	d.assign(a)
	return nil
}

// assign tells a viewer where it now is and primes it with the current snapshot.
func (d *Dispatcher) assign(a registry.Assignment) {
	d.hub.SendJSON(a.Conn, telemetry.AssignedMessage{
		Type:     telemetry.TypeAssigned,
		SystemID: a.SystemID,
		Pinned:   a.Pinned,
	})
	if a.SystemID != "" {
		d.hub.SendSnapshot(a.Conn, a.SystemID)
	}
}

func (d *Dispatcher) auditDevice(action, label, systemID, previous string) {
	if d.audit != nil {
		d.audit.Device(action, label, systemID, previous)
	}
}

func decode[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode frame: %w", err)
	}
	return v, nil
}
