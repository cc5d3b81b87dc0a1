package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/state"
)

// Router resolves broadcast recipients.
type Router interface {
	Recipients(systemID string) []registry.Conn
	Connections() []registry.Conn
}

// Mirror receives every live snapshot for out-of-process consumers.
type Mirror interface {
	PublishSnapshot(systemID string, data []byte) error
}

// System is the aggregated state and ordering buffer of one system id.
// mu serializes every aggregator access; the buffer locks itself.
type System struct {
	mu        sync.Mutex
	id        string
	agg       *state.Aggregator
	buffer    *Buffer
	lastFresh time.Time
}

// ID returns the system identifier.
func (s *System) ID() string { return s.id }

// Hub drives the ordering buffers and distributes snapshots.
//
// LOCK ORDERING:
// 1. h.mu - protects the systems map
// 2. System.mu - protects one aggregator
// 3. Buffer.mu - protects one buffer
//
// Sends never happen with h.mu or System.mu held.
type Hub struct {
	mu      sync.RWMutex
	systems map[string]*System

	router  Router
	config  *config.Config
	metrics *metrics.Metrics
	mirror  Mirror
	logger  *slog.Logger
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithMirror publishes live snapshots to m.
func WithMirror(m Mirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock replaces the wall clock for the hub and every aggregator it creates.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub creates a hub. The timers do not run until Start.
func NewHub(cfg *config.Config, router Router, opts ...Option) *Hub {
	h := &Hub{
		systems: make(map[string]*System),
		router:  router,
		config:  cfg,
		logger:  slog.Default(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// System returns the system for id, creating it with default state on first use.
func (h *Hub) System(id string) *System {
	h.mu.RLock()
	sys, ok := h.systems[id]
	h.mu.RUnlock()
	if ok {
		return sys
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if sys, ok = h.systems[id]; ok {
		return sys
	}
	sys = &System{
		id: id,
		agg: state.NewAggregator(id,
			state.WithClock(h.now),
			state.WithTimeouts(h.config.NoDataTimeout, h.config.ChamberTimeout),
			state.WithDefaultSupplyVoltage(h.config.DefaultSupplyVoltage),
			state.WithWaveformCapacity(h.config.WaveformCapacity),
			state.WithLogger(h.logger),
		),
		buffer: NewBuffer(h.config.BufferCapacity, func(env *frame.Envelope) {
			h.metrics.BufferEvicted(id)
			h.logger.Debug("ordering buffer full, evicted oldest frame",
				"system_id", id,
				"message_type", env.MessageType)
		}),
		lastFresh: h.now(),
	}
	h.systems[id] = sys
	h.metrics.SetSystems(len(h.systems))
	return sys
}

func (h *Hub) lookup(id string) (*System, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sys, ok := h.systems[id]
	return sys, ok
}

func (h *Hub) snapshotSystems() []*System {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*System, 0, len(h.systems))
	for _, sys := range h.systems {
		out = append(out, sys)
	}
	return out
}

// Enqueue buffers env for systemID until the next drain.
func (h *Hub) Enqueue(systemID string, env *frame.Envelope) {
	h.System(systemID).buffer.Add(env)
}

// Remove discards the state and buffer of systemID.
func (h *Hub) Remove(systemID string) {
	h.mu.Lock()
	delete(h.systems, systemID)
	n := len(h.systems)
	h.mu.Unlock()
	h.metrics.SetSystems(n)
}

// SystemIDs returns the sorted identifiers that have state.
func (h *Hub) SystemIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.systems))
	for id := range h.systems {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the current state of systemID.
func (h *Hub) Snapshot(systemID string) (state.AggregatedState, bool) {
	sys, ok := h.lookup(systemID)
	if !ok {
		return state.AggregatedState{}, false
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	return sys.agg.GetState(), true
}

// Waveform returns the stream-pressure buffer of one sensor of systemID.
func (h *Hub) Waveform(systemID, sensor string) (state.Waveform, bool) {
	sys, ok := h.lookup(systemID)
	if !ok {
		return state.Waveform{}, false
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	return sys.agg.Waveform(sensor)
}

// WaveformSensors lists the sensors of systemID that have a waveform buffer.
func (h *Hub) WaveformSensors(systemID string) []string {
	sys, ok := h.lookup(systemID)
	if !ok {
		return nil
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	return sys.agg.WaveformSensors()
}

// Drain applies every buffered frame in timestamp order and broadcasts the
// resulting snapshot of each system that changed.
func (h *Hub) Drain() {
	start := time.Now()
	for _, sys := range h.snapshotSystems() {
		snap, changed := h.drainSystem(sys)
		if changed {
			h.broadcast(sys.id, snap, false)
		}
	}
	h.metrics.ObserveDrain(time.Since(start))
}

func (h *Hub) drainSystem(sys *System) (state.AggregatedState, bool) {
	envs := sys.buffer.Drain()
	if len(envs) == 0 {
		return state.AggregatedState{}, false
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	applied := 0
	for _, env := range envs {
		if sys.agg.UpdateState(env) {
			applied++
			h.metrics.FrameApplied(string(env.MessageType))
		}
	}
	if applied == 0 {
		return state.AggregatedState{}, false
	}
	sys.lastFresh = h.now()
	return sys.agg.GetState(), true
}

// RebroadcastStale re-sends the last known snapshot of every system that has
// not applied telemetry within the stale threshold.
func (h *Hub) RebroadcastStale() {
	now := h.now()
	for _, sys := range h.snapshotSystems() {
		sys.mu.Lock()
		quiet := now.Sub(sys.lastFresh) >= h.config.StaleThreshold
		var snap state.AggregatedState
		if quiet {
			snap = sys.agg.GetState()
		}
		sys.mu.Unlock()

		if quiet {
			h.broadcast(sys.id, snap, true)
		}
	}
}

func (h *Hub) broadcast(systemID string, snap state.AggregatedState, stale bool) {
	data, err := json.Marshal(StateMessage{
		Type:            TypeState,
		DeliveredAt:     h.now().UnixMilli(),
		Stale:           stale,
		AggregatedState: snap,
	})
	if err != nil {
		h.logger.Error("failed to encode snapshot", "system_id", systemID, "error", err)
		return
	}

	sent, dropped := h.deliver(h.router.Recipients(systemID), data)
	h.metrics.SnapshotsSent(stale, sent)
	if dropped > 0 {
		h.logger.Debug("snapshot dropped for slow viewers", "system_id", systemID, "dropped", dropped)
	}

	if !stale && h.mirror != nil {
		if err := h.mirror.PublishSnapshot(systemID, data); err != nil {
			h.logger.Warn("snapshot mirror publish failed", "system_id", systemID, "error", err)
		}
	}
}

func (h *Hub) deliver(conns []registry.Conn, data []byte) (sent, dropped int) {
	for _, c := range conns {
		if c.Send(data) {
			sent++
		} else {
			dropped++
		}
	}
	h.metrics.SendDropped(dropped)
	return sent, dropped
}

// PublishSystems sends the system list to every connection.
func (h *Hub) PublishSystems(systems []string) {
	if systems == nil {
		systems = []string{}
	}
	data, err := json.Marshal(SystemsMessage{Type: TypeSystems, Systems: systems})
	if err != nil {
		return
	}
	h.deliver(h.router.Connections(), data)
}

// Relay sends an operator message to every connection, or to the watchers
// of msg.SystemID when it is system-scoped. It returns the recipient count.
func (h *Hub) Relay(msg OperatorRelay) int {
	msg.Type = TypeOperatorMessage
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	var conns []registry.Conn
	if msg.Scope == frame.ScopeSystem {
		conns = h.router.Recipients(msg.SystemID)
	} else {
		conns = h.router.Connections()
	}
	sent, _ := h.deliver(conns, data)
	h.metrics.OperatorRelayed(msg.Scope)
	return sent
}

// SendJSON encodes v and queues it on one connection.
func (h *Hub) SendJSON(c registry.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return false
	}
	return c.Send(data)
}

// SendSnapshot queues the current state of systemID on one connection.
func (h *Hub) SendSnapshot(c registry.Conn, systemID string) bool {
	snap, ok := h.Snapshot(systemID)
	if !ok {
		return false
	}
	return h.SendJSON(c, StateMessage{
		Type:            TypeState,
		DeliveredAt:     h.now().UnixMilli(),
		AggregatedState: snap,
	})
}

// Start runs the drain and stale-rebroadcast timers until ctx is done or
// Stop is called.
func (h *Hub) Start(ctx context.Context) {
	drain := time.NewTicker(h.config.DrainInterval)
	stale := time.NewTicker(h.config.StaleInterval)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer drain.Stop()
		defer stale.Stop()

		for {
			select {
			case <-drain.C:
				h.Drain()
			case <-stale.C:
				h.RebroadcastStale()
			case <-ctx.Done():
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop halts the timers and waits for them to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.logger.Warn("telemetry hub timers did not stop in time")
	}
}
