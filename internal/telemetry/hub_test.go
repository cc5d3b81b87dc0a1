package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
)

// recordingConn captures every queued message.
type recordingConn struct {
	id   string
	full bool

	mu   sync.Mutex
	msgs [][]byte
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(msg []byte) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return true
}

// states decodes the queued state messages.
func (c *recordingConn) states(t *testing.T) []StateMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []StateMessage
	for _, raw := range c.msgs {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			t.Fatalf("invalid JSON queued: %v", err)
		}
		if head.Type != TypeState {
			continue
		}
		var m StateMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid state message: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (c *recordingConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, raw := range c.msgs {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid JSON queued: %v", err)
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *registry.Registry, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	reg := registry.New(nil)
	cfg := config.LoadBaseline()
	hub := NewHub(cfg, reg, append([]Option{WithClock(clock.Now)}, opts...)...)
	return hub, reg, clock
}

func cpuLoad(ts int64, load float64) *frame.Envelope {
	return &frame.Envelope{
		MessageType:  frame.CpuLoad,
		TimestampUTC: ts,
		Source:       frame.SourceCAN,
		Data:         map[string]any{"load": load},
	}
}

func TestDrainAppliesFramesInTimestampOrder(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	viewer := &recordingConn{id: "v"}
	reg.AddDevice(&recordingConn{id: "d"}, "", "A")
	reg.AddViewer(viewer, "", "A")

	hub.Enqueue("A", cpuLoad(1500, 15))
	hub.Enqueue("A", cpuLoad(500, 5))
	hub.Enqueue("A", cpuLoad(1000, 10))
	hub.Drain()

	snap, ok := hub.Snapshot("A")
	if !ok {
		t.Fatal("Snapshot(A) not found")
	}
	if snap.Timestamp != 1500 {
		t.Errorf("Timestamp = %d, want 1500", snap.Timestamp)
	}
	if got := snap.SystemStatus.CpuLoad.DisplayText; got != "15 %" {
		t.Errorf("CpuLoad = %q, want the ts 1500 reading", got)
	}

	states := viewer.states(t)
	if len(states) != 1 {
		t.Fatalf("viewer received %d state messages, want 1 per drain", len(states))
	}
	if states[0].Stale {
		t.Error("live snapshot flagged stale")
	}
	if states[0].SystemId != "A" || states[0].Timestamp != 1500 {
		t.Errorf("state message = %+v", states[0])
	}
}

func TestDrainWithoutFramesSendsNothing(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	viewer := &recordingConn{id: "v"}
	reg.AddViewer(viewer, "", "")
	hub.System("A")

	hub.Drain()
	hub.Enqueue("A", &frame.Envelope{MessageType: frame.MessageType("Unknown"), Data: map[string]any{}})
	hub.Drain()

	if n := len(viewer.states(t)); n != 0 {
		t.Errorf("viewer received %d snapshots without applied telemetry", n)
	}
}

func TestBroadcastFiltering(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	reg.AddDevice(&recordingConn{id: "dA"}, "", "A")
	reg.AddDevice(&recordingConn{id: "dB"}, "", "B")

	pinnedA := &recordingConn{id: "pinnedA"}
	free := &recordingConn{id: "free"}
	reg.AddViewer(pinnedA, "", "A")
	reg.AddViewer(free, "", "")

	hub.Enqueue("A", cpuLoad(1, 10))
	hub.Enqueue("B", cpuLoad(1, 20))
	hub.Drain()

	seen := func(c *recordingConn) map[string]int {
		out := map[string]int{}
		for _, s := range c.states(t) {
			out[s.SystemId]++
		}
		return out
	}

	if got := seen(pinnedA); got["A"] != 1 || got["B"] != 0 {
		t.Errorf("pinned viewer saw %v, want only A", got)
	}
	if got := seen(free); got["A"] != 1 || got["B"] != 1 {
		t.Errorf("unpinned viewer saw %v, want A and B", got)
	}
}

func TestRebroadcastStale(t *testing.T) {
	hub, reg, clock := newTestHub(t)
	viewer := &recordingConn{id: "v"}
	reg.AddViewer(viewer, "", "A")

	hub.Enqueue("A", cpuLoad(4242, 10))
	hub.Drain()

	clock.Advance(time.Second)
	hub.RebroadcastStale()
	if n := len(viewer.states(t)); n != 1 {
		t.Fatalf("got %d messages before the quiet threshold, want 1", n)
	}

	clock.Advance(time.Second)
	hub.RebroadcastStale()
	states := viewer.states(t)
	if len(states) != 2 {
		t.Fatalf("got %d messages, want a stale rebroadcast", len(states))
	}
	stale := states[1]
	if !stale.Stale {
		t.Error("rebroadcast not flagged stale")
	}
	if stale.Timestamp != 4242 {
		t.Errorf("stale Timestamp = %d, want last applied 4242", stale.Timestamp)
	}
	if stale.DeliveredAt != clock.Now().UnixMilli() {
		t.Errorf("DeliveredAt = %d, want refreshed %d", stale.DeliveredAt, clock.Now().UnixMilli())
	}
	if stale.DeliveredAt <= states[0].DeliveredAt {
		t.Error("DeliveredAt not refreshed")
	}

	// Fresh telemetry resets the quiet window.
	hub.Enqueue("A", cpuLoad(5000, 11))
	hub.Drain()
	hub.RebroadcastStale()
	if n := len(viewer.states(t)); n != 3 {
		t.Errorf("got %d messages, want no stale resend right after fresh data", n)
	}
}

func TestRelayScopes(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	device := &recordingConn{id: "d"}
	watcherA := &recordingConn{id: "wa"}
	watcherB := &recordingConn{id: "wb"}
	reg.AddDevice(device, "", "A")
	reg.AddViewer(watcherA, "", "A")
	reg.AddViewer(watcherB, "", "B")

	n := hub.Relay(OperatorRelay{ID: "1", Text: "check line", From: "nurse", Scope: frame.ScopeSystem, SystemID: "A"})
	if n != 1 {
		t.Errorf("system-scoped relay reached %d, want 1", n)
	}
	if len(watcherA.ofType(t, TypeOperatorMessage)) != 1 || len(watcherB.ofType(t, TypeOperatorMessage)) != 0 {
		t.Error("system-scoped relay leaked outside the watch set")
	}

	n = hub.Relay(OperatorRelay{ID: "2", Text: "shift change", From: "lead", Scope: frame.ScopeAll})
	if n != 3 {
		t.Errorf("broadcast relay reached %d, want 3", n)
	}
	msgs := device.ofType(t, TypeOperatorMessage)
	if len(msgs) != 1 || msgs[0]["text"] != "shift change" || msgs[0]["from"] != "lead" {
		t.Errorf("device got %v", msgs)
	}
}

func TestPublishSystems(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	a := &recordingConn{id: "a"}
	b := &recordingConn{id: "b"}
	reg.AddViewer(a, "", "")
	reg.AddDevice(b, "", "")

	hub.PublishSystems(nil)
	hub.PublishSystems([]string{"A", "B"})

	for _, c := range []*recordingConn{a, b} {
		msgs := c.ofType(t, TypeSystems)
		if len(msgs) != 2 {
			t.Fatalf("%s got %d systems messages", c.id, len(msgs))
		}
		if list, ok := msgs[0]["systems"].([]any); !ok || len(list) != 0 {
			t.Errorf("empty list encoded as %v", msgs[0]["systems"])
		}
		if list := msgs[1]["systems"].([]any); len(list) != 2 || list[0] != "A" {
			t.Errorf("systems = %v", list)
		}
	}
}

type fakeMirror struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (m *fakeMirror) PublishSnapshot(systemID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, systemID)
	return m.err
}

func TestMirrorReceivesLiveSnapshotsOnly(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("nats down")}
	hub, _, clock := newTestHub(t, WithMirror(mirror))

	hub.Enqueue("A", cpuLoad(1, 1))
	hub.Drain()
	clock.Advance(5 * time.Second)
	hub.RebroadcastStale()

	if len(mirror.subjects) != 1 || mirror.subjects[0] != "A" {
		t.Errorf("mirror got %v, want one live snapshot for A", mirror.subjects)
	}
}

func TestFullQueueDropsOnlyThatRecipient(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	slow := &recordingConn{id: "slow", full: true}
	ok := &recordingConn{id: "ok"}
	reg.AddViewer(slow, "", "A")
	reg.AddViewer(ok, "", "A")

	hub.Enqueue("A", cpuLoad(1, 1))
	hub.Drain()

	if len(ok.states(t)) != 1 {
		t.Error("healthy viewer missed the snapshot")
	}
}

func TestRemoveDiscardsState(t *testing.T) {
	hub, _, _ := newTestHub(t)
	hub.Enqueue("A", cpuLoad(1, 1))
	hub.Enqueue("B", cpuLoad(1, 1))
	hub.Drain()

	if got := hub.SystemIDs(); len(got) != 2 || got[0] != "A" {
		t.Fatalf("SystemIDs() = %v", got)
	}
	hub.Remove("A")
	if _, ok := hub.Snapshot("A"); ok {
		t.Error("Snapshot(A) still present after Remove")
	}
	if _, ok := hub.Waveform("A", "AoP"); ok {
		t.Error("Waveform(A) still present after Remove")
	}
}

func TestSendSnapshot(t *testing.T) {
	hub, _, _ := newTestHub(t)
	c := &recordingConn{id: "c"}
	if hub.SendSnapshot(c, "missing") {
		t.Error("SendSnapshot succeeded for unknown system")
	}
	hub.System("A")
	if !hub.SendSnapshot(c, "A") {
		t.Fatal("SendSnapshot failed")
	}
	states := c.states(t)
	if len(states) != 1 || states[0].SystemId != "A" || states[0].OperationState != "-" {
		t.Errorf("snapshot = %+v", states)
	}
}

func TestStartRunsTimersUntilStop(t *testing.T) {
	reg := registry.New(nil)
	cfg := config.LoadBaseline()
	cfg.DrainInterval = 5 * time.Millisecond
	hub := NewHub(cfg, reg)

	viewer := &recordingConn{id: "v"}
	reg.AddViewer(viewer, "", "A")

	ctx := t.Context()
	hub.Start(ctx)
	defer hub.Stop()

	hub.Enqueue("A", cpuLoad(1, 1))

	deadline := time.Now().Add(2 * time.Second)
	for len(viewer.states(t)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drain timer never delivered a snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Stop()
	hub.Stop()
}
