package registry

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string           { return c.id }
func (c *fakeConn) Send(msg []byte) bool { return true }

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleViewer, false},
		{"viewer", RoleViewer, false},
		{"DEVICE", RoleDevice, false},
		{" device ", RoleDevice, false},
		{"admin", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownRole, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestViewerWaitsUntilDeviceRegisters(t *testing.T) {
	r := New(nil)
	v := &fakeConn{id: "v1"}

	a := r.AddViewer(v, "nurse", "")
	assert.Empty(t, a.SystemID)
	assert.False(t, a.Pinned)
	assert.Equal(t, 1, r.Waiting())

	reg := r.AddDevice(&fakeConn{id: "d1"}, "pump", "A")
	assert.Equal(t, "A", reg.SystemID)
	require.Len(t, reg.Moved, 1)
	assert.Equal(t, "v1", reg.Moved[0].Conn.ID())
	assert.Equal(t, "A", reg.Moved[0].SystemID)
	assert.Zero(t, r.Waiting())

	sys, ok := r.SystemOf("v1")
	require.True(t, ok)
	assert.Equal(t, "A", sys)
}

func TestUnpinnedViewerAutoAssignsFirstSystem(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "d2"}, "", "B")
	r.AddDevice(&fakeConn{id: "d1"}, "", "A")

	a := r.AddViewer(&fakeConn{id: "v"}, "", "")
	assert.Equal(t, "A", a.SystemID)
	assert.Equal(t, []string{"A", "B"}, r.Systems())
}

func TestRecipientsFiltering(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "dA"}, "", "A")
	r.AddDevice(&fakeConn{id: "dB"}, "", "B")

	r.AddViewer(&fakeConn{id: "pinnedA"}, "", "A")
	r.AddViewer(&fakeConn{id: "pinnedB"}, "", "B")
	r.AddViewer(&fakeConn{id: "free"}, "", "")

	assert.Equal(t, []string{"free", "pinnedA"}, ids(r.Recipients("A")))
	assert.Equal(t, []string{"free", "pinnedB"}, ids(r.Recipients("B")))
	assert.Equal(t, []string{"free"}, ids(r.Recipients("C")))

	for _, c := range r.Recipients("A") {
		assert.NotEqual(t, "dA", c.ID(), "devices never receive state")
	}
}

func TestSelectMovesViewerBetweenWatchSets(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "dA"}, "", "A")
	r.AddDevice(&fakeConn{id: "dB"}, "", "B")
	r.AddViewer(&fakeConn{id: "v"}, "", "A")

	a, err := r.Select("v", "B")
	require.NoError(t, err)
	assert.True(t, a.Pinned)
	assert.Equal(t, "B", a.SystemID)

	assert.Empty(t, r.Recipients("A"))
	assert.Equal(t, []string{"v"}, ids(r.Recipients("B")))

	_, err = r.Select("dA", "B")
	assert.ErrorIs(t, err, ErrWrongRole)
	_, err = r.Select("ghost", "B")
	assert.ErrorIs(t, err, ErrUnknownConn)
	_, err = r.Select("v", "")
	assert.ErrorIs(t, err, ErrEmptySystemID)
}

func TestDeviceDisconnectParksWatchers(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "dA"}, "pump-a", "A")
	r.AddViewer(&fakeConn{id: "pinned"}, "", "A")
	r.AddViewer(&fakeConn{id: "free"}, "", "")

	dep, ok := r.Remove("dA")
	require.True(t, ok)
	assert.Equal(t, RoleDevice, dep.Role)
	assert.Equal(t, "A", dep.SystemID)
	assert.Equal(t, "pump-a", dep.Label)
	assert.Len(t, dep.Moved, 2)
	assert.Empty(t, r.Systems())
	assert.Equal(t, 2, r.Waiting())

	// A new device for another system takes only the unpinned viewer.
	reg := r.AddDevice(&fakeConn{id: "dB"}, "", "B")
	require.Len(t, reg.Moved, 1)
	assert.Equal(t, "free", reg.Moved[0].Conn.ID())

	// The pinned viewer returns when its system comes back.
	reg = r.AddDevice(&fakeConn{id: "dA2"}, "", "A")
	require.Len(t, reg.Moved, 1)
	assert.Equal(t, "pinned", reg.Moved[0].Conn.ID())
	assert.True(t, reg.Moved[0].Pinned)
	assert.Zero(t, r.Waiting())

	_, ok = r.Remove("dA")
	assert.False(t, ok)
}

func TestIdentifyRekeysDevice(t *testing.T) {
	r := New(nil)
	d := &fakeConn{id: "d"}
	r.AddDevice(d, "", "local")
	r.AddViewer(&fakeConn{id: "v"}, "", "")

	reg, err := r.Identify("d", "PUMP-1")
	require.NoError(t, err)
	assert.Equal(t, "local", reg.Previous)
	assert.Equal(t, []string{"PUMP-1"}, r.Systems())
	require.Len(t, reg.Moved, 1)
	assert.Equal(t, "PUMP-1", reg.Moved[0].SystemID)

	reg, err = r.Identify("d", "PUMP-1")
	require.NoError(t, err)
	assert.Empty(t, reg.Moved)

	_, err = r.Identify("v", "X")
	assert.ErrorIs(t, err, ErrWrongRole)
	_, err = r.Identify("d", "")
	assert.ErrorIs(t, err, ErrEmptySystemID)
}

func TestSecondDeviceReplacesFirst(t *testing.T) {
	r := New(nil)
	first := &fakeConn{id: "d1"}
	r.AddDevice(first, "", "A")
	r.AddViewer(&fakeConn{id: "v"}, "", "A")

	reg := r.AddDevice(&fakeConn{id: "d2"}, "", "A")
	require.NotNil(t, reg.Replaced)
	assert.Equal(t, "d1", reg.Replaced.ID())

	// The replaced connection leaving must not tear down the new owner.
	dep, ok := r.Remove("d1")
	require.True(t, ok)
	assert.Empty(t, dep.Moved)
	assert.Equal(t, []string{"A"}, r.Systems())
	assert.Equal(t, []string{"v"}, ids(r.Recipients("A")))
}

func TestReplacedDeviceFlag(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "d1"}, "", "A")
	assert.False(t, r.Replaced("d1"))

	r.AddDevice(&fakeConn{id: "d2"}, "", "A")
	assert.True(t, r.Replaced("d1"))
	assert.False(t, r.Replaced("d2"))
	id, ok := r.SystemOf("d1")
	require.True(t, ok)
	assert.Empty(t, id)

	_, err := r.Identify("d1", "B")
	require.NoError(t, err)
	assert.False(t, r.Replaced("d1"))
	assert.False(t, r.Replaced("missing"))
}

func TestOnChangeFiresForEveryMutation(t *testing.T) {
	r := New(nil)
	var mu sync.Mutex
	var calls [][]string
	r.OnChange(func(systems []string) {
		// Reentrant reads must not deadlock.
		_ = r.Count()
		mu.Lock()
		calls = append(calls, systems)
		mu.Unlock()
	})

	r.AddDevice(&fakeConn{id: "d2"}, "", "B")
	r.AddDevice(&fakeConn{id: "d1"}, "", "A")
	r.AddViewer(&fakeConn{id: "v"}, "", "")
	r.Remove("d2")

	require.Len(t, calls, 4)
	assert.Equal(t, []string{"B"}, calls[0])
	assert.Equal(t, []string{"A", "B"}, calls[1])
	assert.Equal(t, []string{"A"}, calls[3])
}

func TestCountsAndDevices(t *testing.T) {
	r := New(nil)
	r.AddDevice(&fakeConn{id: "d"}, "pump", "A")
	r.AddViewer(&fakeConn{id: "v1"}, "a", "A")
	r.AddViewer(&fakeConn{id: "v2"}, "b", "")

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 1, r.CountByRole(RoleDevice))
	assert.Equal(t, 2, r.CountByRole(RoleViewer))
	assert.Equal(t, "a", r.Label("v1"))
	assert.Len(t, r.Connections(), 3)

	devices := r.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "pump", devices[0].Label)
	assert.Equal(t, 2, devices[0].Watchers)
}
