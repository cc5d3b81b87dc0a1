// Package registry tracks device and viewer connections and the fan-out map
// from system identifier to the viewers watching it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownConn is returned for a connection ID that is not registered.
	ErrUnknownConn = errors.New("connection not registered")
	// ErrWrongRole is returned when an operation does not apply to the connection's role.
	ErrWrongRole = errors.New("operation not valid for connection role")
	// ErrEmptySystemID is returned when a system identifier is required.
	ErrEmptySystemID = errors.New("system id is empty")
	// ErrUnknownRole is returned by ParseRole.
	ErrUnknownRole = errors.New("unknown role")
	// ErrReplaced is returned for telemetry from a device whose system id
	// was taken over by a newer connection.
	ErrReplaced = errors.New("device replaced by a newer connection")
)

// Role is the connection class chosen at setup.
type Role string

const (
	RoleDevice Role = "device"
	RoleViewer Role = "viewer"
)

// ParseRole maps a connection parameter to a Role. Empty means viewer.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RoleViewer):
		return RoleViewer, nil
	case string(RoleDevice):
		return RoleDevice, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownRole, s)
	}
}

// Conn is one network connection as seen by the registry.
type Conn interface {
	ID() string
	// Send queues msg for delivery without blocking and reports whether it was accepted.
	Send(msg []byte) bool
}

// Assignment reports which system a viewer now watches. SystemID is empty
// while the viewer is parked in the waiting set.
type Assignment struct {
	Conn     Conn
	SystemID string
	Pinned   bool
}

// Registration is the outcome of a device identifying itself.
type Registration struct {
	SystemID string
	// Previous is the identifier the device was known under before, if any.
	Previous string
	// Replaced is the connection that held SystemID before this one, if any.
	Replaced Conn
	// Moved lists viewers whose assignment changed.
	Moved []Assignment
}

// Departure is the outcome of removing a connection.
type Departure struct {
	Role     Role
	Label    string
	SystemID string
	Moved    []Assignment
}

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	SystemID    string    `json:"systemId"`
	Label       string    `json:"label"`
	ConnectedAt time.Time `json:"connectedAt"`
	Watchers    int       `json:"watchers"`
}

type member struct {
	conn        Conn
	role        Role
	label       string
	connectedAt time.Time

	// systemID is the registered identity for devices and the watched
	// system for viewers ("" while waiting).
	systemID string
	// pinnedTo is the system a viewer asked for; "" for unpinned viewers.
	pinnedTo string
	// replaced marks a device whose system id was claimed by a newer
	// connection. It stays set until the device identifies again.
	replaced bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	members  map[string]*member
	devices  map[string]string              // system id -> device conn id
	watchers map[string]map[string]struct{} // system id -> viewer conn ids
	waiting  map[string]struct{}

	onChange func(systems []string)
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		members:  make(map[string]*member),
		devices:  make(map[string]string),
		watchers: make(map[string]map[string]struct{}),
		waiting:  make(map[string]struct{}),
		now:      time.Now,
		logger:   logger,
	}
}

// OnChange sets the hook invoked with the sorted system list after every
// mutation. The hook runs outside the registry lock.
func (r *Registry) OnChange(fn func(systems []string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// AddDevice registers a device connection. A non-empty systemID registers
// the device under that identity immediately.
func (r *Registry) AddDevice(conn Conn, label, systemID string) Registration {
	r.mu.Lock()
	m := &member{conn: conn, role: RoleDevice, label: label, connectedAt: r.now()}
	r.members[conn.ID()] = m
	var reg Registration
	if systemID != "" {
		reg = r.identifyLocked(m, systemID)
	}
	r.mu.Unlock()

	r.notify()
	return reg
}

// Identify registers (or re-keys) a device under systemID and migrates
// waiting viewers onto it.
func (r *Registry) Identify(connID, systemID string) (Registration, error) {
	if systemID == "" {
		return Registration{}, ErrEmptySystemID
	}

	r.mu.Lock()
	m, ok := r.members[connID]
	if !ok {
		r.mu.Unlock()
		return Registration{}, ErrUnknownConn
	}
	if m.role != RoleDevice {
		r.mu.Unlock()
		return Registration{}, ErrWrongRole
	}
	if m.systemID == systemID {
		r.mu.Unlock()
		return Registration{SystemID: systemID}, nil
	}
	reg := r.identifyLocked(m, systemID)
	r.mu.Unlock()

	r.notify()
	return reg, nil
}

func (r *Registry) identifyLocked(m *member, systemID string) Registration {
	reg := Registration{SystemID: systemID, Previous: m.systemID}

	moved := make(map[string]Assignment)
	if m.systemID != "" {
		for _, a := range r.teardownLocked(m.systemID) {
			moved[a.Conn.ID()] = a
		}
	}

	if prevID, taken := r.devices[systemID]; taken && prevID != m.conn.ID() {
		if prev, ok := r.members[prevID]; ok {
			prev.systemID = ""
			prev.replaced = true
			reg.Replaced = prev.conn
		}
		r.logger.Warn("system id claimed by a new device connection",
			"system_id", systemID,
			"previous_conn", prevID,
			"conn", m.conn.ID())
	}

	m.systemID = systemID
	m.replaced = false
	r.devices[systemID] = m.conn.ID()

	for id := range r.waiting {
		v := r.members[id]
		if v.pinnedTo != "" && v.pinnedTo != systemID {
			continue
		}
		r.watchLocked(v, systemID)
		moved[id] = Assignment{Conn: v.conn, SystemID: systemID, Pinned: v.pinnedTo != ""}
	}
	for _, a := range moved {
		reg.Moved = append(reg.Moved, a)
	}
	return reg
}

// teardownLocked removes systemID's device entry and parks its watchers.
func (r *Registry) teardownLocked(systemID string) []Assignment {
	delete(r.devices, systemID)

	var moved []Assignment
	for id := range r.watchers[systemID] {
		v := r.members[id]
		v.systemID = ""
		r.waiting[id] = struct{}{}
		moved = append(moved, Assignment{Conn: v.conn, Pinned: v.pinnedTo != ""})
	}
	delete(r.watchers, systemID)
	return moved
}

// AddViewer registers a viewer. A non-empty systemID pins the viewer to it;
// otherwise it is assigned the first known system or parked until one exists.
func (r *Registry) AddViewer(conn Conn, label, systemID string) Assignment {
	r.mu.Lock()
	m := &member{conn: conn, role: RoleViewer, label: label, connectedAt: r.now(), pinnedTo: systemID}
	r.members[conn.ID()] = m

	target := systemID
	if target == "" {
		if systems := r.systemsLocked(); len(systems) > 0 {
			target = systems[0]
		}
	}
	if target == "" {
		r.waiting[conn.ID()] = struct{}{}
	} else {
		r.watchLocked(m, target)
	}
	a := Assignment{Conn: conn, SystemID: m.systemID, Pinned: systemID != ""}
	r.mu.Unlock()

	r.notify()
	return a
}

// Select pins a viewer to systemID, removing it from any other watch set.
func (r *Registry) Select(connID, systemID string) (Assignment, error) {
	if systemID == "" {
		return Assignment{}, ErrEmptySystemID
	}

	r.mu.Lock()
	m, ok := r.members[connID]
	if !ok {
		r.mu.Unlock()
		return Assignment{}, ErrUnknownConn
	}
	if m.role != RoleViewer {
		r.mu.Unlock()
		return Assignment{}, ErrWrongRole
	}
	m.pinnedTo = systemID
	r.watchLocked(m, systemID)
	a := Assignment{Conn: m.conn, SystemID: systemID, Pinned: true}
	r.mu.Unlock()

	r.notify()
	return a, nil
}

// watchLocked moves viewer m into systemID's watch set, leaving every other set.
func (r *Registry) watchLocked(m *member, systemID string) {
	id := m.conn.ID()
	delete(r.waiting, id)
	if m.systemID != "" && m.systemID != systemID {
		r.unwatchLocked(m.systemID, id)
	}
	set, ok := r.watchers[systemID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[systemID] = set
	}
	set[id] = struct{}{}
	m.systemID = systemID
}

func (r *Registry) unwatchLocked(systemID, connID string) {
	set, ok := r.watchers[systemID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.watchers, systemID)
	}
}

// Remove drops a connection from every set it belongs to. A departing device
// tears down its system entry and parks that system's watchers.
func (r *Registry) Remove(connID string) (Departure, bool) {
	r.mu.Lock()
	m, ok := r.members[connID]
	if !ok {
		r.mu.Unlock()
		return Departure{}, false
	}
	delete(r.members, connID)

	dep := Departure{Role: m.role, Label: m.label, SystemID: m.systemID}
	switch m.role {
	case RoleDevice:
		if m.systemID != "" && r.devices[m.systemID] == connID {
			dep.Moved = r.teardownLocked(m.systemID)
		}
	case RoleViewer:
		delete(r.waiting, connID)
		if m.systemID != "" {
			r.unwatchLocked(m.systemID, connID)
		}
	}
	r.mu.Unlock()

	r.notify()
	return dep, true
}

// Recipients returns the viewers that receive updates for systemID: its
// watch set plus every unpinned viewer.
func (r *Registry) Recipients(systemID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.watchers[systemID]))
	for id := range r.watchers[systemID] {
		out = append(out, r.members[id].conn)
	}
	for id, m := range r.members {
		if m.role != RoleViewer || m.pinnedTo != "" {
			continue
		}
		if _, dup := r.watchers[systemID][id]; dup {
			continue
		}
		out = append(out, m.conn)
	}
	return out
}

// Connections returns every registered connection.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.conn)
	}
	return out
}

// Systems returns the sorted identifiers of registered devices.
func (r *Registry) Systems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemsLocked()
}

func (r *Registry) systemsLocked() []string {
	out := make([]string, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Devices describes every registered device, sorted by system id.
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(r.devices))
	for _, id := range r.systemsLocked() {
		m := r.members[r.devices[id]]
		out = append(out, DeviceInfo{
			SystemID:    id,
			Label:       m.label,
			ConnectedAt: m.connectedAt,
			Watchers:    len(r.watchers[id]),
		})
	}
	return out
}

// SystemOf returns the identity of a device or the watched system of a viewer.
func (r *Registry) SystemOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return "", false
	}
	return m.systemID, true
}

// Replaced reports whether connID is a device that lost its system id to a
// newer connection and has not identified since.
func (r *Registry) Replaced(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	return ok && m.replaced
}

// RoleOf returns the role a connection registered with.
func (r *Registry) RoleOf(connID string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return "", false
	}
	return m.role, true
}

// Label returns the attribution label of a connection.
func (r *Registry) Label(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.members[connID]; ok {
		return m.label
	}
	return ""
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// CountByRole returns the number of connections with role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if m.role == role {
			n++
		}
	}
	return n
}

// Waiting returns the number of parked viewers.
func (r *Registry) Waiting() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.waiting)
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn := r.onChange
	systems := r.systemsLocked()
	r.mu.RUnlock()

	if fn != nil {
		fn(systems)
	}
}
