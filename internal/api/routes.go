package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/state"
)

const apiV1 = "/api/v1"

// RegisterRoutes registers the WebSocket, REST and metrics endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// The WebSocket endpoint authenticates itself so it can check the role.
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.HandleFunc(apiV1+"/systems", s.deps.Auth.RequireAuth(s.handleSystems))
	mux.HandleFunc(apiV1+"/systems/", s.deps.Auth.RequireAuth(s.handleSystemEndpoints))

	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(s.deps.Gatherer))
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"Only GET method is allowed", nil)
		return
	}

	health := map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": time.Since(s.startTime).Seconds(),
		"connections":   s.deps.Routing.Count(),
		"devices":       s.deps.Routing.CountByRole(registry.RoleDevice),
		"viewers":       s.deps.Routing.CountByRole(registry.RoleViewer),
		"waiting":       s.deps.Routing.Waiting(),
		"systems":       len(s.deps.State.SystemIDs()),
	}
	WriteSuccess(w, health)
}

// SystemSummary is one entry of GET /systems.
type SystemSummary struct {
	SystemID     string              `json:"systemId"`
	Connected    bool                `json:"connected"`
	Label        string              `json:"label,omitempty"`
	ConnectedAt  *time.Time          `json:"connectedAt,omitempty"`
	Watchers     int                 `json:"watchers"`
	Availability *state.Availability `json:"availability,omitempty"`
}

// handleSystems handles GET /systems: registered devices and every system
// that still has state, sorted by id.
func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"Only GET method is allowed", nil)
		return
	}

	byID := make(map[string]*SystemSummary)
	var order []string
	for _, d := range s.deps.Routing.Devices() {
		connectedAt := d.ConnectedAt
		byID[d.SystemID] = &SystemSummary{
			SystemID:    d.SystemID,
			Connected:   true,
			Label:       d.Label,
			ConnectedAt: &connectedAt,
			Watchers:    d.Watchers,
		}
		order = append(order, d.SystemID)
	}
	for _, id := range s.deps.State.SystemIDs() {
		sum, ok := byID[id]
		if !ok {
			sum = &SystemSummary{SystemID: id}
			byID[id] = sum
			order = append(order, id)
		}
		if snap, ok := s.deps.State.Snapshot(id); ok {
			avail := snap.Availability
			sum.Availability = &avail
		}
	}

	sort.Strings(order)
	out := make([]SystemSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	WriteSuccess(w, out)
}

// handleSystemEndpoints dispatches /systems/{id}/state and
// /systems/{id}/waveforms/{sensor}.
func (s *Server) handleSystemEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"Only GET method is allowed", nil)
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, apiV1+"/systems/"))
	switch {
	case len(parts) == 2 && parts[1] == "state":
		s.handleState(w, parts[0])
	case len(parts) == 2 && parts[1] == "waveforms":
		s.handleWaveformList(w, parts[0])
	case len(parts) == 3 && parts[1] == "waveforms":
		s.handleWaveform(w, parts[0], parts[2])
	default:
		WriteAPIError(w, ErrNotFoundError)
	}
}

func (s *Server) handleState(w http.ResponseWriter, systemID string) {
	snap, ok := s.deps.State.Snapshot(systemID)
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Unknown system "+systemID, nil)
		return
	}
	WriteSuccess(w, snap)
}

func (s *Server) handleWaveformList(w http.ResponseWriter, systemID string) {
	if _, ok := s.deps.State.Snapshot(systemID); !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Unknown system "+systemID, nil)
		return
	}
	WriteSuccess(w, s.deps.State.WaveformSensors(systemID))
}

func (s *Server) handleWaveform(w http.ResponseWriter, systemID, sensor string) {
	wf, ok := s.deps.State.Waveform(systemID, sensor)
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "No waveform "+sensor+" for system "+systemID, nil)
		return
	}
	WriteSuccess(w, wf)
}

// splitPath splits a relative path into its non-empty segments.
func splitPath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}
