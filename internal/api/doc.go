// Package api exposes the pump monitor over HTTP.
//
// GET /ws upgrades to a WebSocket carrying JSON text frames for both devices
// and viewers. A small read-only REST surface under /api/v1 reports systems,
// snapshots and waveform buffers, and /metrics serves Prometheus metrics.
// Every REST response uses the unified envelope {result, data | code,
// message, correlationId}.
package api
