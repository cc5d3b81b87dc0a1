// Package dispatch routes inbound frames by their structural kind.
//
// Telemetry goes through the frame validator into the hub's ordering buffer.
// Identification, viewer selection and operator messages are handled against
// the connection registry; control frames are ignored. Every device
// lifecycle change and every operator message is written to the audit trail.
package dispatch
