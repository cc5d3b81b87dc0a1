// Package telemetry implements the ordering buffers and the broadcast engine.
//
// Each system id gets a System holding its Aggregator and a bounded Buffer.
// A drain tick sorts every buffer by device timestamp and applies it; the
// resulting snapshot goes to the system's watchers. A second, slower tick
// re-sends the last known snapshot of quiet systems with Stale set so viewers
// can tell a silent device from a frozen screen.
//
// Ordering holds within one drain cycle only. A late frame older than
// material applied in an earlier cycle is applied after it.
package telemetry
