// Package sim simulates pump devices. A Pump produces drifting, plausible
// values for every telemetry frame type; a Device streams them to a pump
// monitor over WebSocket with skewed timestamps and shuffled order.
package sim
