// Package audit writes an append-only JSON-lines trail of operator messages
// and device lifecycle events.
//
// Each line records who acted (the attribution label), which system was
// affected, the action and its parameters. The trail goes to a file or to
// stdout; a nil *Logger discards everything.
package audit
