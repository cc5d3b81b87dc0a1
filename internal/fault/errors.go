// Package fault classifies transport errors and stops the process on the
// ones it cannot recover from.
//
// Connection-level I/O failures are split by a fixed table: low-level errno
// values that indicate the host itself is in trouble are fatal, everything
// else (normal closes, timeouts, a single peer going away cleanly) only ends
// the affected connection. Resource ceilings checked by the Watchdog are
// fatal as well. Restarting is left to the external supervisor.
package fault

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

// Class is the severity of a classified error.
type Class int

const (
	// NonFatal errors end one connection at most.
	NonFatal Class = iota
	// Fatal errors stop the process.
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "non-fatal"
}

// ErrnoTable lists the errno values treated as fatal, with the token used for
// logs and metrics.
//
// How to extend:
//  1. Add the errno and its token here
//  2. Add a matching text token to fatalTexts if the error can arrive as text only
//  3. Cover the new entry in errors_test.go
var ErrnoTable = []struct {
	Errno syscall.Errno
	Token string
}{
	{syscall.ECONNRESET, "ECONNRESET"},
	{syscall.EPIPE, "EPIPE"},
	{syscall.EMFILE, "EMFILE"},
	{syscall.ENFILE, "ENFILE"},
	{syscall.ENOBUFS, "ENOBUFS"},
	{syscall.ENOMEM, "ENOMEM"},
}

// fatalTexts matches errors that reached us as formatted text with the errno lost.
var fatalTexts = map[string]string{
	"connection reset by peer": "ECONNRESET",
	"broken pipe":              "EPIPE",
	"too many open files":      "EMFILE",
	"no buffer space":          "ENOBUFS",
	"cannot allocate memory":   "ENOMEM",
}

// Error is a classified error. Cause keeps the original for diagnostics.
type Error struct {
	Class Class
	Token string
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s %s: %v", e.Class, e.Token, e.Cause)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Class, e.Token, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Classify maps err to its Class and a short token.
func Classify(err error) (Class, string) {
	if err == nil {
		return NonFatal, ""
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return NonFatal, "CLOSED"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return NonFatal, "CLOSED"
	}

	for _, entry := range ErrnoTable {
		if errors.Is(err, entry.Errno) {
			return Fatal, entry.Token
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NonFatal, "TIMEOUT"
	}

	msg := strings.ToLower(err.Error())
	for text, token := range fatalTexts {
		if strings.Contains(msg, text) {
			return Fatal, token
		}
	}
	return NonFatal, "IO"
}

// Wrap classifies err and returns it as an *Error, or nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	class, token := Classify(err)
	return &Error{Class: class, Token: token, Op: op, Cause: err}
}

// IsFatal reports whether err should stop the process.
func IsFatal(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class == Fatal
	}
	class, _ := Classify(err)
	return class == Fatal
}
