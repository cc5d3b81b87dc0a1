package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Reason is the log/metric label for a rejected frame.
type Reason string

const (
	ReasonMalformedJSON      Reason = "MalformedJson"
	ReasonNotObject          Reason = "NotObject"
	ReasonInvalidMessageType Reason = "InvalidMessageType"
	ReasonUnsupportedType    Reason = "UnsupportedMessageType"
	ReasonInvalidTimestamp   Reason = "InvalidTimestamp"
	ReasonInvalidSource      Reason = "InvalidSource"
	ReasonInvalidData        Reason = "InvalidData"
)

// ErrRejected matches every rejection via errors.Is.
var ErrRejected = errors.New("frame rejected")

// Rejection describes why Parse refused a frame. Callers drop every rejection
// the same way; Reason exists for logs and metrics only.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("frame rejected: %s", r.Reason)
	}
	return fmt.Sprintf("frame rejected: %s: %s", r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error {
	return ErrRejected
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectionReason extracts the Reason from err, or "" if err is not a rejection.
func RejectionReason(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

var jsonNull = []byte("null")

// Parse validates one raw text frame. It never panics; on any structural
// failure it returns a nil envelope and a *Rejection.
func Parse(raw []byte) (*Envelope, error) {
	return ParseAt(raw, time.Now())
}

// ParseAt is Parse with an explicit arrival time.
func ParseAt(raw []byte, receivedAt time.Time) (*Envelope, error) {
	if !json.Valid(raw) {
		return nil, reject(ReasonMalformedJSON, "invalid JSON")
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, reject(ReasonNotObject, "top-level value is not an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, reject(ReasonNotObject, "%v", err)
	}

	env := &Envelope{ReceivedAt: receivedAt}

	// messageType
	rawType, ok := fields["messageType"]
	if !ok || isNull(rawType) {
		return nil, reject(ReasonInvalidMessageType, "missing messageType")
	}
	var messageType string
	if err := json.Unmarshal(rawType, &messageType); err != nil || messageType == "" {
		return nil, reject(ReasonInvalidMessageType, "messageType must be a non-empty string")
	}
	if !Supported(MessageType(messageType)) {
		return nil, reject(ReasonUnsupportedType, "%q", messageType)
	}
	env.MessageType = MessageType(messageType)

	// timestampUtc
	rawTS, ok := fields["timestampUtc"]
	if !ok || isNull(rawTS) {
		return nil, reject(ReasonInvalidTimestamp, "missing timestampUtc")
	}
	var ts float64
	if err := json.Unmarshal(rawTS, &ts); err != nil {
		return nil, reject(ReasonInvalidTimestamp, "timestampUtc must be a number")
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if ts >= float64(math.MaxInt64) || ts < float64(math.MinInt64) {
		return nil, reject(ReasonInvalidTimestamp, "timestampUtc %g out of range", ts)
	}
	env.TimestampUTC = int64(ts)

	// source
	rawSource, ok := fields["source"]
	if !ok || isNull(rawSource) {
		return nil, reject(ReasonInvalidSource, "missing source")
	}
	var source string
	if err := json.Unmarshal(rawSource, &source); err != nil {
		return nil, reject(ReasonInvalidSource, "source must be a string")
	}
	switch Source(source) {
	case SourceCAN, SourceUDP:
		env.Source = Source(source)
	default:
		return nil, reject(ReasonInvalidSource, "%q", source)
	}

	// data
	rawData, ok := fields["data"]
	if !ok || isNull(rawData) {
		return nil, reject(ReasonInvalidData, "missing data")
	}
	rawData = bytes.TrimSpace(rawData)
	if len(rawData) == 0 || rawData[0] != '{' {
		return nil, reject(ReasonInvalidData, "data must be an object")
	}
	var data map[string]any
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, reject(ReasonInvalidData, "%v", err)
	}
	env.Data = data

	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
