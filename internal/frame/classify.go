package frame

import (
	"encoding/json"
	"strings"
)

// Kind is the structural category of an inbound frame.
type Kind int

const (
	// KindTelemetry is anything that should go through Parse, including
	// frames that will fail it.
	KindTelemetry Kind = iota
	// KindIdentification carries a SystemId and no messageType.
	KindIdentification
	// KindOperator is a free-text operator message.
	KindOperator
	// KindSelect is a viewer changing the system it watches.
	KindSelect
	// KindControl is any other "type"-tagged frame; it is ignored.
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindIdentification:
		return "identification"
	case KindOperator:
		return "operator"
	case KindSelect:
		return "select"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Type discriminators used on the wire for non-telemetry frames.
const (
	TypeOperatorMessage = "operatorMessage"
	TypeSelectSystem    = "selectSystem"
)

// Operator message scopes.
const (
	ScopeAll    = "all"
	ScopeSystem = "system"
)

// OperatorMessage is the inbound free-text frame.
type OperatorMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Scope    string `json:"scope"`
	SystemID string `json:"systemId,omitempty"`
}

// SelectSystem is the inbound viewer selection frame.
type SelectSystem struct {
	Type     string `json:"type"`
	SystemID string `json:"systemId"`
}

// Identification is the device status object that names the system.
type Identification struct {
	SystemID string `json:"SystemId"`
}

type envelopeHead struct {
	Type        *string         `json:"type"`
	MessageType json.RawMessage `json:"messageType"`
	SystemID    *string         `json:"SystemId"`
}

// Classify decides which layer handles raw. Malformed input classifies as
// telemetry so that the validator rejects and logs it.
func Classify(raw []byte) Kind {
	var p envelopeHead
	if err := json.Unmarshal(raw, &p); err != nil {
		return KindTelemetry
	}

	if p.Type != nil {
		switch strings.TrimSpace(*p.Type) {
		case TypeOperatorMessage:
			return KindOperator
		case TypeSelectSystem:
			return KindSelect
		default:
			return KindControl
		}
	}
	if p.MessageType != nil {
		return KindTelemetry
	}
	if p.SystemID != nil && *p.SystemID != "" {
		return KindIdentification
	}
	return KindTelemetry
}

// NormalizeScope maps a declared scope to ScopeAll or ScopeSystem.
// Anything other than "system" is broadcast-style.
func NormalizeScope(scope string) string {
	if strings.EqualFold(strings.TrimSpace(scope), ScopeSystem) {
		return ScopeSystem
	}
	return ScopeAll
}
