package telemetry

import (
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/state"
)

// Outbound frame discriminators.
const (
	TypeState           = "state"
	TypeSystems         = "systems"
	TypeOperatorMessage = "operatorMessage"
	TypeAssigned        = "assigned"
)

// StateMessage is one snapshot delivery. DeliveredAt is refreshed on stale
// rebroadcasts while Timestamp keeps the last applied frame time.
type StateMessage struct {
	Type        string `json:"type"`
	DeliveredAt int64  `json:"DeliveredAt"`
	Stale       bool   `json:"Stale"`
	state.AggregatedState
}

// SystemsMessage lists the known system identifiers.
type SystemsMessage struct {
	Type    string   `json:"type"`
	Systems []string `json:"systems"`
}

// OperatorRelay is a free-text message as relayed to its recipients.
type OperatorRelay struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Text      string `json:"text"`
	From      string `json:"from"`
	Scope     string `json:"scope"`
	SystemID  string `json:"systemId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AssignedMessage tells a viewer which system it now watches.
type AssignedMessage struct {
	Type     string `json:"type"`
	SystemID string `json:"systemId"`
	Pinned   bool   `json:"pinned"`
}
