// Package frame validates raw device frames and classifies inbound traffic.
//
// Telemetry frames are schema-checked into an Envelope; anything that fails a
// structural check is rejected before it can reach the aggregator. The checks
// are about shape only: the meaning of the fields inside data belongs to the
// interpreters in package state.
package frame

import (
	"time"
)

// Source identifies the logical transport a frame travelled over.
type Source string

const (
	SourceCAN Source = "CAN"
	SourceUDP Source = "UDP"
)

// MessageType names one kind of telemetry measurement.
type MessageType string

const (
	MotorCurrent                   MessageType = "MotorCurrent"
	Accelerometer                  MessageType = "Accelerometer"
	InstantaneousAtrialPressure    MessageType = "InstantaneousAtrialPressure"
	StrokewiseAtrialPressure       MessageType = "StrokewiseAtrialPressure"
	SupplyVoltage                  MessageType = "SupplyVoltage"
	CpuLoad                        MessageType = "CpuLoad"
	Temperature                    MessageType = "Temperature"
	ManualPhysiologicalSettings    MessageType = "ManualPhysiologicalSettings"
	AutomaticPhysiologicalSettings MessageType = "AutomaticPhysiologicalSettings"
	ActualStrokeLength             MessageType = "ActualStrokeLength"
	StreamPressure                 MessageType = "StreamPressure"
	StrokewisePressure             MessageType = "StrokewisePressure"
	AliveCounter                   MessageType = "AliveCounter"
	PumpControl                    MessageType = "PumpControl"
)

// supportedTypes is the closed allow-list checked by Parse.
var supportedTypes = map[MessageType]struct{}{
	MotorCurrent:                   {},
	Accelerometer:                  {},
	InstantaneousAtrialPressure:    {},
	StrokewiseAtrialPressure:       {},
	SupplyVoltage:                  {},
	CpuLoad:                        {},
	Temperature:                    {},
	ManualPhysiologicalSettings:    {},
	AutomaticPhysiologicalSettings: {},
	ActualStrokeLength:             {},
	StreamPressure:                 {},
	StrokewisePressure:             {},
	AliveCounter:                   {},
	PumpControl:                    {},
}

// Supported reports whether t is on the allow-list.
func Supported(t MessageType) bool {
	_, ok := supportedTypes[t]
	return ok
}

// SupportedTypes returns the allow-list in declaration order.
func SupportedTypes() []MessageType {
	return []MessageType{
		MotorCurrent, Accelerometer, InstantaneousAtrialPressure, StrokewiseAtrialPressure,
		SupplyVoltage, CpuLoad, Temperature, ManualPhysiologicalSettings,
		AutomaticPhysiologicalSettings, ActualStrokeLength, StreamPressure,
		StrokewisePressure, AliveCounter, PumpControl,
	}
}

// Envelope is one validated telemetry frame.
type Envelope struct {
	MessageType  MessageType    `json:"messageType"`
	TimestampUTC int64          `json:"timestampUtc"`
	Source       Source         `json:"source"`
	Data         map[string]any `json:"data"`

	// ReceivedAt is the server arrival time; it never participates in ordering.
	ReceivedAt time.Time `json:"-"`
}
