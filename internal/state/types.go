// Package state owns the canonical aggregated state of one pump system.
//
// An Aggregator folds validated telemetry envelopes into an AggregatedState
// using one interpreter per message type. Pump-side routing, the cardiac
// output derivation and availability tracking all happen centrally in the
// Aggregator so that interpreters stay small, side-agnostic functions.
package state

import (
	"time"
)

// Severity is the display class attached to status readings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityAbnormal Severity = "abnormal"
)

// Sentinel is the placeholder text for readings that have not arrived yet.
const Sentinel = "-"

// CrossSectionArea is the pump chamber cross-section in cm².
const CrossSectionArea = 5.0

// StatusItem is one engineering status line.
type StatusItem struct {
	DisplayText   string   `json:"DisplayText"`
	SeverityColor Severity `json:"SeverityColor"`
}

// SystemStatus groups the engineering status lines.
type SystemStatus struct {
	Temperature   StatusItem `json:"Temperature"`
	SupplyVoltage StatusItem `json:"SupplyVoltage"`
	CpuLoad       StatusItem `json:"CpuLoad"`
	Accelerometer StatusItem `json:"Accelerometer"`
}

// SensorReading is one externally measured physiological pressure slot.
type SensorReading struct {
	Name           string   `json:"Name"`
	PrimaryValue   float64  `json:"PrimaryValue"`
	SecondaryValue string   `json:"SecondaryValue"`
	DisplayColor   Severity `json:"DisplayColor"`
	Unit           string   `json:"Unit"`
}

// Sensors holds the five sensor slots.
type Sensors struct {
	CentralVenous      SensorReading `json:"CVP"`
	PulmonaryArterial  SensorReading `json:"PAP"`
	Aortic             SensorReading `json:"AoP"`
	PeripheralArterial SensorReading `json:"ART"`
	InferiorVenaCava   SensorReading `json:"IVC"`
}

// PressureReading is an average/min/max triple. Available stays false until
// a reading has been applied.
type PressureReading struct {
	Available bool    `json:"Available"`
	Average   float64 `json:"Average"`
	Min       float64 `json:"Min"`
	Max       float64 `json:"Max"`
}

// ChamberState is the aggregated measurement set of one heart side.
type ChamberState struct {
	PowerConsumption    float64         `json:"PowerConsumption"`
	AtrialPressure      float64         `json:"AtrialPressure"`
	InternalPressureAvg float64         `json:"InternalPressureAvg"`
	InternalPressureMin float64         `json:"InternalPressureMin"`
	InternalPressureMax float64         `json:"InternalPressureMax"`
	TargetStrokeLength  float64         `json:"TargetStrokeLength"`
	ActualStrokeLength  float64         `json:"ActualStrokeLength"`
	CardiacOutput       float64         `json:"CardiacOutput"`
	MedicalPressure     PressureReading `json:"MedicalPressure"`
}

// Availability is derived at read time from the last-seen instants.
type Availability struct {
	NoDataReceived      bool      `json:"NoDataReceived"`
	LeftHeartAvailable  bool      `json:"LeftHeartAvailable"`
	RightHeartAvailable bool      `json:"RightHeartAvailable"`
	LastTelemetryAt     time.Time `json:"LastTelemetryAt"`
	LastLeftAt          time.Time `json:"LastLeftAt"`
	LastRightAt         time.Time `json:"LastRightAt"`
}

// AggregatedState is the full snapshot of one system. It holds no pointers,
// maps or slices, so a value copy is a deep copy.
type AggregatedState struct {
	SystemId         string       `json:"SystemId"`
	HeartRate        float64      `json:"HeartRate"`
	LeftHeart        ChamberState `json:"LeftHeart"`
	RightHeart       ChamberState `json:"RightHeart"`
	Sensors          Sensors      `json:"Sensors"`
	SystemStatus     SystemStatus `json:"SystemStatus"`
	OperationState   string       `json:"OperationState"`
	HeartStatus      string       `json:"HeartStatus"`
	FlowLimitState   string       `json:"FlowLimitState"`
	FlowLimit        float64      `json:"FlowLimit"`
	UseMedicalSensor bool         `json:"UseMedicalSensor"`
	Timestamp        int64        `json:"Timestamp"`
	Availability     Availability `json:"TelemetryAvailability"`
}

func defaultStatusItem() StatusItem {
	return StatusItem{DisplayText: Sentinel, SeverityColor: SeverityInfo}
}

func defaultSensor(name, unit string) SensorReading {
	return SensorReading{
		Name:           name,
		SecondaryValue: Sentinel,
		DisplayColor:   SeverityInfo,
		Unit:           unit,
	}
}

// NewState returns a fully populated state with every field at its default.
func NewState(systemID string) AggregatedState {
	return AggregatedState{
		SystemId: systemID,
		Sensors: Sensors{
			CentralVenous:      defaultSensor("CVP", "mmHg"),
			PulmonaryArterial:  defaultSensor("PAP", "mmHg"),
			Aortic:             defaultSensor("AoP", "mmHg"),
			PeripheralArterial: defaultSensor("ART", "mmHg"),
			InferiorVenaCava:   defaultSensor("IVC", "mmHg"),
		},
		SystemStatus: SystemStatus{
			Temperature:   defaultStatusItem(),
			SupplyVoltage: defaultStatusItem(),
			CpuLoad:       defaultStatusItem(),
			Accelerometer: defaultStatusItem(),
		},
		OperationState: Sentinel,
		HeartStatus:    Sentinel,
		FlowLimitState: Sentinel,
	}
}

// Waveform is the raw stream-pressure side buffer of one sensor.
type Waveform struct {
	Sensor     string    `json:"sensor"`
	SampleRate float64   `json:"sampleRate"`
	Unit       string    `json:"unit"`
	Samples    []float64 `json:"samples"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
