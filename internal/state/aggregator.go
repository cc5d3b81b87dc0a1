package state

import (
	"log/slog"
	"sort"
	"time"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
)

// Default timing and capacity values.
const (
	DefaultNoDataTimeout      = 30 * time.Second
	DefaultChamberTimeout     = 10 * time.Second
	DefaultSupplyVoltage      = 15.0
	DefaultWaveformCapacity   = 2000
	defaultWaveformSensorName = "default"
)

// Aggregator maintains the AggregatedState of one system. It is not safe for
// concurrent use; callers serialize access.
type Aggregator struct {
	state        AggregatedState
	interpreters map[frame.MessageType]interpreterEntry

	now            func() time.Time
	noDataTimeout  time.Duration
	chamberTimeout time.Duration
	defaultVoltage float64
	waveformCap    int
	logger         *slog.Logger

	lastTelemetry time.Time
	lastLeft      time.Time
	lastRight     time.Time

	waveforms map[string]*Waveform
	lastAlive int64
	haveAlive bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock used for availability and fallback timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithTimeouts sets the no-data and per-chamber availability windows.
func WithTimeouts(noData, chamber time.Duration) Option {
	return func(a *Aggregator) {
		if noData > 0 {
			a.noDataTimeout = noData
		}
		if chamber > 0 {
			a.chamberTimeout = chamber
		}
	}
}

// WithDefaultSupplyVoltage sets the voltage used for power when no
// SupplyVoltage reading has been applied yet.
func WithDefaultSupplyVoltage(v float64) Option {
	return func(a *Aggregator) {
		if v > 0 {
			a.defaultVoltage = v
		}
	}
}

// WithWaveformCapacity bounds each per-sensor waveform buffer.
func WithWaveformCapacity(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.waveformCap = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAggregator creates an aggregator for systemID with every field at its default.
func NewAggregator(systemID string, opts ...Option) *Aggregator {
	a := &Aggregator{
		interpreters:   defaultInterpreters(),
		now:            time.Now,
		noDataTimeout:  DefaultNoDataTimeout,
		chamberTimeout: DefaultChamberTimeout,
		defaultVoltage: DefaultSupplyVoltage,
		waveformCap:    DefaultWaveformCapacity,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.state = NewState(systemID)
	a.resetClocks()
	return a
}

// SystemID returns the identifier this aggregator was created for.
func (a *Aggregator) SystemID() string {
	return a.state.SystemId
}

// UpdateState applies env and reports whether an interpreter handled it.
// Frames of a type without an interpreter leave the state untouched.
func (a *Aggregator) UpdateState(env *frame.Envelope) bool {
	if env == nil {
		return false
	}
	entry, ok := a.interpreters[env.MessageType]
	if !ok {
		a.logger.Debug("no interpreter for message type",
			"system_id", a.state.SystemId,
			"message_type", env.MessageType)
		return false
	}

	payload := Payload(env.Data)
	side := ParsePumpSide(payload)

	switch {
	case !entry.chamberScoped:
		a.apply(entry.apply, payload, nil)
	case side == SideAll:
		a.apply(entry.apply, payload, &a.state.LeftHeart)
		a.apply(entry.apply, payload, &a.state.RightHeart)
	case side == SideLeft:
		a.apply(entry.apply, payload, &a.state.LeftHeart)
	case side == SideRight:
		a.apply(entry.apply, payload, &a.state.RightHeart)
	default:
		a.apply(entry.apply, payload, nil)
	}

	now := a.now()
	a.lastTelemetry = now
	switch side {
	case SideLeft:
		a.lastLeft = now
	case SideRight:
		a.lastRight = now
	case SideAll:
		a.lastLeft = now
		a.lastRight = now
	}

	if env.TimestampUTC > 0 {
		a.state.Timestamp = env.TimestampUTC
	} else {
		a.state.Timestamp = now.UnixMilli()
	}
	return true
}

func (a *Aggregator) apply(interp Interpreter, p Payload, chamber *ChamberState) {
	interp(a, p, chamber)
	a.recomputeCardiacOutput(&a.state.LeftHeart)
	a.recomputeCardiacOutput(&a.state.RightHeart)
}

// recomputeCardiacOutput derives L/min from heart rate and stroke length in
// mm. The previous value is kept while either input is zero.
func (a *Aggregator) recomputeCardiacOutput(c *ChamberState) {
	strokeLength := c.ActualStrokeLength
	if strokeLength <= 0 {
		strokeLength = c.TargetStrokeLength
	}
	if a.state.HeartRate <= 0 || strokeLength <= 0 {
		return
	}
	c.CardiacOutput = a.state.HeartRate * strokeLength * CrossSectionArea / 1000
}

// GetState returns a snapshot copy with availability evaluated now.
func (a *Aggregator) GetState() AggregatedState {
	snapshot := a.state
	snapshot.Availability = a.availability(a.now())
	return snapshot
}

func (a *Aggregator) availability(now time.Time) Availability {
	return Availability{
		NoDataReceived:      now.Sub(a.lastTelemetry) >= a.noDataTimeout,
		LeftHeartAvailable:  now.Sub(a.lastLeft) < a.chamberTimeout,
		RightHeartAvailable: now.Sub(a.lastRight) < a.chamberTimeout,
		LastTelemetryAt:     a.lastTelemetry,
		LastLeftAt:          a.lastLeft,
		LastRightAt:         a.lastRight,
	}
}

// Reset restores every field to its default and restarts the availability windows.
func (a *Aggregator) Reset() {
	a.state = NewState(a.state.SystemId)
	a.waveforms = nil
	a.haveAlive = false
	a.lastAlive = 0
	a.resetClocks()
}

func (a *Aggregator) resetClocks() {
	now := a.now()
	a.lastTelemetry = now
	a.lastLeft = now
	a.lastRight = now
}

// Waveform returns a copy of the buffered samples for sensor.
func (a *Aggregator) Waveform(sensor string) (Waveform, bool) {
	w, ok := a.waveforms[sensor]
	if !ok {
		return Waveform{}, false
	}
	out := *w
	out.Samples = append([]float64(nil), w.Samples...)
	return out, true
}

// WaveformSensors lists the sensors that have buffered samples.
func (a *Aggregator) WaveformSensors() []string {
	out := make([]string, 0, len(a.waveforms))
	for name := range a.waveforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (a *Aggregator) appendWaveform(sensor string, sampleRate float64, unit string, samples []float64) {
	if sensor == "" {
		sensor = defaultWaveformSensorName
	}
	if a.waveforms == nil {
		a.waveforms = make(map[string]*Waveform)
	}
	w, ok := a.waveforms[sensor]
	if !ok {
		w = &Waveform{Sensor: sensor}
		a.waveforms[sensor] = w
	}
	if sampleRate > 0 {
		w.SampleRate = sampleRate
	}
	if unit != "" {
		w.Unit = unit
	}
	w.Samples = append(w.Samples, samples...)
	if over := len(w.Samples) - a.waveformCap; over > 0 {
		w.Samples = append(w.Samples[:0], w.Samples[over:]...)
	}
	w.UpdatedAt = a.now()
}

// supplyVoltage is the last applied supply voltage, or the configured
// default while no reading exists.
func (a *Aggregator) supplyVoltage() float64 {
	text := a.state.SystemStatus.SupplyVoltage.DisplayText
	if text == Sentinel {
		return a.defaultVoltage
	}
	v, err := parseLeadingFloat(text)
	if err != nil || v <= 0 {
		return a.defaultVoltage
	}
	return v
}
