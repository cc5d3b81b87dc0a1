package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
)

// Frame is one telemetry frame as a device puts it on the wire.
type Frame struct {
	MessageType  frame.MessageType `json:"messageType"`
	TimestampUTC int64             `json:"timestampUtc"`
	Source       frame.Source      `json:"source"`
	Data         map[string]any    `json:"data"`
}

// Pump is a drifting model of one total artificial heart. It is safe for
// concurrent use.
type Pump struct {
	mu  sync.Mutex
	rnd *rand.Rand

	heartRate    float64
	strokeLeft   float64
	strokeRight  float64
	supplyVolts  float64
	counter      int
	cycle        int
	automatic    bool
	waveformTick float64
}

// NewPump creates a pump model seeded for reproducible output.
func NewPump(seed int64) *Pump {
	return &Pump{
		rnd:         rand.New(rand.NewSource(seed)),
		heartRate:   80,
		strokeLeft:  30,
		strokeRight: 28,
		supplyVolts: 15,
	}
}

// drift moves v by at most step, clamped to [lo, hi].
func (p *Pump) drift(v, step, lo, hi float64) float64 {
	v += (p.rnd.Float64()*2 - 1) * step
	return math.Max(lo, math.Min(hi, v))
}

func (p *Pump) noise(center, spread float64) float64 {
	return center + (p.rnd.Float64()*2-1)*spread
}

// Cycle advances the model one step and returns every frame type once,
// stamped at now minus up to jitter. Frames are returned in a shuffled order
// so that arrival order differs from device-time order.
func (p *Pump) Cycle(now time.Time, jitter time.Duration) []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cycle++
	p.counter++
	p.heartRate = p.drift(p.heartRate, 1.5, 60, 120)
	p.strokeLeft = p.drift(p.strokeLeft, 0.4, 20, 36)
	p.strokeRight = p.drift(p.strokeRight, 0.4, 20, 36)
	p.supplyVolts = p.drift(p.supplyVolts, 0.1, 13.5, 16.5)
	if p.cycle%30 == 0 {
		p.automatic = !p.automatic
	}

	ts := func() int64 {
		skew := time.Duration(0)
		if jitter > 0 {
			skew = time.Duration(p.rnd.Int63n(int64(jitter)))
		}
		return now.Add(-skew).UnixMilli()
	}
	can := func(t frame.MessageType, data map[string]any) Frame {
		return Frame{MessageType: t, TimestampUTC: ts(), Source: frame.SourceCAN, Data: data}
	}
	udp := func(t frame.MessageType, data map[string]any) Frame {
		return Frame{MessageType: t, TimestampUTC: ts(), Source: frame.SourceUDP, Data: data}
	}

	settings := frame.ManualPhysiologicalSettings
	if p.automatic {
		settings = frame.AutomaticPhysiologicalSettings
	}

	frames := []Frame{
		can(settings, map[string]any{
			"pumpSide":          "All",
			"heartRate":         math.Round(p.heartRate),
			"leftStrokeLength":  round1(p.strokeLeft),
			"rightStrokeLength": round1(p.strokeRight),
		}),
		can(frame.MotorCurrent, map[string]any{
			"pumpSide": "Left",
			"currents": []float64{round2(p.noise(1.1, 0.2)), round2(p.noise(0.9, 0.2))},
		}),
		can(frame.MotorCurrent, map[string]any{
			"pumpSide": "Right",
			"current":  round2(p.noise(1.6, 0.3)),
		}),
		can(frame.ActualStrokeLength, map[string]any{
			"pumpSide":     "Left",
			"strokeLength": round1(p.strokeLeft + p.noise(0, 0.5)),
		}),
		can(frame.ActualStrokeLength, map[string]any{
			"pumpSide":     "Right",
			"strokeLength": round1(p.strokeRight + p.noise(0, 0.5)),
		}),
		can(frame.InstantaneousAtrialPressure, map[string]any{
			"pumpSide": "Left",
			"average":  round1(p.noise(8, 2)),
		}),
		can(frame.InstantaneousAtrialPressure, map[string]any{
			"pumpSide": "Right",
			"average":  round1(p.noise(5, 2)),
		}),
		can(frame.StrokewiseAtrialPressure, map[string]any{
			"pumpSide": "Left",
			"average":  round1(p.noise(9, 1)),
			"min":      round1(p.noise(4, 1)),
			"max":      round1(p.noise(14, 1)),
		}),
		can(frame.Temperature, map[string]any{
			"sensors": []float64{round1(p.noise(40, 2)), round1(p.noise(41, 2)), round1(p.noise(39, 2)), round1(p.noise(42, 2))},
		}),
		can(frame.SupplyVoltage, map[string]any{
			"voltages": []float64{round2(p.supplyVolts), round2(p.supplyVolts + p.noise(0, 0.05))},
		}),
		can(frame.CpuLoad, map[string]any{"load": round1(p.noise(25, 10))}),
		can(frame.Accelerometer, map[string]any{
			"x": round2(p.noise(0, 0.1)),
			"y": round2(p.noise(0, 0.1)),
			"z": round2(p.noise(1, 0.05)),
		}),
		can(frame.AliveCounter, map[string]any{"counter": p.counter}),
		udp(frame.StrokewisePressure, map[string]any{
			"leftAtrial":        pressure(p, 9, 4, 14),
			"rightAtrial":       pressure(p, 6, 2, 10),
			"pulmonaryArterial": pressure(p, 18, 10, 28),
			"aortic":            pressure(p, 90, 75, 120),
		}),
		udp(frame.StreamPressure, map[string]any{
			"sensor":     "AoP",
			"sampleRate": 250.0,
			"unit":       "mmHg",
			"samples":    p.waveform(25),
		}),
	}
	if p.cycle%10 == 1 {
		frames = append(frames, can(frame.PumpControl, map[string]any{
			"operationState":   operationState(p.automatic),
			"heartStatus":      "Pumping",
			"flowLimitState":   "Inactive",
			"flowLimit":        8.0,
			"useMedicalSensor": p.cycle%20 == 1,
		}))
	}

	p.rnd.Shuffle(len(frames), func(i, j int) { frames[i], frames[j] = frames[j], frames[i] })
	return frames
}

// waveform returns n samples of an aortic-like pressure curve.
func (p *Pump) waveform(n int) []float64 {
	out := make([]float64, n)
	period := 60 / p.heartRate * 250
	for i := range out {
		phase := 2 * math.Pi * p.waveformTick / period
		out[i] = round1(95 + 20*math.Sin(phase) + p.noise(0, 0.5))
		p.waveformTick++
	}
	return out
}

func pressure(p *Pump, avg, lo, hi float64) map[string]any {
	return map[string]any{
		"average": round1(p.noise(avg, 1)),
		"min":     round1(p.noise(lo, 1)),
		"max":     round1(p.noise(hi, 1)),
	}
}

func operationState(automatic bool) string {
	if automatic {
		return "Automatic"
	}
	return "Manual"
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
