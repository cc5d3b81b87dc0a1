package state

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
)

// Interpreter applies one message type's payload to the aggregator. The
// chamber argument is the resolved target for side-specific writes and is
// nil when the frame did not name a side.
type Interpreter func(a *Aggregator, p Payload, chamber *ChamberState)

// Status thresholds.
const (
	TemperatureHighC     = 60.0
	SupplyVoltageMin     = 12.0
	SupplyVoltageMax     = 18.0
	AccelerationHighG    = 2.0
	temperatureSensorCap = 4
)

// interpreterEntry pairs an Interpreter with its routing. Chamber-scoped
// interpreters run once per addressed side; all others run exactly once per
// frame whatever its pumpSide.
type interpreterEntry struct {
	apply         Interpreter
	chamberScoped bool
}

func perChamber(fn Interpreter) interpreterEntry { return interpreterEntry{apply: fn, chamberScoped: true} }
func perFrame(fn Interpreter) interpreterEntry  { return interpreterEntry{apply: fn} }

func defaultInterpreters() map[frame.MessageType]interpreterEntry {
	return map[frame.MessageType]interpreterEntry{
		frame.MotorCurrent:                   perChamber(applyMotorCurrent),
		frame.InstantaneousAtrialPressure:    perChamber(applyInstantaneousAtrialPressure),
		frame.StrokewiseAtrialPressure:       perChamber(applyStrokewiseAtrialPressure),
		frame.ActualStrokeLength:             perChamber(applyActualStrokeLength),
		frame.ManualPhysiologicalSettings:    perFrame(physiologicalSettings("Manual")),
		frame.AutomaticPhysiologicalSettings: perFrame(physiologicalSettings("Automatic")),
		frame.StrokewisePressure:             perFrame(applyStrokewisePressure),
		frame.StreamPressure:                 perFrame(applyStreamPressure),
		frame.Temperature:                    perFrame(applyTemperature),
		frame.SupplyVoltage:                  perFrame(applySupplyVoltage),
		frame.CpuLoad:                        perFrame(applyCPULoad),
		frame.Accelerometer:                  perFrame(applyAccelerometer),
		frame.AliveCounter:                   perFrame(applyAliveCounter),
		frame.PumpControl:                    perFrame(applyPumpControl),
	}
}

func applyMotorCurrent(a *Aggregator, p Payload, c *ChamberState) {
	if c == nil {
		return
	}
	current := p.Float("current")
	if currents, ok := p.Numbers("currents"); ok {
		current = 0
		for _, v := range currents {
			current += v
		}
	}
	c.PowerConsumption = a.supplyVoltage() * current
}

func applyInstantaneousAtrialPressure(_ *Aggregator, p Payload, c *ChamberState) {
	if c == nil {
		return
	}
	c.AtrialPressure = p.Float("average")
}

func applyStrokewiseAtrialPressure(_ *Aggregator, p Payload, c *ChamberState) {
	if c == nil {
		return
	}
	c.InternalPressureAvg = p.Float("average")
	c.InternalPressureMin = p.Float("min")
	c.InternalPressureMax = p.Float("max")
}

func physiologicalSettings(mode string) Interpreter {
	return func(a *Aggregator, p Payload, _ *ChamberState) {
		a.state.HeartRate = p.Float("heartRate")
		if v, ok := p.Number("leftStrokeLength"); ok {
			a.state.LeftHeart.TargetStrokeLength = v
		}
		if v, ok := p.Number("rightStrokeLength"); ok {
			a.state.RightHeart.TargetStrokeLength = v
		}
		a.state.OperationState = mode
	}
}

func applyActualStrokeLength(_ *Aggregator, p Payload, c *ChamberState) {
	if c == nil {
		return
	}
	c.ActualStrokeLength = p.Float("strokeLength")
}

func applyStrokewisePressure(a *Aggregator, p Payload, _ *ChamberState) {
	if obj, ok := p.Object("leftAtrial"); ok {
		a.state.LeftHeart.MedicalPressure = pressureReading(obj)
	}
	if obj, ok := p.Object("rightAtrial"); ok {
		a.state.RightHeart.MedicalPressure = pressureReading(obj)
	}
	if obj, ok := p.Object("pulmonaryArterial"); ok {
		applySensorPressure(&a.state.Sensors.PulmonaryArterial, obj)
	}
	if obj, ok := p.Object("aortic"); ok {
		applySensorPressure(&a.state.Sensors.Aortic, obj)
	}
}

func pressureReading(p Payload) PressureReading {
	return PressureReading{
		Available: true,
		Average:   p.Float("average"),
		Min:       p.Float("min"),
		Max:       p.Float("max"),
	}
}

func applySensorPressure(s *SensorReading, p Payload) {
	s.PrimaryValue = p.Float("average")
	s.SecondaryValue = formatNumber(p.Float("max")) + "/" + formatNumber(p.Float("min"))
	s.DisplayColor = SeverityNormal
}

func applyStreamPressure(a *Aggregator, p Payload, _ *ChamberState) {
	sensor, _ := p.String("sensor")
	samples, _ := p.Numbers("samples")
	unit, _ := p.String("unit")
	a.appendWaveform(sensor, p.Float("sampleRate"), unit, samples)
}

func applyTemperature(a *Aggregator, p Payload, _ *ChamberState) {
	values, _ := p.Numbers("sensors")
	if len(values) > temperatureSensorCap {
		values = values[:temperatureSensorCap]
	}
	avg := mean(values)
	color := SeverityNormal
	if avg > TemperatureHighC {
		color = SeverityHigh
	}
	a.state.SystemStatus.Temperature = StatusItem{
		DisplayText:   strconv.FormatFloat(avg, 'f', 1, 64) + " °C",
		SeverityColor: color,
	}
}

func applySupplyVoltage(a *Aggregator, p Payload, _ *ChamberState) {
	voltage := p.Float("voltage")
	if values, ok := p.Numbers("voltages"); ok && len(values) > 0 {
		voltage = mean(values)
	}
	color := SeverityNormal
	if voltage < SupplyVoltageMin || voltage > SupplyVoltageMax {
		color = SeverityAbnormal
	}
	a.state.SystemStatus.SupplyVoltage = StatusItem{
		DisplayText:   strconv.FormatFloat(voltage, 'f', 2, 64) + " V",
		SeverityColor: color,
	}
}

func applyCPULoad(a *Aggregator, p Payload, _ *ChamberState) {
	load := math.Round(p.Float("load"))
	a.state.SystemStatus.CpuLoad = StatusItem{
		DisplayText:   strconv.FormatFloat(load, 'f', 0, 64) + " %",
		SeverityColor: SeverityInfo,
	}
}

func applyAccelerometer(a *Aggregator, p Payload, _ *ChamberState) {
	x, y, z := p.Float("x"), p.Float("y"), p.Float("z")
	magnitude := math.Sqrt(x*x + y*y + z*z)
	color := SeverityNormal
	if magnitude > AccelerationHighG {
		color = SeverityHigh
	}
	a.state.SystemStatus.Accelerometer = StatusItem{
		DisplayText:   strconv.FormatFloat(magnitude, 'f', 2, 64) + " g",
		SeverityColor: color,
	}
}

func applyAliveCounter(a *Aggregator, p Payload, _ *ChamberState) {
	v, ok := p.Number("counter")
	if !ok {
		return
	}
	counter := int64(v)
	if a.haveAlive && counter != a.lastAlive+1 {
		a.logger.Debug("alive counter gap",
			"system_id", a.state.SystemId,
			"expected", a.lastAlive+1,
			"got", counter)
	}
	a.lastAlive = counter
	a.haveAlive = true
}

func applyPumpControl(a *Aggregator, p Payload, _ *ChamberState) {
	if s, ok := p.String("operationState"); ok {
		a.state.OperationState = s
	}
	if s, ok := p.String("heartStatus"); ok {
		a.state.HeartStatus = s
	}
	if s, ok := p.String("flowLimitState"); ok {
		a.state.FlowLimitState = s
	}
	if v, ok := p.Number("flowLimit"); ok {
		a.state.FlowLimit = v
	}
	if b, ok := p.Bool("useMedicalSensor"); ok {
		a.state.UseMedicalSensor = b
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseLeadingFloat reads the numeric prefix of a display text such as "15.00 V".
func parseLeadingFloat(text string) (float64, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty text")
	}
	return strconv.ParseFloat(fields[0], 64)
}
