package state

import (
	"encoding/json"
	"strings"
)

// Payload is the untyped data object of an envelope. Every accessor reports
// absence instead of failing, so interpreters never see a type error.
type Payload map[string]any

// Number returns the numeric value at key.
func (p Payload) Number(key string) (float64, bool) {
	return toNumber(p[key])
}

// Float returns the numeric value at key, or 0.
func (p Payload) Float(key string) float64 {
	v, _ := p.Number(key)
	return v
}

// Numbers returns the numeric elements of the array at key. Non-numeric
// elements are skipped.
func (p Payload) Numbers(key string) ([]float64, bool) {
	arr, ok := p[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		if v, ok := toNumber(item); ok {
			out = append(out, v)
		}
	}
	return out, true
}

// Object returns the nested object at key. JSON null is reported as absent.
func (p Payload) Object(key string) (Payload, bool) {
	obj, ok := p[key].(map[string]any)
	if !ok || obj == nil {
		return nil, false
	}
	return Payload(obj), true
}

// String returns the string at key.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Bool returns the boolean at key.
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// PumpSide is the chamber routing of one frame.
type PumpSide int

const (
	SideNone PumpSide = iota
	SideLeft
	SideRight
	SideAll
)

func (s PumpSide) String() string {
	switch s {
	case SideLeft:
		return "Left"
	case SideRight:
		return "Right"
	case SideAll:
		return "All"
	default:
		return "None"
	}
}

// ParsePumpSide reads the pumpSide field. Unknown values route like an absent field.
func ParsePumpSide(p Payload) PumpSide {
	s, ok := p.String("pumpSide")
	if !ok {
		return SideNone
	}
	switch {
	case strings.EqualFold(s, "Left"):
		return SideLeft
	case strings.EqualFold(s, "Right"):
		return SideRight
	case strings.EqualFold(s, "All"):
		return SideAll
	default:
		return SideNone
	}
}
