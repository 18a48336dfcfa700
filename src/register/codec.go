package register

import "math"

// Scale is the resolution of one magnitude step in volts
const Scale = 0.016

const (
	// MagnitudeMask selects the 12-bit magnitude field of a register word
	MagnitudeMask uint16 = 0x0FFF
	// AlertBit is set in the value register while an alert is latched
	AlertBit uint16 = 0x8000
)

// MaxVolts is the largest value a 12-bit register word can hold
const MaxVolts = float32(MagnitudeMask) * Scale

// Encode converts volts into a register word.
// Values outside [0, MaxVolts] are not clamped: the step count wraps modulo 4096.
// Callers validate ranges before writing thresholds or watermarks.
func Encode(volts float32) uint16 {
	steps := math.Round(float64(volts) / Scale)
	return uint16(int64(steps)) & MagnitudeMask
}

// Decode converts a register word into volts and its alert flag
func Decode(raw uint16) (float32, bool) {
	return float32(Magnitude(raw)) * Scale, AlertFlag(raw)
}

// Magnitude returns the 12-bit magnitude field of raw
func Magnitude(raw uint16) uint16 {
	return raw & MagnitudeMask
}

// AlertFlag reports whether bit 15 of raw is set
func AlertFlag(raw uint16) bool {
	return raw&AlertBit == AlertBit
}
