package register

import "strings"

// Register addresses of the ADC
const (
	RegValue      byte = 0x00 // word: current value, alert flag in bit 15
	RegStatus     byte = 0x01 // byte: latched alerts, write to clear
	RegConfig     byte = 0x02 // byte: Flags
	RegUnderRange byte = 0x03 // word
	RegOverRange  byte = 0x04 // word
	RegHysteresis byte = 0x05 // word
	RegMin        byte = 0x06 // word: lowest value seen
	RegMax        byte = 0x07 // word: highest value seen
)

// DefaultAddress is the 7-bit I2C slave address of the ADC
const DefaultAddress byte = 0x54

// Status register bits
const (
	StatusUnderLatched byte = 0x01
	StatusOverLatched  byte = 0x02
)

// Values written to the status register to acknowledge latched alerts
const (
	ClearUnder byte = 0x01
	ClearOver  byte = 0x02
	ClearBoth  byte = 0x03
)

// Flags is the content of the configuration register
type Flags byte

const (
	FlagPolarity        Flags = 0x01
	FlagAlertPinEnable  Flags = 0x04
	FlagAlertFlagEnable Flags = 0x08
	FlagAlertHold       Flags = 0x10
	FlagCycle32         Flags = 0x20
)

// DefaultFlags enables the alert flag and pin with 32-step conversion cycles
const DefaultFlags = FlagAlertFlagEnable | FlagAlertPinEnable | FlagCycle32

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagAlertHold, "hold"},
	{FlagAlertFlagEnable, "flag"},
	{FlagAlertPinEnable, "pin"},
	{FlagPolarity, "polarity"},
	{FlagCycle32, "cycle32"},
}

// Has reports whether every bit of f2 is set in f
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// String lists the names of the set flags, e.g. "flag|pin|cycle32"
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseFlags parses a "|" or "," separated list of flag names
func ParseFlags(s string) (Flags, bool) {
	var f Flags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "none" || part == "" {
			continue
		}
		found := false
		for _, fn := range flagNames {
			if fn.name == part {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}
