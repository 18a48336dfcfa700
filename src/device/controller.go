package device

import (
	"fmt"

	"github.com/dumacp/volt-i2c/src/register"
)

// RegisterIO performs single SMBus-style register transactions.
// Word values are logical values; byte order on the wire is the implementation's concern.
type RegisterIO interface {
	ReadWordData(reg byte) (uint16, error)
	WriteWordData(reg byte, value uint16) error
	ReadByteData(reg byte) (byte, error)
	WriteByteData(reg byte, value byte) error
}

// Controller exposes the ADC's registers as semantic operations.
//
// A Controller and its RegisterIO have a single owner: the monitor loop.
// No method is safe for concurrent use, and none needs to be.
type Controller struct {
	io RegisterIO
}

// Settings are written to the ADC once at startup
type Settings struct {
	Flags      register.Flags
	UnderRange float32
	OverRange  float32
	Hysteresis float32
}

// Dump is a raw snapshot of every register
type Dump struct {
	Value      uint16
	Status     byte
	Config     byte
	UnderRange uint16
	OverRange  uint16
	Hysteresis uint16
	Min        uint16
	Max        uint16
}

// New creates a Controller over io
func New(io RegisterIO) *Controller {
	return &Controller{io: io}
}

// Initialize writes the configuration, thresholds and hysteresis.
// Any failure is wrapped in ErrInitialization.
func (c *Controller) Initialize(s Settings) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"configure", func() error { return c.Configure(s.Flags) }},
		{"over range", func() error { return c.SetOverRange(s.OverRange) }},
		{"under range", func() error { return c.SetUnderRange(s.UnderRange) }},
		{"hysteresis", func() error { return c.SetHysteresis(s.Hysteresis) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInitialization, step.name, err)
		}
	}
	return nil
}

// Configure writes the configuration register and then acknowledges any latched alerts
func (c *Controller) Configure(flags register.Flags) error {
	if err := c.writeByte(register.RegConfig, byte(flags)); err != nil {
		return err
	}
	return c.writeByte(register.RegStatus, register.ClearBoth)
}

// SetUnderRange writes the under-range alert threshold
func (c *Controller) SetUnderRange(volts float32) error {
	return c.writeVolts(register.RegUnderRange, volts)
}

// SetOverRange writes the over-range alert threshold
func (c *Controller) SetOverRange(volts float32) error {
	return c.writeVolts(register.RegOverRange, volts)
}

// SetHysteresis writes the ADC's alert hysteresis
func (c *Controller) SetHysteresis(volts float32) error {
	return c.writeVolts(register.RegHysteresis, volts)
}

// ReadCurrent returns the current value and whether an alert is latched
func (c *Controller) ReadCurrent() (float32, bool, error) {
	raw, err := c.readWord(register.RegValue)
	if err != nil {
		return 0, false, err
	}
	volts, alert := register.Decode(raw)
	return volts, alert, nil
}

// ReadMin returns the min watermark
func (c *Controller) ReadMin() (float32, error) {
	return c.readVolts(register.RegMin)
}

// ReadMax returns the max watermark
func (c *Controller) ReadMax() (float32, error) {
	return c.readVolts(register.RegMax)
}

// WriteMin overwrites the min watermark
func (c *Controller) WriteMin(volts float32) error {
	return c.writeVolts(register.RegMin, volts)
}

// WriteMax overwrites the max watermark
func (c *Controller) WriteMax(volts float32) error {
	return c.writeVolts(register.RegMax, volts)
}

// ReadAlertFlags returns the latched over and under alert bits of the status register
func (c *Controller) ReadAlertFlags() (over, under bool, err error) {
	status, err := c.readByte(register.RegStatus)
	if err != nil {
		return false, false, err
	}
	over = status&register.StatusOverLatched != 0
	under = status&register.StatusUnderLatched != 0
	return over, under, nil
}

// ClearAlerts acknowledges both latched alerts
func (c *Controller) ClearAlerts() error {
	return c.writeByte(register.RegStatus, register.ClearBoth)
}

// ClearOver acknowledges the over-range alert
func (c *Controller) ClearOver() error {
	return c.writeByte(register.RegStatus, register.ClearOver)
}

// ClearUnder acknowledges the under-range alert
func (c *Controller) ClearUnder() error {
	return c.writeByte(register.RegStatus, register.ClearUnder)
}

// DumpRegisters reads every register. It stops at the first failure.
func (c *Controller) DumpRegisters() (Dump, error) {
	var d Dump
	var err error

	words := []struct {
		reg byte
		dst *uint16
	}{
		{register.RegValue, &d.Value},
		{register.RegUnderRange, &d.UnderRange},
		{register.RegOverRange, &d.OverRange},
		{register.RegHysteresis, &d.Hysteresis},
		{register.RegMin, &d.Min},
		{register.RegMax, &d.Max},
	}
	for _, w := range words {
		if *w.dst, err = c.readWord(w.reg); err != nil {
			return d, err
		}
	}
	if d.Status, err = c.readByte(register.RegStatus); err != nil {
		return d, err
	}
	if d.Config, err = c.readByte(register.RegConfig); err != nil {
		return d, err
	}
	return d, nil
}

func (c *Controller) readVolts(reg byte) (float32, error) {
	raw, err := c.readWord(reg)
	if err != nil {
		return 0, err
	}
	volts, _ := register.Decode(raw)
	return volts, nil
}

func (c *Controller) writeVolts(reg byte, volts float32) error {
	return c.writeWord(reg, register.Encode(volts))
}

func (c *Controller) readWord(reg byte) (uint16, error) {
	v, err := c.io.ReadWordData(reg)
	if err != nil {
		return 0, fmt.Errorf("%w: read word 0x%02X: %w", ErrTransport, reg, err)
	}
	return v, nil
}

func (c *Controller) writeWord(reg byte, v uint16) error {
	if err := c.io.WriteWordData(reg, v); err != nil {
		return fmt.Errorf("%w: write word 0x%02X: %w", ErrTransport, reg, err)
	}
	return nil
}

func (c *Controller) readByte(reg byte) (byte, error) {
	v, err := c.io.ReadByteData(reg)
	if err != nil {
		return 0, fmt.Errorf("%w: read byte 0x%02X: %w", ErrTransport, reg, err)
	}
	return v, nil
}

func (c *Controller) writeByte(reg byte, v byte) error {
	if err := c.io.WriteByteData(reg, v); err != nil {
		return fmt.Errorf("%w: write byte 0x%02X: %w", ErrTransport, reg, err)
	}
	return nil
}
