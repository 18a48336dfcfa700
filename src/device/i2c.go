package device

import (
	"encoding/binary"
	"fmt"

	"github.com/reef-pi/rpi/i2c"
)

// I2C is a RegisterIO over a Linux I2C bus. Words travel most significant byte first.
type I2C struct {
	bus  i2c.Bus
	addr byte
}

// OpenI2C opens /dev/i2c-<busNumber> and talks to the slave at addr
func OpenI2C(busNumber byte, addr byte) (*I2C, error) {
	bus, err := i2c.NewBus(busNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: open /dev/i2c-%d: %w", ErrInitialization, busNumber, err)
	}
	return &I2C{bus: bus, addr: addr}, nil
}

// NewI2C wraps an already opened bus
func NewI2C(bus i2c.Bus, addr byte) *I2C {
	return &I2C{bus: bus, addr: addr}
}

// ReadWordData reads the word at reg
func (d *I2C) ReadWordData(reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.bus.ReadFromReg(d.addr, reg, buf); err != nil {
		return 0, err
	}
	return wordFromWire(buf), nil
}

// WriteWordData writes value to reg
func (d *I2C) WriteWordData(reg byte, value uint16) error {
	return d.bus.WriteToReg(d.addr, reg, wordToWire(value))
}

// ReadByteData reads the byte at reg
func (d *I2C) ReadByteData(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := d.bus.ReadFromReg(d.addr, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteByteData writes value to reg
func (d *I2C) WriteByteData(reg byte, value byte) error {
	return d.bus.WriteToReg(d.addr, reg, []byte{value})
}

// Close releases the bus file
func (d *I2C) Close() error {
	return d.bus.Close()
}

func wordToWire(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func wordFromWire(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}
