package device

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransport is returned when a register transfer fails.
	// It is always recoverable: the caller keeps its last known value.
	ErrTransport = errors.New("device: register transfer failed")

	// ErrInitialization is returned when the ADC cannot be opened or configured at startup
	ErrInitialization = errors.New("device: initialization failed")
)
