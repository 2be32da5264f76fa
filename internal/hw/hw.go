// Package hw owns the GPIO chip and the I²C bus. It is the only package
// that touches physical I/O; everything above it speaks logical values.
package hw

import (
	"context"
	"errors"
)

// Level is a physical GPIO level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Direction configures a GPIO line.
type Direction int

const (
	Input Direction = iota
	Output
)

// Sentinel errors for the component-level taxonomy. Callers classify with
// errors.Is and must not depend on message text.
var (
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	ErrBusError            = errors.New("bus error")
	ErrTimeout             = errors.New("hardware timeout")
)

// Interface is the hardware access contract. Operations are synchronous and
// internally serialized per physical resource: one in-flight access per GPIO
// line and per I²C bus. Callers must not hold cross-component locks across
// these calls.
type Interface interface {
	// ConfigureLine claims a GPIO line as input or output. For outputs the
	// initial level is driven immediately.
	ConfigureLine(line int, dir Direction, initial Level) error

	// WriteLine drives a previously configured output line.
	WriteLine(line int, level Level) error

	// ReadLine samples the current level of a configured line.
	ReadLine(line int) (Level, error)

	// I2CRead reads length bytes starting at register reg of the device at addr.
	I2CRead(ctx context.Context, addr uint16, reg byte, length int) ([]byte, error)

	// I2CWrite writes data to register reg of the device at addr.
	I2CWrite(ctx context.Context, addr uint16, reg byte, data []byte) error

	// Close releases all claimed lines and bus handles.
	Close() error
}
