package hw

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-memory hardware backend. It backs the daemon when no GPIO
// chip is present (development hosts) and every test that exercises relay or
// sensor paths. I²C registers are provided by pluggable device functions so
// tests can model sensors at arbitrary addresses.
type Sim struct {
	mu      sync.Mutex
	lines   map[int]*simLine
	devices map[uint16]SimDevice
	closed  bool
}

type simLine struct {
	dir   Direction
	level Level
}

// SimDevice models one I²C peripheral for the simulated bus.
type SimDevice interface {
	ReadReg(reg byte, length int) ([]byte, error)
	WriteReg(reg byte, data []byte) error
}

// NewSim returns an empty simulated backend.
func NewSim() *Sim {
	return &Sim{
		lines:   make(map[int]*simLine),
		devices: make(map[uint16]SimDevice),
	}
}

// AttachDevice registers a simulated I²C device at addr.
func (s *Sim) AttachDevice(addr uint16, dev SimDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[addr] = dev
}

func (s *Sim) ConfigureLine(line int, dir Direction, initial Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrHardwareUnavailable
	}
	// Reconfiguring as input must not disturb the line: only outputs drive
	// the initial level, matching real hardware.
	if l, ok := s.lines[line]; ok {
		l.dir = dir
		if dir == Output {
			l.level = initial
		}
		return nil
	}
	s.lines[line] = &simLine{dir: dir, level: initial}
	return nil
}

func (s *Sim) WriteLine(line int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[line]
	if !ok {
		return fmt.Errorf("%w: gpio line %d not configured", ErrHardwareUnavailable, line)
	}
	if l.dir != Output {
		return fmt.Errorf("%w: gpio line %d is not an output", ErrBusError, line)
	}
	l.level = level
	return nil
}

func (s *Sim) ReadLine(line int) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[line]
	if !ok {
		return Low, fmt.Errorf("%w: gpio line %d not configured", ErrHardwareUnavailable, line)
	}
	return l.level, nil
}

func (s *Sim) I2CRead(ctx context.Context, addr uint16, reg byte, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	s.mu.Lock()
	dev, ok := s.devices[addr]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no device at addr %#x", ErrHardwareUnavailable, addr)
	}
	return dev.ReadReg(reg, length)
}

func (s *Sim) I2CWrite(ctx context.Context, addr uint16, reg byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	s.mu.Lock()
	dev, ok := s.devices[addr]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no device at addr %#x", ErrHardwareUnavailable, addr)
	}
	return dev.WriteReg(reg, data)
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
