package sensor

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/openpdu/powerd/internal/hw"
)

// INA260 register map.
const (
	ina260RegCurrent = 0x01
	ina260RegVoltage = 0x02
	ina260RegPower   = 0x03
)

// INA260 LSB weights per datasheet.
const (
	ina260CurrentLSB = 1.25e-3 // A
	ina260VoltageLSB = 1.25e-3 // V
	ina260PowerLSB   = 10e-3   // W
)

// INA260 reads one TI INA260 power monitor: bus voltage, current and power
// for a single rail.
type INA260 struct {
	id   string
	addr uint16
	hw   hw.Interface
}

// NewINA260 binds a driver to the monitor at addr.
func NewINA260(id string, addr uint16, hardware hw.Interface) *INA260 {
	return &INA260{id: id, addr: addr, hw: hardware}
}

func (s *INA260) ID() string { return s.id }

// Read samples the three measurement registers. Current is signed: the
// monitor reports negative values when the rail back-feeds.
func (s *INA260) Read(ctx context.Context) (map[string]float64, error) {
	current, err := s.readReg(ctx, ina260RegCurrent)
	if err != nil {
		return nil, fmt.Errorf("ina260 %s current: %w", s.id, err)
	}
	voltage, err := s.readReg(ctx, ina260RegVoltage)
	if err != nil {
		return nil, fmt.Errorf("ina260 %s voltage: %w", s.id, err)
	}
	power, err := s.readReg(ctx, ina260RegPower)
	if err != nil {
		return nil, fmt.Errorf("ina260 %s power: %w", s.id, err)
	}

	return map[string]float64{
		"voltage": float64(voltage) * ina260VoltageLSB,
		"current": float64(int16(current)) * ina260CurrentLSB,
		"power":   float64(power) * ina260PowerLSB,
	}, nil
}

func (s *INA260) readReg(ctx context.Context, reg byte) (uint16, error) {
	buf, err := s.hw.I2CRead(ctx, s.addr, reg, 2)
	if err != nil {
		return 0, err
	}
	if len(buf) != 2 {
		return 0, fmt.Errorf("short read: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint16(buf), nil
}
