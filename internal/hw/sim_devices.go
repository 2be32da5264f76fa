package hw

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// SimINA260 models a power monitor on the simulated bus reporting fixed
// readings. Dev instances attach one per rail so the poller has something
// to sample.
type SimINA260 struct {
	mu      sync.Mutex
	voltage float64 // V
	current float64 // A
}

// NewSimINA260 returns a monitor reporting the given rail voltage and
// current; power is derived.
func NewSimINA260(voltage, current float64) *SimINA260 {
	return &SimINA260{voltage: voltage, current: current}
}

// Set updates the simulated readings.
func (d *SimINA260) Set(voltage, current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voltage = voltage
	d.current = current
}

func (d *SimINA260) ReadReg(reg byte, length int) ([]byte, error) {
	d.mu.Lock()
	voltage, current := d.voltage, d.current
	d.mu.Unlock()

	var raw uint16
	switch reg {
	case 0x01:
		raw = uint16(int16(current / 1.25e-3))
	case 0x02:
		raw = uint16(voltage / 1.25e-3)
	case 0x03:
		raw = uint16(voltage * current / 10e-3)
	default:
		return nil, fmt.Errorf("%w: ina260 register %#x", ErrBusError, reg)
	}

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, raw)
	return buf, nil
}

func (d *SimINA260) WriteReg(reg byte, data []byte) error { return nil }

// SimSHT30 models the environmental sensor with fixed readings.
type SimSHT30 struct {
	mu       sync.Mutex
	tempC    float64
	humidity float64
}

// NewSimSHT30 returns a sensor reporting the given temperature (C) and
// relative humidity (%).
func NewSimSHT30(tempC, humidity float64) *SimSHT30 {
	return &SimSHT30{tempC: tempC, humidity: humidity}
}

// Set updates the simulated readings.
func (d *SimSHT30) Set(tempC, humidity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempC = tempC
	d.humidity = humidity
}

func (d *SimSHT30) ReadReg(reg byte, length int) ([]byte, error) {
	d.mu.Lock()
	tempC, humidity := d.tempC, d.humidity
	d.mu.Unlock()

	rawT := uint16((tempC + 45) / 175 * 65535)
	rawH := uint16(humidity / 100 * 65535)

	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], rawT)
	buf[2] = simCRC8(buf[0:2])
	binary.BigEndian.PutUint16(buf[3:5], rawH)
	buf[5] = simCRC8(buf[3:5])
	return buf, nil
}

// WriteReg accepts the single-shot measurement command.
func (d *SimSHT30) WriteReg(reg byte, data []byte) error { return nil }

// simCRC8 is the SHT3x checksum: polynomial 0x31, init 0xFF.
func simCRC8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
