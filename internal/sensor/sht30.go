package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/openpdu/powerd/internal/hw"
)

// SHT30 single-shot measurement command, high repeatability.
const (
	sht30CmdMeasure     = 0x2C
	sht30CmdMeasureArg  = 0x06
	sht30MeasureLatency = 16 * time.Millisecond
)

// SHT30 reads one Sensirion SHT30 temperature/humidity sensor.
type SHT30 struct {
	id   string
	addr uint16
	hw   hw.Interface
}

// NewSHT30 binds a driver to the sensor at addr.
func NewSHT30(id string, addr uint16, hardware hw.Interface) *SHT30 {
	return &SHT30{id: id, addr: addr, hw: hardware}
}

func (s *SHT30) ID() string { return s.id }

// Read issues a single-shot measurement, waits out the conversion latency
// and decodes the 6-byte response (temp word, CRC, humidity word, CRC).
func (s *SHT30) Read(ctx context.Context) (map[string]float64, error) {
	if err := s.hw.I2CWrite(ctx, s.addr, sht30CmdMeasure, []byte{sht30CmdMeasureArg}); err != nil {
		return nil, fmt.Errorf("sht30 %s measure: %w", s.id, err)
	}

	select {
	case <-time.After(sht30MeasureLatency):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: sht30 %s conversion: %v", hw.ErrTimeout, s.id, ctx.Err())
	}

	buf, err := s.hw.I2CRead(ctx, s.addr, 0x00, 6)
	if err != nil {
		return nil, fmt.Errorf("sht30 %s read: %w", s.id, err)
	}
	if len(buf) != 6 {
		return nil, fmt.Errorf("sht30 %s: short read: %d bytes", s.id, len(buf))
	}
	if crc8(buf[0:2]) != buf[2] {
		return nil, fmt.Errorf("%w: sht30 %s temperature crc", hw.ErrBusError, s.id)
	}
	if crc8(buf[3:5]) != buf[5] {
		return nil, fmt.Errorf("%w: sht30 %s humidity crc", hw.ErrBusError, s.id)
	}

	rawT := uint16(buf[0])<<8 | uint16(buf[1])
	rawH := uint16(buf[3])<<8 | uint16(buf[4])

	return map[string]float64{
		"temperature": -45 + 175*float64(rawT)/65535,
		"humidity":    100 * float64(rawH) / 65535,
	}, nil
}

// crc8 is the SHT3x checksum: polynomial 0x31, init 0xFF.
func crc8(data []byte) byte {
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
