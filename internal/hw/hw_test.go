package hw

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimLineLifecycle(t *testing.T) {
	s := NewSim()

	require.NoError(t, s.ConfigureLine(17, Output, High))
	level, err := s.ReadLine(17)
	require.NoError(t, err)
	assert.Equal(t, High, level)

	require.NoError(t, s.WriteLine(17, Low))
	level, err = s.ReadLine(17)
	require.NoError(t, err)
	assert.Equal(t, Low, level)

	_, err = s.ReadLine(99)
	assert.ErrorIs(t, err, ErrHardwareUnavailable)

	require.NoError(t, s.ConfigureLine(4, Input, Low))
	err = s.WriteLine(4, High)
	assert.ErrorIs(t, err, ErrBusError)
}

func TestSimReconfigureKeepsInputLevel(t *testing.T) {
	s := NewSim()
	require.NoError(t, s.ConfigureLine(22, Output, High))
	require.NoError(t, s.ConfigureLine(22, Input, Low))

	level, err := s.ReadLine(22)
	require.NoError(t, err)
	assert.Equal(t, High, level, "input reconfiguration must not drive the line")
}

func TestSimI2CMissingDevice(t *testing.T) {
	s := NewSim()
	_, err := s.I2CRead(context.Background(), 0x44, 0x02, 2)
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
}

func TestSimINA260Registers(t *testing.T) {
	dev := NewSimINA260(12.0, 1.25)

	raw, err := dev.ReadReg(0x02, 2)
	require.NoError(t, err)
	voltage := float64(binary.BigEndian.Uint16(raw)) * 1.25e-3
	assert.InDelta(t, 12.0, voltage, 0.01)

	raw, err = dev.ReadReg(0x01, 2)
	require.NoError(t, err)
	current := float64(int16(binary.BigEndian.Uint16(raw))) * 1.25e-3
	assert.InDelta(t, 1.25, current, 0.01)

	_, err = dev.ReadReg(0x7F, 2)
	assert.ErrorIs(t, err, ErrBusError)
}

func TestSimSHT30FrameChecksums(t *testing.T) {
	dev := NewSimSHT30(21.5, 40.0)

	raw, err := dev.ReadReg(0x00, 6)
	require.NoError(t, err)
	require.Len(t, raw, 6)
	assert.Equal(t, simCRC8(raw[0:2]), raw[2])
	assert.Equal(t, simCRC8(raw[3:5]), raw[5])

	rawT := binary.BigEndian.Uint16(raw[0:2])
	temp := float64(rawT)/65535*175 - 45
	assert.InDelta(t, 21.5, temp, 0.01)
}

func TestWatchdogMissingDevice(t *testing.T) {
	w := NewWatchdog(filepath.Join(t.TempDir(), "missing", "watchdog"))
	assert.ErrorIs(t, w.Arm(), ErrHardwareUnavailable)
}
