package hw

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/openpdu/powerd/internal/log"
)

// Periph drives real hardware through periph.io. One claimedLine per GPIO
// line carries its own mutex; the I²C bus carries a single bus mutex.
type Periph struct {
	busName string
	logger  zerolog.Logger

	linesMu sync.Mutex // guards the lines map, not the lines themselves
	lines   map[int]*claimedLine

	busMu sync.Mutex
	bus   i2c.BusCloser
}

type claimedLine struct {
	mu  sync.Mutex
	pin gpio.PinIO
	dir Direction
}

// NewPeriph initializes the periph host drivers and opens the named I²C bus
// (empty string selects the first available bus). Failure to initialize the
// host or open the bus means the device is not usable and is fatal to the
// caller by contract.
func NewPeriph(busName string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: init periph host: %v", ErrHardwareUnavailable, err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: open i2c bus %q: %v", ErrHardwareUnavailable, busName, err)
	}
	return &Periph{
		busName: busName,
		logger:  log.WithComponent("hw"),
		lines:   make(map[int]*claimedLine),
		bus:     bus,
	}, nil
}

func (p *Periph) line(line int) (*claimedLine, error) {
	p.linesMu.Lock()
	defer p.linesMu.Unlock()
	cl, ok := p.lines[line]
	if !ok {
		return nil, fmt.Errorf("%w: gpio line %d not configured", ErrHardwareUnavailable, line)
	}
	return cl, nil
}

// ConfigureLine claims the line by name (GPIOnn) and drives the initial level
// for outputs.
func (p *Periph) ConfigureLine(line int, dir Direction, initial Level) error {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", line))
	if pin == nil {
		return fmt.Errorf("%w: gpio line %d not found", ErrHardwareUnavailable, line)
	}

	cl := &claimedLine{pin: pin, dir: dir}
	switch dir {
	case Output:
		if err := pin.Out(gpio.Level(initial)); err != nil {
			return fmt.Errorf("%w: configure gpio %d as output: %v", ErrBusError, line, err)
		}
	case Input:
		if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("%w: configure gpio %d as input: %v", ErrBusError, line, err)
		}
	}

	p.linesMu.Lock()
	p.lines[line] = cl
	p.linesMu.Unlock()

	p.logger.Debug().
		Int(log.FieldGPIOLine, line).
		Str("direction", map[Direction]string{Input: "in", Output: "out"}[dir]).
		Str("initial", initial.String()).
		Msg("gpio line configured")
	return nil
}

func (p *Periph) WriteLine(line int, level Level) error {
	cl, err := p.line(line)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.dir != Output {
		return fmt.Errorf("%w: gpio line %d is not an output", ErrBusError, line)
	}
	if err := cl.pin.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("%w: write gpio %d: %v", ErrBusError, line, err)
	}
	return nil
}

func (p *Periph) ReadLine(line int) (Level, error) {
	cl, err := p.line(line)
	if err != nil {
		return Low, err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return Level(cl.pin.Read()), nil
}

func (p *Periph) I2CRead(ctx context.Context, addr uint16, reg byte, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	p.busMu.Lock()
	defer p.busMu.Unlock()

	dev := i2c.Dev{Bus: p.bus, Addr: addr}
	buf := make([]byte, length)
	if err := dev.Tx([]byte{reg}, buf); err != nil {
		return nil, fmt.Errorf("%w: i2c read addr=%#x reg=%#x: %v", ErrBusError, addr, reg, err)
	}
	return buf, nil
}

func (p *Periph) I2CWrite(ctx context.Context, addr uint16, reg byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	p.busMu.Lock()
	defer p.busMu.Unlock()

	dev := i2c.Dev{Bus: p.bus, Addr: addr}
	if err := dev.Tx(append([]byte{reg}, data...), nil); err != nil {
		return fmt.Errorf("%w: i2c write addr=%#x reg=%#x: %v", ErrBusError, addr, reg, err)
	}
	return nil
}

// Close releases the bus. GPIO lines are left in their last driven state so a
// daemon restart does not glitch the relays.
func (p *Periph) Close() error {
	p.busMu.Lock()
	defer p.busMu.Unlock()
	if p.bus != nil {
		err := p.bus.Close()
		p.bus = nil
		return err
	}
	return nil
}
