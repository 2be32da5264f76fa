package hw

import (
	"fmt"
	"os"

	"github.com/openpdu/powerd/internal/log"
)

// Watchdog arms the kernel watchdog device to force a supervised reboot.
// Writing to the device starts the countdown; a process that closes the
// handle without the magic character leaves the countdown running, so the
// system reboots once the timeout expires. That one-shot contract is what
// the reboot action relies on.
type Watchdog struct {
	path string
}

// NewWatchdog returns a watchdog bound to the given device file
// (typically /dev/watchdog).
func NewWatchdog(path string) *Watchdog {
	return &Watchdog{path: path}
}

// Arm opens the device and writes a single byte without the magic close,
// committing the system to a reboot. There is deliberately no disarm.
func (w *Watchdog) Arm() error {
	logger := log.WithComponent("watchdog")

	f, err := os.OpenFile(w.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open watchdog %s: %v", ErrHardwareUnavailable, w.path, err)
	}
	if _, err := f.Write([]byte{'1'}); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: arm watchdog: %v", ErrBusError, err)
	}
	// Close without writing 'V': the kernel keeps the countdown running.
	if err := f.Close(); err != nil {
		logger.Warn().Err(err).Msg("watchdog close after arm")
	}

	logger.Warn().Str(log.FieldEvent, "watchdog.armed").Msg("system reboot committed")
	return nil
}

// Reboot satisfies the reboot hooks of the upper layers.
func (w *Watchdog) Reboot() error { return w.Arm() }
