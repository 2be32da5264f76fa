// Package command is the seam between the HTTP layer and the core: every
// caller-initiated operation crosses it as a typed command with a bounded
// deadline, and component-level failures are converted into the daemon's
// error taxonomy before they reach a handler.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/hw"
	"github.com/openpdu/powerd/internal/latch"
	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
	"github.com/openpdu/powerd/internal/relay"
	"github.com/openpdu/powerd/internal/rules"
	"github.com/openpdu/powerd/internal/validate"
)

// Deadlines by command class.
const (
	HardwareDeadline = 10 * time.Second
	ConfigDeadline   = 30 * time.Second
)

// Error taxonomy. Handlers map these to HTTP status codes; nothing below
// the bus is allowed to leak component error types to the API.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrHardware   = errors.New("hardware error")
	ErrBackend    = errors.New("backend unavailable")
	ErrTimeout    = errors.New("command timed out")
)

// Bus dispatches typed commands to the owning component.
type Bus struct {
	relays   *relay.Authority
	manager  *config.Manager
	engine   *rules.Engine
	rebooter rules.Rebooter
	store    latch.Store
	logger   zerolog.Logger
}

// New wires the bus to its targets.
func New(relays *relay.Authority, manager *config.Manager, engine *rules.Engine, rebooter rules.Rebooter, store latch.Store) *Bus {
	return &Bus{
		relays:   relays,
		manager:  manager,
		engine:   engine,
		rebooter: rebooter,
		store:    store,
		logger:   log.WithComponent("command"),
	}
}

// execute runs fn with a deadline. The deadline is enforced on the awaiting
// side: a late completion is logged but the caller has already been told
// the outcome is unknown.
func (b *Bus) execute(ctx context.Context, kind string, deadline time.Duration, fn func() error) error {
	id := uuid.NewString()
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = fmt.Errorf("%w: %s after %s", ErrTimeout, kind, deadline)
		go func() {
			if lateErr := <-done; lateErr != nil {
				b.logger.Warn().Err(lateErr).
					Str(log.FieldCommandID, id).
					Str("kind", kind).
					Msg("command failed after deadline")
			}
		}()
	}

	metrics.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	evt := b.logger.Debug()
	if err != nil {
		evt = b.logger.Warn().Err(err)
	}
	evt.Str(log.FieldCommandID, id).
		Str("kind", kind).
		Dur("elapsed", time.Since(start)).
		Msg("command completed")
	return err
}

// classify converts component-level errors into the taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrHardware),
		errors.Is(err, ErrBackend):
		return err
	case errors.Is(err, relay.ErrUnknownRelay), errors.Is(err, config.ErrUnknownSection):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, relay.ErrRelayDisabled):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, hw.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, hw.ErrHardwareUnavailable), errors.Is(err, hw.ErrBusError), errors.Is(err, relay.ErrStateMismatch):
		return fmt.Errorf("%w: %v", ErrHardware, err)
	default:
		var verr validate.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
}

// RelayOn switches a relay on.
func (b *Bus) RelayOn(ctx context.Context, id string) (relay.Result, error) {
	var res relay.Result
	err := b.execute(ctx, "relay_on", HardwareDeadline, func() error {
		var err error
		res, err = b.relays.TurnOn(id)
		return err
	})
	return res, classify(err)
}

// RelayOff switches a relay off.
func (b *Bus) RelayOff(ctx context.Context, id string) (relay.Result, error) {
	var res relay.Result
	err := b.execute(ctx, "relay_off", HardwareDeadline, func() error {
		var err error
		res, err = b.relays.TurnOff(id)
		return err
	})
	return res, classify(err)
}

// RelayPulse pulses a relay for its configured pulse time.
func (b *Bus) RelayPulse(ctx context.Context, id string) (relay.PulseResult, error) {
	var res relay.PulseResult
	err := b.execute(ctx, "relay_pulse", HardwareDeadline, func() error {
		cfg, err := b.relays.Config(id)
		if err != nil {
			return err
		}
		res, err = b.relays.Pulse(id, time.Duration(cfg.PulseTime)*time.Second)
		return err
	})
	return res, classify(err)
}

// RelayStates returns the logical state of the given relays (all when ids
// is empty).
func (b *Bus) RelayStates(ctx context.Context, ids []string) (map[string]relay.State, error) {
	states, err := b.relays.GetAll(ids)
	return states, classify(err)
}

// EnabledRelayStates returns the state of enabled relays only.
func (b *Bus) EnabledRelayStates(ctx context.Context) (map[string]relay.State, error) {
	doc := b.manager.Get()
	var ids []string
	for _, r := range doc.Relays {
		if r.Enabled {
			ids = append(ids, r.ID)
		}
	}
	states, err := b.relays.GetAll(ids)
	return states, classify(err)
}

// RuleStatuses returns every rule with latch state and timestamps.
func (b *Bus) RuleStatuses(ctx context.Context) ([]rules.RuleStatus, error) {
	statuses, err := b.engine.Status(ctx)
	return statuses, classify(err)
}

// UpdateConfig replaces the full document.
func (b *Bus) UpdateConfig(ctx context.Context, doc config.Document) (config.Document, error) {
	err := b.execute(ctx, "config_update", ConfigDeadline, func() error {
		return b.manager.UpdateFull(doc)
	})
	if err != nil {
		return config.Document{}, classify(err)
	}
	return b.manager.Get(), nil
}

// UpdateConfigSection replaces one section of the custom document.
func (b *Bus) UpdateConfigSection(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	err := b.execute(ctx, "config_update_section", ConfigDeadline, func() error {
		return b.manager.UpdateSection(name, raw)
	})
	if err != nil {
		return nil, classify(err)
	}
	section, err := b.manager.Section(name)
	return section, classify(err)
}

// RevertConfig restores the default configuration.
func (b *Bus) RevertConfig(ctx context.Context) (config.Document, error) {
	err := b.execute(ctx, "config_revert", ConfigDeadline, func() error {
		return b.manager.RevertToDefaults()
	})
	if err != nil {
		return config.Document{}, classify(err)
	}
	return b.manager.Get(), nil
}

// Reboot initiates the supervised reboot through the debounce key.
func (b *Bus) Reboot(ctx context.Context) error {
	err := b.execute(ctx, "reboot", HardwareDeadline, func() error {
		won, err := b.store.TryScheduleReboot(ctx)
		if err != nil {
			return err
		}
		if !won {
			b.logger.Info().Str(log.FieldEvent, "command.reboot_debounced").Msg("reboot already scheduled")
			return nil
		}
		return b.rebooter.Reboot()
	})
	return classify(err)
}
