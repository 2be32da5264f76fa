// Package relay is the single-writer authority for every switched output.
// All relay mutations pass through here: callers speak logical ON/OFF and
// the authority owns the wiring-polarity translation, the per-relay gate
// and the cached logical state.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/hw"
	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
)

var (
	// ErrUnknownRelay is returned for ids outside the configured set.
	ErrUnknownRelay = errors.New("unknown relay")
	// ErrRelayDisabled is returned for mutations against a disabled relay.
	ErrRelayDisabled = errors.New("relay disabled")
	// ErrStateMismatch is returned when the read-back after a write does not
	// match the commanded state.
	ErrStateMismatch = errors.New("relay state mismatch after write")
)

// State is a logical relay state. The wire form is numeric: ON is 1,
// OFF is 0 on every public surface.
type State bool

const (
	On  State = true
	Off State = false
)

func (s State) MarshalJSON() ([]byte, error) {
	if s {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (s *State) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "1", "true":
		*s = On
	case "0", "false":
		*s = Off
	default:
		return fmt.Errorf("invalid relay state %q", b)
	}
	return nil
}

// Result reports the observed logical state after a mutation.
type Result struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

// PulseResult reports a pulse submission: the pre-pulse state and the
// duration after which the restore toggle is scheduled.
type PulseResult struct {
	ID           string
	InitialState State
	Duration     time.Duration
}

// MarshalJSON emits the duration as whole seconds, the unit pulse
// durations are configured and reported in.
func (p PulseResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           string `json:"id"`
		InitialState State  `json:"initial_state"`
		Duration     int    `json:"duration"`
	}{p.ID, p.InitialState, int(p.Duration / time.Second)})
}

// gate serializes all operations against one relay and caches its logical
// state. The cached state is only updated after a confirmed write.
type gate struct {
	mu    sync.Mutex
	cfg   config.Relay
	state bool
}

// Authority owns the relay set. Operations against the same relay
// serialize; operations against different relays run in parallel.
type Authority struct {
	hw     hw.Interface
	logger zerolog.Logger

	mu     sync.RWMutex
	relays map[string]*gate
	order  []string
}

// New builds an authority over the configured relays. Init must be called
// before the first mutation.
func New(hardware hw.Interface, relays []config.Relay) *Authority {
	a := &Authority{
		hw:     hardware,
		logger: log.WithComponent("relay"),
		relays: make(map[string]*gate, len(relays)),
	}
	for _, r := range relays {
		a.relays[r.ID] = &gate{cfg: r}
		a.order = append(a.order, r.ID)
	}
	return a
}

// levelFor translates a logical state into the physical line level for the
// relay's wiring. A normally-open contact closes on HIGH; a normally-closed
// contact closes on LOW.
func levelFor(cfg config.Relay, on bool) hw.Level {
	if cfg.Polarity == config.NormallyClosed {
		return hw.Level(!on)
	}
	return hw.Level(on)
}

// stateFor is the inverse translation: physical level to logical state.
func stateFor(cfg config.Relay, level hw.Level) bool {
	if cfg.Polarity == config.NormallyClosed {
		return !bool(level)
	}
	return bool(level)
}

// Init claims every configured line, reads the current hardware level and
// seeds the state cache from it. Relays with a configured boot_state are
// driven there; all others keep whatever state the hardware is in, so a
// daemon restart does not glitch the outputs.
func (a *Authority) Init() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, id := range a.order {
		g := a.relays[id]
		g.mu.Lock()
		err := a.initLocked(g)
		g.mu.Unlock()
		if err != nil {
			return fmt.Errorf("init relay %s: %w", id, err)
		}
	}
	return nil
}

func (a *Authority) initLocked(g *gate) error {
	// Claim as input first so the read does not disturb the output, then
	// take over as output at the observed level.
	if err := a.hw.ConfigureLine(g.cfg.GPIOLine, hw.Input, hw.Low); err != nil {
		return err
	}
	level, err := a.hw.ReadLine(g.cfg.GPIOLine)
	if err != nil {
		return err
	}
	if err := a.hw.ConfigureLine(g.cfg.GPIOLine, hw.Output, level); err != nil {
		return err
	}
	g.state = stateFor(g.cfg, level)

	if g.cfg.BootState != "" {
		want := g.cfg.BootState == config.StateOn
		if g.state != want {
			if err := a.writeLocked(g, want); err != nil {
				return err
			}
		}
	}

	a.logger.Info().
		Str(log.FieldEvent, "relay.init").
		Str(log.FieldRelayID, g.cfg.ID).
		Int(log.FieldGPIOLine, g.cfg.GPIOLine).
		Bool("state", g.state).
		Msg("relay initialized")
	return nil
}

// writeLocked performs the physical write and read-back verification and
// updates the cached state. Caller holds g.mu.
func (a *Authority) writeLocked(g *gate, on bool) error {
	level := levelFor(g.cfg, on)
	if err := a.hw.WriteLine(g.cfg.GPIOLine, level); err != nil {
		metrics.RelayErrors.WithLabelValues(g.cfg.ID).Inc()
		return err
	}
	observed, err := a.hw.ReadLine(g.cfg.GPIOLine)
	if err != nil {
		metrics.RelayErrors.WithLabelValues(g.cfg.ID).Inc()
		return err
	}
	observedState := stateFor(g.cfg, observed)
	// the cache always tracks what the hardware reports, even on mismatch
	g.state = observedState
	if observed != level {
		metrics.RelayErrors.WithLabelValues(g.cfg.ID).Inc()
		return fmt.Errorf("%w: relay %s commanded %v observed %v",
			ErrStateMismatch, g.cfg.ID, on, observedState)
	}
	metrics.RelaySwitches.WithLabelValues(g.cfg.ID, stateLabel(observedState)).Inc()
	return nil
}

func stateLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (a *Authority) gateFor(id string) (*gate, error) {
	a.mu.RLock()
	g, ok := a.relays[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelay, id)
	}
	return g, nil
}

// set drives the relay to the given logical state.
func (a *Authority) set(id string, on bool) (Result, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.Enabled {
		return Result{ID: id, State: State(g.state)}, fmt.Errorf("%w: %s", ErrRelayDisabled, id)
	}

	old := g.state
	if err := a.writeLocked(g, on); err != nil {
		return Result{ID: id, State: State(g.state)}, err
	}

	a.logger.Info().
		Str(log.FieldEvent, "relay.switched").
		Str(log.FieldRelayID, id).
		Bool(log.FieldOldState, old).
		Bool(log.FieldNewState, g.state).
		Msg("relay switched")
	return Result{ID: id, State: State(g.state)}, nil
}

// TurnOn drives the relay to logical ON.
func (a *Authority) TurnOn(id string) (Result, error) { return a.set(id, true) }

// TurnOff drives the relay to logical OFF.
func (a *Authority) TurnOff(id string) (Result, error) { return a.set(id, false) }

// Pulse toggles the relay immediately, schedules the reverse toggle after d
// and returns without waiting. The restore re-enters the per-relay gate and
// aborts silently, with a logged warning, if another command has moved the
// relay in the meantime.
func (a *Authority) Pulse(id string, d time.Duration) (PulseResult, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return PulseResult{}, err
	}

	g.mu.Lock()
	if !g.cfg.Enabled {
		g.mu.Unlock()
		return PulseResult{}, fmt.Errorf("%w: %s", ErrRelayDisabled, id)
	}
	initial := g.state
	toggled := !initial
	if err := a.writeLocked(g, toggled); err != nil {
		g.mu.Unlock()
		return PulseResult{}, err
	}
	g.mu.Unlock()

	a.logger.Info().
		Str(log.FieldEvent, "relay.pulse_started").
		Str(log.FieldRelayID, id).
		Bool("initial_state", initial).
		Dur("duration", d).
		Msg("pulse started")

	time.AfterFunc(d, func() { a.restore(g, id, toggled, initial) })

	return PulseResult{ID: id, InitialState: State(initial), Duration: d}, nil
}

// restore is the scheduled second half of a pulse.
func (a *Authority) restore(g *gate, id string, expected, initial bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != expected {
		a.logger.Warn().
			Str(log.FieldEvent, "relay.pulse_abandoned").
			Str(log.FieldRelayID, id).
			Bool("expected", expected).
			Bool("observed", g.state).
			Msg("relay moved during pulse, restore skipped")
		return
	}
	if err := a.writeLocked(g, initial); err != nil {
		a.logger.Error().Err(err).
			Str(log.FieldEvent, "relay.pulse_restore_failed").
			Str(log.FieldRelayID, id).
			Msg("pulse restore failed")
		return
	}
	a.logger.Info().
		Str(log.FieldEvent, "relay.pulse_restored").
		Str(log.FieldRelayID, id).
		Bool(log.FieldNewState, g.state).
		Msg("pulse restored")
}

// Get returns the cached logical state of one relay.
func (a *Authority) Get(id string) (bool, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, nil
}

// GetAll returns the cached logical state of the given relays, or of every
// configured relay when ids is empty.
func (a *Authority) GetAll(ids []string) (map[string]State, error) {
	a.mu.RLock()
	if len(ids) == 0 {
		ids = append([]string(nil), a.order...)
	}
	a.mu.RUnlock()

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		state, err := a.Get(id)
		if err != nil {
			return nil, err
		}
		out[id] = State(state)
	}
	return out, nil
}

// Config returns the configuration of one relay.
func (a *Authority) Config(id string) (config.Relay, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return config.Relay{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg, nil
}

// ApplyConfig swaps in the new relay set after a config change. Existing
// relays keep their cached state and claimed line; new relays are
// initialized; removed relays are dropped from the set.
func (a *Authority) ApplyConfig(relays []config.Relay) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]*gate, len(relays))
	var order []string
	for _, r := range relays {
		order = append(order, r.ID)
		if g, ok := a.relays[r.ID]; ok && g.cfg.GPIOLine == r.GPIOLine && g.cfg.Polarity == r.Polarity {
			g.mu.Lock()
			g.cfg = r
			g.mu.Unlock()
			next[r.ID] = g
			continue
		}
		g := &gate{cfg: r}
		g.mu.Lock()
		err := a.initLocked(g)
		g.mu.Unlock()
		if err != nil {
			return fmt.Errorf("apply config for relay %s: %w", r.ID, err)
		}
		next[r.ID] = g
	}
	a.relays = next
	a.order = order
	return nil
}
