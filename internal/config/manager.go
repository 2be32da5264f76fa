package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/log"
)

// listenerDeadline bounds how long a single listener may take per cycle.
const listenerDeadline = 5 * time.Second

// ErrUnknownSection is returned for section names outside the schema.
var ErrUnknownSection = errors.New("unknown config section")

// Listener receives the new effective document after every successful
// reload or update. Listeners must not write back to the manager
// synchronously.
type Listener func(Document)

// Manager owns the default and custom documents, produces the effective
// configuration and fans out changes. Readers always receive deep copies.
type Manager struct {
	defaultPath string
	customPath  string
	sensors     []SensorDescriptor
	logger      zerolog.Logger

	mu        sync.RWMutex
	def       Document
	custom    Patch
	effective Document

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewManager creates a manager bound to the given document paths.
func NewManager(defaultPath, customPath string, sensors []SensorDescriptor) *Manager {
	return &Manager{
		defaultPath: defaultPath,
		customPath:  customPath,
		sensors:     sensors,
		logger:      log.WithComponent("config"),
	}
}

// Load reads both documents, merges and validates. An unreadable default
// document is fatal to the caller; a missing custom document is normal.
func (m *Manager) Load() error {
	def, err := m.readDefault()
	if err != nil {
		return err
	}
	custom, err := m.readCustom()
	if err != nil {
		// A corrupt custom document must not brick the device: fall back
		// to defaults and surface the problem in the log.
		m.logger.Error().Err(err).
			Str(log.FieldEvent, "config.custom_invalid").
			Str("path", m.customPath).
			Msg("ignoring unreadable custom document")
		custom = Patch{}
	}

	effective := Merge(def, custom)
	if err := Validate(effective, m.sensors); err != nil {
		return fmt.Errorf("validate effective config: %w", err)
	}

	m.mu.Lock()
	m.def = def
	m.custom = custom
	m.effective = effective
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Int("relays", len(effective.Relays)).
		Int("tasks", len(effective.Tasks)).
		Msg("configuration loaded")

	m.notify(effective)
	return nil
}

func (m *Manager) readDefault() (Document, error) {
	data, err := os.ReadFile(m.defaultPath)
	if err != nil {
		return Document{}, fmt.Errorf("read default config %s: %w", m.defaultPath, err)
	}
	var def Document
	if err := json.Unmarshal(data, &def); err != nil {
		return Document{}, fmt.Errorf("parse default config %s: %w", m.defaultPath, err)
	}
	if err := Validate(def, m.sensors); err != nil {
		return Document{}, fmt.Errorf("validate default config: %w", err)
	}
	return def, nil
}

func (m *Manager) readCustom() (Patch, error) {
	data, err := os.ReadFile(m.customPath)
	if errors.Is(err, os.ErrNotExist) {
		return Patch{}, nil
	}
	if err != nil {
		return Patch{}, fmt.Errorf("read custom config %s: %w", m.customPath, err)
	}
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("parse custom config %s: %w", m.customPath, err)
	}
	return p, nil
}

// Get returns a deep copy of the effective document.
func (m *Manager) Get() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective.Clone()
}

// Default returns a deep copy of the default document.
func (m *Manager) Default() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def.Clone()
}

// Sensors returns the board sensor descriptors.
func (m *Manager) Sensors() []SensorDescriptor {
	out := make([]SensorDescriptor, len(m.sensors))
	copy(out, m.sensors)
	return out
}

// Section returns one named section of the effective document.
func (m *Manager) Section(name string) (any, error) {
	d := m.Get()
	switch name {
	case "general":
		return d.General, nil
	case "network":
		return d.Network, nil
	case "date_time":
		return d.DateTime, nil
	case "relays":
		return d.Relays, nil
	case "tasks":
		return d.Tasks, nil
	case "email":
		return d.Email, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSection, name)
}

// UpdateFull replaces the custom document so the effective configuration
// equals doc. Validation failure leaves disk and memory untouched.
func (m *Manager) UpdateFull(doc Document) error {
	return m.applyCustom(PatchFromDocument(doc))
}

// UpdateSection replaces one section of the custom document from raw JSON.
func (m *Manager) UpdateSection(name string, raw json.RawMessage) error {
	m.mu.RLock()
	custom := m.custom
	m.mu.RUnlock()

	switch name {
	case "general":
		p := &GeneralPatch{}
		if err := strictUnmarshal(raw, p); err != nil {
			return err
		}
		custom.General = p
	case "network":
		p := &NetworkPatch{}
		if err := strictUnmarshal(raw, p); err != nil {
			return err
		}
		custom.Network = p
	case "date_time":
		p := &WallClockPatch{}
		if err := strictUnmarshal(raw, p); err != nil {
			return err
		}
		custom.DateTime = p
	case "relays":
		var p []RelayPatch
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		custom.Relays = p
	case "tasks":
		var p []RulePatch
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		custom.Tasks = p
	case "email":
		p := &EmailPatch{}
		if err := strictUnmarshal(raw, p); err != nil {
			return err
		}
		custom.Email = p
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSection, name)
	}

	return m.applyCustom(custom)
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse section: %w", err)
	}
	return nil
}

// applyCustom validates the candidate custom patch against the defaults and,
// only on success, persists it atomically and swaps the effective document.
func (m *Manager) applyCustom(custom Patch) error {
	m.mu.RLock()
	def := m.def
	m.mu.RUnlock()

	effective := Merge(def, custom)
	if err := Validate(effective, m.sensors); err != nil {
		return err
	}

	data, err := json.MarshalIndent(custom, "", "  ")
	if err != nil {
		return fmt.Errorf("encode custom config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.customPath), 0o750); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	if err := renameio.WriteFile(m.customPath, data, 0o644); err != nil {
		return fmt.Errorf("write custom config: %w", err)
	}

	m.mu.Lock()
	m.custom = custom
	m.effective = effective
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldEvent, "config.updated").
		Msg("custom configuration persisted")

	m.notify(effective)
	return nil
}

// RevertToDefaults deletes the custom document and restores the effective
// configuration to the defaults.
func (m *Manager) RevertToDefaults() error {
	if err := os.Remove(m.customPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove custom config: %w", err)
	}

	m.mu.Lock()
	m.custom = Patch{}
	m.effective = m.def.Clone()
	effective := m.effective
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldEvent, "config.reverted").
		Msg("reverted to default configuration")

	m.notify(effective)
	return nil
}

// Subscribe registers a listener for effective-config changes.
func (m *Manager) Subscribe(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// notify invokes every listener with its own deep copy and a per-listener
// deadline. A listener exceeding the deadline is skipped for this cycle but
// stays registered.
func (m *Manager) notify(effective Document) {
	m.listenerMu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()

	for i, l := range listeners {
		done := make(chan struct{})
		go func(l Listener) {
			defer close(done)
			l(effective.Clone())
		}(l)

		select {
		case <-done:
		case <-time.After(listenerDeadline):
			m.logger.Warn().
				Str(log.FieldEvent, "config.listener_timeout").
				Int("listener", i).
				Msg("config listener exceeded deadline, skipped for this cycle")
		}
	}
}
