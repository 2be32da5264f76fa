package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/hw"
	"github.com/openpdu/powerd/internal/latch"
	"github.com/openpdu/powerd/internal/relay"
	"github.com/openpdu/powerd/internal/rules"
)

type stubRebooter struct {
	mu    sync.Mutex
	count int
}

func (r *stubRebooter) Reboot() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func newTestBus(t *testing.T) (*Bus, *stubRebooter) {
	t.Helper()

	dir := t.TempDir()
	data, err := json.Marshal(config.DefaultDocument())
	require.NoError(t, err)
	defPath := filepath.Join(dir, "default.json")
	require.NoError(t, os.WriteFile(defPath, data, 0o644))

	manager := config.NewManager(defPath, filepath.Join(dir, "custom.json"), config.DefaultSensors())
	require.NoError(t, manager.Load())

	doc := manager.Get()
	authority := relay.New(hw.NewSim(), doc.Relays)
	require.NoError(t, authority.Init())

	store := latch.NewMemory()
	reb := &stubRebooter{}
	engine := rules.New(store, authority, reb, doc.Tasks)

	return New(authority, manager, engine, reb, store), reb
}

func TestRelayCommands(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	res, err := b.RelayOn(ctx, "relay_3")
	require.NoError(t, err)
	assert.True(t, bool(res.State))

	res, err = b.RelayOff(ctx, "relay_3")
	require.NoError(t, err)
	assert.False(t, bool(res.State))

	pr, err := b.RelayPulse(ctx, "relay_3")
	require.NoError(t, err)
	assert.False(t, bool(pr.InitialState))
	assert.Equal(t, 5, int(pr.Duration.Seconds()), "pulse uses the configured pulse_time")
}

func TestUnknownRelayMapsToNotFound(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.RelayOn(context.Background(), "relay_99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelayStates(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	states, err := b.RelayStates(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, states, 7)

	// disable a relay, enabled view shrinks
	doc := b.manager.Get()
	doc.RelayByID("relay_4").Enabled = false
	_, err = b.UpdateConfig(ctx, doc)
	require.NoError(t, err)

	enabled, err := b.EnabledRelayStates(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 6)
	_, present := enabled["relay_4"]
	assert.False(t, present)
}

func TestDisabledRelayMapsToValidation(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	doc := b.manager.Get()
	doc.RelayByID("relay_4").Enabled = false
	_, err := b.UpdateConfig(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, b.relays.ApplyConfig(b.manager.Get().Relays))

	_, err = b.RelayOn(ctx, "relay_4")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfigUpdateValidationFailure(t *testing.T) {
	b, _ := newTestBus(t)

	doc := b.manager.Get()
	doc.RelayByID("relay_1").Polarity = "diagonal"
	_, err := b.UpdateConfig(context.Background(), doc)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfigSectionRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	section, err := b.UpdateConfigSection(ctx, "general", json.RawMessage(`{"system_name":"bench"}`))
	require.NoError(t, err)
	general, ok := section.(config.General)
	require.True(t, ok)
	assert.Equal(t, "bench", general.SystemName)

	_, err = b.UpdateConfigSection(ctx, "bogus", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevertConfig(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	_, err := b.UpdateConfigSection(ctx, "general", json.RawMessage(`{"system_name":"bench"}`))
	require.NoError(t, err)

	doc, err := b.RevertConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDocument().General.SystemName, doc.General.SystemName)
}

func TestRuleStatuses(t *testing.T) {
	b, _ := newTestBus(t)

	statuses, err := b.RuleStatuses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses, "default document has no rules")
}

func TestRebootDebounced(t *testing.T) {
	b, reb := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.Reboot(ctx))
	require.NoError(t, b.Reboot(ctx), "debounced call succeeds without rebooting again")
	assert.Equal(t, 1, reb.count)
}
