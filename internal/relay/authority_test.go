package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/hw"
	"github.com/openpdu/powerd/internal/metrics"
)

func testRelays() []config.Relay {
	return []config.Relay{
		{ID: "relay_1", Name: "Camera", GPIOLine: 22, Polarity: config.NormallyClosed, Enabled: true, PulseTime: 5},
		{ID: "relay_3", Name: "Relay 3", GPIOLine: 17, Polarity: config.NormallyOpen, Enabled: true, PulseTime: 5},
		{ID: "relay_6", Name: "Relay 6", GPIOLine: 23, Polarity: config.NormallyOpen, Enabled: false, PulseTime: 5},
	}
}

func newTestAuthority(t *testing.T) (*Authority, *hw.Sim) {
	t.Helper()
	sim := hw.NewSim()
	a := New(sim, testRelays())
	require.NoError(t, a.Init())
	return a, sim
}

func TestPolarityTranslation(t *testing.T) {
	a, sim := newTestAuthority(t)

	// normally-closed: logical ON drives the line LOW
	_, err := a.TurnOn("relay_1")
	require.NoError(t, err)
	level, err := sim.ReadLine(22)
	require.NoError(t, err)
	assert.Equal(t, hw.Low, level)

	_, err = a.TurnOff("relay_1")
	require.NoError(t, err)
	level, err = sim.ReadLine(22)
	require.NoError(t, err)
	assert.Equal(t, hw.High, level)

	// normally-open: logical ON drives the line HIGH
	_, err = a.TurnOn("relay_3")
	require.NoError(t, err)
	level, err = sim.ReadLine(17)
	require.NoError(t, err)
	assert.Equal(t, hw.High, level)
}

func TestInitSeedsStateFromHardware(t *testing.T) {
	sim := hw.NewSim()
	// line 22 already driven low before the daemon starts: NC relay is ON
	require.NoError(t, sim.ConfigureLine(22, hw.Output, hw.Low))
	require.NoError(t, sim.ConfigureLine(17, hw.Output, hw.Low))

	a := New(sim, testRelays())
	require.NoError(t, a.Init())

	on, err := a.Get("relay_1")
	require.NoError(t, err)
	assert.True(t, on, "NC relay with line low is logically on")

	on, err = a.Get("relay_3")
	require.NoError(t, err)
	assert.False(t, on, "NO relay with line low is logically off")
}

func TestInitDrivesBootState(t *testing.T) {
	sim := hw.NewSim()
	relays := testRelays()
	relays[1].BootState = config.StateOn

	a := New(sim, relays)
	require.NoError(t, a.Init())

	on, err := a.Get("relay_3")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestTurnOnOffAndGetAll(t *testing.T) {
	a, _ := newTestAuthority(t)

	res, err := a.TurnOn("relay_1")
	require.NoError(t, err)
	assert.Equal(t, On, res.State)

	res, err = a.TurnOff("relay_1")
	require.NoError(t, err)
	assert.Equal(t, Off, res.State)

	all, err := a.GetAll(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, Off, all["relay_1"])

	subset, err := a.GetAll([]string{"relay_3"})
	require.NoError(t, err)
	assert.Len(t, subset, 1)
}

func TestUnknownRelay(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.TurnOn("relay_99")
	assert.ErrorIs(t, err, ErrUnknownRelay)
	_, err = a.Get("relay_99")
	assert.ErrorIs(t, err, ErrUnknownRelay)
	_, err = a.Pulse("relay_99", time.Second)
	assert.ErrorIs(t, err, ErrUnknownRelay)
}

func TestDisabledRelayRejectsMutation(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.TurnOn("relay_6")
	assert.ErrorIs(t, err, ErrRelayDisabled)
	_, err = a.Pulse("relay_6", time.Second)
	assert.ErrorIs(t, err, ErrRelayDisabled)

	// reads still work for disabled relays
	_, err = a.Get("relay_6")
	assert.NoError(t, err)
}

func TestPulseRestoresInitialState(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.TurnOn("relay_1")
	require.NoError(t, err)

	res, err := a.Pulse("relay_1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, On, res.InitialState)

	// the toggle is immediate
	on, err := a.Get("relay_1")
	require.NoError(t, err)
	assert.False(t, on)

	assert.Eventually(t, func() bool {
		on, err := a.Get("relay_1")
		return err == nil && on
	}, time.Second, 5*time.Millisecond, "pulse must restore the initial state")
}

func TestPulseAbandonedWhenRelayMoved(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.TurnOff("relay_3")
	require.NoError(t, err)

	_, err = a.Pulse("relay_3", 30*time.Millisecond)
	require.NoError(t, err)

	// another command moves the relay back before the restore fires
	_, err = a.TurnOff("relay_3")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	on, err := a.Get("relay_3")
	require.NoError(t, err)
	assert.False(t, on, "restore must not undo the intervening command")
}

func TestApplyConfigKeepsStateForUnchangedWiring(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.TurnOn("relay_1")
	require.NoError(t, err)

	relays := testRelays()
	relays[0].Name = "Renamed"
	relays[0].PulseTime = 9
	require.NoError(t, a.ApplyConfig(relays))

	on, err := a.Get("relay_1")
	require.NoError(t, err)
	assert.True(t, on)

	cfg, err := a.Config("relay_1")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.PulseTime)
}

func TestApplyConfigDropsRemovedRelay(t *testing.T) {
	a, _ := newTestAuthority(t)

	require.NoError(t, a.ApplyConfig(testRelays()[:1]))

	_, err := a.Get("relay_3")
	assert.ErrorIs(t, err, ErrUnknownRelay)
}

func TestResultWireFormatIsNumeric(t *testing.T) {
	raw, err := json.Marshal(Result{ID: "relay_1", State: On})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"relay_1","state":1}`, string(raw))

	raw, err = json.Marshal(map[string]State{"relay_1": On, "relay_3": Off})
	require.NoError(t, err)
	assert.JSONEq(t, `{"relay_1":1,"relay_3":0}`, string(raw))

	var s State
	require.NoError(t, json.Unmarshal([]byte("1"), &s))
	assert.Equal(t, On, s)
	assert.Error(t, json.Unmarshal([]byte(`"on"`), &s))
}

func TestPulseResultMarshalsSeconds(t *testing.T) {
	raw, err := json.Marshal(PulseResult{ID: "relay_1", InitialState: On, Duration: 5 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"relay_1","initial_state":1,"duration":5}`, string(raw))
}

func TestSwitchAndErrorCounters(t *testing.T) {
	a, _ := newTestAuthority(t)

	switches := testutil.ToFloat64(metrics.RelaySwitches.WithLabelValues("relay_3", "on"))
	_, err := a.TurnOn("relay_3")
	require.NoError(t, err)
	assert.Equal(t, switches+1, testutil.ToFloat64(metrics.RelaySwitches.WithLabelValues("relay_3", "on")))

	failures := testutil.ToFloat64(metrics.RelayErrors.WithLabelValues("relay_3"))
	broken := New(failingHW{}, testRelays())
	_, err = broken.TurnOn("relay_3")
	require.Error(t, err)
	assert.Equal(t, failures+1, testutil.ToFloat64(metrics.RelayErrors.WithLabelValues("relay_3")))
}

// failingHW refuses every line write.
type failingHW struct{ hw.Interface }

func (failingHW) WriteLine(line int, level hw.Level) error { return hw.ErrBusError }
