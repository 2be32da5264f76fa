package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpdu/powerd/internal/metrics"
)

func writeDefaultFile(t *testing.T, dir string) string {
	t.Helper()
	data, err := json.Marshal(DefaultDocument())
	require.NoError(t, err)
	path := filepath.Join(dir, "default.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	defPath := writeDefaultFile(t, dir)
	customPath := filepath.Join(dir, "custom.json")
	m := NewManager(defPath, customPath, DefaultSensors())
	require.NoError(t, m.Load())
	return m, customPath
}

func TestLoadWithoutCustomFile(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Empty(t, cmp.Diff(DefaultDocument(), m.Get()))
}

func TestLoadIgnoresCorruptCustomFile(t *testing.T) {
	dir := t.TempDir()
	defPath := writeDefaultFile(t, dir)
	customPath := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(customPath, []byte("{not json"), 0o644))

	m := NewManager(defPath, customPath, DefaultSensors())
	require.NoError(t, m.Load())
	assert.Empty(t, cmp.Diff(DefaultDocument(), m.Get()))
}

func TestUpdateFullPersistsAndRereads(t *testing.T) {
	m, customPath := newTestManager(t)

	doc := m.Get()
	doc.General.SystemName = "rack-2"
	doc.Relays[0].Enabled = false
	require.NoError(t, m.UpdateFull(doc))

	assert.Equal(t, "rack-2", m.Get().General.SystemName)
	got := m.Get()
	assert.False(t, got.RelayByID("relay_1").Enabled)

	// a fresh manager reading the same files reproduces the document
	m2 := NewManager(m.defaultPath, customPath, DefaultSensors())
	require.NoError(t, m2.Load())
	assert.Empty(t, cmp.Diff(m.Get(), m2.Get()))
}

func TestUpdateFullRejectsInvalidLeavesDiskUntouched(t *testing.T) {
	m, customPath := newTestManager(t)

	doc := m.Get()
	doc.Relays[0].Polarity = "sideways"
	err := m.UpdateFull(doc)
	require.Error(t, err)

	_, statErr := os.Stat(customPath)
	assert.True(t, os.IsNotExist(statErr), "invalid update must not write the custom file")
	got := m.Get()
	assert.Equal(t, NormallyClosed, got.RelayByID("relay_1").Polarity)
}

func TestUpdateSection(t *testing.T) {
	m, _ := newTestManager(t)

	raw := json.RawMessage(`{"system_name":"lab","sensor_poll_seconds":2}`)
	require.NoError(t, m.UpdateSection("general", raw))

	got := m.Get()
	assert.Equal(t, "lab", got.General.SystemName)
	assert.Equal(t, 2, got.General.SensorPollSeconds)
	// other sections untouched
	assert.Equal(t, DefaultDocument().Network.Hostname, got.Network.Hostname)
}

func TestUpdateSectionUnknownName(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.UpdateSection("nonsense", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestRevertToDefaults(t *testing.T) {
	m, customPath := newTestManager(t)

	doc := m.Get()
	doc.General.SystemName = "temporary"
	require.NoError(t, m.UpdateFull(doc))
	require.FileExists(t, customPath)

	require.NoError(t, m.RevertToDefaults())
	assert.NoFileExists(t, customPath)
	assert.Empty(t, cmp.Diff(DefaultDocument(), m.Get()))
}

func TestReloadRejectsInvalidKeepsPrevious(t *testing.T) {
	m, customPath := newTestManager(t)

	// write a custom file whose merged result fails validation
	bad := Patch{Relays: []RelayPatch{{ID: "relay_1", PulseTime: intp(0)}}}
	data, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(customPath, data, 0o644))

	require.Error(t, m.Reload())
	got := m.Get()
	assert.Equal(t, 5, got.RelayByID("relay_1").PulseTime)
}

func TestListenersReceiveClones(t *testing.T) {
	m, _ := newTestManager(t)

	seen := make(chan Document, 1)
	m.Subscribe(func(d Document) {
		d.General.SystemName = "mutated-by-listener"
		seen <- d
	})

	doc := m.Get()
	doc.General.SystemName = "observable"
	require.NoError(t, m.UpdateFull(doc))

	got := <-seen
	assert.Equal(t, "mutated-by-listener", got.General.SystemName)
	// the listener's mutation must not leak into the manager
	assert.Equal(t, "observable", m.Get().General.SystemName)
}

func TestGetReturnsDeepCopy(t *testing.T) {
	m, _ := newTestManager(t)

	a := m.Get()
	a.Relays[0].Name = "scribbled"
	b := m.Get()
	assert.Equal(t, "Camera", b.Relays[0].Name)
}

func TestSection(t *testing.T) {
	m, _ := newTestManager(t)

	sec, err := m.Section("relays")
	require.NoError(t, err)
	relays, ok := sec.([]Relay)
	require.True(t, ok)
	assert.Len(t, relays, 7)

	_, err = m.Section("bogus")
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestReloadCountsOutcomes(t *testing.T) {
	m, customPath := newTestManager(t)

	applied := testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("applied"))
	rejected := testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("rejected"))

	good := Patch{General: &GeneralPatch{SensorPollSeconds: intp(7)}}
	data, err := json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(customPath, data, 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, applied+1, testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("applied")))

	bad := Patch{Relays: []RelayPatch{{ID: "relay_1", PulseTime: intp(0)}}}
	data, err = json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(customPath, data, 0o644))
	require.Error(t, m.Reload())
	assert.Equal(t, rejected+1, testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("rejected")))
}
