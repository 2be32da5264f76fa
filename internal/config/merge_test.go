package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string   { return &s }
func intp(i int) *int         { return &i }
func boolp(b bool) *bool      { return &b }
func f64p(f float64) *float64 { return &f }
func u8p(u uint8) *uint8      { return &u }

func TestMergeEmptyPatchIsIdentity(t *testing.T) {
	def := DefaultDocument()
	got := Merge(def, Patch{})
	assert.Empty(t, cmp.Diff(def, got))
}

func TestMergeDoesNotMutateDefault(t *testing.T) {
	def := DefaultDocument()
	before := def.Clone()

	Merge(def, Patch{
		General: &GeneralPatch{SystemName: strp("changed")},
		Relays:  []RelayPatch{{ID: "relay_1", Name: strp("changed")}},
	})

	assert.Empty(t, cmp.Diff(before, def))
}

func TestMergeScalarOverride(t *testing.T) {
	def := DefaultDocument()
	got := Merge(def, Patch{
		General: &GeneralPatch{SensorPollSeconds: intp(10)},
	})

	assert.Equal(t, 10, got.General.SensorPollSeconds)
	// untouched siblings keep defaults
	assert.Equal(t, def.General.SystemName, got.General.SystemName)
	assert.Equal(t, def.General.ScheduleCheckSeconds, got.General.ScheduleCheckSeconds)
}

func TestMergeRelaysByID(t *testing.T) {
	def := DefaultDocument()
	got := Merge(def, Patch{
		Relays: []RelayPatch{
			{ID: "relay_3", Name: strp("Modem"), Enabled: boolp(false)},
		},
	})

	r3 := got.RelayByID("relay_3")
	require.NotNil(t, r3)
	assert.Equal(t, "Modem", r3.Name)
	assert.False(t, r3.Enabled)
	// unpatched fields survive the merge
	assert.Equal(t, 17, r3.GPIOLine)
	assert.Equal(t, NormallyOpen, r3.Polarity)

	// relays absent from the patch are untouched
	r1 := got.RelayByID("relay_1")
	require.NotNil(t, r1)
	assert.Equal(t, "Camera", r1.Name)
	assert.Len(t, got.Relays, len(def.Relays))
}

func TestMergeRelaysAppendsUnknownID(t *testing.T) {
	def := DefaultDocument()
	got := Merge(def, Patch{
		Relays: []RelayPatch{
			{
				ID:       "relay_7",
				Name:     strp("Aux"),
				GPIOLine: intp(25),
				Polarity: strp(NormallyOpen),
				Enabled:  boolp(true),
			},
		},
	})

	require.Len(t, got.Relays, len(def.Relays)+1)
	r7 := got.RelayByID("relay_7")
	require.NotNil(t, r7)
	assert.Equal(t, 25, r7.GPIOLine)
}

func TestMergeScheduleNestedMerge(t *testing.T) {
	def := DefaultDocument()
	def.Relays[0].Schedule = &Schedule{
		Enabled: true,
		OnTime:  "08:00",
		OffTime: "20:00",
	}

	got := Merge(def, Patch{
		Relays: []RelayPatch{
			{ID: "relay_1", Schedule: &SchedulePatch{OffTime: strp("22:30")}},
		},
	})

	s := got.RelayByID("relay_1").Schedule
	require.NotNil(t, s)
	assert.Equal(t, "22:30", s.OffTime)
	assert.Equal(t, "08:00", s.OnTime)
	assert.True(t, s.Enabled)
}

func TestMergeRuleActionsReplacedWholesale(t *testing.T) {
	def := DefaultDocument()
	def.Tasks = []Rule{{
		ID: "t1", Name: "hot", Source: "environmental", Field: "temperature",
		Operator: ">", Value: 40,
		Actions: []Action{
			{Type: ActionIO, Target: "relay_1", State: StateOff},
			{Type: ActionLog, Message: "too hot"},
		},
	}}

	got := Merge(def, Patch{
		Tasks: []RulePatch{{
			ID:      "t1",
			Actions: []Action{{Type: ActionReboot}},
		}},
	})

	rule := got.RuleByID("t1")
	require.NotNil(t, rule)
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, ActionReboot, rule.Actions[0].Type)
	// non-action fields untouched
	assert.Equal(t, 40.0, rule.Value)
}

func TestPatchFromDocumentRoundTrip(t *testing.T) {
	doc := DefaultDocument()
	doc.General.SystemName = "bench"
	doc.Relays[2].Schedule = &Schedule{Enabled: true, OnTime: "21:00", OffTime: "06:00", DaysMask: 0xFE}
	doc.Tasks = []Rule{{
		ID: "t1", Name: "overcurrent", Source: "relay_1", Field: "current",
		Operator: ">=", Value: 2.5,
		Actions: []Action{{Type: ActionIO, Target: "relay_1", State: StateOff}},
	}}

	got := Merge(DefaultDocument(), PatchFromDocument(doc))
	assert.Empty(t, cmp.Diff(doc, got))
}
