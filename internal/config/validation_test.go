package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultDocument(), DefaultSensors()))
}

func TestValidateDuplicateRelayID(t *testing.T) {
	d := DefaultDocument()
	d.Relays = append(d.Relays, Relay{ID: "relay_1", GPIOLine: 5, Polarity: NormallyOpen, PulseTime: 5})
	err := Validate(d, DefaultSensors())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate relay id")
}

func TestValidateDuplicateGPIOLine(t *testing.T) {
	d := DefaultDocument()
	d.Relays[1].GPIOLine = d.Relays[0].GPIOLine
	err := Validate(d, DefaultSensors())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpio line already used")
}

func TestValidateSchedule(t *testing.T) {
	d := DefaultDocument()
	d.Relays[0].Schedule = &Schedule{Enabled: true, OnTime: "25:00", OffTime: "08:00"}
	err := Validate(d, DefaultSensors())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_time")
}

func TestValidateRules(t *testing.T) {
	base := Rule{
		ID: "t1", Name: "r", Source: "relay_1", Field: "current",
		Operator: ">", Value: 1,
		Actions: []Action{{Type: ActionIO, Target: "relay_1", State: StateOff}},
	}

	cases := []struct {
		name    string
		mutate  func(*Rule)
		wantErr string
	}{
		{"valid", func(r *Rule) {}, ""},
		{"unknown operator", func(r *Rule) { r.Operator = "~=" }, "unknown operator"},
		{"unknown source", func(r *Rule) { r.Source = "relay_99" }, "unknown sensor source"},
		{"wrong field for sensor", func(r *Rule) { r.Field = "temperature" }, "does not declare field"},
		{"no actions", func(r *Rule) { r.Actions = nil }, "at least one action"},
		{"io action unknown relay", func(r *Rule) { r.Actions[0].Target = "relay_99" }, "unknown relay id"},
		{"log action needs message", func(r *Rule) { r.Actions[0] = Action{Type: ActionLog} }, "must not be empty"},
		{"unknown action type", func(r *Rule) { r.Actions[0].Type = "email" }, "unknown action type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DefaultDocument()
			rule := base.clone()
			tc.mutate(&rule)
			d.Tasks = []Rule{rule}

			err := Validate(d, DefaultSensors())
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateEnvironmentalFields(t *testing.T) {
	d := DefaultDocument()
	d.Tasks = []Rule{{
		ID: "t1", Name: "humid", Source: "environmental", Field: "humidity",
		Operator: ">=", Value: 90,
		Actions: []Action{{Type: ActionLog, Message: "condensation risk"}},
	}}
	assert.NoError(t, Validate(d, DefaultSensors()))
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("06:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 6, Minute: 30}, c)
	assert.Equal(t, 390, c.Minutes())

	for _, bad := range []string{"6:30", "24:00", "12:60", "noon", ""} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
