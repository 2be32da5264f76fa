package config

import (
	"fmt"
	"time"

	"github.com/openpdu/powerd/internal/validate"
)

var validOperators = map[string]struct{}{
	">": {}, "<": {}, ">=": {}, "<=": {}, "==": {}, "!=": {},
}

// Validate checks an effective document against the schema: unique relay ids
// and GPIO lines, well-formed schedules, and rules whose source/field pairs
// resolve against the sensor descriptors.
func Validate(d Document, sensors []SensorDescriptor) error {
	v := validate.New()

	v.NonEmpty("general.system_name", d.General.SystemName)
	v.Range("general.sensor_poll_seconds", d.General.SensorPollSeconds, 1, 3600)
	v.Range("general.schedule_check_seconds", d.General.ScheduleCheckSeconds, 10, 3600)
	v.Range("general.housekeeping_seconds", d.General.HousekeepingSeconds, 10, 3600)

	if d.DateTime.TimeZone != "" && d.DateTime.TimeZone != "Local" {
		if _, err := time.LoadLocation(d.DateTime.TimeZone); err != nil {
			v.AddError("date_time.timezone", "unknown time zone", d.DateTime.TimeZone)
		}
	}

	if d.Email.Enabled {
		v.NonEmpty("email.smtp_host", d.Email.SMTPHost)
		v.Port("email.smtp_port", d.Email.SMTPPort)
	}

	validateRelays(v, d.Relays)
	validateRules(v, d, sensors)

	return v.Err()
}

func validateRelays(v *validate.Validator, relays []Relay) {
	if len(relays) == 0 {
		v.AddError("relays", "at least one relay must be configured", nil)
		return
	}
	seenIDs := make(map[string]struct{}, len(relays))
	seenLines := make(map[int]string, len(relays))

	for _, r := range relays {
		field := func(name string) string { return fmt.Sprintf("relays[%s].%s", r.ID, name) }

		v.NonEmpty("relays[].id", r.ID)
		if _, dup := seenIDs[r.ID]; dup {
			v.AddError("relays[].id", "duplicate relay id", r.ID)
		}
		seenIDs[r.ID] = struct{}{}

		if owner, dup := seenLines[r.GPIOLine]; dup {
			v.AddError(field("gpio_line"), fmt.Sprintf("gpio line already used by %s", owner), r.GPIOLine)
		}
		seenLines[r.GPIOLine] = r.ID
		v.Range(field("gpio_line"), r.GPIOLine, 0, 1023)

		v.OneOf(field("polarity"), r.Polarity, NormallyOpen, NormallyClosed)
		v.Range(field("pulse_time"), r.PulseTime, 1, 3600)

		if r.BootState != "" {
			v.OneOf(field("boot_state"), r.BootState, StateOn, StateOff)
		}
		if r.Schedule != nil {
			validateSchedule(v, field("schedule"), *r.Schedule)
		}
	}
}

func validateSchedule(v *validate.Validator, field string, s Schedule) {
	if _, err := ParseClock(s.OnTime); err != nil {
		v.AddError(field+".on_time", "must be HH:MM", s.OnTime)
	}
	if _, err := ParseClock(s.OffTime); err != nil {
		v.AddError(field+".off_time", "must be HH:MM", s.OffTime)
	}
}

func validateRules(v *validate.Validator, d Document, sensors []SensorDescriptor) {
	seen := make(map[string]struct{}, len(d.Tasks))
	for _, t := range d.Tasks {
		field := func(name string) string { return fmt.Sprintf("tasks[%s].%s", t.ID, name) }

		v.NonEmpty("tasks[].id", t.ID)
		if _, dup := seen[t.ID]; dup {
			v.AddError("tasks[].id", "duplicate rule id", t.ID)
		}
		seen[t.ID] = struct{}{}

		if _, ok := validOperators[t.Operator]; !ok {
			v.AddError(field("operator"), "unknown operator", t.Operator)
		}

		src := SensorByID(sensors, t.Source)
		if src == nil {
			v.AddError(field("source"), "unknown sensor source", t.Source)
		} else if !src.HasField(t.Field) {
			v.AddError(field("field"), fmt.Sprintf("sensor %s does not declare field", t.Source), t.Field)
		}

		if len(t.Actions) == 0 {
			v.AddError(field("actions"), "rule must have at least one action", nil)
		}
		for i, a := range t.Actions {
			afield := fmt.Sprintf("%s[%d]", field("actions"), i)
			switch a.Type {
			case ActionIO:
				if d.RelayByID(a.Target) == nil {
					v.AddError(afield+".target", "unknown relay id", a.Target)
				}
				v.OneOf(afield+".state", a.State, StateOn, StateOff, "pulse")
			case ActionLog:
				v.NonEmpty(afield+".message", a.Message)
			case ActionReboot:
				// no parameters
			default:
				v.AddError(afield+".type", "unknown action type", a.Type)
			}
		}
	}
}

// Clock is a minute-resolution wall-clock time.
type Clock struct {
	Hour   int
	Minute int
}

// Minutes returns the clock as minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses a strict, zero-padded HH:MM string.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 {
		return Clock{}, fmt.Errorf("parse clock %q: want HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}
