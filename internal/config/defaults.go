package config

// DefaultDocument is the factory configuration: six switched relays plus the
// main rail, no schedules, no rules. The on-disk default document ships with
// this content; tests and the config generator build it from here.
func DefaultDocument() Document {
	return Document{
		General: General{
			SystemName:           "powerd",
			SensorPollSeconds:    5,
			ScheduleCheckSeconds: 60,
			HousekeepingSeconds:  60,
		},
		Network: Network{
			Hostname: "powerd",
			DHCP:     true,
		},
		DateTime: WallClock{
			TimeZone: "Local",
		},
		Relays: []Relay{
			{ID: "relay_1", Name: "Camera", GPIOLine: 22, Polarity: NormallyClosed, Enabled: true, PulseTime: 5},
			{ID: "relay_2", Name: "Router", GPIOLine: 27, Polarity: NormallyClosed, Enabled: true, PulseTime: 5},
			{ID: "relay_3", Name: "Relay 3", GPIOLine: 17, Polarity: NormallyOpen, Enabled: true, PulseTime: 5},
			{ID: "relay_4", Name: "Relay 4", GPIOLine: 4, Polarity: NormallyOpen, Enabled: true, PulseTime: 5},
			{ID: "relay_5", Name: "Relay 5", GPIOLine: 24, Polarity: NormallyOpen, Enabled: true, PulseTime: 5},
			{ID: "relay_6", Name: "Relay 6", GPIOLine: 23, Polarity: NormallyOpen, Enabled: true, PulseTime: 5},
			{ID: "main", Name: "Main Rail", GPIOLine: 12, Polarity: NormallyClosed, Enabled: true, PulseTime: 5},
		},
		Tasks: []Rule{},
		Email: Email{},
	}
}
