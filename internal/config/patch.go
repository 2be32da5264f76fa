package config

// Patch is the on-disk shape of the custom document: every field optional.
// Scalars present in the patch replace the default; nested sections merge
// recursively; the relays and tasks lists merge by id; all other lists are
// replaced wholesale.
type Patch struct {
	General  *GeneralPatch   `json:"general,omitempty"`
	Network  *NetworkPatch   `json:"network,omitempty"`
	DateTime *WallClockPatch `json:"date_time,omitempty"`
	Relays   []RelayPatch    `json:"relays,omitempty"`
	Tasks    []RulePatch     `json:"tasks,omitempty"`
	Email    *EmailPatch     `json:"email,omitempty"`
}

// GeneralPatch overrides fields of General.
type GeneralPatch struct {
	SystemName           *string `json:"system_name,omitempty"`
	SensorPollSeconds    *int    `json:"sensor_poll_seconds,omitempty"`
	ScheduleCheckSeconds *int    `json:"schedule_check_seconds,omitempty"`
	HousekeepingSeconds  *int    `json:"housekeeping_seconds,omitempty"`
}

// NetworkPatch overrides fields of Network.
type NetworkPatch struct {
	Hostname *string  `json:"hostname,omitempty"`
	DHCP     *bool    `json:"dhcp,omitempty"`
	StaticIP *string  `json:"static_ip,omitempty"`
	Gateway  *string  `json:"gateway,omitempty"`
	DNS      []string `json:"dns,omitempty"`
}

// WallClockPatch overrides fields of WallClock.
type WallClockPatch struct {
	TimeZone  *string `json:"timezone,omitempty"`
	NTPServer *string `json:"ntp_server,omitempty"`
}

// EmailPatch overrides fields of Email.
type EmailPatch struct {
	Enabled    *bool    `json:"enabled,omitempty"`
	SMTPHost   *string  `json:"smtp_host,omitempty"`
	SMTPPort   *int     `json:"smtp_port,omitempty"`
	From       *string  `json:"from,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// RelayPatch overrides fields of the relay with matching ID. Unknown ids are
// appended as new relays (all overridable fields then apply onto a zero
// Relay).
type RelayPatch struct {
	ID        string          `json:"id"`
	Name      *string         `json:"name,omitempty"`
	GPIOLine  *int            `json:"gpio_line,omitempty"`
	Polarity  *string         `json:"polarity,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	PulseTime *int            `json:"pulse_time,omitempty"`
	BootState *string         `json:"boot_state,omitempty"`
	Schedule  *SchedulePatch  `json:"schedule,omitempty"`
	Dashboard *DashboardPatch `json:"dashboard,omitempty"`
}

// SchedulePatch overrides fields of Schedule.
type SchedulePatch struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	OnTime   *string `json:"on_time,omitempty"`
	OffTime  *string `json:"off_time,omitempty"`
	DaysMask *uint8  `json:"days_mask,omitempty"`
}

// DashboardPatch overrides fields of Dashboard.
type DashboardPatch struct {
	Icon   *string `json:"icon,omitempty"`
	Order  *int    `json:"order,omitempty"`
	Hidden *bool   `json:"hidden,omitempty"`
}

// RulePatch overrides fields of the rule with matching ID. The actions list
// is replaced wholesale when present: partial edits of an action list have
// no meaningful merge semantics.
type RulePatch struct {
	ID       string   `json:"id"`
	Name     *string  `json:"name,omitempty"`
	Source   *string  `json:"source,omitempty"`
	Field    *string  `json:"field,omitempty"`
	Operator *string  `json:"operator,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}
