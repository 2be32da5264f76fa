// Package config provides the default⊕custom configuration document for
// powerd: typed schema, deep merge, validation, atomic persistence and
// hot reload with listener fan-out.
package config

// Polarity describes the relay contact wiring.
const (
	NormallyOpen   = "normally_open"
	NormallyClosed = "normally_closed"
)

// Logical relay states as stored in configuration documents.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Rule action types.
const (
	ActionIO     = "io"
	ActionLog    = "log"
	ActionReboot = "reboot"
)

// Document is the effective configuration: the validated result of deep
// merging the custom document onto the default document.
type Document struct {
	General  General   `json:"general"`
	Network  Network   `json:"network"`
	DateTime WallClock `json:"date_time"`
	Relays   []Relay   `json:"relays"`
	Tasks    []Rule    `json:"tasks"`
	Email    Email     `json:"email"`
}

// General holds system-wide settings, including the core loop periods.
type General struct {
	SystemName           string `json:"system_name"`
	SensorPollSeconds    int    `json:"sensor_poll_seconds"`
	ScheduleCheckSeconds int    `json:"schedule_check_seconds"`
	HousekeepingSeconds  int    `json:"housekeeping_seconds"`
}

// Network holds the device network identity (informational; applied by an
// external provisioning agent, not by powerd).
type Network struct {
	Hostname string   `json:"hostname"`
	DHCP     bool     `json:"dhcp"`
	StaticIP string   `json:"static_ip,omitempty"`
	Gateway  string   `json:"gateway,omitempty"`
	DNS      []string `json:"dns,omitempty"`
}

// WallClock holds time settings used by the relay scheduler.
type WallClock struct {
	TimeZone  string `json:"timezone"`
	NTPServer string `json:"ntp_server,omitempty"`
}

// Email holds alert delivery settings.
type Email struct {
	Enabled    bool     `json:"enabled"`
	SMTPHost   string   `json:"smtp_host,omitempty"`
	SMTPPort   int      `json:"smtp_port,omitempty"`
	From       string   `json:"from,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// Relay describes one switched output. Relays are created at config load and
// never destroyed; state mutations go through the relay authority only.
type Relay struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	GPIOLine  int        `json:"gpio_line"`
	Polarity  string     `json:"polarity"`
	Enabled   bool       `json:"enabled"`
	PulseTime int        `json:"pulse_time"`
	BootState string     `json:"boot_state,omitempty"`
	Schedule  *Schedule  `json:"schedule,omitempty"`
	Dashboard *Dashboard `json:"dashboard,omitempty"`
}

// Schedule is a wall-clock on/off window. on_time > off_time means the
// window crosses midnight.
type Schedule struct {
	Enabled  bool   `json:"enabled"`
	OnTime   string `json:"on_time"`
	OffTime  string `json:"off_time"`
	DaysMask uint8  `json:"days_mask"`
}

// Dashboard carries front-end presentation hints for a relay.
type Dashboard struct {
	Icon   string `json:"icon,omitempty"`
	Order  int    `json:"order,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Rule is an edge-triggered automation rule: when source.field crosses the
// threshold per operator, the actions fire once.
type Rule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Source   string   `json:"source"`
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    float64  `json:"value"`
	Actions  []Action `json:"actions"`
}

// Action is one consequence of a rule firing.
type Action struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

// RelayByID returns the relay with the given id, or nil.
func (d *Document) RelayByID(id string) *Relay {
	for i := range d.Relays {
		if d.Relays[i].ID == id {
			return &d.Relays[i]
		}
	}
	return nil
}

// RuleByID returns the rule with the given id, or nil.
func (d *Document) RuleByID(id string) *Rule {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Clone returns an alias-free deep copy of the document. Readers always get
// clones so shared state cannot be mutated from outside the manager.
func (d Document) Clone() Document {
	out := d
	out.Network.DNS = cloneStringSlice(d.Network.DNS)
	out.Email.Recipients = cloneStringSlice(d.Email.Recipients)

	if d.Relays != nil {
		out.Relays = make([]Relay, len(d.Relays))
		for i, r := range d.Relays {
			out.Relays[i] = r.clone()
		}
	}
	if d.Tasks != nil {
		out.Tasks = make([]Rule, len(d.Tasks))
		for i, t := range d.Tasks {
			out.Tasks[i] = t.clone()
		}
	}
	return out
}

func (r Relay) clone() Relay {
	out := r
	if r.Schedule != nil {
		s := *r.Schedule
		out.Schedule = &s
	}
	if r.Dashboard != nil {
		dash := *r.Dashboard
		out.Dashboard = &dash
	}
	return out
}

func (t Rule) clone() Rule {
	out := t
	if t.Actions != nil {
		out.Actions = make([]Action, len(t.Actions))
		copy(out.Actions, t.Actions)
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
