package config

// Merge layers a custom patch onto a default document and returns the
// effective document. The default is never mutated.
func Merge(def Document, patch Patch) Document {
	out := def.Clone()

	applyGeneralPatch(&out.General, patch.General)
	applyNetworkPatch(&out.Network, patch.Network)
	applyWallClockPatch(&out.DateTime, patch.DateTime)
	applyEmailPatch(&out.Email, patch.Email)
	out.Relays = mergeRelays(out.Relays, patch.Relays)
	out.Tasks = mergeRules(out.Tasks, patch.Tasks)

	return out
}

func applyGeneralPatch(dst *General, p *GeneralPatch) {
	if p == nil {
		return
	}
	if p.SystemName != nil {
		dst.SystemName = *p.SystemName
	}
	if p.SensorPollSeconds != nil {
		dst.SensorPollSeconds = *p.SensorPollSeconds
	}
	if p.ScheduleCheckSeconds != nil {
		dst.ScheduleCheckSeconds = *p.ScheduleCheckSeconds
	}
	if p.HousekeepingSeconds != nil {
		dst.HousekeepingSeconds = *p.HousekeepingSeconds
	}
}

func applyNetworkPatch(dst *Network, p *NetworkPatch) {
	if p == nil {
		return
	}
	if p.Hostname != nil {
		dst.Hostname = *p.Hostname
	}
	if p.DHCP != nil {
		dst.DHCP = *p.DHCP
	}
	if p.StaticIP != nil {
		dst.StaticIP = *p.StaticIP
	}
	if p.Gateway != nil {
		dst.Gateway = *p.Gateway
	}
	if p.DNS != nil {
		dst.DNS = cloneStringSlice(p.DNS)
	}
}

func applyWallClockPatch(dst *WallClock, p *WallClockPatch) {
	if p == nil {
		return
	}
	if p.TimeZone != nil {
		dst.TimeZone = *p.TimeZone
	}
	if p.NTPServer != nil {
		dst.NTPServer = *p.NTPServer
	}
}

func applyEmailPatch(dst *Email, p *EmailPatch) {
	if p == nil {
		return
	}
	if p.Enabled != nil {
		dst.Enabled = *p.Enabled
	}
	if p.SMTPHost != nil {
		dst.SMTPHost = *p.SMTPHost
	}
	if p.SMTPPort != nil {
		dst.SMTPPort = *p.SMTPPort
	}
	if p.From != nil {
		dst.From = *p.From
	}
	if p.Recipients != nil {
		dst.Recipients = cloneStringSlice(p.Recipients)
	}
}

// mergeRelays merges relay patches by id: matching ids are deep-merged,
// unknown ids are appended, default-only ids are preserved.
func mergeRelays(defaults []Relay, patches []RelayPatch) []Relay {
	out := defaults
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.ID] = i
	}

	for _, p := range patches {
		if p.ID == "" {
			continue
		}
		if i, ok := index[p.ID]; ok {
			applyRelayPatch(&out[i], p)
			continue
		}
		r := Relay{ID: p.ID}
		applyRelayPatch(&r, p)
		index[p.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func applyRelayPatch(dst *Relay, p RelayPatch) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.GPIOLine != nil {
		dst.GPIOLine = *p.GPIOLine
	}
	if p.Polarity != nil {
		dst.Polarity = *p.Polarity
	}
	if p.Enabled != nil {
		dst.Enabled = *p.Enabled
	}
	if p.PulseTime != nil {
		dst.PulseTime = *p.PulseTime
	}
	if p.BootState != nil {
		dst.BootState = *p.BootState
	}
	if p.Schedule != nil {
		if dst.Schedule == nil {
			dst.Schedule = &Schedule{}
		}
		applySchedulePatch(dst.Schedule, p.Schedule)
	}
	if p.Dashboard != nil {
		if dst.Dashboard == nil {
			dst.Dashboard = &Dashboard{}
		}
		applyDashboardPatch(dst.Dashboard, p.Dashboard)
	}
}

func applySchedulePatch(dst *Schedule, p *SchedulePatch) {
	if p.Enabled != nil {
		dst.Enabled = *p.Enabled
	}
	if p.OnTime != nil {
		dst.OnTime = *p.OnTime
	}
	if p.OffTime != nil {
		dst.OffTime = *p.OffTime
	}
	if p.DaysMask != nil {
		dst.DaysMask = *p.DaysMask
	}
}

func applyDashboardPatch(dst *Dashboard, p *DashboardPatch) {
	if p.Icon != nil {
		dst.Icon = *p.Icon
	}
	if p.Order != nil {
		dst.Order = *p.Order
	}
	if p.Hidden != nil {
		dst.Hidden = *p.Hidden
	}
}

func mergeRules(defaults []Rule, patches []RulePatch) []Rule {
	out := defaults
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.ID] = i
	}

	for _, p := range patches {
		if p.ID == "" {
			continue
		}
		if i, ok := index[p.ID]; ok {
			applyRulePatch(&out[i], p)
			continue
		}
		t := Rule{ID: p.ID}
		applyRulePatch(&t, p)
		index[p.ID] = len(out)
		out = append(out, t)
	}
	return out
}

func applyRulePatch(dst *Rule, p RulePatch) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Source != nil {
		dst.Source = *p.Source
	}
	if p.Field != nil {
		dst.Field = *p.Field
	}
	if p.Operator != nil {
		dst.Operator = *p.Operator
	}
	if p.Value != nil {
		dst.Value = *p.Value
	}
	if p.Actions != nil {
		dst.Actions = make([]Action, len(p.Actions))
		copy(dst.Actions, p.Actions)
	}
}

// PatchFromDocument converts a full document into a patch that sets every
// field. Used by update_full so the entire document becomes the custom
// overlay.
func PatchFromDocument(d Document) Patch {
	p := Patch{
		General: &GeneralPatch{
			SystemName:           &d.General.SystemName,
			SensorPollSeconds:    &d.General.SensorPollSeconds,
			ScheduleCheckSeconds: &d.General.ScheduleCheckSeconds,
			HousekeepingSeconds:  &d.General.HousekeepingSeconds,
		},
		Network: &NetworkPatch{
			Hostname: &d.Network.Hostname,
			DHCP:     &d.Network.DHCP,
			StaticIP: &d.Network.StaticIP,
			Gateway:  &d.Network.Gateway,
			DNS:      cloneStringSlice(d.Network.DNS),
		},
		DateTime: &WallClockPatch{
			TimeZone:  &d.DateTime.TimeZone,
			NTPServer: &d.DateTime.NTPServer,
		},
		Email: &EmailPatch{
			Enabled:    &d.Email.Enabled,
			SMTPHost:   &d.Email.SMTPHost,
			SMTPPort:   &d.Email.SMTPPort,
			From:       &d.Email.From,
			Recipients: cloneStringSlice(d.Email.Recipients),
		},
	}
	for i := range d.Relays {
		r := d.Relays[i].clone()
		rp := RelayPatch{
			ID:        r.ID,
			Name:      &r.Name,
			GPIOLine:  &r.GPIOLine,
			Polarity:  &r.Polarity,
			Enabled:   &r.Enabled,
			PulseTime: &r.PulseTime,
			BootState: &r.BootState,
		}
		if r.Schedule != nil {
			rp.Schedule = &SchedulePatch{
				Enabled:  &r.Schedule.Enabled,
				OnTime:   &r.Schedule.OnTime,
				OffTime:  &r.Schedule.OffTime,
				DaysMask: &r.Schedule.DaysMask,
			}
		}
		if r.Dashboard != nil {
			rp.Dashboard = &DashboardPatch{
				Icon:   &r.Dashboard.Icon,
				Order:  &r.Dashboard.Order,
				Hidden: &r.Dashboard.Hidden,
			}
		}
		p.Relays = append(p.Relays, rp)
	}
	for i := range d.Tasks {
		t := d.Tasks[i].clone()
		p.Tasks = append(p.Tasks, RulePatch{
			ID:       t.ID,
			Name:     &t.Name,
			Source:   &t.Source,
			Field:    &t.Field,
			Operator: &t.Operator,
			Value:    &t.Value,
			Actions:  t.Actions,
		})
	}
	return p
}
