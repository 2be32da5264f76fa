// Package sched drives the relay schedules: on every check tick it
// recomputes the desired state of each scheduled relay from the wall clock
// and corrects drift through the relay authority. The scheduler is
// stateless across ticks, so missed ticks and config reloads need no
// special handling.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/relay"
)

// Commander is the slice of the relay authority the scheduler drives.
type Commander interface {
	TurnOn(id string) (relay.Result, error)
	TurnOff(id string) (relay.Result, error)
	Get(id string) (bool, error)
}

// Housekeeper is a periodic maintenance hook (store GC, log pruning).
type Housekeeper func(ctx context.Context)

// Scheduler owns the schedule-check and housekeeping clocks.
type Scheduler struct {
	commander Commander
	logger    zerolog.Logger

	mu           sync.RWMutex
	relays       []config.Relay
	location     *time.Location
	checkPeriod  time.Duration
	housePeriod  time.Duration
	housekeepers []Housekeeper

	now func() time.Time // test hook
}

// New builds a scheduler from the effective document.
func New(commander Commander, doc config.Document) *Scheduler {
	s := &Scheduler{
		commander: commander,
		logger:    log.WithComponent("sched"),
		now:       time.Now,
	}
	s.ApplyConfig(doc)
	return s
}

// ApplyConfig refreshes relays, timezone and periods after a config change.
func (s *Scheduler) ApplyConfig(doc config.Document) {
	loc := time.Local
	if tz := doc.DateTime.TimeZone; tz != "" && tz != "Local" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.logger.Warn().Err(err).Str("timezone", tz).Msg("unknown timezone, using local")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.relays = doc.Clone().Relays
	s.location = loc
	s.checkPeriod = time.Duration(doc.General.ScheduleCheckSeconds) * time.Second
	s.housePeriod = time.Duration(doc.General.HousekeepingSeconds) * time.Second
}

// AddHousekeeper registers a maintenance hook for the housekeeping tick.
func (s *Scheduler) AddHousekeeper(h Housekeeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.housekeepers = append(s.housekeepers, h)
}

// Run drives both clocks until ctx is done. An immediate first check runs
// at startup so scheduled relays reach their desired state without waiting
// a full period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.CheckOnce()

	checkTimer := time.NewTimer(s.period())
	houseTimer := time.NewTimer(s.housekeepingPeriod())
	defer checkTimer.Stop()
	defer houseTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-checkTimer.C:
			s.CheckOnce()
			checkTimer.Reset(s.period())
		case <-houseTimer.C:
			s.housekeepOnce(ctx)
			houseTimer.Reset(s.housekeepingPeriod())
		}
	}
}

func (s *Scheduler) period() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkPeriod <= 0 {
		return time.Minute
	}
	return s.checkPeriod
}

func (s *Scheduler) housekeepingPeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.housePeriod <= 0 {
		return time.Minute
	}
	return s.housePeriod
}

// CheckOnce recomputes every scheduled relay's desired state and corrects
// drift. Disabled relays and disabled schedules are never touched; this
// path never pulses.
func (s *Scheduler) CheckOnce() {
	s.mu.RLock()
	relays := s.relays
	loc := s.location
	s.mu.RUnlock()

	now := s.now().In(loc)

	for _, r := range relays {
		if !r.Enabled || r.Schedule == nil || !r.Schedule.Enabled {
			continue
		}
		want, err := ShouldBeOn(*r.Schedule, now)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldRelayID, r.ID).
				Msg("unparseable schedule, skipping")
			continue
		}

		got, err := s.commander.Get(r.ID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldRelayID, r.ID).
				Msg("relay state unavailable, skipping")
			continue
		}
		if got == want {
			continue
		}

		s.logger.Info().
			Str(log.FieldEvent, "sched.drift_corrected").
			Str(log.FieldRelayID, r.ID).
			Bool(log.FieldOldState, got).
			Bool(log.FieldNewState, want).
			Msg("correcting scheduled relay")

		if want {
			_, err = s.commander.TurnOn(r.ID)
		} else {
			_, err = s.commander.TurnOff(r.ID)
		}
		if err != nil {
			s.logger.Error().Err(err).
				Str(log.FieldEvent, "sched.correction_failed").
				Str(log.FieldRelayID, r.ID).
				Msg("drift correction failed")
		}
	}
}

func (s *Scheduler) housekeepOnce(ctx context.Context) {
	s.mu.RLock()
	hks := make([]Housekeeper, len(s.housekeepers))
	copy(hks, s.housekeepers)
	s.mu.RUnlock()

	for _, h := range hks {
		h(ctx)
	}
}

// ShouldBeOn evaluates a schedule window against the given local time.
// on_time ≤ off_time is a same-day window [on, off); on_time > off_time
// crosses midnight: [on, 24:00) ∪ [00:00, off). The relay is on only when
// today's weekday bit is set in days_mask.
func ShouldBeOn(sched config.Schedule, now time.Time) (bool, error) {
	on, err := config.ParseClock(sched.OnTime)
	if err != nil {
		return false, err
	}
	off, err := config.ParseClock(sched.OffTime)
	if err != nil {
		return false, err
	}

	if sched.DaysMask&WeekdayBit(now.Weekday()) == 0 {
		return false, nil
	}

	cur := now.Hour()*60 + now.Minute()
	onM, offM := on.Minutes(), off.Minutes()

	switch {
	case onM < offM:
		return cur >= onM && cur < offM, nil
	case onM > offM:
		return cur >= onM || cur < offM, nil
	default:
		// empty window
		return false, nil
	}
}

// WeekdayBit maps a weekday to its days_mask bit: Sunday=2, Monday=4, up
// to Saturday=128.
func WeekdayBit(d time.Weekday) uint8 {
	return 1 << (uint(d) + 1)
}
