// Package rules evaluates automation rules against sensor samples. Rules
// are edge-triggered: actions fire once when the predicate becomes true and
// not again until it has become false in between.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/latch"
	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
	"github.com/openpdu/powerd/internal/relay"
	"github.com/openpdu/powerd/internal/sensor"
)

// Action retry policy: 3 attempts, exponential backoff.
const (
	actionAttempts    = 3
	actionBackoffBase = 100 * time.Millisecond
	actionBackoffMult = 2
)

// RelayController is the slice of the relay authority the engine needs.
type RelayController interface {
	TurnOn(id string) (relay.Result, error)
	TurnOff(id string) (relay.Result, error)
	Pulse(id string, d time.Duration) (relay.PulseResult, error)
	Config(id string) (config.Relay, error)
}

// Rebooter initiates the supervised reboot path.
type Rebooter interface {
	Reboot() error
}

// RuleStatus combines a rule's configuration with its persisted latch state.
type RuleStatus struct {
	Rule   config.Rule  `json:"rule"`
	Status latch.Status `json:"status"`
}

// Engine evaluates rules for every incoming sample.
type Engine struct {
	store    latch.Store
	relays   RelayController
	rebooter Rebooter
	logger   zerolog.Logger

	mu        sync.RWMutex
	rules     []config.Rule
	ruleLocks map[string]*sync.Mutex
}

// New builds an engine over the given rule set.
func New(store latch.Store, relays RelayController, rebooter Rebooter, rules []config.Rule) *Engine {
	e := &Engine{
		store:    store,
		relays:   relays,
		rebooter: rebooter,
		logger:   log.WithComponent("rules"),
	}
	e.ApplyConfig(rules)
	return e
}

// ApplyConfig swaps in the active rule set after a config change. Latches
// persist across config changes: a rule that keeps its id keeps its state.
func (e *Engine) ApplyConfig(rules []config.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make([]config.Rule, len(rules))
	copy(e.rules, rules)

	locks := make(map[string]*sync.Mutex, len(rules))
	for _, r := range rules {
		if l, ok := e.ruleLocks[r.ID]; ok {
			locks[r.ID] = l
		} else {
			locks[r.ID] = &sync.Mutex{}
		}
	}
	e.ruleLocks = locks
}

// HandleSample is the sensor.Handler entry point. Matching rules are
// evaluated in configured order; action dispatch runs detached so the
// sensor path never blocks on retries.
func (e *Engine) HandleSample(s sensor.Sample) {
	e.mu.RLock()
	rules := make([]config.Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, rule := range rules {
		if rule.Source != s.Source {
			continue
		}
		value, ok := s.Fields[rule.Field]
		if !ok {
			continue
		}
		e.evaluate(rule, value, s)
	}
}

// evaluate applies the predicate and performs the latch transition under
// the per-rule lock. Actions are launched before the lock is released so
// they start before the latch can transition again.
func (e *Engine) evaluate(rule config.Rule, value float64, s sensor.Sample) {
	e.mu.RLock()
	lock, ok := e.ruleLocks[rule.ID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := predicate(value, rule.Operator, rule.Value)
	prev, err := e.store.Latch(ctx, rule.ID)
	if err != nil {
		e.logger.Error().Err(err).
			Str(log.FieldEvent, "rules.latch_read_failed").
			Str(log.FieldRuleID, rule.ID).
			Msg("latch read failed, skipping evaluation")
		return
	}
	if now == prev {
		return
	}

	if err := e.store.SetLatch(ctx, rule.ID, now, s.Timestamp); err != nil {
		e.logger.Error().Err(err).
			Str(log.FieldEvent, "rules.latch_write_failed").
			Str(log.FieldRuleID, rule.ID).
			Msg("latch write failed, skipping transition")
		return
	}

	if now {
		metrics.RuleTriggers.WithLabelValues(rule.ID, "triggered").Inc()
		e.logger.Info().
			Str(log.FieldEvent, "rules.triggered").
			Str(log.FieldRuleID, rule.ID).
			Str(log.FieldRuleName, rule.Name).
			Float64("value", value).
			Float64("threshold", rule.Value).
			Msg("rule triggered")
		e.dispatchAll(rule, s)
	} else {
		metrics.RuleTriggers.WithLabelValues(rule.ID, "cleared").Inc()
		e.logger.Info().
			Str(log.FieldEvent, "rules.cleared").
			Str(log.FieldRuleID, rule.ID).
			Str(log.FieldRuleName, rule.Name).
			Float64("value", value).
			Msg("rule cleared")
	}
}

func predicate(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	}
	return false
}

// dispatchAll runs every action of a triggered rule in order. The first
// attempt of each action runs inline, still under the per-rule lock, so a
// triggered edge's actions have started before the latch can transition
// again. A failed action never rolls the latch back; its retries continue
// detached.
func (e *Engine) dispatchAll(rule config.Rule, s sensor.Sample) {
	for _, action := range rule.Actions {
		if err := e.runAction(rule, action, s); err == nil {
			continue
		}
		go e.retry(rule, action, s)
	}
}

// retry runs the remaining attempts of a failed action with backoff and
// records the terminal failure.
func (e *Engine) retry(rule config.Rule, action config.Action, s sensor.Sample) {
	var err error
	backoff := actionBackoffBase
	for attempt := 2; attempt <= actionAttempts; attempt++ {
		time.Sleep(backoff)
		backoff *= actionBackoffMult
		err = e.runAction(rule, action, s)
		if err == nil {
			return
		}
	}

	metrics.ActionFailures.WithLabelValues(rule.ID, action.Type).Inc()
	e.logger.Error().Err(err).
		Str(log.FieldEvent, "rules.action_failed").
		Str(log.FieldRuleID, rule.ID).
		Str("action", action.Type).
		Msg("action failed after retries")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if rerr := e.store.RecordError(ctx, rule.ID, err.Error()); rerr != nil {
		e.logger.Warn().Err(rerr).
			Str(log.FieldRuleID, rule.ID).
			Msg("could not persist action error")
	}
}

func (e *Engine) runAction(rule config.Rule, action config.Action, s sensor.Sample) error {
	switch action.Type {
	case config.ActionIO:
		return e.runIOAction(action)

	case config.ActionLog:
		e.logger.Warn().
			Str(log.FieldEvent, "rules.log_action").
			Str(log.FieldRuleID, rule.ID).
			Str(log.FieldRuleName, rule.Name).
			Str("message", action.Message).
			Interface("fields", s.Fields).
			Msg("rule log action")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort: the log line above is the primary record
		if err := e.store.RecordTaskLog(ctx, rule.Name, action.Message, s.Timestamp); err != nil {
			e.logger.Warn().Err(err).Str(log.FieldRuleID, rule.ID).Msg("task log persist failed")
		}
		return nil

	case config.ActionReboot:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		won, err := e.store.TryScheduleReboot(ctx)
		if err != nil {
			return fmt.Errorf("reboot debounce: %w", err)
		}
		if !won {
			e.logger.Info().
				Str(log.FieldEvent, "rules.reboot_debounced").
				Str(log.FieldRuleID, rule.ID).
				Msg("reboot already scheduled, ignoring")
			return nil
		}
		e.logger.Warn().
			Str(log.FieldEvent, "rules.reboot").
			Str(log.FieldRuleID, rule.ID).
			Msg("rule action initiating reboot")
		return e.rebooter.Reboot()
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (e *Engine) runIOAction(action config.Action) error {
	switch action.State {
	case config.StateOn:
		_, err := e.relays.TurnOn(action.Target)
		return err
	case config.StateOff:
		_, err := e.relays.TurnOff(action.Target)
		return err
	case "pulse":
		cfg, err := e.relays.Config(action.Target)
		if err != nil {
			return err
		}
		d := time.Duration(cfg.PulseTime) * time.Second
		_, err = e.relays.Pulse(action.Target, d)
		return err
	}
	return fmt.Errorf("unknown io state %q", action.State)
}

// Status returns every rule with its latch state and timestamps.
func (e *Engine) Status(ctx context.Context) ([]RuleStatus, error) {
	e.mu.RLock()
	rules := make([]config.Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	out := make([]RuleStatus, 0, len(rules))
	for _, r := range rules {
		st, err := e.store.Status(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("status for rule %s: %w", r.ID, err)
		}
		out = append(out, RuleStatus{Rule: r, Status: st})
	}
	return out, nil
}
