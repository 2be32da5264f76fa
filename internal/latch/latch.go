// Package latch persists rule trigger state and related operational keys.
// The daemon prefers the external Redis cache, falls back to an embedded
// Badger store and, as a last resort, to process memory. All backends share
// the same key schema so a cache outage degrades durability, not behavior.
package latch

import (
	"context"
	"fmt"
	"time"
)

// Key schema and expiries shared by every backend.
const (
	keyLatch       = "rule_state:"
	keyTriggeredAt = "rule_triggered_at:"
	keyClearedAt   = "rule_cleared_at:"
	keyRuleError   = "rule_error:"
	keyTaskLog     = "task_log:"
	keyReboot      = "system_reboot_scheduled"

	taskLogTTL   = 7 * 24 * time.Hour
	ruleErrorTTL = 24 * time.Hour
	rebootTTL    = 60 * time.Second
)

// Status is the persisted state of one rule.
type Status struct {
	Triggered       bool       `json:"triggered"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastClearedAt   *time.Time `json:"last_cleared_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Store persists rule latches and operational keys.
type Store interface {
	// Latch returns the current latch for the rule; absent rules are false.
	Latch(ctx context.Context, ruleID string) (bool, error)

	// SetLatch transitions the latch and records the matching timestamp.
	SetLatch(ctx context.Context, ruleID string, triggered bool, at time.Time) error

	// Status returns latch plus timestamps and last error for the rule.
	Status(ctx context.Context, ruleID string) (Status, error)

	// RecordTaskLog persists one rule action log line with a 7-day expiry.
	RecordTaskLog(ctx context.Context, ruleName, message string, at time.Time) error

	// RecordError persists the last action failure for a rule, 24 h expiry.
	RecordError(ctx context.Context, ruleID, message string) error

	// TryScheduleReboot sets the reboot-debounce key if absent. Returns true
	// when this caller won the slot; false while the 60 s window is held.
	TryScheduleReboot(ctx context.Context) (bool, error)

	// Ping verifies the backend answers; feeds the readiness probe.
	Ping(ctx context.Context) error

	Close() error
}

// taskLogKey builds the per-entry task log key: task_log:<name>:<unix>.
func taskLogKey(name string, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyTaskLog, name, at.Unix())
}
