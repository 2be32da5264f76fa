package latch

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process fallback store. State does not survive a daemon
// restart, which matches the latch semantics: rules re-latch from the next
// sample edge.
type Memory struct {
	mu     sync.Mutex
	values map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]memEntry)}
}

func (m *Memory) get(key string) (string, bool) {
	e, ok := m.values[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.values, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = e
}

func (m *Memory) Latch(ctx context.Context, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(keyLatch + ruleID)
	return ok && v == "1", nil
}

func (m *Memory) SetLatch(ctx context.Context, ruleID string, triggered bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if triggered {
		m.set(keyLatch+ruleID, "1", 0)
		m.set(keyTriggeredAt+ruleID, at.Format(time.RFC3339Nano), 0)
	} else {
		m.set(keyLatch+ruleID, "0", 0)
		m.set(keyClearedAt+ruleID, at.Format(time.RFC3339Nano), 0)
	}
	return nil
}

func (m *Memory) Status(ctx context.Context, ruleID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Status
	if v, ok := m.get(keyLatch + ruleID); ok {
		s.Triggered = v == "1"
	}
	if v, ok := m.get(keyTriggeredAt + ruleID); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.LastTriggeredAt = &t
		}
	}
	if v, ok := m.get(keyClearedAt + ruleID); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.LastClearedAt = &t
		}
	}
	if v, ok := m.get(keyRuleError + ruleID); ok {
		s.LastError = v
	}
	return s, nil
}

func (m *Memory) RecordTaskLog(ctx context.Context, ruleName, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(taskLogKey(ruleName, at), message, taskLogTTL)
	return nil
}

func (m *Memory) RecordError(ctx context.Context, ruleID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(keyRuleError+ruleID, message, ruleErrorTTL)
	return nil
}

func (m *Memory) TryScheduleReboot(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.get(keyReboot); held {
		return false, nil
	}
	m.set(keyReboot, "1", rebootTTL)
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
