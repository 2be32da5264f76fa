package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is the embedded fallback backend, used when the external cache is
// not reachable at startup. Latches survive restarts; TTL keys expire the
// same way they would in the cache.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (or creates) the store under dir. An empty dir opens an
// in-memory store, which tests use.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) get(key string) (string, bool, error) {
	var out string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

func (b *Badger) set(key, value string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Latch(ctx context.Context, ruleID string) (bool, error) {
	v, ok, err := b.get(keyLatch + ruleID)
	if err != nil {
		return false, fmt.Errorf("get latch %s: %w", ruleID, err)
	}
	return ok && v == "1", nil
}

func (b *Badger) SetLatch(ctx context.Context, ruleID string, triggered bool, at time.Time) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if triggered {
			if err := txn.Set([]byte(keyLatch+ruleID), []byte("1")); err != nil {
				return err
			}
			return txn.Set([]byte(keyTriggeredAt+ruleID), []byte(at.Format(time.RFC3339Nano)))
		}
		if err := txn.Set([]byte(keyLatch+ruleID), []byte("0")); err != nil {
			return err
		}
		return txn.Set([]byte(keyClearedAt+ruleID), []byte(at.Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("set latch %s: %w", ruleID, err)
	}
	return nil
}

func (b *Badger) Status(ctx context.Context, ruleID string) (Status, error) {
	var s Status
	if v, ok, err := b.get(keyLatch + ruleID); err != nil {
		return Status{}, err
	} else if ok {
		s.Triggered = v == "1"
	}
	if v, ok, err := b.get(keyTriggeredAt + ruleID); err != nil {
		return Status{}, err
	} else if ok {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			s.LastTriggeredAt = &t
		}
	}
	if v, ok, err := b.get(keyClearedAt + ruleID); err != nil {
		return Status{}, err
	} else if ok {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			s.LastClearedAt = &t
		}
	}
	if v, ok, err := b.get(keyRuleError + ruleID); err != nil {
		return Status{}, err
	} else if ok {
		s.LastError = v
	}
	return s, nil
}

func (b *Badger) RecordTaskLog(ctx context.Context, ruleName, message string, at time.Time) error {
	return b.set(taskLogKey(ruleName, at), message, taskLogTTL)
}

func (b *Badger) RecordError(ctx context.Context, ruleID, message string) error {
	return b.set(keyRuleError+ruleID, message, ruleErrorTTL)
}

func (b *Badger) TryScheduleReboot(ctx context.Context) (bool, error) {
	won := false
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyReboot))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		won = true
		return txn.SetEntry(badger.NewEntry([]byte(keyReboot), []byte("1")).WithTTL(rebootTTL))
	})
	if err != nil {
		return false, fmt.Errorf("schedule reboot: %w", err)
	}
	return won, nil
}

// GC reclaims value log space; meant for the housekeeping tick. Badger
// returns ErrNoRewrite when there is nothing to collect, which is fine.
func (b *Badger) GC() {
	for {
		if err := b.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger store closed")
	}
	return nil
}

func (b *Badger) Close() error { return b.db.Close() }
