package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the primary latch backend: state shared through the external
// cache survives daemon restarts and is visible to sidecar tooling.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the cache at url (redis://host:port/db) and verifies
// it with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client; used by tests.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Latch(ctx context.Context, ruleID string) (bool, error) {
	v, err := r.client.Get(ctx, keyLatch+ruleID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get latch %s: %w", ruleID, err)
	}
	return v == "1", nil
}

func (r *Redis) SetLatch(ctx context.Context, ruleID string, triggered bool, at time.Time) error {
	pipe := r.client.TxPipeline()
	if triggered {
		pipe.Set(ctx, keyLatch+ruleID, "1", 0)
		pipe.Set(ctx, keyTriggeredAt+ruleID, at.Format(time.RFC3339Nano), 0)
	} else {
		pipe.Set(ctx, keyLatch+ruleID, "0", 0)
		pipe.Set(ctx, keyClearedAt+ruleID, at.Format(time.RFC3339Nano), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set latch %s: %w", ruleID, err)
	}
	return nil
}

func (r *Redis) Status(ctx context.Context, ruleID string) (Status, error) {
	vals, err := r.client.MGet(ctx,
		keyLatch+ruleID,
		keyTriggeredAt+ruleID,
		keyClearedAt+ruleID,
		keyRuleError+ruleID,
	).Result()
	if err != nil {
		return Status{}, fmt.Errorf("status %s: %w", ruleID, err)
	}

	var s Status
	if v, ok := vals[0].(string); ok {
		s.Triggered = v == "1"
	}
	if v, ok := vals[1].(string); ok {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			s.LastTriggeredAt = &t
		}
	}
	if v, ok := vals[2].(string); ok {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			s.LastClearedAt = &t
		}
	}
	if v, ok := vals[3].(string); ok {
		s.LastError = v
	}
	return s, nil
}

func (r *Redis) RecordTaskLog(ctx context.Context, ruleName, message string, at time.Time) error {
	if err := r.client.Set(ctx, taskLogKey(ruleName, at), message, taskLogTTL).Err(); err != nil {
		return fmt.Errorf("record task log %s: %w", ruleName, err)
	}
	return nil
}

func (r *Redis) RecordError(ctx context.Context, ruleID, message string) error {
	if err := r.client.Set(ctx, keyRuleError+ruleID, message, ruleErrorTTL).Err(); err != nil {
		return fmt.Errorf("record rule error %s: %w", ruleID, err)
	}
	return nil
}

func (r *Redis) TryScheduleReboot(ctx context.Context) (bool, error) {
	won, err := r.client.SetNX(ctx, keyReboot, "1", rebootTTL).Result()
	if err != nil {
		return false, fmt.Errorf("schedule reboot: %w", err)
	}
	return won, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
