package latch

import (
	"context"
	"path/filepath"

	"github.com/openpdu/powerd/internal/log"
)

// Open picks the best available backend: the external cache when reachable,
// the embedded store otherwise, process memory as a last resort.
func Open(ctx context.Context, redisURL, dataDir string) Store {
	logger := log.WithComponent("latch")

	if redisURL != "" {
		if s, err := NewRedis(ctx, redisURL); err == nil {
			logger.Info().Str(log.FieldEvent, "latch.backend").Str("backend", "redis").Msg("latch store ready")
			return s
		} else {
			logger.Warn().Err(err).Str(log.FieldEvent, "latch.redis_unavailable").Msg("cache unreachable, falling back to embedded store")
		}
	}

	if dataDir != "" {
		if s, err := NewBadger(filepath.Join(dataDir, "latch")); err == nil {
			logger.Info().Str(log.FieldEvent, "latch.backend").Str("backend", "badger").Msg("latch store ready")
			return s
		} else {
			logger.Warn().Err(err).Str(log.FieldEvent, "latch.badger_unavailable").Msg("embedded store unavailable, falling back to memory")
		}
	}

	logger.Warn().Str(log.FieldEvent, "latch.backend").Str("backend", "memory").Msg("latch state will not survive restart")
	return NewMemory()
}
