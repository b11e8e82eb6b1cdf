package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// CycleLock implements rank.CycleLock with SET NX. The value is a random
// token so that a process whose lock expired cannot release a lock taken
// over by someone else.
type CycleLock struct {
	cache *Cache
	log   *logger.Logger
}

// NewCycleLock creates a new CycleLock.
func NewCycleLock(cache *Cache, log *logger.Logger) *CycleLock {
	if log == nil {
		log = logger.Nop()
	}
	return &CycleLock{cache: cache, log: log.With(logger.Component("cycle_lock"))}
}

// Acquire takes the lock for cycleKey.
func (l *CycleLock) Acquire(ctx context.Context, cycleKey string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = TTLCycleLock
	}
	key := LockKey("weekly_cycle:" + cycleKey)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, shared.ErrCycleLocked
	}

	return func() {
		// Release must work after the caller's context is done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		released, err := l.cache.DeleteIfEquals(rctx, key, token)
		if err != nil {
			l.log.Warn("cycle lock release failed", logger.CycleKey(cycleKey), logger.Err(err))
			return
		}
		if !released {
			l.log.Warn("cycle lock expired before release", logger.CycleKey(cycleKey))
		}
	}, nil
}
