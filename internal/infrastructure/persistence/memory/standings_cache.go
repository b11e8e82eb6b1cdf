package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
)

// StandingsCache implements leaderboard.StandingsCache in process memory.
type StandingsCache struct {
	mu        sync.RWMutex
	snapshot  *leaderboard.Snapshot
	expiresAt time.Time
	now       func() time.Time
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache() *StandingsCache {
	return &StandingsCache{now: time.Now}
}

// Get returns the cached snapshot, or nil when empty or expired.
func (c *StandingsCache) Get(_ context.Context) (*leaderboard.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || !c.now().Before(c.expiresAt) {
		return nil, nil
	}
	return c.snapshot, nil
}

// Set stores the snapshot for ttl.
func (c *StandingsCache) Set(_ context.Context, snapshot *leaderboard.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.expiresAt = c.now().Add(ttl)
	return nil
}

// Invalidate drops the cached snapshot.
func (c *StandingsCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	return nil
}
