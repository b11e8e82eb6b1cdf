package redis

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StandingsCache implements leaderboard.StandingsCache. Calls go through a
// circuit breaker: while redis is failing the breaker opens and reads fail
// fast, so the leaderboard query falls back to the store without waiting
// for socket timeouts.
type StandingsCache struct {
	cache   *Cache
	key     string
	breaker circuitbreaker.CircuitBreaker[*leaderboard.Snapshot]
	log     *logger.Logger
}

// StandingsCacheConfig configures the breaker around the cache.
type StandingsCacheConfig struct {
	// ConsecutiveFailures opens the breaker. Default: 5
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open. Default: 30s
	OpenTimeout time.Duration
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache(cache *Cache, cfg StandingsCacheConfig, log *logger.Logger) *StandingsCache {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("standings_cache"))

	return &StandingsCache{
		cache: cache,
		key:   StandingsKey(),
		breaker: circuitbreaker.New[*leaderboard.Snapshot](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("circuit breaker state change",
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			},
		}),
		log: log,
	}
}

// cachedStandings is the wire form of a snapshot.
type cachedStandings struct {
	BuiltAt   time.Time        `json:"built_at"`
	Standings []cachedStanding `json:"standings"`
}

type cachedStanding struct {
	UserID       string `json:"u"`
	DisplayName  string `json:"n,omitempty"`
	TotalPoints  int64  `json:"t"`
	WeeklyPoints int64  `json:"w"`
	CurrentTier  int    `json:"r"`
}

// Get returns the cached snapshot, or nil on a miss.
func (c *StandingsCache) Get(ctx context.Context) (*leaderboard.Snapshot, error) {
	return c.breaker.Execute(ctx, func(ctx context.Context) (*leaderboard.Snapshot, error) {
		var cached cachedStandings
		err := c.cache.Get(ctx, c.key, &cached)
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		standings := make([]leaderboard.Standing, len(cached.Standings))
		for i, s := range cached.Standings {
			standings[i] = leaderboard.Standing{
				UserID:       s.UserID,
				DisplayName:  s.DisplayName,
				TotalPoints:  s.TotalPoints,
				WeeklyPoints: s.WeeklyPoints,
				CurrentTier:  s.CurrentTier,
			}
		}
		return leaderboard.NewSnapshot(standings, cached.BuiltAt), nil
	})
}

// Set stores the snapshot for ttl.
func (c *StandingsCache) Set(ctx context.Context, snapshot *leaderboard.Snapshot, ttl time.Duration) error {
	if snapshot == nil {
		return nil
	}
	cached := cachedStandings{
		BuiltAt:   snapshot.BuiltAt,
		Standings: make([]cachedStanding, len(snapshot.Standings)),
	}
	for i, s := range snapshot.Standings {
		cached.Standings[i] = cachedStanding{
			UserID:       s.UserID,
			DisplayName:  s.DisplayName,
			TotalPoints:  s.TotalPoints,
			WeeklyPoints: s.WeeklyPoints,
			CurrentTier:  s.CurrentTier,
		}
	}

	_, err := c.breaker.Execute(ctx, func(ctx context.Context) (*leaderboard.Snapshot, error) {
		return nil, c.cache.Set(ctx, c.key, cached, ttl)
	})
	return err
}

// Invalidate drops the cached snapshot.
func (c *StandingsCache) Invalidate(ctx context.Context) error {
	_, err := c.breaker.Execute(ctx, func(ctx context.Context) (*leaderboard.Snapshot, error) {
		return nil, c.cache.Delete(ctx, c.key)
	})
	return err
}
