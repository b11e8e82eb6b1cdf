package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

func setupTest(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewCacheFromClient(client)
}

func TestStandingsCache_RoundTrip(t *testing.T) {
	mr, cache := setupTest(t)
	ctx := context.Background()
	sc := NewStandingsCache(cache, StandingsCacheConfig{}, nil)

	got, err := sc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	builtAt := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	snap := leaderboard.NewSnapshot([]leaderboard.Standing{
		{UserID: "u-1", DisplayName: "Aigerim", TotalPoints: 1200, WeeklyPoints: 40, CurrentTier: 2},
		{UserID: "u-2", DisplayName: "Arman", TotalPoints: 300, CurrentTier: 1},
	}, builtAt)
	require.NoError(t, sc.Set(ctx, snap, time.Minute))

	got, err = sc.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.Standings, got.Standings)
	assert.True(t, builtAt.Equal(got.BuiltAt))

	mr.FastForward(2 * time.Minute)
	got, err = sc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStandingsCache_Invalidate(t *testing.T) {
	mr, cache := setupTest(t)
	ctx := context.Background()
	sc := NewStandingsCache(cache, StandingsCacheConfig{}, nil)

	require.NoError(t, sc.Set(ctx, leaderboard.NewSnapshot(nil, time.Now()), time.Minute))
	assert.True(t, mr.Exists(StandingsKey()))

	require.NoError(t, sc.Invalidate(ctx))
	assert.False(t, mr.Exists(StandingsKey()))
}

func TestStandingsCache_BreakerOpens(t *testing.T) {
	mr, cache := setupTest(t)
	ctx := context.Background()
	sc := NewStandingsCache(cache, StandingsCacheConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)

	mr.Close()
	for i := 0; i < 4; i++ {
		_, err := sc.Get(ctx)
		assert.Error(t, err)
	}
}

func TestCycleLock(t *testing.T) {
	mr, cache := setupTest(t)
	ctx := context.Background()
	lock := NewCycleLock(cache, nil)

	release, err := lock.Acquire(ctx, "2026-W11", time.Minute)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "2026-W11", time.Minute)
	assert.ErrorIs(t, err, shared.ErrCycleLocked)

	other, err := lock.Acquire(ctx, "2026-W12", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release2, err := lock.Acquire(ctx, "2026-W11", time.Minute)
	require.NoError(t, err)
	release2()

	assert.False(t, mr.Exists(LockKey("weekly_cycle:2026-W11")))
}

func TestCycleLock_ExpiredHolderCannotRelease(t *testing.T) {
	mr, cache := setupTest(t)
	ctx := context.Background()
	lock := NewCycleLock(cache, nil)

	stale, err := lock.Acquire(ctx, "2026-W11", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = lock.Acquire(ctx, "2026-W11", time.Minute)
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists(LockKey("weekly_cycle:2026-W11")))
}
