package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestUserRankRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRankRepository()

	_, err := repo.Get(ctx, "u-1")
	assert.True(t, shared.IsNotFound(err))

	s := rank.NewUserRankState("u-1", 2, t0)
	s.Credit("chapter:c:1", 100, t0)
	require.NoError(t, repo.Save(ctx, s))
	assert.Equal(t, int64(1), s.Version)
	assert.False(t, s.IsDirty())

	got, err := repo.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalPoints)
	assert.True(t, got.HasCredited("chapter:c:1"))

	// Mutating the copy does not touch the stored state.
	got.Credit("chapter:c:2", 50, t0)
	again, _ := repo.Get(ctx, "u-1")
	assert.Equal(t, int64(100), again.TotalPoints)
}

func TestUserRankRepository_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRankRepository()
	require.NoError(t, repo.Save(ctx, rank.NewUserRankState("u-1", 0, t0)))

	a, _ := repo.Get(ctx, "u-1")
	b, _ := repo.Get(ctx, "u-1")

	a.Credit("k1", 10, t0)
	require.NoError(t, repo.Save(ctx, a))

	b.Credit("k2", 10, t0)
	err := repo.Save(ctx, b)
	assert.True(t, shared.IsConflict(err))

	// A second insert of the same user conflicts as well.
	err = repo.Save(ctx, rank.NewUserRankState("u-1", 0, t0))
	assert.True(t, shared.IsConflict(err))
}

func TestUserRankRepository_HistoryAndListing(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRankRepository()
	machine := rank.NewStateMachine(rank.MustTierTable([]rank.RankTier{
		{Number: 1, Name: "One", MinPoints: 0, MaxPoints: 100, Group: rank.GroupNovice},
		{Number: 2, Name: "Two", MinPoints: 100, Group: rank.GroupIntermediate},
	}))

	for i, id := range []string{"u-3", "u-1", "u-2"} {
		s := rank.NewUserRankState(id, 0, t0)
		s.Credit("k", 150, t0.Add(time.Duration(i)*time.Minute))
		machine.Evaluate(s, t0.Add(time.Duration(i)*time.Minute))
		n := 0
		s.AssignHistoryIDs(func() string { n++; return id + "-h" })
		require.NoError(t, repo.Save(ctx, s))
	}

	ids, err := repo.ListUserIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, ids)
	ids, _ = repo.ListUserIDs(ctx, "u-2", 2)
	assert.Equal(t, []string{"u-3"}, ids)

	hist, err := repo.ListByUser(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, rank.ReasonPromotion, hist[0].Reason)

	since, _ := repo.ListSince(ctx, t0.Add(time.Minute), 10)
	assert.Len(t, since, 2)
	assert.Equal(t, "u-1", since[0].UserID)

	standings, _ := repo.Standings(ctx)
	assert.Len(t, standings, 3)

	n, _ := repo.Count(ctx)
	assert.Equal(t, 3, n)
}

func TestCycleLockAndLedger(t *testing.T) {
	ctx := context.Background()
	lock := NewCycleLock()

	release, err := lock.Acquire(ctx, "2026-W11", time.Minute)
	require.NoError(t, err)
	_, err = lock.Acquire(ctx, "2026-W11", time.Minute)
	assert.ErrorIs(t, err, shared.ErrCycleLocked)
	release()
	release()
	_, err = lock.Acquire(ctx, "2026-W11", time.Minute)
	assert.NoError(t, err)

	ledger := NewCycleLedger()
	done, _ := ledger.IsCompleted(ctx, "2026-W11")
	assert.False(t, done)
	require.NoError(t, ledger.MarkCompleted(ctx, "2026-W11", t0))
	done, _ = ledger.IsCompleted(ctx, "2026-W11")
	assert.True(t, done)
}

func TestAchievementRepository(t *testing.T) {
	catalog, err := achievement.NewCatalog([]achievement.Definition{
		{Code: "A", Requirement: achievement.StreakDays{Min: 3}},
	})
	require.NoError(t, err)
	repo := NewAchievementRepository(catalog)

	defs, _ := repo.List(context.Background())
	assert.Len(t, defs, 1)
	_, err = repo.GetByCode(context.Background(), "B")
	assert.True(t, shared.IsNotFound(err))
}

func TestStandingsCache(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := NewStandingsCache()
	c.now = func() time.Time { return now }

	snap, _ := c.Get(ctx)
	assert.Nil(t, snap)

	require.NoError(t, c.Set(ctx, leaderboard.NewSnapshot(nil, now), time.Minute))
	snap, _ = c.Get(ctx)
	assert.NotNil(t, snap)

	now = now.Add(2 * time.Minute)
	snap, _ = c.Get(ctx)
	assert.Nil(t, snap)
}
