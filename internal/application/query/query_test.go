package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

var now = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

// countingSource считает чтения хранилища.
type countingSource struct {
	calls     atomic.Int32
	standings []leaderboard.Standing
	err       error
	delay     time.Duration
}

func (s *countingSource) Standings(context.Context) ([]leaderboard.Standing, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.standings, s.err
}

type failingCache struct{}

func (failingCache) Get(context.Context) (*leaderboard.Snapshot, error) {
	return nil, errors.New("redis down")
}
func (failingCache) Set(context.Context, *leaderboard.Snapshot, time.Duration) error {
	return errors.New("redis down")
}
func (failingCache) Invalidate(context.Context) error { return nil }

func sampleStandings() []leaderboard.Standing {
	return []leaderboard.Standing{
		{UserID: "u-1", DisplayName: "Aigerim", TotalPoints: 900, WeeklyPoints: 10},
		{UserID: "u-2", DisplayName: "Arman", TotalPoints: 900, WeeklyPoints: 80},
		{UserID: "u-3", DisplayName: "Dana", TotalPoints: 300, WeeklyPoints: 90},
	}
}

func TestGetLeaderboard(t *testing.T) {
	src := &countingSource{standings: sampleStandings()}
	h := NewGetLeaderboardHandler(src, memory.NewStandingsCache(), time.Minute, timeutil.FixedClock{T: now}, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{PageSize: 2, RequesterID: "u-3"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "u-1", res.Entries[0].UserID)
	assert.Equal(t, "u-2", res.Entries[1].UserID)
	assert.True(t, res.HasMore)
	require.NotNil(t, res.Me)
	assert.Equal(t, 3, res.Me.Rank)

	res, err = h.Handle(context.Background(), GetLeaderboardQuery{Period: "weekly", Search: "a"})
	require.NoError(t, err)
	assert.Equal(t, "u-3", res.Entries[0].UserID)
	assert.Equal(t, int64(90), res.Entries[0].Points)
	assert.Equal(t, "weekly", res.Period)

	// Second and third calls were served from the cache.
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestGetLeaderboard_Validation(t *testing.T) {
	h := NewGetLeaderboardHandler(&countingSource{}, nil, time.Minute, nil, nil)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{Period: "monthly"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{Page: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestGetLeaderboard_CacheFailureFallsBack(t *testing.T) {
	src := &countingSource{standings: sampleStandings()}
	h := NewGetLeaderboardHandler(src, failingCache{}, time.Minute, nil, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
}

func TestGetLeaderboard_SourceFailure(t *testing.T) {
	h := NewGetLeaderboardHandler(&countingSource{err: errors.New("db down")}, nil, time.Minute, nil, nil)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestGetLeaderboard_ConcurrentMissesCoalesce(t *testing.T) {
	src := &countingSource{standings: sampleStandings(), delay: 50 * time.Millisecond}
	h := NewGetLeaderboardHandler(src, nil, time.Minute, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(context.Background(), GetLeaderboardQuery{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, src.calls.Load(), int32(10))
}

func TestGetProfile(t *testing.T) {
	ctx := context.Background()
	tiers := rank.MustTierTable([]rank.RankTier{
		{Number: 1, Name: "Newcomer", MinPoints: 0, MaxPoints: 1000, Group: rank.GroupNovice},
		{Number: 2, Name: "Learner", MinPoints: 1000, Group: rank.GroupNovice},
	})
	catalog, err := achievement.NewCatalog([]achievement.Definition{
		{Code: "STREAK_MASTER_7", Name: "Streak Master", Requirement: achievement.StreakDays{Min: 7}, PointsReward: 100},
	})
	require.NoError(t, err)

	repo := memory.NewUserRankRepository()
	repo.Put(rank.RestoreUserRankState(rank.UserRankState{
		UserID: "u-1", DisplayName: "Aigerim", TotalPoints: 750, CurrentTier: 1, HighestTierEverReached: 2,
		StreakDays: 7, DemotionCount: 1, PromotionCount: 1,
	}, nil, []rank.Unlock{
		{Code: "STREAK_MASTER_7", UnlockedAt: now},
		{Code: "RETIRED", UnlockedAt: now},
	}))

	h := NewGetProfileHandler(repo, repo, memory.NewAchievementRepository(catalog), tiers, nil)
	p, err := h.Handle(ctx, GetProfileQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "Newcomer", p.Tier.Name)
	assert.InDelta(t, 0.75, p.Progress.Fraction, 1e-9)
	assert.Equal(t, int64(250), p.Progress.PointsToNext)
	require.NotNil(t, p.Progress.NextTier)
	assert.Nil(t, p.Progress.NextTier.MaxPoints)
	assert.Equal(t, 7, p.StreakDays)
	assert.Equal(t, 1, p.DemotionCount)
	require.Len(t, p.Achievements, 2)
	assert.Equal(t, int64(100), p.Achievements[0].PointsReward)
	assert.Equal(t, "RETIRED", p.Achievements[1].Code)
	assert.Empty(t, p.History)

	_, err = h.Handle(ctx, GetProfileQuery{UserID: "nobody"})
	assert.True(t, shared.IsNotFound(err))
}

func TestListRankHistory(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRankRepository()
	machine := rank.NewStateMachine(rank.MustTierTable([]rank.RankTier{
		{Number: 1, Name: "One", MinPoints: 0, MaxPoints: 100, Group: rank.GroupNovice},
		{Number: 2, Name: "Two", MinPoints: 100, MaxPoints: 200, Group: rank.GroupNovice},
		{Number: 3, Name: "Three", MinPoints: 200, Group: rank.GroupNovice},
	}))

	s := rank.NewUserRankState("u-1", 0, now)
	s.Credit("a", 150, now)
	machine.Evaluate(s, now)
	s.Credit("b", 100, now.Add(time.Hour))
	machine.Evaluate(s, now.Add(time.Hour))
	ids := []string{"h1", "h2"}
	s.AssignHistoryIDs(func() string { id := ids[0]; ids = ids[1:]; return id })
	require.NoError(t, repo.Save(ctx, s))

	h := NewListRankHistoryHandler(repo)

	byUser, err := h.Handle(ctx, ListRankHistoryQuery{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "h2", byUser[0].ID)
	assert.True(t, byUser[0].Promotion)

	stream, err := h.Handle(ctx, ListRankHistoryQuery{Since: now.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, stream, 1)
	assert.Equal(t, 3, stream[0].NewTier)
}
