package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

func twoTierMachine() *StateMachine {
	return NewStateMachine(MustTierTable([]RankTier{
		{Number: 1, Name: "One", MinPoints: 0, MaxPoints: 1000, Group: GroupNovice},
		{Number: 2, Name: "Two", MinPoints: 1000, MaxPoints: 0, Group: GroupNovice},
	}))
}

func TestEvaluate_PromotesAtBoundary(t *testing.T) {
	m := twoTierMachine()
	s := NewUserRankState("u-1", 0, t0)

	s.Credit("ch1", 500, t0)
	assert.Nil(t, m.Evaluate(s, t0))
	assert.Equal(t, 1, s.CurrentTier)

	s.Credit("ch1", 500, t0)
	assert.Equal(t, int64(500), s.TotalPoints)

	s.Credit("ch2", 600, t0)
	entry := m.Evaluate(s, t0)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.OldTier)
	assert.Equal(t, 2, entry.NewTier)
	assert.Equal(t, ReasonPromotion, entry.Reason)
	assert.Equal(t, 2, s.CurrentTier)
	assert.Equal(t, 2, s.HighestTierEverReached)
	assert.Equal(t, 1, s.PromotionCount)

	ch := s.Changes()
	require.Len(t, ch.History, 1)
	var rankEvents int
	for _, e := range ch.Events {
		if e.EventType() == shared.EventRankPromoted {
			rankEvents++
		}
	}
	assert.Equal(t, 1, rankEvents)
}

func TestEvaluate_SkipsTiers(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	s := NewUserRankState("u-1", 0, t0)

	s.Credit("big", 6000, t0)
	entry := m.Evaluate(s, t0)

	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.OldTier)
	assert.Equal(t, 4, entry.NewTier)
	assert.Equal(t, 1, s.PromotionCount)
	assert.Len(t, s.Changes().History, 1)
}

func TestEvaluate_NeverDemotes(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	s := RestoreUserRankState(UserRankState{UserID: "u-1", CurrentTier: 3, HighestTierEverReached: 3, TotalPoints: 100}, nil, nil)

	assert.Nil(t, m.Evaluate(s, t0))
	assert.Equal(t, 3, s.CurrentTier)
	assert.Equal(t, 0, s.DemotionCount)
}

func TestApplyWeeklyCycle_Demotes(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(map[TierGroup]int64{GroupIntermediate: 200}, 0)
	s := RestoreUserRankState(UserRankState{
		UserID: "u-1", CurrentTier: 3, HighestTierEverReached: 3, TotalPoints: 3000, WeeklyPoints: 50,
	}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)

	require.NotNil(t, out.Demotion)
	assert.Equal(t, 3, out.Demotion.OldTier)
	assert.Equal(t, 2, out.Demotion.NewTier)
	assert.Equal(t, ReasonDemotion, out.Demotion.Reason)
	assert.Equal(t, 2, s.CurrentTier)
	assert.Equal(t, 3, s.HighestTierEverReached)
	assert.Equal(t, 1, s.DemotionCount)
	assert.Equal(t, int64(0), s.WeeklyPoints)
	assert.Equal(t, "2026-W11", s.LastCycleKey)
}

func TestEvaluate_RepromotesAfterWeeklyDemotion(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(map[TierGroup]int64{GroupIntermediate: 200}, 0)
	s := RestoreUserRankState(UserRankState{
		UserID: "u-1", CurrentTier: 3, HighestTierEverReached: 3, TotalPoints: 3000, WeeklyPoints: 50,
	}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)
	require.NotNil(t, out.Demotion)
	assert.Equal(t, 2, s.CurrentTier)

	// Баланс всё ещё в диапазоне ранга 3: следующее начисление повышает сразу.
	require.True(t, s.Credit("ch-next", 10, t0))
	entry := m.Evaluate(s, t0)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.OldTier)
	assert.Equal(t, 3, entry.NewTier)
	assert.Equal(t, ReasonPromotion, entry.Reason)
	assert.True(t, entry.IsPromotion())
	assert.Equal(t, 1, s.DemotionCount)
	assert.Equal(t, 1, s.PromotionCount)
}

func TestRankHistoryEntry_IsPromotion(t *testing.T) {
	assert.True(t, RankHistoryEntry{OldTier: 1, NewTier: 3}.IsPromotion())
	assert.False(t, RankHistoryEntry{OldTier: 3, NewTier: 2}.IsPromotion())
	assert.False(t, RankHistoryEntry{OldTier: 2, NewTier: 2}.IsPromotion())
}

func TestApplyWeeklyCycle_ImmunityProtects(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(map[TierGroup]int64{GroupIntermediate: 200}, 0)
	s := RestoreUserRankState(UserRankState{
		UserID: "u-1", CurrentTier: 3, TotalPoints: 3000, WeeklyPoints: 50, ImmunityCycles: 1,
	}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)

	assert.True(t, out.Protected)
	assert.Nil(t, out.Demotion)
	assert.Equal(t, 3, s.CurrentTier)
	assert.Equal(t, 0, s.ImmunityCycles)
	assert.Equal(t, int64(0), s.WeeklyPoints)
}

func TestApplyWeeklyCycle_AboveFloorKeepsTierAndImmunity(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(map[TierGroup]int64{GroupIntermediate: 200}, 0)
	s := RestoreUserRankState(UserRankState{
		UserID: "u-1", CurrentTier: 3, TotalPoints: 3000, WeeklyPoints: 200, ImmunityCycles: 1,
	}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)

	assert.False(t, out.BelowFloor)
	assert.Equal(t, 3, s.CurrentTier)
	assert.Equal(t, 1, s.ImmunityCycles)
	assert.Equal(t, int64(0), s.WeeklyPoints)
}

func TestApplyWeeklyCycle_TierOneStays(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(nil, 100)
	s := RestoreUserRankState(UserRankState{UserID: "u-1", CurrentTier: 1, WeeklyPoints: 0, ImmunityCycles: 2}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)

	assert.True(t, out.BelowFloor)
	assert.Nil(t, out.Demotion)
	assert.Equal(t, 1, s.CurrentTier)
	assert.Equal(t, 2, s.ImmunityCycles)
}

func TestApplyWeeklyCycle_SkipsProcessedPeriod(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(nil, 1000)
	s := RestoreUserRankState(UserRankState{
		UserID: "u-1", CurrentTier: 3, WeeklyPoints: 10, LastCycleKey: "2026-W11",
	}, nil, nil)

	out := m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)

	assert.True(t, out.Skipped)
	assert.Equal(t, 3, s.CurrentTier)
	assert.Equal(t, int64(10), s.WeeklyPoints)
}

func TestApplyWeeklyCycle_DemotesOneStepOnly(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	policy := NewFloorPolicy(nil, 1_000_000)
	s := RestoreUserRankState(UserRankState{UserID: "u-1", CurrentTier: 4, TotalPoints: 100}, nil, nil)

	m.ApplyWeeklyCycle(s, policy, "2026-W11", t0)
	assert.Equal(t, 3, s.CurrentTier)

	m.ApplyWeeklyCycle(s, policy, "2026-W12", t0)
	assert.Equal(t, 2, s.CurrentTier)
	assert.Equal(t, 2, s.DemotionCount)
}

func TestAdjust(t *testing.T) {
	m := NewStateMachine(MustTierTable(testTiers()))
	s := RestoreUserRankState(UserRankState{UserID: "u-1", CurrentTier: 3, HighestTierEverReached: 3, TotalPoints: 3000}, nil, nil)

	entry, err := m.Adjust(s, 500, "fraud correction", t0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ReasonAdminAdjustment, entry.Reason)
	assert.Equal(t, 1, s.CurrentTier)
	assert.Equal(t, int64(500), s.TotalPoints)
	assert.Equal(t, 0, s.DemotionCount)
	assert.Equal(t, 3, s.HighestTierEverReached)

	entry, err = m.Adjust(s, 600, "minor fix", t0)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = m.Adjust(s, -1, "x", t0)
	assert.ErrorIs(t, err, shared.ErrNegativeValue)

	_, err = m.Adjust(s, 10, "  ", t0)
	assert.ErrorIs(t, err, shared.ErrEmptyValue)
}

func TestAssignHistoryIDs(t *testing.T) {
	m := twoTierMachine()
	s := NewUserRankState("u-1", 0, t0)
	s.Credit("ch", 1500, t0)
	m.Evaluate(s, t0)

	s.AssignHistoryIDs(func() string { return "h-1" })

	ch := s.Changes()
	assert.Equal(t, "h-1", ch.History[0].ID)
	last := ch.Events[len(ch.Events)-1]
	assert.Equal(t, "h-1", last.Payload()["history_id"])

	s.ClearChanges()
	assert.True(t, s.Changes().IsEmpty())
}
