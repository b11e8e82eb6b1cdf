package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

func testTiers() []RankTier {
	return []RankTier{
		{Number: 1, Name: "Newcomer", MinPoints: 0, MaxPoints: 1000, Group: GroupNovice},
		{Number: 2, Name: "Learner", MinPoints: 1000, MaxPoints: 2500, Group: GroupNovice},
		{Number: 3, Name: "Apprentice", MinPoints: 2500, MaxPoints: 5000, Group: GroupIntermediate},
		{Number: 4, Name: "Adept", MinPoints: 5000, MaxPoints: 0, Group: GroupAdvanced},
	}
}

func TestNewTierTable_Valid(t *testing.T) {
	table, err := NewTierTable(testTiers())
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())
	assert.Equal(t, 4, table.Highest())
}

func TestNewTierTable_SortsByNumber(t *testing.T) {
	tiers := testTiers()
	tiers[0], tiers[3] = tiers[3], tiers[0]

	table, err := NewTierTable(tiers)
	require.NoError(t, err)
	assert.Equal(t, "Newcomer", table.Tiers()[0].Name)
}

func TestNewTierTable_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]RankTier) []RankTier
		want   string
	}{
		{"empty", func([]RankTier) []RankTier { return nil }, "empty"},
		{"gap", func(ts []RankTier) []RankTier { ts[1].MinPoints = 1100; return ts }, "gap"},
		{"overlap", func(ts []RankTier) []RankTier { ts[1].MinPoints = 900; return ts }, "overlap"},
		{"number hole", func(ts []RankTier) []RankTier { ts[3].Number = 7; return ts }, "dense"},
		{"bounded top", func(ts []RankTier) []RankTier { ts[3].MaxPoints = 9000; return ts }, "unbounded"},
		{"unbounded middle", func(ts []RankTier) []RankTier { ts[1].MaxPoints = 0; return ts }, "not the highest"},
		{"not from zero", func(ts []RankTier) []RankTier { ts[0].MinPoints = 10; return ts }, "start at 0"},
		{"empty range", func(ts []RankTier) []RankTier { ts[0].MaxPoints = -1; return ts }, "empty range"},
		{"no name", func(ts []RankTier) []RankTier { ts[2].Name = " "; return ts }, "no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTierTable(tt.mutate(testTiers()))
			require.Error(t, err)
			assert.True(t, shared.IsConfiguration(err))
			assert.ErrorIs(t, err, shared.ErrInvalidTierTable)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTierTable_Lookup(t *testing.T) {
	table := MustTierTable(testTiers())

	tests := []struct {
		points int64
		want   int
	}{
		{0, 1},
		{500, 1},
		{999, 1},
		{1000, 2}, // inclusive min belongs to the higher tier
		{2499, 2},
		{2500, 3},
		{5000, 4},
		{1_000_000, 4},
		{-5, 1},
	}

	for _, tt := range tests {
		got := table.Lookup(tt.points)
		assert.Equal(t, tt.want, got.Number, "points=%d", tt.points)
		if tt.points >= 0 {
			assert.True(t, got.Contains(tt.points))
		}
	}
}

func TestTierTable_LookupIsUnique(t *testing.T) {
	table := MustTierTable(testTiers())
	for p := int64(0); p < 6000; p += 7 {
		matches := 0
		for _, tier := range table.Tiers() {
			if tier.Contains(p) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "points=%d", p)
	}
}

func TestTierTable_ByNumber(t *testing.T) {
	table := MustTierTable(testTiers())

	tier, err := table.ByNumber(3)
	require.NoError(t, err)
	assert.Equal(t, "Apprentice", tier.Name)

	_, err = table.ByNumber(0)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
	assert.ErrorIs(t, err, shared.ErrUnknownTier)
	_, err = table.ByNumber(5)
	assert.ErrorIs(t, err, shared.ErrUnknownTier)
}

func TestTierTable_Progress(t *testing.T) {
	table := MustTierTable(testTiers())

	p := table.Progress(2, 1750)
	assert.Equal(t, 2, p.Current.Number)
	require.NotNil(t, p.Next)
	assert.Equal(t, 3, p.Next.Number)
	assert.InDelta(t, 0.5, p.Fraction, 1e-9)
	assert.Equal(t, int64(750), p.PointsToNext)

	top := table.Progress(4, 90000)
	assert.Nil(t, top.Next)
	assert.Equal(t, 1.0, top.Fraction)

	// Demoted below balance: displayed tier is full.
	lagging := table.Progress(1, 1800)
	assert.Equal(t, 1.0, lagging.Fraction)
	assert.Equal(t, int64(0), lagging.PointsToNext)
}

func TestFloorPolicy(t *testing.T) {
	policy := DefaultFloorPolicy()
	table := MustTierTable(testTiers())

	assert.Equal(t, int64(0), policy.FloorFor(table.Tiers()[0]))
	assert.Equal(t, int64(100), policy.FloorFor(table.Tiers()[2]))
	assert.Equal(t, int64(200), policy.FloorFor(table.Tiers()[3]))

	custom := NewFloorPolicy(map[TierGroup]int64{"Expert ": 42}, 7)
	assert.Equal(t, int64(42), custom.FloorFor(RankTier{Group: GroupExpert}))
	assert.Equal(t, int64(7), custom.FloorFor(RankTier{Group: GroupNovice}))
}
