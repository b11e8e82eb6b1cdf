package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

var at = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

type countingCache struct {
	invalidations int
	err           error
}

func (c *countingCache) Get(context.Context) (*leaderboard.Snapshot, error) { return nil, nil }
func (c *countingCache) Set(context.Context, *leaderboard.Snapshot, time.Duration) error {
	return nil
}
func (c *countingCache) Invalidate(context.Context) error {
	c.invalidations++
	return c.err
}

type recordingStream struct {
	events []shared.Event
	err    error
}

func (s *recordingStream) Publish(_ context.Context, e shared.Event) error {
	s.events = append(s.events, e)
	return s.err
}

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func TestOnRankChanged(t *testing.T) {
	cache := &countingCache{}
	stream := &recordingStream{}
	tiers := rank.MustTierTable([]rank.RankTier{
		{Number: 1, Name: "Newcomer", MinPoints: 0, MaxPoints: 100, Group: rank.GroupNovice},
		{Number: 2, Name: "Learner", MinPoints: 100, Group: rank.GroupNovice},
	})
	h := NewOnRankChangedHandler(stream, cache, tiers, nil, RankChangedConfig{SkipAdjustments: true})

	promoted := shared.NewRankChangedEvent(shared.EventRankPromoted, "h-1", "u-1", 1, 2, "promotion", at)
	require.NoError(t, h.Handle(promoted))

	adjusted := shared.NewRankChangedEvent(shared.EventRankAdjusted, "h-2", "u-1", 2, 1, "admin-adjustment", at)
	require.NoError(t, h.Handle(adjusted))

	// Other event types are ignored.
	require.NoError(t, h.Handle(shared.NewPointsCreditedEvent("u-1", "k", 1, 1, 1, at)))

	assert.Equal(t, 2, cache.invalidations)
	require.Len(t, stream.events, 1)
	assert.Equal(t, shared.EventRankPromoted, stream.events[0].EventType())
	assert.ElementsMatch(t,
		[]shared.EventType{shared.EventRankPromoted, shared.EventRankDemoted, shared.EventRankAdjusted},
		h.EventTypes())
}

func TestOnRankChanged_StreamErrorIsReturned(t *testing.T) {
	stream := &recordingStream{err: errors.New("redis down")}
	h := NewOnRankChangedHandler(stream, nil, nil, nil, DefaultRankChangedConfig())

	err := h.Handle(shared.NewRankChangedEvent(shared.EventRankDemoted, "h-1", "u-1", 3, 2, "demotion", at))
	assert.Error(t, err)
}

func TestOnPointsChanged_Throttles(t *testing.T) {
	cache := &countingCache{}
	clock := &stepClock{t: at}
	h := NewOnPointsChangedHandler(cache, clock, nil, PointsChangedConfig{MinInterval: 10 * time.Second})

	credited := shared.NewPointsCreditedEvent("u-1", "k", 10, 10, 10, at)

	require.NoError(t, h.Handle(credited))
	require.NoError(t, h.Handle(credited))
	assert.Equal(t, 1, cache.invalidations)

	// The end of a cycle resets weekly points for everyone.
	require.NoError(t, h.Handle(shared.NewWeeklyCycleCompletedEvent("2026-W11", 5, 1, 1, 3, 0, at)))
	assert.Equal(t, 2, cache.invalidations)

	clock.t = at.Add(11 * time.Second)
	require.NoError(t, h.Handle(credited))
	assert.Equal(t, 3, cache.invalidations)
}

func TestOnPointsChanged_FailureRetriesOnNextEvent(t *testing.T) {
	cache := &countingCache{err: errors.New("redis down")}
	h := NewOnPointsChangedHandler(cache, &stepClock{t: at}, nil, PointsChangedConfig{MinInterval: time.Minute})

	credited := shared.NewPointsCreditedEvent("u-1", "k", 10, 10, 10, at)
	require.NoError(t, h.Handle(credited))
	require.NoError(t, h.Handle(credited))

	assert.Equal(t, 2, cache.invalidations)
}
