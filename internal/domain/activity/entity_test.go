package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

func points(v int64) *int64 { return &v }

func validEvent() Event {
	return Event{
		UserID:     "u-1",
		Kind:       KindChapterComplete,
		CourseID:   "go-101",
		ItemID:     "ch1",
		OccurredAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestEvent_Key(t *testing.T) {
	e := validEvent()
	assert.Equal(t, shared.ItemKey("chapter:go-101:ch1"), e.Key())

	e.Kind = KindQuizAttempt
	assert.Equal(t, shared.ItemKey("quiz:go-101:ch1"), e.Key())

	e.ItemKey = " custom "
	assert.Equal(t, shared.ItemKey("custom"), e.Key())
}

func TestEvent_Validate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	e := validEvent()
	e.UserID = " "
	assert.ErrorIs(t, e.Validate(), shared.ErrInvalidID)

	e = validEvent()
	e.Kind = "lecture"
	assert.ErrorIs(t, e.Validate(), shared.ErrInvalidInput)
	assert.ErrorIs(t, e.Validate(), shared.ErrInvalidActivityKind)

	e = validEvent()
	e.ItemKey = "achievement:FIRST_STEPS"
	assert.ErrorIs(t, e.Validate(), shared.ErrInvalidInput)

	e = validEvent()
	e.ItemID = ""
	assert.ErrorIs(t, e.Validate(), shared.ErrEmptyValue)

	e.ItemKey = "explicit"
	assert.NoError(t, e.Validate())

	e = validEvent()
	e.OccurredAt = time.Time{}
	assert.Error(t, e.Validate())
}

func TestEvent_ResolvePoints(t *testing.T) {
	e := validEvent()
	_, err := e.ResolvePoints()
	assert.True(t, shared.IsConfiguration(err))

	e.Course = &CoursePoints{TotalPoints: 1000, GradableItems: 3}
	p, err := e.ResolvePoints()
	require.NoError(t, err)
	assert.Equal(t, int64(333), p)

	e.PointsEligible = points(42)
	p, err = e.ResolvePoints()
	require.NoError(t, err)
	assert.Equal(t, int64(42), p)

	e.PointsEligible = points(-1)
	_, err = e.ResolvePoints()
	assert.True(t, shared.IsConfiguration(err))

	e.PointsEligible = nil
	e.Course = &CoursePoints{TotalPoints: 1000, GradableItems: 0}
	_, err = e.ResolvePoints()
	assert.True(t, shared.IsConfiguration(err))
	assert.ErrorIs(t, err, shared.ErrInvalidCoursePoints)

	e.Course = &CoursePoints{TotalPoints: -5, GradableItems: 2}
	_, err = e.ResolvePoints()
	assert.ErrorIs(t, err, shared.ErrInvalidCoursePoints)
}
