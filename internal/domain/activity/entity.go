// Package activity contains the inbound learning event consumed by the
// engine. Events are produced by the course-progress subsystem and are not
// persisted here; only their effect on a user's rank state is.
package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// Kind is the type of learning event.
type Kind string

const (
	KindChapterComplete Kind = "chapter-complete"
	KindQuizAttempt     Kind = "quiz-attempt"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindChapterComplete || k == KindQuizAttempt
}

// keyPrefix is the item-key namespace for this kind.
func (k Kind) keyPrefix() string {
	switch k {
	case KindQuizAttempt:
		return "quiz"
	default:
		return "chapter"
	}
}

// Difficulty is the course difficulty tier from course management.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// CoursePoints is the per-course points configuration. The engine reads it
// to derive a per-item share and never stores it.
type CoursePoints struct {
	TotalPoints   int64
	GradableItems int
	Difficulty    Difficulty
}

// PerItem returns TotalPoints / GradableItems (integer division).
func (c CoursePoints) PerItem() (int64, error) {
	if c.GradableItems <= 0 {
		return 0, shared.WrapError("activity", "ResolvePoints", shared.ErrInvalidCoursePoints,
			"course points configuration is malformed", fmt.Errorf("gradable items = %d", c.GradableItems))
	}
	if c.TotalPoints < 0 {
		return 0, shared.WrapError("activity", "ResolvePoints", shared.ErrInvalidCoursePoints,
			"course points configuration is malformed", fmt.Errorf("total points = %d", c.TotalPoints))
	}
	return c.TotalPoints / int64(c.GradableItems), nil
}

// Event is one chapter completion or quiz submission.
type Event struct {
	UserID      string
	DisplayName string // optional, refreshes the leaderboard search name
	Kind        Kind
	CourseID    string
	ItemID      string

	// ItemKey overrides the derived "<kind>:<course>:<item>" key.
	ItemKey string

	// PointsEligible is the already-resolved amount. When nil, Course is used.
	PointsEligible *int64
	Course         *CoursePoints

	IsPerfectScore bool
	HadSpeedBonus  bool
	OccurredAt     time.Time

	// Running counters maintained by the ingestion subsystem, after this event.
	PerfectScoreCount     int
	SpeedBonusCount       int
	CoursesCompletedCount int
}

// Validate checks required fields.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return shared.ErrInvalidUserID
	}
	if !e.Kind.IsValid() {
		return shared.WrapError("activity", "Validate", shared.ErrInvalidActivityKind,
			shared.ErrInvalidActivityKind.Message, fmt.Errorf("kind %q", e.Kind))
	}
	if e.ItemKey == "" && (strings.TrimSpace(e.CourseID) == "" || strings.TrimSpace(e.ItemID) == "") {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue,
			"course id and item id are required without an explicit item key")
	}
	if e.Key().IsAchievementReward() {
		return shared.WrapError("activity", "Validate", shared.ErrInvalidInput,
			"item key is reserved for achievement rewards", fmt.Errorf("key %q", e.Key()))
	}
	if e.OccurredAt.IsZero() {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue, "occurred_at is required")
	}
	return nil
}

// Key returns the ledger key for this event.
func (e Event) Key() shared.ItemKey {
	if k := strings.TrimSpace(e.ItemKey); k != "" {
		return shared.ItemKey(k)
	}
	return shared.ItemKey(fmt.Sprintf("%s:%s:%s", e.Kind.keyPrefix(), e.CourseID, e.ItemID))
}

// ResolvePoints returns the creditable amount. A missing or malformed
// configuration is an error; no default is ever guessed.
func (e Event) ResolvePoints() (int64, error) {
	if e.PointsEligible != nil {
		if *e.PointsEligible < 0 {
			return 0, shared.WrapError("activity", "ResolvePoints", shared.ErrConfiguration,
				"resolved points cannot be negative", fmt.Errorf("got %d", *e.PointsEligible))
		}
		return *e.PointsEligible, nil
	}
	if e.Course == nil {
		return 0, shared.ErrMissingPointsConfig
	}
	return e.Course.PerItem()
}
