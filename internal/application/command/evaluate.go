package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDALONE ENGINE STEPS
// The same steps CreditPoints runs, exposed one at a time for callers that
// need them outside a credit (backfills, admin tooling, replays).
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateRankHandler re-resolves a user's tier. It can only promote;
// demotion belongs to the weekly cycle.
type EvaluateRankHandler struct {
	uow    *UnitOfWork
	engine *Engine
}

// NewEvaluateRankHandler creates a new EvaluateRankHandler.
func NewEvaluateRankHandler(uow *UnitOfWork, engine *Engine) *EvaluateRankHandler {
	return &EvaluateRankHandler{uow: uow, engine: engine}
}

// Handle evaluates the rank of userID.
func (h *EvaluateRankHandler) Handle(ctx context.Context, userID string) (*rank.RankHistoryEntry, error) {
	var out Outcome
	_, err := h.uow.Execute(ctx, userID, "EvaluateRank", func(s *rank.UserRankState) error {
		out.reset()
		h.engine.evaluateRank(s, h.uow.Now(), &out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_rank: %w", err)
	}
	if len(out.RankChanges) == 0 {
		return nil, nil
	}
	return &out.RankChanges[0], nil
}

// ──────────────────────────────────────────────────────────────────────────────

// TouchStreakCommand marks activity on the calendar day of ActivityAt.
type TouchStreakCommand struct {
	UserID     string
	ActivityAt time.Time
}

// TouchStreakResult contains the result of a streak touch.
type TouchStreakResult struct {
	Outcome
	State StateResult
}

// TouchStreakHandler handles the TouchStreakCommand.
type TouchStreakHandler struct {
	uow    *UnitOfWork
	engine *Engine
}

// NewTouchStreakHandler creates a new TouchStreakHandler.
func NewTouchStreakHandler(uow *UnitOfWork, engine *Engine) *TouchStreakHandler {
	return &TouchStreakHandler{uow: uow, engine: engine}
}

// Handle executes the touch streak command. Streak achievements are checked
// after any streak mutation.
func (h *TouchStreakHandler) Handle(ctx context.Context, cmd TouchStreakCommand) (*TouchStreakResult, error) {
	defs, err := h.engine.definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("touch_streak: %w", err)
	}

	activityAt := cmd.ActivityAt
	if activityAt.IsZero() {
		activityAt = h.uow.Now()
	}

	var out Outcome
	state, err := h.uow.Execute(ctx, cmd.UserID, "TouchStreak", func(s *rank.UserRankState) error {
		out.reset()
		now := h.uow.Now()
		if h.engine.touchStreak(s, activityAt, now, &out).Mutated() {
			h.engine.unlockAchievements(s, defs, achievement.StreakOnly(), now, &out)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch_streak: %w", err)
	}

	return &TouchStreakResult{Outcome: out, State: stateResult(state)}, nil
}

// ──────────────────────────────────────────────────────────────────────────────

// EvaluateAchievementsCommand checks the catalogue for one user.
type EvaluateAchievementsCommand struct {
	UserID  string
	Trigger achievement.Trigger
}

// EvaluateAchievementsHandler handles the EvaluateAchievementsCommand.
type EvaluateAchievementsHandler struct {
	uow    *UnitOfWork
	engine *Engine
}

// NewEvaluateAchievementsHandler creates a new EvaluateAchievementsHandler.
func NewEvaluateAchievementsHandler(uow *UnitOfWork, engine *Engine) *EvaluateAchievementsHandler {
	return &EvaluateAchievementsHandler{uow: uow, engine: engine}
}

// Handle returns the codes unlocked by this evaluation.
func (h *EvaluateAchievementsHandler) Handle(ctx context.Context, cmd EvaluateAchievementsCommand) ([]string, error) {
	defs, err := h.engine.definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate_achievements: %w", err)
	}

	var out Outcome
	_, err = h.uow.Execute(ctx, cmd.UserID, "EvaluateAchievements", func(s *rank.UserRankState) error {
		out.reset()
		h.engine.unlockAchievements(s, defs, cmd.Trigger, h.uow.Now(), &out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_achievements: %w", err)
	}
	return out.Unlocked, nil
}
