package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREDIT POINTS COMMAND
// Adds already-resolved points under a per-user item key. Replaying the same
// key is a no-op. A successful credit re-evaluates the rank, touches the
// streak and checks points/streak achievements in the same unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// CreditPointsCommand contains the data to credit points.
type CreditPointsCommand struct {
	UserID  string
	ItemKey string
	Amount  int64

	// OccurredAt is when the activity happened (defaults to now if zero).
	// Its calendar day drives the streak.
	OccurredAt time.Time
}

// Validate validates the command.
func (c CreditPointsCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewItemKey(c.ItemKey); err != nil {
		return err
	}
	return validateAmount("CreditPoints", c.Amount)
}

// StateResult is the part of a user's committed state returned by commands.
type StateResult struct {
	UserID         string
	TotalPoints    int64
	WeeklyPoints   int64
	CurrentTier    int
	StreakDays     int
	ImmunityCycles int
	Version        int64
}

func stateResult(s *rank.UserRankState) StateResult {
	return StateResult{
		UserID:         s.UserID,
		TotalPoints:    s.TotalPoints,
		WeeklyPoints:   s.WeeklyPoints,
		CurrentTier:    s.CurrentTier,
		StreakDays:     s.StreakDays,
		ImmunityCycles: s.ImmunityCycles,
		Version:        s.Version,
	}
}

// CreditPointsResult contains the result of crediting points.
type CreditPointsResult struct {
	Outcome
	State StateResult
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreditPointsHandler handles the CreditPointsCommand.
type CreditPointsHandler struct {
	uow    *UnitOfWork
	engine *Engine
}

// NewCreditPointsHandler creates a new CreditPointsHandler.
func NewCreditPointsHandler(uow *UnitOfWork, engine *Engine) *CreditPointsHandler {
	return &CreditPointsHandler{uow: uow, engine: engine}
}

// Handle executes the credit points command.
func (h *CreditPointsHandler) Handle(ctx context.Context, cmd CreditPointsCommand) (*CreditPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("credit_points: %w", err)
	}

	defs, err := h.engine.definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("credit_points: %w", err)
	}

	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = h.uow.Now()
	}

	var out Outcome
	state, err := h.uow.Execute(ctx, cmd.UserID, "CreditPoints", func(s *rank.UserRankState) error {
		out.reset()
		now := h.uow.Now()

		if !h.engine.credit(s, shared.ItemKey(cmd.ItemKey), cmd.Amount, now, &out) {
			return nil
		}
		out.Credited = true

		trigger := achievement.PointsOnly()
		if h.engine.touchStreak(s, occurredAt, now, &out).Mutated() {
			trigger = trigger.Merge(achievement.StreakOnly())
		}
		h.engine.unlockAchievements(s, defs, trigger, now, &out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit_points: %w", err)
	}

	return &CreditPointsResult{Outcome: out, State: stateResult(state)}, nil
}
