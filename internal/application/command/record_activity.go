package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/activity"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Entry point for chapter completions and quiz submissions coming from the
// course-progress subsystem. Resolves the point amount, credits it under the
// event's item key and runs the full evaluation pipeline.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the activity event to record.
type RecordActivityCommand struct {
	Event activity.Event

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordActivityCommand) Validate() error {
	return c.Event.Validate()
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	Outcome
	ItemKey string
	Amount  int64
	State   StateResult
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityHandler handles the RecordActivityCommand.
type RecordActivityHandler struct {
	uow    *UnitOfWork
	engine *Engine
	log    *logger.Logger
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
func NewRecordActivityHandler(uow *UnitOfWork, engine *Engine, log *logger.Logger) *RecordActivityHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordActivityHandler{
		uow:    uow,
		engine: engine,
		log:    log.With(logger.Component("record_activity")),
	}
}

// Handle executes the record activity command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_activity: validation failed: %w", err)
	}

	ev := cmd.Event
	key := ev.Key()

	// Refuse rather than guess when the amount cannot be resolved.
	amount, err := ev.ResolvePoints()
	if err != nil {
		h.log.Warn("points configuration unresolvable",
			logger.UserID(ev.UserID), logger.ItemKey(key.String()), logger.Err(err))
		return nil, fmt.Errorf("record_activity: %w", err)
	}
	if err := validateAmount("RecordActivity", amount); err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	defs, err := h.engine.definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	trigger := achievement.AllKinds(achievement.Counters{
		PerfectScores:    ev.PerfectScoreCount,
		SpeedBonuses:     ev.SpeedBonusCount,
		CoursesCompleted: ev.CoursesCompletedCount,
	}, ev.OccurredAt)

	var out Outcome
	state, err := h.uow.Execute(ctx, ev.UserID, "RecordActivity", func(s *rank.UserRankState) error {
		out.reset()
		now := h.uow.Now()

		s.SetDisplayName(ev.DisplayName)

		if h.engine.credit(s, key, amount, now, &out) {
			out.Credited = true
			h.engine.touchStreak(s, ev.OccurredAt, now, &out)
		}

		// Counter achievements are checked on replays too: the counters may
		// have moved even when the item was already credited.
		h.engine.unlockAchievements(s, defs, trigger, now, &out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	h.log.Debug("activity recorded",
		logger.UserID(ev.UserID),
		logger.ItemKey(key.String()),
		logger.Points(amount),
		logger.Bool("credited", out.Credited),
		logger.String("correlation_id", cmd.CorrelationID))

	return &RecordActivityResult{
		Outcome: out,
		ItemKey: key.String(),
		Amount:  amount,
		State:   stateResult(state),
	}, nil
}
