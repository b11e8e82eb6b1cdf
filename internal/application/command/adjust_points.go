package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST POINTS COMMAND
// Administrative correction of a balance. The only path on which totalPoints
// may decrease; the tier follows the new balance in either direction.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsCommand contains the data for an admin correction.
type AdjustPointsCommand struct {
	UserID   string
	NewTotal int64
	Note     string

	// AdminID is who made the correction, for the audit log.
	AdminID string
}

// Validate validates the command.
func (c AdjustPointsCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.NewTotal < 0 {
		return shared.NewDomainError("rank", "Adjust", shared.ErrNegativeValue, "adjusted balance cannot be negative")
	}
	if strings.TrimSpace(c.Note) == "" {
		return shared.ErrAdjustmentNoReason
	}
	return nil
}

// AdjustPointsResult contains the result of an adjustment.
type AdjustPointsResult struct {
	Outcome
	PreviousTotal int64
	State         StateResult
}

// AdjustPointsHandler handles the AdjustPointsCommand.
type AdjustPointsHandler struct {
	uow    *UnitOfWork
	engine *Engine
	log    *logger.Logger
}

// NewAdjustPointsHandler creates a new AdjustPointsHandler.
func NewAdjustPointsHandler(uow *UnitOfWork, engine *Engine, log *logger.Logger) *AdjustPointsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AdjustPointsHandler{
		uow:    uow,
		engine: engine,
		log:    log.With(logger.Component("adjust_points")),
	}
}

// Handle executes the adjustment.
func (h *AdjustPointsHandler) Handle(ctx context.Context, cmd AdjustPointsCommand) (*AdjustPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("adjust_points: %w", err)
	}

	defs, err := h.engine.definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("adjust_points: %w", err)
	}

	var (
		out      Outcome
		previous int64
	)
	state, err := h.uow.Execute(ctx, cmd.UserID, "AdjustPoints", func(s *rank.UserRankState) error {
		out.reset()
		now := h.uow.Now()
		previous = s.TotalPoints

		entry, err := h.engine.Machine().Adjust(s, cmd.NewTotal, cmd.Note, now)
		if err != nil {
			return err
		}
		if entry != nil {
			out.RankChanges = append(out.RankChanges, *entry)
		}

		if cmd.NewTotal > previous {
			h.engine.unlockAchievements(s, defs, achievement.PointsOnly(), now, &out)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust_points: %w", err)
	}

	h.log.Info("points adjusted",
		logger.UserID(cmd.UserID),
		logger.Int64("previous_total", previous),
		logger.Int64("new_total", cmd.NewTotal),
		logger.String("admin_id", cmd.AdminID),
		logger.String("note", cmd.Note))

	return &AdjustPointsResult{Outcome: out, PreviousTotal: previous, State: stateResult(state)}, nil
}
