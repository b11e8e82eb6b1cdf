package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// The in-memory pipeline shared by all write commands:
// credit -> rank evaluation -> streak touch -> achievement passes.
// Every step mutates the state handed in by the unit of work and never
// touches storage itself.
// ══════════════════════════════════════════════════════════════════════════════

// MaxAchievementPasses bounds achievement re-evaluation per event: one pass
// for the event itself and one for points granted by that pass.
const MaxAchievementPasses = 2

// Outcome collects what happened to a user's state during one command.
type Outcome struct {
	// Credited is true when the item key was new and points were added.
	Credited bool

	// Streak is the streak tracker result (empty if not touched).
	Streak rank.StreakOutcome

	// RankChanges are the history entries created by this command.
	RankChanges []rank.RankHistoryEntry

	// Unlocked are the achievement codes unlocked by this command.
	Unlocked []string
}

// Promoted reports whether the command promoted the user.
func (o Outcome) Promoted() bool {
	for _, h := range o.RankChanges {
		if h.Reason == rank.ReasonPromotion {
			return true
		}
	}
	return false
}

func (o *Outcome) reset() {
	*o = Outcome{}
}

// Engine wires the rank state machine, the streak tracker and the
// achievement evaluator together.
type Engine struct {
	machine      *rank.StateMachine
	evaluator    *achievement.Evaluator
	achievements achievement.Repository
	calendar     *timeutil.Calendar
	log          *logger.Logger
}

// NewEngine creates a new Engine.
func NewEngine(
	machine *rank.StateMachine,
	achievements achievement.Repository,
	calendar *timeutil.Calendar,
	log *logger.Logger,
) *Engine {
	if calendar == nil {
		calendar = timeutil.UTCCalendar()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		machine:      machine,
		evaluator:    achievement.NewEvaluator(calendar.Location()),
		achievements: achievements,
		calendar:     calendar,
		log:          log.With(logger.Component("engine")),
	}
}

// Machine returns the rank state machine.
func (e *Engine) Machine() *rank.StateMachine {
	return e.machine
}

// Calendar returns the calendar used for streak days.
func (e *Engine) Calendar() *timeutil.Calendar {
	return e.calendar
}

// definitions loads the achievement catalogue. It is read once per command,
// outside the retry loop, since the catalogue is static for the process.
func (e *Engine) definitions(ctx context.Context) ([]achievement.Definition, error) {
	if e.achievements == nil {
		return nil, nil
	}
	defs, err := e.achievements.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievement catalog: %w", err)
	}
	return defs, nil
}

// validateAmount rejects amounts that cannot come from a valid points
// configuration.
func validateAmount(op string, amount int64) error {
	if amount < 0 {
		return shared.ConfigurationError("rank", op,
			shared.ErrNegativeAmount.Message, fmt.Errorf("amount = %d", amount))
	}
	return nil
}

// credit adds amount under key and re-evaluates the rank. A zero amount
// records nothing so the key stays free for a later, priced credit.
func (e *Engine) credit(s *rank.UserRankState, key shared.ItemKey, amount int64, at time.Time, out *Outcome) bool {
	if amount == 0 {
		return false
	}
	if !s.Credit(key, amount, at) {
		return false
	}
	e.evaluateRank(s, at, out)
	return true
}

// evaluateRank promotes when the balance maps to a higher tier.
func (e *Engine) evaluateRank(s *rank.UserRankState, at time.Time, out *Outcome) {
	if h := e.machine.Evaluate(s, at); h != nil {
		out.RankChanges = append(out.RankChanges, *h)
	}
}

// touchStreak applies the daily streak touch for the calendar day of at.
func (e *Engine) touchStreak(s *rank.UserRankState, occurredAt, at time.Time, out *Outcome) rank.StreakOutcome {
	outcome := s.TouchStreak(e.calendar.Day(occurredAt), at)
	out.Streak = outcome
	return outcome
}

// unlockAchievements evaluates the catalogue and unlocks what is satisfied.
// Rewards go through the same dedup-keyed credit, and a second pass sees
// the points they granted. Unlock and reward land in the same state, so
// the unit of work commits both or neither.
func (e *Engine) unlockAchievements(
	s *rank.UserRankState,
	defs []achievement.Definition,
	trigger achievement.Trigger,
	at time.Time,
	out *Outcome,
) {
	if len(defs) == 0 {
		return
	}

	for pass := 0; pass < MaxAchievementPasses; pass++ {
		res := e.evaluator.Evaluate(s, defs, trigger)

		if pass == 0 {
			for _, def := range res.Unrecognized {
				e.log.Warn("achievement requirement kind not recognized, treated as unsatisfied",
					logger.UserID(s.UserID),
					logger.Achievement(def.Code),
					logger.String("kind", def.Requirement.String()))
			}
		}

		var rewarded bool
		for _, def := range res.Satisfied {
			if !s.UnlockAchievement(def.Code, def.PointsReward, at) {
				continue
			}
			out.Unlocked = append(out.Unlocked, def.Code)
			if def.PointsReward > 0 {
				rewarded = true
				e.evaluateRank(s, at, out)
			}
		}

		if !rewarded {
			return
		}
		trigger = achievement.PointsOnly()
	}
}
