package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN WEEKLY CYCLE COMMAND
// The only place demotions happen. For each user: compare weeklyPoints with
// the floor of the user's tier group, demote one tier or spend immunity,
// then reset weeklyPoints. Users are independent units of work, so one
// failure is logged and skipped while the rest of the batch continues.
// ══════════════════════════════════════════════════════════════════════════════

// RunWeeklyCycleCommand triggers the weekly cycle.
type RunWeeklyCycleCommand struct {
	// CycleKey identifies the period. Defaults to the ISO week of At.
	CycleKey string

	// At is the cycle time (defaults to now).
	At time.Time
}

// RunWeeklyCycleResult summarizes a cycle run.
type RunWeeklyCycleResult struct {
	CycleKey  string
	Processed int
	Demoted   int
	Protected int
	Skipped   int
	Failed    int

	// FailedUserIDs are retried by the next scheduled run.
	FailedUserIDs []string

	Duration time.Duration
}

// WeeklyCycleConfig contains configuration for the cycle.
type WeeklyCycleConfig struct {
	// Concurrency is how many users are processed in parallel.
	Concurrency int

	// PageSize is how many user IDs are read per page.
	PageSize int

	// LockTTL bounds how long a crashed run can block the next one.
	LockTTL time.Duration
}

// DefaultWeeklyCycleConfig returns default configuration.
func DefaultWeeklyCycleConfig() WeeklyCycleConfig {
	return WeeklyCycleConfig{
		Concurrency: 8,
		PageSize:    500,
		LockTTL:     30 * time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunWeeklyCycleHandler handles the RunWeeklyCycleCommand.
type RunWeeklyCycleHandler struct {
	uow       *UnitOfWork
	engine    *Engine
	repo      rank.UserRankRepository
	lock      rank.CycleLock
	ledger    rank.CycleLedger
	policy    rank.FloorPolicy
	publisher shared.EventPublisher
	log       *logger.Logger
	config    WeeklyCycleConfig
}

// NewRunWeeklyCycleHandler creates a new RunWeeklyCycleHandler.
func NewRunWeeklyCycleHandler(
	uow *UnitOfWork,
	engine *Engine,
	repo rank.UserRankRepository,
	lock rank.CycleLock,
	ledger rank.CycleLedger,
	policy rank.FloorPolicy,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config WeeklyCycleConfig,
) *RunWeeklyCycleHandler {
	def := DefaultWeeklyCycleConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if log == nil {
		log = logger.Nop()
	}

	return &RunWeeklyCycleHandler{
		uow:       uow,
		engine:    engine,
		repo:      repo,
		lock:      lock,
		ledger:    ledger,
		policy:    policy,
		publisher: publisher,
		log:       log.With(logger.Component("weekly_cycle")),
		config:    config,
	}
}

// Handle executes the weekly cycle. It returns ErrCycleAlreadyRan when the
// period is already marked complete and ErrCycleLocked when another run
// holds the lock.
func (h *RunWeeklyCycleHandler) Handle(ctx context.Context, cmd RunWeeklyCycleCommand) (*RunWeeklyCycleResult, error) {
	startTime := time.Now()

	at := cmd.At
	if at.IsZero() {
		at = h.uow.Now()
	}
	cycleKey := cmd.CycleKey
	if cycleKey == "" {
		cycleKey = h.engine.Calendar().WeekKey(at)
	}
	log := h.log.With(logger.CycleKey(cycleKey))

	release, err := h.lock.Acquire(ctx, cycleKey, h.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("weekly_cycle: %w", err)
	}
	defer release()

	done, err := h.ledger.IsCompleted(ctx, cycleKey)
	if err != nil {
		return nil, fmt.Errorf("weekly_cycle: check ledger: %w", err)
	}
	if done {
		return nil, fmt.Errorf("weekly_cycle: %s: %w", cycleKey, shared.ErrCycleAlreadyRan)
	}

	log.Info("weekly cycle started")

	result := &RunWeeklyCycleResult{CycleKey: cycleKey}
	var mu sync.Mutex

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("weekly_cycle: %w", err)
		}

		ids, err := h.repo.ListUserIDs(ctx, after, h.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("weekly_cycle: list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		p := pool.New().WithContext(ctx).WithMaxGoroutines(h.config.Concurrency)
		for _, userID := range ids {
			p.Go(func(ctx context.Context) error {
				outcome, err := h.processUser(ctx, userID, cycleKey, at)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					result.Failed++
					result.FailedUserIDs = append(result.FailedUserIDs, userID)
					log.Error("weekly cycle failed for user, skipping",
						logger.UserID(userID), logger.Err(err))
					return nil
				}

				switch {
				case outcome.Skipped:
					result.Skipped++
				case outcome.Demotion != nil:
					result.Demoted++
					result.Processed++
				case outcome.Protected:
					result.Protected++
					result.Processed++
				default:
					result.Processed++
				}
				return nil
			})
		}
		_ = p.Wait()

		after = ids[len(ids)-1]
		if len(ids) < h.config.PageSize {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		// Interrupted: leave the period open, the rerun skips processed users.
		return nil, fmt.Errorf("weekly_cycle: %w", err)
	}

	// Failed users do not hold the period open; they are picked up next run.
	if err := h.ledger.MarkCompleted(ctx, cycleKey, at); err != nil {
		return nil, fmt.Errorf("weekly_cycle: mark completed: %w", err)
	}

	result.Duration = time.Since(startTime)

	if h.publisher != nil {
		event := shared.NewWeeklyCycleCompletedEvent(cycleKey,
			result.Processed, result.Demoted, result.Protected, result.Skipped, result.Failed, at)
		if err := h.publisher.Publish(event); err != nil {
			log.Warn("failed to publish cycle completion", logger.Err(err))
		}
	}

	log.Info("weekly cycle completed",
		logger.Int("processed", result.Processed),
		logger.Int("demoted", result.Demoted),
		logger.Int("protected", result.Protected),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed),
		logger.Latency(result.Duration))

	return result, nil
}

func (h *RunWeeklyCycleHandler) processUser(ctx context.Context, userID, cycleKey string, at time.Time) (rank.CycleOutcome, error) {
	var outcome rank.CycleOutcome
	_, err := h.uow.Execute(ctx, userID, "RunWeeklyCycle", func(s *rank.UserRankState) error {
		outcome = h.engine.Machine().ApplyWeeklyCycle(s, h.policy, cycleKey, at)
		return nil
	})
	if err != nil {
		return rank.CycleOutcome{}, err
	}
	return outcome, nil
}

// IsCycleAlreadyRan reports whether err means the period was already done.
func IsCycleAlreadyRan(err error) bool {
	return errors.Is(err, shared.ErrCycleAlreadyRan)
}
