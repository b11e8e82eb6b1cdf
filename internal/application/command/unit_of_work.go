// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
	"github.com/alem-hub/alem-gamification/pkg/retry"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// Every write to a user's rank state goes through Execute: load (or lazily
// create), mutate, save with a version check, retry on conflict, and publish
// the resulting events only after the commit.
// ══════════════════════════════════════════════════════════════════════════════

// Mutation changes one user's state in memory. It is re-run from a fresh
// load on every retry, so it must not have side effects outside the state.
type Mutation func(state *rank.UserRankState) error

// UnitOfWorkConfig contains configuration for the unit of work.
type UnitOfWorkConfig struct {
	// GraceImmunity is the immunity seeded into newly created states.
	GraceImmunity int

	// MaxAttempts bounds optimistic-lock retries before ContentionError.
	MaxAttempts int
}

// DefaultUnitOfWorkConfig returns default configuration.
func DefaultUnitOfWorkConfig() UnitOfWorkConfig {
	return UnitOfWorkConfig{
		GraceImmunity: 2,
		MaxAttempts:   5,
	}
}

// UnitOfWork serializes read-modify-write cycles on a single user's state.
type UnitOfWork struct {
	repo      rank.UserRankRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	retrier   *retry.Retrier
	log       *logger.Logger
	config    UnitOfWorkConfig

	newID func() string

	// Same-user writers in one process queue here instead of burning
	// retries; the version check still guards writers in other processes.
	stripes [64]sync.Mutex
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(
	repo rank.UserRankRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config UnitOfWorkConfig,
) *UnitOfWork {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultUnitOfWorkConfig().MaxAttempts
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &UnitOfWork{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		retrier:   retry.ContentionRetrier(config.MaxAttempts, shared.IsConflict),
		log:       log.With(logger.Component("unit_of_work")),
		config:    config,
		newID:     uuid.NewString,
	}
}

// Now returns the current time from the unit's clock.
func (u *UnitOfWork) Now() time.Time {
	return u.clock.Now().UTC()
}

func (u *UnitOfWork) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &u.stripes[h.Sum32()%uint32(len(u.stripes))]
}

// Execute runs mutate against the user's current state and commits the
// result atomically. It returns the committed state.
//
// Errors from mutate are returned unchanged and nothing is written.
// A version conflict that outlives MaxAttempts becomes a ContentionError.
func (u *UnitOfWork) Execute(ctx context.Context, userID, op string, mutate Mutation) (*rank.UserRankState, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	mu := u.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	var (
		committed *rank.UserRankState
		events    []shared.Event
	)

	err := u.retrier.Do(ctx, func(ctx context.Context) error {
		state, err := u.load(ctx, userID)
		if err != nil {
			return err
		}

		if err := mutate(state); err != nil {
			return err
		}

		// Nothing changed, including a state that was never stored.
		if !state.IsDirty() {
			committed = state
			events = nil
			return nil
		}

		state.AssignHistoryIDs(u.newID)
		events = state.Changes().Events

		if err := u.repo.Save(ctx, state); err != nil {
			if shared.IsConflict(err) {
				u.log.Debug("version conflict, retrying",
					logger.UserID(userID), logger.Operation(op))
			}
			return err
		}
		committed = state
		return nil
	})

	if err != nil {
		if retry.IsExhausted(err) {
			u.log.Warn("contention retries exhausted",
				logger.UserID(userID), logger.Operation(op), logger.Err(err))
			return nil, shared.ContentionError("rank", op,
				"concurrent updates did not settle", err)
		}
		return nil, err
	}

	u.publish(events)
	return committed, nil
}

func (u *UnitOfWork) load(ctx context.Context, userID string) (*rank.UserRankState, error) {
	state, err := u.repo.Get(ctx, userID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return rank.NewUserRankState(userID, u.config.GraceImmunity, u.Now()), nil
	}
	return nil, err
}

func (u *UnitOfWork) publish(events []shared.Event) {
	if u.publisher == nil {
		return
	}
	for _, e := range events {
		if err := u.publisher.Publish(e); err != nil {
			// Already committed; a lost notification is not a lost credit.
			u.log.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.UserID(e.AggregateID()),
				logger.Err(err))
		}
	}
}
