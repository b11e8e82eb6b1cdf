// Package memory implements in-process persistence for the gamification
// engine. It backs STORAGE=memory deployments and application tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER RANK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserRankRepository implements rank.UserRankRepository,
// rank.RankHistoryRepository and leaderboard.StandingsSource in memory.
type UserRankRepository struct {
	mu      sync.RWMutex
	states  map[string]*rank.UserRankState
	history []rank.RankHistoryEntry

	// saveHook runs before each save; a non-nil error aborts it.
	saveHook func(state *rank.UserRankState) error
}

// NewUserRankRepository creates a new UserRankRepository.
func NewUserRankRepository() *UserRankRepository {
	return &UserRankRepository{
		states: make(map[string]*rank.UserRankState),
	}
}

// SetSaveHook installs a hook called before every save. Used to inject
// failures and interleavings in tests.
func (r *UserRankRepository) SetSaveHook(hook func(state *rank.UserRankState) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveHook = hook
}

// ─────────────────────────────────────────────────────────────────────────────
// rank.UserRankRepository
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a copy of the stored state.
func (r *UserRankRepository) Get(_ context.Context, userID string) (*rank.UserRankState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[userID]
	if !ok {
		return nil, shared.ErrUserRankNotFound
	}
	return s.Clone(), nil
}

// Save stores the state and its pending changes if the version matches.
func (r *UserRankRepository) Save(_ context.Context, state *rank.UserRankState) error {
	r.mu.RLock()
	hook := r.saveHook
	r.mu.RUnlock()
	if hook != nil {
		if err := hook(state); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if stored, ok := r.states[state.UserID]; ok {
		current = stored.Version
	} else if state.Version != 0 {
		current = -1
	}
	if current != state.Version {
		return shared.WrapError("rank", "Save", shared.ErrOptimisticLock,
			"user rank state changed since read",
			fmt.Errorf("user %s: have version %d, stored %d", state.UserID, state.Version, current))
	}

	changes := state.Changes()
	for _, h := range changes.History {
		if h.ID == "" {
			return shared.NewDomainError("rank", "Save", shared.ErrInvalidEntity, "history entry without id")
		}
	}

	state.Version++
	r.history = append(r.history, changes.History...)
	state.ClearChanges()
	r.states[state.UserID] = state.Clone()
	return nil
}

// ListUserIDs returns user IDs in ascending order after afterID.
func (r *UserRankRepository) ListUserIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Count returns the number of stored states.
func (r *UserRankRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// rank.RankHistoryRepository
// ─────────────────────────────────────────────────────────────────────────────

// ListByUser returns the user's history, newest first.
func (r *UserRankRepository) ListByUser(_ context.Context, userID string, limit int) ([]rank.RankHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]rank.RankHistoryEntry, 0)
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].UserID != userID {
			continue
		}
		out = append(out, r.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListSince returns all history at or after since, oldest first.
func (r *UserRankRepository) ListSince(_ context.Context, since time.Time, limit int) ([]rank.RankHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]rank.RankHistoryEntry, 0)
	for _, h := range r.history {
		if h.Timestamp.Before(since) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// leaderboard.StandingsSource
// ─────────────────────────────────────────────────────────────────────────────

// Standings returns the ranking-relevant slice of every stored state.
func (r *UserRankRepository) Standings(_ context.Context) ([]leaderboard.Standing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]leaderboard.Standing, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, leaderboard.Standing{
			UserID:       s.UserID,
			DisplayName:  s.DisplayName,
			TotalPoints:  s.TotalPoints,
			WeeklyPoints: s.WeeklyPoints,
			CurrentTier:  s.CurrentTier,
		})
	}
	return out, nil
}

// Put stores a state directly, bypassing the version check. Test seeding only.
func (r *UserRankRepository) Put(state *rank.UserRankState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := state.Clone()
	r.states[state.UserID] = stored
}
