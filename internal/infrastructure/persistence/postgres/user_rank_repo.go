package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER RANK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserRankRepository implements rank.UserRankRepository,
// rank.RankHistoryRepository and leaderboard.StandingsSource.
// The state row carries a version column; Save is a compare-and-swap on it,
// and the dedup set, unlocks and history are written in the same transaction.
type UserRankRepository struct {
	conn *Connection
}

// NewUserRankRepository creates a new UserRankRepository.
func NewUserRankRepository(conn *Connection) *UserRankRepository {
	return &UserRankRepository{conn: conn}
}

const selectStateSQL = `
	SELECT user_id, display_name, total_points, weekly_points, current_tier, highest_tier,
	       streak_days, last_active_date, last_streak_credit_date,
	       promotion_count, demotion_count, immunity_cycles, last_cycle_key,
	       version, created_at, updated_at
	FROM user_rank_states
	WHERE user_id = $1`

// Get loads the state with its credited keys and unlocks from one snapshot.
func (r *UserRankRepository) Get(ctx context.Context, userID string) (*rank.UserRankState, error) {
	var state *rank.UserRankState

	err := r.conn.WithTx(ctx, SnapshotTxOptions(), func(tx pgx.Tx) error {
		var (
			base         rank.UserRankState
			lastActive   *time.Time
			lastStreakAt *time.Time
		)
		err := tx.QueryRow(ctx, selectStateSQL, userID).Scan(
			&base.UserID, &base.DisplayName, &base.TotalPoints, &base.WeeklyPoints,
			&base.CurrentTier, &base.HighestTierEverReached,
			&base.StreakDays, &lastActive, &lastStreakAt,
			&base.PromotionCount, &base.DemotionCount, &base.ImmunityCycles, &base.LastCycleKey,
			&base.Version, &base.CreatedAt, &base.UpdatedAt,
		)
		if IsNoRows(err) {
			return shared.ErrUserRankNotFound
		}
		if err != nil {
			return fmt.Errorf("select state: %w", err)
		}
		base.LastActiveDate = fromDate(lastActive)
		base.LastStreakCreditDate = fromDate(lastStreakAt)

		keys, err := r.creditedKeys(ctx, tx, userID)
		if err != nil {
			return err
		}
		unlocks, err := r.unlocks(ctx, tx, userID)
		if err != nil {
			return err
		}

		state = rank.RestoreUserRankState(base, keys, unlocks)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *UserRankRepository) creditedKeys(ctx context.Context, tx pgx.Tx, userID string) ([]shared.ItemKey, error) {
	rows, err := tx.Query(ctx, `SELECT item_key FROM credited_items WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("select credited items: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.ItemKey, error) {
		var k string
		err := row.Scan(&k)
		return shared.ItemKey(k), err
	})
	if err != nil {
		return nil, fmt.Errorf("scan credited items: %w", err)
	}
	return keys, nil
}

func (r *UserRankRepository) unlocks(ctx context.Context, tx pgx.Tx, userID string) ([]rank.Unlock, error) {
	rows, err := tx.Query(ctx, `
		SELECT code, unlocked_at FROM user_achievements
		WHERE user_id = $1
		ORDER BY unlocked_at, code`, userID)
	if err != nil {
		return nil, fmt.Errorf("select unlocks: %w", err)
	}
	unlocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rank.Unlock, error) {
		var u rank.Unlock
		err := row.Scan(&u.Code, &u.UnlockedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan unlocks: %w", err)
	}
	return unlocks, nil
}

// Save writes the state and its pending changes if the stored version
// still equals state.Version.
func (r *UserRankRepository) Save(ctx context.Context, state *rank.UserRankState) error {
	changes := state.Changes()
	for _, h := range changes.History {
		if h.ID == "" {
			return shared.NewDomainError("rank", "Save", shared.ErrInvalidEntity, "history entry without id")
		}
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := r.writeState(ctx, tx, state); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, c := range changes.Credits {
			batch.Queue(`
				INSERT INTO credited_items (user_id, item_key, amount, credited_at)
				VALUES ($1, $2, $3, $4)`,
				state.UserID, c.ItemKey.String(), c.Amount, c.CreditedAt)
		}
		for _, u := range changes.Unlocks {
			batch.Queue(`
				INSERT INTO user_achievements (user_id, code, unlocked_at)
				VALUES ($1, $2, $3)`,
				state.UserID, u.Code, u.UnlockedAt)
		}
		for _, h := range changes.History {
			batch.Queue(`
				INSERT INTO rank_history (id, user_id, old_tier, new_tier, reason, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				h.ID, h.UserID, h.OldTier, h.NewTier, string(h.Reason), h.Timestamp)
		}
		if batch.Len() == 0 {
			return nil
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			// A duplicate key means another writer got there first.
			if IsUniqueViolation(err) {
				return conflict(err)
			}
			return fmt.Errorf("write changes: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsSerializationFailure(err) {
			return conflict(err)
		}
		return err
	}

	state.Version++
	state.ClearChanges()
	return nil
}

func (r *UserRankRepository) writeState(ctx context.Context, tx pgx.Tx, s *rank.UserRankState) error {
	if s.Version == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_rank_states (
				user_id, display_name, total_points, weekly_points, current_tier, highest_tier,
				streak_days, last_active_date, last_streak_credit_date,
				promotion_count, demotion_count, immunity_cycles, last_cycle_key,
				version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
			ON CONFLICT (user_id) DO NOTHING`,
			s.UserID, s.DisplayName, s.TotalPoints, s.WeeklyPoints, s.CurrentTier, s.HighestTierEverReached,
			s.StreakDays, toDate(s.LastActiveDate), toDate(s.LastStreakCreditDate),
			s.PromotionCount, s.DemotionCount, s.ImmunityCycles, s.LastCycleKey,
			s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return conflict(fmt.Errorf("user %s created concurrently", s.UserID))
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE user_rank_states SET
			display_name = $2, total_points = $3, weekly_points = $4,
			current_tier = $5, highest_tier = $6,
			streak_days = $7, last_active_date = $8, last_streak_credit_date = $9,
			promotion_count = $10, demotion_count = $11, immunity_cycles = $12,
			last_cycle_key = $13, updated_at = $14,
			version = version + 1
		WHERE user_id = $1 AND version = $15`,
		s.UserID, s.DisplayName, s.TotalPoints, s.WeeklyPoints,
		s.CurrentTier, s.HighestTierEverReached,
		s.StreakDays, toDate(s.LastActiveDate), toDate(s.LastStreakCreditDate),
		s.PromotionCount, s.DemotionCount, s.ImmunityCycles,
		s.LastCycleKey, s.UpdatedAt,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conflict(fmt.Errorf("user %s: version %d is stale", s.UserID, s.Version))
	}
	return nil
}

func conflict(err error) error {
	return shared.WrapError("rank", "Save", shared.ErrOptimisticLock,
		"user rank state changed since read", err)
}

// ListUserIDs returns user IDs in ascending order after afterID.
func (r *UserRankRepository) ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT user_id FROM user_rank_states
		WHERE user_id > $1
		ORDER BY user_id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Count returns the number of stored states.
func (r *UserRankRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn.Pool().QueryRow(ctx, `SELECT count(*) FROM user_rank_states`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count states: %w", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// rank.RankHistoryRepository
// ─────────────────────────────────────────────────────────────────────────────

func scanHistory(rows pgx.Rows) ([]rank.RankHistoryEntry, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rank.RankHistoryEntry, error) {
		var (
			e      rank.RankHistoryEntry
			reason string
		)
		err := row.Scan(&e.ID, &e.UserID, &e.OldTier, &e.NewTier, &reason, &e.Timestamp)
		e.Reason = rank.Reason(reason)
		return e, err
	})
}

// ListByUser returns the user's history, newest first.
func (r *UserRankRepository) ListByUser(ctx context.Context, userID string, limit int) ([]rank.RankHistoryEntry, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT id, user_id, old_tier, new_tier, reason, created_at
		FROM rank_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return scanHistory(rows)
}

// ListSince returns all history at or after since, oldest first.
func (r *UserRankRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]rank.RankHistoryEntry, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT id, user_id, old_tier, new_tier, reason, created_at
		FROM rank_history
		WHERE created_at >= $1
		ORDER BY created_at, id
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list history since: %w", err)
	}
	return scanHistory(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// leaderboard.StandingsSource
// ─────────────────────────────────────────────────────────────────────────────

// Standings returns the ranking-relevant columns of every state.
func (r *UserRankRepository) Standings(ctx context.Context) ([]leaderboard.Standing, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT user_id, display_name, total_points, weekly_points, current_tier
		FROM user_rank_states`)
	if err != nil {
		return nil, fmt.Errorf("select standings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leaderboard.Standing, error) {
		var s leaderboard.Standing
		err := row.Scan(&s.UserID, &s.DisplayName, &s.TotalPoints, &s.WeeklyPoints, &s.CurrentTier)
		return s, err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// toDate maps the zero time to NULL.
func toDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func fromDate(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
