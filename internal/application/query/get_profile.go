package query

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Профиль геймификации пользователя: ранг с прогрессом, серия, счётчики,
// история рангов и полученные достижения с наградами.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery содержит параметры запроса профиля.
type GetProfileQuery struct {
	UserID string

	// HistoryLimit - сколько записей истории вернуть (по умолчанию 20).
	HistoryLimit int
}

// TierDTO - ранг с отображаемыми данными.
type TierDTO struct {
	Number    int    `json:"number"`
	Name      string `json:"name"`
	Group     string `json:"group"`
	MinPoints int64  `json:"min_points"`
	MaxPoints *int64 `json:"max_points,omitempty"`
}

func tierDTO(t rank.RankTier) TierDTO {
	dto := TierDTO{
		Number:    t.Number,
		Name:      t.Name,
		Group:     string(t.Group),
		MinPoints: t.MinPoints,
	}
	if !t.IsUnbounded() {
		max := t.MaxPoints
		dto.MaxPoints = &max
	}
	return dto
}

// ProgressDTO - прогресс к следующему рангу.
type ProgressDTO struct {
	Fraction     float64  `json:"fraction"`
	PointsToNext int64    `json:"points_to_next"`
	NextTier     *TierDTO `json:"next_tier,omitempty"`
}

// HistoryEntryDTO - запись истории рангов.
type HistoryEntryDTO struct {
	ID        string    `json:"id"`
	OldTier   int       `json:"old_tier"`
	NewTier   int       `json:"new_tier"`
	Promotion bool      `json:"promotion"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func historyDTO(h rank.RankHistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		ID:        h.ID,
		OldTier:   h.OldTier,
		NewTier:   h.NewTier,
		Promotion: h.IsPromotion(),
		Reason:    string(h.Reason),
		Timestamp: h.Timestamp,
	}
}

// UnlockedAchievementDTO - полученное достижение.
type UnlockedAchievementDTO struct {
	Code         string    `json:"code"`
	Name         string    `json:"name,omitempty"`
	Emoji        string    `json:"emoji,omitempty"`
	Category     string    `json:"category,omitempty"`
	Rarity       string    `json:"rarity,omitempty"`
	PointsReward int64     `json:"points_reward"`
	UnlockedAt   time.Time `json:"unlocked_at"`
}

// ProfileResult - профиль пользователя.
type ProfileResult struct {
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
	TotalPoints  int64  `json:"total_points"`
	WeeklyPoints int64  `json:"weekly_points"`

	Tier        TierDTO     `json:"tier"`
	HighestTier int         `json:"highest_tier"`
	Progress    ProgressDTO `json:"progress"`

	StreakDays     int        `json:"streak_days"`
	LastActiveDate *time.Time `json:"last_active_date,omitempty"`
	ImmunityCycles int        `json:"immunity_cycles"`

	PromotionCount int `json:"promotion_count"`
	DemotionCount  int `json:"demotion_count"`

	History      []HistoryEntryDTO        `json:"history"`
	Achievements []UnlockedAchievementDTO `json:"achievements"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileHandler обрабатывает запрос профиля.
type GetProfileHandler struct {
	states       rank.UserRankRepository
	history      rank.RankHistoryRepository
	achievements achievement.Repository
	tiers        *rank.TierTable
	log          *logger.Logger
}

// NewGetProfileHandler создаёт новый обработчик.
func NewGetProfileHandler(
	states rank.UserRankRepository,
	history rank.RankHistoryRepository,
	achievements achievement.Repository,
	tiers *rank.TierTable,
	log *logger.Logger,
) *GetProfileHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProfileHandler{
		states:       states,
		history:      history,
		achievements: achievements,
		tiers:        tiers,
		log:          log.With(logger.Component("profile")),
	}
}

// Handle выполняет запрос профиля.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileResult, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, err
	}
	if q.HistoryLimit <= 0 {
		q.HistoryLimit = 20
	}

	state, err := h.states.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	progress := h.tiers.Progress(state.CurrentTier, state.TotalPoints)

	res := &ProfileResult{
		UserID:         state.UserID,
		DisplayName:    state.DisplayName,
		TotalPoints:    state.TotalPoints,
		WeeklyPoints:   state.WeeklyPoints,
		Tier:           tierDTO(progress.Current),
		HighestTier:    state.HighestTierEverReached,
		StreakDays:     state.StreakDays,
		ImmunityCycles: state.ImmunityCycles,
		PromotionCount: state.PromotionCount,
		DemotionCount:  state.DemotionCount,
		Progress: ProgressDTO{
			Fraction:     progress.Fraction,
			PointsToNext: progress.PointsToNext,
		},
	}
	if progress.Next != nil {
		next := tierDTO(*progress.Next)
		res.Progress.NextTier = &next
	}
	if !state.LastActiveDate.IsZero() {
		d := state.LastActiveDate
		res.LastActiveDate = &d
	}

	entries, err := h.history.ListByUser(ctx, q.UserID, q.HistoryLimit)
	if err != nil {
		return nil, err
	}
	res.History = make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		res.History[i] = historyDTO(e)
	}

	res.Achievements = make([]UnlockedAchievementDTO, 0, len(state.Unlocks()))
	for _, u := range state.Unlocks() {
		dto := UnlockedAchievementDTO{Code: u.Code, UnlockedAt: u.UnlockedAt}
		def, err := h.achievements.GetByCode(ctx, u.Code)
		switch {
		case err == nil:
			dto.Name = def.Name
			dto.Emoji = def.Emoji
			dto.Category = string(def.Category)
			dto.Rarity = string(def.Rarity)
			dto.PointsReward = def.PointsReward
		case errors.Is(err, shared.ErrNotFound):
			// Код убран из каталога после получения - показываем как есть.
			h.log.Warn("unlocked achievement missing from catalog",
				logger.UserID(q.UserID), logger.Achievement(u.Code))
		default:
			return nil, err
		}
		res.Achievements = append(res.Achievements, dto)
	}

	return res, nil
}
