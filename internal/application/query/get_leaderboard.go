// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Рейтинг за всё время или за текущую неделю с поиском по имени и
// пагинацией. Читает снапшот из кеша; при промахе строит его из хранилища,
// одновременные промахи схлопываются в одно чтение.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Period - "all_time" (по умолчанию) или "weekly".
	Period string

	// Search - подстрока имени без учёта регистра.
	Search string

	// Page - номер страницы, начиная с 1.
	Page int

	// PageSize - размер страницы (по умолчанию 20, максимум 100).
	PageSize int

	// RequesterID - кто спрашивает; его запись возвращается всегда.
	RequesterID string
}

// toDomain проверяет параметры и переводит их в доменный запрос.
func (q GetLeaderboardQuery) toDomain() (leaderboard.Query, error) {
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return leaderboard.Query{}, err
	}
	if q.Page < 0 || q.PageSize < 0 {
		return leaderboard.Query{}, shared.ErrInvalidPage
	}

	dq := leaderboard.Query{
		Period:      period,
		Search:      q.Search,
		Pagination:  shared.NewPagination(q.Page, q.PageSize),
		RequesterID: q.RequesterID,
	}
	return dq, dq.Validate()
}

// LeaderboardEntryDTO - DTO для записи лидерборда.
type LeaderboardEntryDTO struct {
	// Rank - позиция в рейтинге (начиная с 1).
	Rank int `json:"rank"`

	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`

	// Points - очки выбранного периода.
	Points int64 `json:"points"`

	// Tier - текущий ранг пользователя.
	Tier int `json:"tier"`
}

func entryDTO(e leaderboard.Entry) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:        int(e.Position),
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Points:      e.Points,
		Tier:        e.Tier,
	}
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Period  string                `json:"period"`
	Search  string                `json:"search,omitempty"`
	Entries []LeaderboardEntryDTO `json:"entries"`

	// Me - запись запрашивающего, даже если она вне страницы.
	Me *LeaderboardEntryDTO `json:"me,omitempty"`

	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`

	// GeneratedAt - время построения снапшота (данные могут отставать).
	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	source leaderboard.StandingsSource
	cache  leaderboard.StandingsCache
	ttl    time.Duration
	clock  timeutil.Clock
	log    *logger.Logger

	group singleflight.Group
}

// NewGetLeaderboardHandler создаёт новый обработчик запроса лидерборда.
// cache может быть nil - тогда каждый запрос читает хранилище.
func NewGetLeaderboardHandler(
	source leaderboard.StandingsSource,
	cache leaderboard.StandingsCache,
	ttl time.Duration,
	clock timeutil.Clock,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		source: source,
		cache:  cache,
		ttl:    ttl,
		clock:  clock,
		log:    log.With(logger.Component("leaderboard")),
	}
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	dq, err := query.toDomain()
	if err != nil {
		return nil, err
	}

	snapshot, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	res := snapshot.Query(dq)

	out := &GetLeaderboardResult{
		Period:      string(res.Period),
		Search:      res.Search,
		Entries:     make([]LeaderboardEntryDTO, len(res.Entries)),
		TotalCount:  res.Total,
		Page:        res.Page,
		PageSize:    res.PageSize,
		TotalPages:  res.TotalPages,
		HasMore:     res.Page < res.TotalPages,
		GeneratedAt: res.GeneratedAt,
	}
	for i, e := range res.Entries {
		out.Entries[i] = entryDTO(e)
	}
	if res.Requester != nil {
		me := entryDTO(*res.Requester)
		out.Me = &me
	}
	return out, nil
}

// snapshot возвращает снапшот из кеша или строит новый.
func (h *GetLeaderboardHandler) snapshot(ctx context.Context) (*leaderboard.Snapshot, error) {
	if h.cache != nil {
		cached, err := h.cache.Get(ctx)
		if err != nil {
			// Кеш недоступен - читаем хранилище, запрос не падает.
			h.log.Warn("leaderboard cache read failed", logger.Err(err))
		} else if cached != nil {
			return cached, nil
		}
	}
	return h.Refresh(ctx)
}

// Refresh перестраивает снапшот из хранилища и кладёт его в кеш.
// Одновременные вызовы выполняют одно чтение.
func (h *GetLeaderboardHandler) Refresh(ctx context.Context) (*leaderboard.Snapshot, error) {
	v, err, _ := h.group.Do("standings", func() (interface{}, error) {
		standings, err := h.source.Standings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load standings: %w", err)
		}
		snap := leaderboard.NewSnapshot(standings, h.clock.Now())

		if h.cache != nil {
			if err := h.cache.Set(ctx, snap, h.ttl); err != nil {
				h.log.Warn("leaderboard cache write failed", logger.Err(err))
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrServiceUnavailable,
			"failed to build leaderboard", err)
	}
	return v.(*leaderboard.Snapshot), nil
}
