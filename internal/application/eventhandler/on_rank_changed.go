// Package eventhandler содержит обработчики доменных событий.
// Обработчики вызываются после фиксации изменений и отвечают за побочные
// эффекты: сброс кеша лидерборда и публикацию истории рангов для
// подсистемы уведомлений.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED HANDLER
// Ранг пользователя изменился: повышение, понижение или корректировка.
// Ранг виден в лидерборде, поэтому кеш сбрасывается; сама запись истории
// уходит в поток для уведомлений.
// ══════════════════════════════════════════════════════════════════════════════

// RankHistoryStream публикует переходы рангов для внешних потребителей.
type RankHistoryStream interface {
	Publish(ctx context.Context, event shared.Event) error
}

// OnRankChangedHandler обрабатывает события rank.promoted, rank.demoted и rank.adjusted.
type OnRankChangedHandler struct {
	stream RankHistoryStream
	cache  leaderboard.StandingsCache
	tiers  *rank.TierTable
	logger *logger.Logger
	config RankChangedConfig
}

// RankChangedConfig содержит конфигурацию обработчика.
type RankChangedConfig struct {
	// PublishTimeout - ограничение на публикацию одного события.
	PublishTimeout time.Duration

	// SkipAdjustments - не публиковать корректировки администратора.
	SkipAdjustments bool
}

// DefaultRankChangedConfig возвращает конфигурацию по умолчанию.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{
		PublishTimeout: 2 * time.Second,
	}
}

// NewOnRankChangedHandler создаёт новый обработчик. stream и cache могут быть nil.
func NewOnRankChangedHandler(
	stream RankHistoryStream,
	cache leaderboard.StandingsCache,
	tiers *rank.TierTable,
	log *logger.Logger,
	config RankChangedConfig,
) *OnRankChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultRankChangedConfig().PublishTimeout
	}

	return &OnRankChangedHandler{
		stream: stream,
		cache:  cache,
		tiers:  tiers,
		logger: log.With(logger.String("handler", "on_rank_changed")),
		config: config,
	}
}

// EventTypes возвращает типы событий, на которые подписан обработчик.
func (h *OnRankChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventRankPromoted, shared.EventRankDemoted, shared.EventRankAdjusted}
}

// Handle обрабатывает событие изменения ранга.
// Реализует интерфейс shared.EventHandler.
func (h *OnRankChangedHandler) Handle(event shared.Event) error {
	rankEvent, ok := event.(shared.RankChangedEvent)
	if !ok {
		h.logger.Warn("received non-RankChangedEvent",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.PublishTimeout)
	defer cancel()

	h.logger.Info("rank changed",
		logger.UserID(rankEvent.UserID),
		logger.Int("old_tier", rankEvent.OldTier),
		logger.Int("new_tier", rankEvent.NewTier),
		logger.String("new_tier_name", h.tierName(rankEvent.NewTier)),
		logger.String("reason", rankEvent.Reason),
	)

	// 1. Ранг отображается в лидерборде
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("failed to invalidate leaderboard cache", logger.Err(err))
		}
	}

	// 2. Поток истории для уведомлений
	if h.stream == nil {
		return nil
	}
	if h.config.SkipAdjustments && rankEvent.EventType() == shared.EventRankAdjusted {
		return nil
	}
	// Ошибку возвращаем: диспетчер повторит публикацию.
	return h.stream.Publish(ctx, rankEvent)
}

func (h *OnRankChangedHandler) tierName(number int) string {
	if h.tiers == nil {
		return ""
	}
	t, err := h.tiers.ByNumber(number)
	if err != nil {
		return ""
	}
	return t.Name
}
