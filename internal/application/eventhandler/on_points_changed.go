package eventhandler

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON POINTS CHANGED HANDLER
// Баланс изменился: зачисление, корректировка, награда за достижение или
// сброс недельных очков. Кеш лидерборда сбрасывается, чтобы следующий
// запрос построил свежий снапшот.
// ══════════════════════════════════════════════════════════════════════════════

// OnPointsChangedHandler сбрасывает кеш лидерборда при изменении очков.
type OnPointsChangedHandler struct {
	cache  leaderboard.StandingsCache
	clock  timeutil.Clock
	logger *logger.Logger
	config PointsChangedConfig

	mu          sync.Mutex
	lastFlushed time.Time
}

// PointsChangedConfig содержит конфигурацию обработчика.
type PointsChangedConfig struct {
	// MinInterval - минимальный интервал между сбросами по зачислениям.
	// 0 - сбрасывать на каждое событие.
	MinInterval time.Duration

	Timeout time.Duration
}

// DefaultPointsChangedConfig возвращает конфигурацию по умолчанию.
func DefaultPointsChangedConfig() PointsChangedConfig {
	return PointsChangedConfig{
		MinInterval: 5 * time.Second,
		Timeout:     2 * time.Second,
	}
}

// NewOnPointsChangedHandler создаёт новый обработчик.
func NewOnPointsChangedHandler(
	cache leaderboard.StandingsCache,
	clock timeutil.Clock,
	log *logger.Logger,
	config PointsChangedConfig,
) *OnPointsChangedHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	return &OnPointsChangedHandler{
		cache:  cache,
		clock:  clock,
		logger: log.With(logger.String("handler", "on_points_changed")),
		config: config,
	}
}

// EventTypes возвращает типы событий, на которые подписан обработчик.
func (h *OnPointsChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventPointsCredited,
		shared.EventPointsAdjusted,
		shared.EventAchievementUnlocked,
		shared.EventWeeklyCycleCompleted,
	}
}

// Handle обрабатывает событие изменения очков.
func (h *OnPointsChangedHandler) Handle(event shared.Event) error {
	if h.cache == nil {
		return nil
	}

	// Конец цикла обнуляет недельные очки у всех - сбрасываем всегда.
	force := event.EventType() == shared.EventWeeklyCycleCompleted ||
		event.EventType() == shared.EventPointsAdjusted
	if !h.due(force) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("failed to invalidate leaderboard cache",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
		// Повторим на следующем событии.
		h.mu.Lock()
		h.lastFlushed = time.Time{}
		h.mu.Unlock()
		return nil
	}

	h.logger.Debug("leaderboard cache invalidated",
		logger.String("event_type", string(event.EventType())))
	return nil
}

func (h *OnPointsChangedHandler) due(force bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	if !force && h.config.MinInterval > 0 && !h.lastFlushed.IsZero() &&
		now.Sub(h.lastFlushed) < h.config.MinInterval {
		return false
	}
	h.lastFlushed = now
	return true
}
