package query

import (
	"context"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST RANK HISTORY QUERY
// Журнал переходов рангов: по пользователю (новые первыми) или общий поток
// с момента since (старые первыми) для подсистемы уведомлений.
// ══════════════════════════════════════════════════════════════════════════════

// ListRankHistoryQuery содержит параметры запроса истории.
type ListRankHistoryQuery struct {
	// UserID - история одного пользователя. Пусто - общий поток.
	UserID string

	// Since - начало потока (только без UserID).
	Since time.Time

	// Limit - максимум записей (по умолчанию 50, максимум 500).
	Limit int
}

// ListRankHistoryHandler обрабатывает запрос истории.
type ListRankHistoryHandler struct {
	history rank.RankHistoryRepository
}

// NewListRankHistoryHandler создаёт новый обработчик.
func NewListRankHistoryHandler(history rank.RankHistoryRepository) *ListRankHistoryHandler {
	return &ListRankHistoryHandler{history: history}
}

// Handle выполняет запрос истории.
func (h *ListRankHistoryHandler) Handle(ctx context.Context, q ListRankHistoryQuery) ([]HistoryEntryDTO, error) {
	switch {
	case q.Limit <= 0:
		q.Limit = 50
	case q.Limit > 500:
		q.Limit = 500
	}

	var (
		entries []rank.RankHistoryEntry
		err     error
	)
	if q.UserID != "" {
		if _, err := shared.NewUserID(q.UserID); err != nil {
			return nil, err
		}
		entries, err = h.history.ListByUser(ctx, q.UserID, q.Limit)
	} else {
		entries, err = h.history.ListSince(ctx, q.Since, q.Limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = historyDTO(e)
	}
	return out, nil
}
