package rank

import (
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// Reason - причина перехода между рангами.
type Reason string

const (
	ReasonPromotion       Reason = "promotion"
	ReasonDemotion        Reason = "demotion"
	ReasonAdminAdjustment Reason = "admin-adjustment"
)

// IsValid проверяет, что причина из закрытого набора.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonPromotion, ReasonDemotion, ReasonAdminAdjustment:
		return true
	}
	return false
}

// EventType возвращает тип доменного события для причины.
func (r Reason) EventType() shared.EventType {
	switch r {
	case ReasonPromotion:
		return shared.EventRankPromoted
	case ReasonDemotion:
		return shared.EventRankDemoted
	default:
		return shared.EventRankAdjusted
	}
}

// RankHistoryEntry - запись журнала переходов. Создаётся только машиной
// состояний и после записи не меняется.
type RankHistoryEntry struct {
	// ID присваивается при сохранении единицы работы.
	ID        string
	UserID    string
	OldTier   int
	NewTier   int
	Reason    Reason
	Timestamp time.Time
}

// IsPromotion возвращает true, если ранг вырос.
func (e RankHistoryEntry) IsPromotion() bool {
	return e.NewTier > e.OldTier
}

// ToEvent превращает запись в событие для потока истории рангов.
func (e RankHistoryEntry) ToEvent() shared.RankChangedEvent {
	return shared.NewRankChangedEvent(e.Reason.EventType(), e.ID, e.UserID,
		e.OldTier, e.NewTier, string(e.Reason), e.Timestamp)
}
