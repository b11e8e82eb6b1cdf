package rank

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// StateMachine выполняет переходы между рангами.
//
//   - Evaluate: после любого изменения очков. Только повышение,
//     сразу на целевой ранг, возможно через несколько ступеней.
//   - ApplyWeeklyCycle: единственное место понижения, ровно на одну ступень.
//   - Adjust: ручная корректировка администратором в обе стороны.
type StateMachine struct {
	tiers *TierTable
}

// NewStateMachine создаёт машину для таблицы рангов.
func NewStateMachine(tiers *TierTable) *StateMachine {
	return &StateMachine{tiers: tiers}
}

// Tiers возвращает таблицу рангов.
func (m *StateMachine) Tiers() *TierTable {
	return m.tiers
}

// Evaluate сравнивает ранг по балансу с текущим.
// Целевой ранг выше - повышение с записью в историю.
// Целевой ранг ниже - ничего: понижение откладывается до недельного цикла.
func (m *StateMachine) Evaluate(s *UserRankState, at time.Time) *RankHistoryEntry {
	target := m.tiers.Lookup(s.TotalPoints).Number
	if target <= s.CurrentTier {
		return nil
	}

	entry := RankHistoryEntry{
		UserID:    s.UserID,
		OldTier:   s.CurrentTier,
		NewTier:   target,
		Reason:    ReasonPromotion,
		Timestamp: at,
	}
	s.CurrentTier = target
	if target > s.HighestTierEverReached {
		s.HighestTierEverReached = target
	}
	s.PromotionCount++
	s.UpdatedAt = at
	s.appendHistory(entry)
	return &entry
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY CYCLE
// ══════════════════════════════════════════════════════════════════════════════

// CycleOutcome - результат недельного цикла для одного пользователя.
type CycleOutcome struct {
	// Skipped - цикл уже обработан для пользователя.
	Skipped bool

	Floor        int64
	WeeklyPoints int64
	BelowFloor   bool

	// Protected - понижение поглощено иммунитетом.
	Protected bool

	// Demotion - запись о понижении, если оно произошло.
	Demotion *RankHistoryEntry
}

// ApplyWeeklyCycle проверяет недельную активность, при необходимости
// понижает ранг на одну ступень (или тратит иммунитет) и обнуляет
// недельные очки в любом случае.
func (m *StateMachine) ApplyWeeklyCycle(s *UserRankState, policy FloorPolicy, cycleKey string, at time.Time) CycleOutcome {
	if s.ProcessedCycle(cycleKey) {
		return CycleOutcome{Skipped: true, WeeklyPoints: s.WeeklyPoints}
	}

	tier, err := m.tiers.ByNumber(s.CurrentTier)
	if err != nil {
		// Таблица сократилась после пересева - считаем по балансу.
		tier = m.tiers.Lookup(s.TotalPoints)
		s.CurrentTier = tier.Number
	}

	out := CycleOutcome{
		Floor:        policy.FloorFor(tier),
		WeeklyPoints: s.WeeklyPoints,
	}
	out.BelowFloor = s.WeeklyPoints < out.Floor

	// Ранг 1 понижать некуда, иммунитет не тратится.
	if out.BelowFloor && s.CurrentTier > 1 {
		if s.consumeImmunity("weekly_cycle", at) {
			out.Protected = true
		} else {
			entry := RankHistoryEntry{
				UserID:    s.UserID,
				OldTier:   s.CurrentTier,
				NewTier:   s.CurrentTier - 1,
				Reason:    ReasonDemotion,
				Timestamp: at,
			}
			s.CurrentTier--
			s.DemotionCount++
			s.appendHistory(entry)
			out.Demotion = &entry
		}
	}

	s.ResetWeek(cycleKey, at)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ADJUSTMENT
// ══════════════════════════════════════════════════════════════════════════════

// Adjust устанавливает баланс явно. Это единственный путь, на котором
// totalPoints может уменьшиться. Ранг пересчитывается сразу в обе стороны,
// счётчики повышений и понижений не меняются.
func (m *StateMachine) Adjust(s *UserRankState, newTotal int64, note string, at time.Time) (*RankHistoryEntry, error) {
	if newTotal < 0 {
		return nil, shared.WrapError("rank", "Adjust", shared.ErrNegativeValue,
			"adjusted balance cannot be negative", fmt.Errorf("got %d", newTotal))
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, shared.ErrAdjustmentNoReason
	}

	oldTotal := s.TotalPoints
	s.TotalPoints = newTotal
	s.UpdatedAt = at
	s.record(shared.NewPointsAdjustedEvent(s.UserID, oldTotal, newTotal, note, at))

	target := m.tiers.Lookup(newTotal).Number
	if target == s.CurrentTier {
		return nil, nil
	}

	entry := RankHistoryEntry{
		UserID:    s.UserID,
		OldTier:   s.CurrentTier,
		NewTier:   target,
		Reason:    ReasonAdminAdjustment,
		Timestamp: at,
	}
	s.CurrentTier = target
	if target > s.HighestTierEverReached {
		s.HighestTierEverReached = target
	}
	s.appendHistory(entry)
	return &entry, nil
}
