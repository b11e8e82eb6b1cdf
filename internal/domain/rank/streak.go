package rank

import (
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// StreakOutcome - результат отметки активности.
type StreakOutcome string

const (
	// StreakSameDay - активность в тот же день, ничего не меняется.
	StreakSameDay StreakOutcome = "same_day"
	// StreakStarted - первая активность пользователя.
	StreakStarted StreakOutcome = "started"
	// StreakExtended - следующий день, серия +1.
	StreakExtended StreakOutcome = "extended"
	// StreakPreserved - пропуск закрыт иммунитетом, серия сохранена.
	StreakPreserved StreakOutcome = "preserved"
	// StreakReset - пропуск без иммунитета, серия начинается с 1.
	StreakReset StreakOutcome = "reset"
	// StreakIgnored - событие из прошлого, игнорируется.
	StreakIgnored StreakOutcome = "ignored"
)

// Mutated возвращает true, если отметка изменила серию.
func (o StreakOutcome) Mutated() bool {
	switch o {
	case StreakStarted, StreakExtended, StreakPreserved, StreakReset:
		return true
	}
	return false
}

// TouchStreak отмечает активность в календарный день day.
// day должен быть нормализован календарём (timeutil.Calendar.Day),
// чтобы разница считалась в днях, а не в 24-часовых интервалах.
func (s *UserRankState) TouchStreak(day time.Time, at time.Time) StreakOutcome {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	// Первая активность
	if s.LastActiveDate.IsZero() {
		s.StreakDays = 1
		s.LastActiveDate = day
		s.LastStreakCreditDate = day
		s.UpdatedAt = at
		s.record(shared.NewStreakUpdatedEvent(s.UserID, 0, s.StreakDays, string(StreakStarted), at))
		return StreakStarted
	}

	daysDiff := int(day.Sub(s.LastActiveDate).Hours() / 24)
	previous := s.StreakDays

	var outcome StreakOutcome
	switch {
	case daysDiff < 0:
		// Событие пришло не по порядку - не трогаем состояние
		return StreakIgnored
	case daysDiff == 0:
		return StreakSameDay
	case daysDiff == 1:
		s.StreakDays++
		s.LastStreakCreditDate = day
		outcome = StreakExtended
	default:
		if s.consumeImmunity("streak_gap", at) {
			outcome = StreakPreserved
		} else {
			s.StreakDays = 1
			s.LastStreakCreditDate = day
			outcome = StreakReset
		}
	}

	s.LastActiveDate = day
	s.UpdatedAt = at
	s.record(shared.NewStreakUpdatedEvent(s.UserID, previous, s.StreakDays, string(outcome), at))
	return outcome
}
