package leaderboard

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - набор срезов состояния на момент времени. Его кешируют
// целиком, а сортировка, поиск и страницы считаются на чтении.
type Snapshot struct {
	Standings []Standing
	BuiltAt   time.Time
}

// NewSnapshot создаёт снапшот. Срез копируется.
func NewSnapshot(standings []Standing, builtAt time.Time) *Snapshot {
	cp := make([]Standing, len(standings))
	copy(cp, standings)
	return &Snapshot{Standings: cp, BuiltAt: builtAt.UTC()}
}

// Len возвращает количество пользователей.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Standings)
}

// Age возвращает возраст снапшота.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.BuiltAt)
}

// IsStale проверяет, старше ли снапшот maxAge. maxAge <= 0 - никогда.
func (s *Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if s == nil {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return s.Age(now) > maxAge
}

// Find возвращает срез пользователя.
func (s *Snapshot) Find(userID string) (Standing, bool) {
	if s == nil {
		return Standing{}, false
	}
	for _, st := range s.Standings {
		if st.UserID == userID {
			return st, true
		}
	}
	return Standing{}, false
}

// Query выполняет запрос над снапшотом.
func (s *Snapshot) Query(q Query) Result {
	if s == nil {
		return Compute(nil, q, time.Time{})
	}
	return Compute(s.Standings, q, s.BuiltAt)
}
