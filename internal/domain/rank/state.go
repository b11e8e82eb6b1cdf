package rank

import (
	"sort"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER RANK STATE
// ══════════════════════════════════════════════════════════════════════════════

// UserRankState - агрегат: всё, что движок знает о пользователе.
// Создаётся лениво при первой активности и никогда не удаляется, пока
// существует пользователь. Меняется только через методы агрегата
// и StateMachine, поэтому все инварианты проверяются в одном месте.
type UserRankState struct {
	// UserID - идентификатор пользователя.
	UserID string

	// DisplayName - отображаемое имя для поиска в лидерборде.
	DisplayName string

	// TotalPoints - накопленный баланс. Не убывает, кроме
	// явной корректировки администратором.
	TotalPoints int64

	// WeeklyPoints - очки с последнего недельного цикла.
	WeeklyPoints int64

	// CurrentTier - текущий ранг (1..N).
	CurrentTier int

	// HighestTierEverReached - лучший достигнутый ранг.
	HighestTierEverReached int

	// StreakDays - текущая серия дней подряд.
	StreakDays int

	// LastActiveDate - последний день активности (календарный, UTC-полночь).
	LastActiveDate time.Time

	// LastStreakCreditDate - последний день, когда серия была начислена
	// (начата, продлена или начата заново).
	LastStreakCreditDate time.Time

	PromotionCount int
	DemotionCount  int

	// ImmunityCycles - запас защиты от понижения и от разрыва серии.
	ImmunityCycles int

	// LastCycleKey - ключ последнего обработанного недельного цикла.
	LastCycleKey string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version - версия для оптимистической блокировки.
	Version int64

	credited    map[shared.ItemKey]struct{}
	unlocked    []Unlock
	unlockedSet map[string]struct{}

	pending Changes
	dirty   bool
}

// Unlock - полученное достижение.
type Unlock struct {
	Code       string
	UnlockedAt time.Time
}

// CreditRecord - одна запись зачисления в журнале пользователя.
type CreditRecord struct {
	ItemKey    shared.ItemKey
	Amount     int64
	CreditedAt time.Time
}

// Changes - несохранённые изменения агрегата. Репозиторий записывает их
// в той же транзакции, что и само состояние.
type Changes struct {
	Credits []CreditRecord
	Unlocks []Unlock
	History []RankHistoryEntry
	Events  []shared.Event
}

// IsEmpty возвращает true, если изменений нет.
func (c Changes) IsEmpty() bool {
	return len(c.Credits) == 0 && len(c.Unlocks) == 0 && len(c.History) == 0 && len(c.Events) == 0
}

// NewUserRankState создаёт состояние нового пользователя: ранг 1,
// ноль очков и стартовый запас иммунитета.
func NewUserRankState(userID string, graceImmunity int, now time.Time) *UserRankState {
	if graceImmunity < 0 {
		graceImmunity = 0
	}
	return &UserRankState{
		UserID:                 userID,
		CurrentTier:            1,
		HighestTierEverReached: 1,
		ImmunityCycles:         graceImmunity,
		CreatedAt:              now,
		UpdatedAt:              now,
		credited:               make(map[shared.ItemKey]struct{}),
		unlockedSet:            make(map[string]struct{}),
	}
}

// RestoreUserRankState восстанавливает агрегат из хранилища.
// base содержит экспортируемые поля; журналы передаются отдельно.
func RestoreUserRankState(base UserRankState, credited []shared.ItemKey, unlocks []Unlock) *UserRankState {
	s := base
	s.credited = make(map[shared.ItemKey]struct{}, len(credited))
	for _, k := range credited {
		s.credited[k] = struct{}{}
	}
	s.unlocked = make([]Unlock, 0, len(unlocks))
	s.unlockedSet = make(map[string]struct{}, len(unlocks))
	for _, u := range unlocks {
		if _, dup := s.unlockedSet[u.Code]; dup {
			continue
		}
		s.unlockedSet[u.Code] = struct{}{}
		s.unlocked = append(s.unlocked, u)
	}
	s.pending = Changes{}
	s.dirty = false
	return &s
}

// Clone возвращает глубокую копию без несохранённых изменений.
func (s *UserRankState) Clone() *UserRankState {
	return RestoreUserRankState(*s, s.CreditedKeys(), s.Unlocks())
}

// SetDisplayName обновляет имя для поиска. Пустое имя игнорируется.
func (s *UserRankState) SetDisplayName(name string) bool {
	if name == "" || name == s.DisplayName {
		return false
	}
	s.DisplayName = name
	s.dirty = true
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// HasCredited проверяет, зачтён ли ключ.
func (s *UserRankState) HasCredited(key shared.ItemKey) bool {
	_, ok := s.credited[key]
	return ok
}

// CreditedKeys возвращает зачтённые ключи в детерминированном порядке.
func (s *UserRankState) CreditedKeys() []shared.ItemKey {
	keys := make([]shared.ItemKey, 0, len(s.credited))
	for k := range s.credited {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Credit зачисляет amount в общий и недельный баланс, если ключ ещё не
// зачтён. Повтор ключа - не ошибка, а идемпотентный повтор: возвращает false.
// Отрицательные суммы отсекаются до вызова (см. application/command).
func (s *UserRankState) Credit(key shared.ItemKey, amount int64, at time.Time) bool {
	if s.HasCredited(key) {
		return false
	}
	if s.credited == nil {
		s.credited = make(map[shared.ItemKey]struct{})
	}
	s.credited[key] = struct{}{}
	s.TotalPoints += amount
	s.WeeklyPoints += amount
	s.UpdatedAt = at

	s.pending.Credits = append(s.pending.Credits, CreditRecord{ItemKey: key, Amount: amount, CreditedAt: at})
	s.record(shared.NewPointsCreditedEvent(s.UserID, key.String(), amount, s.TotalPoints, s.WeeklyPoints, at))
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// HasUnlocked проверяет, получено ли достижение.
func (s *UserRankState) HasUnlocked(code string) bool {
	_, ok := s.unlockedSet[code]
	return ok
}

// Unlocks возвращает полученные достижения в порядке получения.
func (s *UserRankState) Unlocks() []Unlock {
	out := make([]Unlock, len(s.unlocked))
	copy(out, s.unlocked)
	return out
}

// UnlockedCodes возвращает коды полученных достижений.
func (s *UserRankState) UnlockedCodes() []string {
	codes := make([]string, len(s.unlocked))
	for i, u := range s.unlocked {
		codes[i] = u.Code
	}
	return codes
}

// UnlockAchievement добавляет код в набор и зачисляет награду под ключом
// "achievement:"+code. Оба изменения входят в одну единицу работы,
// поэтому сохраняются вместе или не сохраняются вовсе.
// Повторный вызов - no-op, возвращает false.
func (s *UserRankState) UnlockAchievement(code string, reward int64, at time.Time) bool {
	if s.HasUnlocked(code) {
		return false
	}
	if s.unlockedSet == nil {
		s.unlockedSet = make(map[string]struct{})
	}
	s.unlockedSet[code] = struct{}{}
	u := Unlock{Code: code, UnlockedAt: at}
	s.unlocked = append(s.unlocked, u)
	s.pending.Unlocks = append(s.pending.Unlocks, u)
	s.UpdatedAt = at

	s.record(shared.NewAchievementUnlockedEvent(s.UserID, code, reward, at))
	if reward > 0 {
		s.Credit(shared.AchievementItemKey(code), reward, at)
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY BUCKET
// ══════════════════════════════════════════════════════════════════════════════

// ResetWeek обнуляет недельные очки и помечает цикл обработанным.
func (s *UserRankState) ResetWeek(cycleKey string, at time.Time) {
	s.WeeklyPoints = 0
	s.LastCycleKey = cycleKey
	s.UpdatedAt = at
	s.dirty = true
}

// ProcessedCycle проверяет, обработан ли уже этот цикл.
func (s *UserRankState) ProcessedCycle(cycleKey string) bool {
	return cycleKey != "" && s.LastCycleKey == cycleKey
}

func (s *UserRankState) consumeImmunity(cause string, at time.Time) bool {
	if s.ImmunityCycles <= 0 {
		return false
	}
	s.ImmunityCycles--
	s.UpdatedAt = at
	s.record(shared.NewImmunityConsumedEvent(s.UserID, s.ImmunityCycles, cause, at))
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// PENDING CHANGES
// ══════════════════════════════════════════════════════════════════════════════

func (s *UserRankState) record(e shared.Event) {
	s.pending.Events = append(s.pending.Events, e)
	s.dirty = true
}

func (s *UserRankState) appendHistory(e RankHistoryEntry) {
	s.pending.History = append(s.pending.History, e)
	s.dirty = true
}

// IsDirty возвращает true, если с момента загрузки что-то изменилось.
func (s *UserRankState) IsDirty() bool {
	return s.dirty
}

// Changes возвращает несохранённые изменения. События переходов
// собираются из записей истории, чтобы нести их ID.
func (s *UserRankState) Changes() Changes {
	c := s.pending
	c.Events = make([]shared.Event, 0, len(s.pending.Events)+len(s.pending.History))
	c.Events = append(c.Events, s.pending.Events...)
	for _, h := range s.pending.History {
		c.Events = append(c.Events, h.ToEvent())
	}
	return c
}

// AssignHistoryIDs присваивает идентификаторы новым записям истории.
func (s *UserRankState) AssignHistoryIDs(next func() string) {
	for i := range s.pending.History {
		if s.pending.History[i].ID == "" {
			s.pending.History[i].ID = next()
		}
	}
}

// ClearChanges сбрасывает изменения после успешного сохранения.
func (s *UserRankState) ClearChanges() {
	s.pending = Changes{}
	s.dirty = false
}
