package rank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIER GROUP
// ══════════════════════════════════════════════════════════════════════════════

// TierGroup - крупная категория рангов. Косметическая, но по ней
// настраивается недельный минимум активности.
type TierGroup string

const (
	GroupNovice       TierGroup = "novice"
	GroupIntermediate TierGroup = "intermediate"
	GroupAdvanced     TierGroup = "advanced"
	GroupExpert       TierGroup = "expert"
	GroupLegendary    TierGroup = "legendary"
)

// Normalize приводит группу к нижнему регистру без пробелов.
func (g TierGroup) Normalize() TierGroup {
	return TierGroup(strings.ToLower(strings.TrimSpace(string(g))))
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK TIER
// ══════════════════════════════════════════════════════════════════════════════

// RankTier - один ранг таблицы.
type RankTier struct {
	// Number - порядковый номер (1..N, без пропусков).
	Number int

	// Name - отображаемое название.
	Name string

	// MinPoints - нижняя граница (включительно).
	MinPoints int64

	// MaxPoints - верхняя граница (не включительно).
	// 0 означает отсутствие границы и допустим только у последнего ранга.
	MaxPoints int64

	// Group - категория ранга.
	Group TierGroup
}

// IsUnbounded возвращает true для ранга без верхней границы.
func (t RankTier) IsUnbounded() bool {
	return t.MaxPoints == 0
}

// Contains проверяет, попадает ли баланс в [MinPoints, MaxPoints).
func (t RankTier) Contains(points int64) bool {
	if points < t.MinPoints {
		return false
	}
	return t.IsUnbounded() || points < t.MaxPoints
}

// ══════════════════════════════════════════════════════════════════════════════
// TIER TABLE
// ══════════════════════════════════════════════════════════════════════════════

// TierTable - неизменяемая упорядоченная таблица рангов.
// Создаётся только через NewTierTable, которая проверяет целостность.
type TierTable struct {
	tiers []RankTier
}

// NewTierTable проверяет и создаёт таблицу рангов.
// Любой разрыв или пересечение диапазонов - фатальная ошибка конфигурации:
// без целостной таблицы поиск ранга не определён.
func NewTierTable(tiers []RankTier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, shared.WrapError("rank", "ValidateTiers", shared.ErrInvalidTierTable, "tier table is empty", nil)
	}

	sorted := make([]RankTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	var problems []string
	for i, t := range sorted {
		if t.Number != i+1 {
			problems = append(problems, fmt.Sprintf("tier numbers must be dense from 1, got %d at position %d", t.Number, i+1))
		}
		if strings.TrimSpace(t.Name) == "" {
			problems = append(problems, fmt.Sprintf("tier %d has no name", t.Number))
		}
		if t.Group.Normalize() == "" {
			problems = append(problems, fmt.Sprintf("tier %d has no group", t.Number))
		}
		if t.MinPoints < 0 {
			problems = append(problems, fmt.Sprintf("tier %d has negative min_points", t.Number))
		}

		last := i == len(sorted)-1
		switch {
		case last && !t.IsUnbounded():
			problems = append(problems, fmt.Sprintf("highest tier %d must be unbounded (max_points = 0)", t.Number))
		case !last && t.IsUnbounded():
			problems = append(problems, fmt.Sprintf("tier %d is unbounded but is not the highest tier", t.Number))
		case !last && t.MaxPoints <= t.MinPoints:
			problems = append(problems, fmt.Sprintf("tier %d has empty range [%d, %d)", t.Number, t.MinPoints, t.MaxPoints))
		}

		if i == 0 && t.MinPoints != 0 {
			problems = append(problems, fmt.Sprintf("tier 1 must start at 0, starts at %d", t.MinPoints))
		}
		if i > 0 {
			prev := sorted[i-1]
			if !prev.IsUnbounded() && prev.MaxPoints != t.MinPoints {
				kind := "gap"
				if prev.MaxPoints > t.MinPoints {
					kind = "overlap"
				}
				problems = append(problems, fmt.Sprintf("%s between tier %d (max %d) and tier %d (min %d)",
					kind, prev.Number, prev.MaxPoints, t.Number, t.MinPoints))
			}
		}
	}

	if len(problems) > 0 {
		return nil, shared.WrapError("rank", "ValidateTiers", shared.ErrInvalidTierTable,
			"rank tier table is inconsistent", fmt.Errorf("%s", strings.Join(problems, "; ")))
	}

	for i := range sorted {
		sorted[i].Group = sorted[i].Group.Normalize()
	}
	return &TierTable{tiers: sorted}, nil
}

// MustTierTable - как NewTierTable, но паникует. Только для статических значений.
func MustTierTable(tiers []RankTier) *TierTable {
	t, err := NewTierTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// Len возвращает количество рангов.
func (t *TierTable) Len() int {
	return len(t.tiers)
}

// Tiers возвращает копию рангов по возрастанию.
func (t *TierTable) Tiers() []RankTier {
	out := make([]RankTier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Highest возвращает номер старшего ранга.
func (t *TierTable) Highest() int {
	return len(t.tiers)
}

// Lookup возвращает единственный ранг, чей диапазон содержит баланс.
// Граница MinPoints принадлежит старшему рангу.
func (t *TierTable) Lookup(points int64) RankTier {
	if points < 0 {
		points = 0
	}
	// Первый ранг с MinPoints > points; искомый - предыдущий.
	idx := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinPoints > points
	})
	return t.tiers[idx-1]
}

// ByNumber возвращает ранг по номеру.
func (t *TierTable) ByNumber(number int) (RankTier, error) {
	if number < 1 || number > len(t.tiers) {
		return RankTier{}, shared.WrapError("rank", "ByNumber", shared.ErrUnknownTier,
			"tier not present in table", fmt.Errorf("tier %d", number))
	}
	return t.tiers[number-1], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// TierProgress - прогресс к следующему рангу для профиля.
type TierProgress struct {
	Current RankTier

	// Next - следующий ранг, nil для старшего.
	Next *RankTier

	// Fraction - доля пройденного диапазона текущего ранга [0, 1].
	Fraction float64

	// PointsToNext - сколько очков осталось до следующего ранга.
	PointsToNext int64
}

// Progress считает прогресс для отображаемого ранга currentTier при балансе points.
// Отображаемый ранг может отставать от баланса после понижения,
// тогда доля равна 1 и до следующего ранга остаётся 0.
func (t *TierTable) Progress(currentTier int, points int64) TierProgress {
	current, err := t.ByNumber(currentTier)
	if err != nil {
		current = t.Lookup(points)
	}

	p := TierProgress{Current: current}
	if current.IsUnbounded() {
		p.Fraction = 1
		return p
	}

	next := t.tiers[current.Number]
	p.Next = &next

	if points >= current.MaxPoints {
		p.Fraction = 1
		return p
	}
	span := current.MaxPoints - current.MinPoints
	done := points - current.MinPoints
	if done < 0 {
		done = 0
	}
	p.Fraction = float64(done) / float64(span)
	p.PointsToNext = current.MaxPoints - points
	return p
}
