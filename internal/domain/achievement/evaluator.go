package achievement

import (
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/rank"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// Counters - счётчики активности. Их ведёт подсистема приёма активности,
// движок получает их готовыми вместе с событием.
type Counters struct {
	PerfectScores    int
	SpeedBonuses     int
	CoursesCompleted int
}

// Trigger сужает набор проверяемых видов условий. Это оптимизация:
// проверка всех определений всегда корректна.
type Trigger struct {
	// Kinds - какие виды проверять. Пусто - все.
	Kinds []Kind

	Counters Counters

	// CompletionTime - время завершения для условий по времени суток.
	// Нулевое значение такие условия не выполняет.
	CompletionTime time.Time
}

// AllKinds - триггер без сужения.
func AllKinds(counters Counters, completedAt time.Time) Trigger {
	return Trigger{Counters: counters, CompletionTime: completedAt}
}

// StreakOnly - триггер после изменения серии.
func StreakOnly() Trigger {
	return Trigger{Kinds: []Kind{KindStreakDays}}
}

// PointsOnly - триггер после зачисления очков.
func PointsOnly() Trigger {
	return Trigger{Kinds: []Kind{KindTotalPoints}}
}

// Wants проверяет, входит ли вид в триггер.
func (t Trigger) Wants(k Kind) bool {
	if len(t.Kinds) == 0 {
		return true
	}
	for _, want := range t.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Merge объединяет два триггера (счётчики и время берутся из непустого).
func (t Trigger) Merge(other Trigger) Trigger {
	out := t
	if len(t.Kinds) == 0 || len(other.Kinds) == 0 {
		out.Kinds = nil
	} else {
		seen := make(map[Kind]bool, len(t.Kinds)+len(other.Kinds))
		out.Kinds = nil
		for _, k := range append(append([]Kind{}, t.Kinds...), other.Kinds...) {
			if !seen[k] {
				seen[k] = true
				out.Kinds = append(out.Kinds, k)
			}
		}
	}
	if out.Counters == (Counters{}) {
		out.Counters = other.Counters
	}
	if out.CompletionTime.IsZero() {
		out.CompletionTime = other.CompletionTime
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Result - итог проверки каталога для пользователя.
type Result struct {
	// Satisfied - выполненные и ещё не полученные достижения.
	Satisfied []Definition

	// Unrecognized - определения с неизвестным видом условия.
	// Считаются невыполненными, вызывающий код их логирует.
	Unrecognized []Definition
}

// Evaluator проверяет условия против состояния пользователя. Ничего не меняет.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator создаёт проверщик; loc задаёт местное время для условий по часам.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Evaluate проверяет все ещё не полученные достижения из defs.
func (e *Evaluator) Evaluate(state *rank.UserRankState, defs []Definition, trigger Trigger) Result {
	var res Result
	for _, def := range defs {
		if state.HasUnlocked(def.Code) {
			continue
		}
		if _, unknown := def.Requirement.(Unrecognized); unknown {
			res.Unrecognized = append(res.Unrecognized, def)
			continue
		}
		if def.Requirement == nil || !trigger.Wants(def.Requirement.Kind()) {
			continue
		}
		if e.Satisfied(def.Requirement, state, trigger) {
			res.Satisfied = append(res.Satisfied, def)
		}
	}
	return res
}

// Satisfied проверяет одно условие. Все варианты объединения обработаны явно.
func (e *Evaluator) Satisfied(req Requirement, state *rank.UserRankState, trigger Trigger) bool {
	switch r := req.(type) {
	case StreakDays:
		return state.StreakDays >= r.Min
	case PerfectScoreCount:
		return trigger.Counters.PerfectScores >= r.Min
	case SpeedBonusCount:
		return trigger.Counters.SpeedBonuses >= r.Min
	case CoursesCompleted:
		return trigger.Counters.CoursesCompleted >= r.Min
	case TotalPoints:
		return state.TotalPoints >= r.Min
	case CompletionTimeInRange:
		if trigger.CompletionTime.IsZero() {
			return false
		}
		return r.ContainsHour(trigger.CompletionTime.In(e.loc).Hour())
	case Unrecognized:
		return false
	default:
		return false
	}
}
