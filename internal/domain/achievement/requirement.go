package achievement

import (
	"fmt"
	"strings"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUIREMENT (закрытое объединение)
// ══════════════════════════════════════════════════════════════════════════════

// Kind - вид условия достижения.
type Kind string

const (
	KindStreakDays            Kind = "streak_days"
	KindPerfectScoreCount     Kind = "perfect_score_count"
	KindSpeedBonusCount       Kind = "speed_bonus_count"
	KindCoursesCompleted      Kind = "courses_completed"
	KindCompletionTimeInRange Kind = "completion_time_in_range"
	KindTotalPoints           Kind = "total_points"
)

// IsKnown проверяет, знает ли эта версия вид условия.
func (k Kind) IsKnown() bool {
	switch k {
	case KindStreakDays, KindPerfectScoreCount, KindSpeedBonusCount,
		KindCoursesCompleted, KindCompletionTimeInRange, KindTotalPoints:
		return true
	}
	return false
}

// Requirement - условие получения достижения. Набор вариантов закрыт:
// реализовать интерфейс можно только внутри пакета, поэтому Evaluator
// обрабатывает все варианты явно.
type Requirement interface {
	Kind() Kind
	String() string
	sealed()
}

// StreakDays - серия не меньше Min дней.
type StreakDays struct{ Min int }

// PerfectScoreCount - не меньше Min идеальных результатов.
type PerfectScoreCount struct{ Min int }

// SpeedBonusCount - не меньше Min бонусов за скорость.
type SpeedBonusCount struct{ Min int }

// CoursesCompleted - не меньше Min завершённых курсов.
type CoursesCompleted struct{ Min int }

// TotalPoints - баланс не меньше Min.
type TotalPoints struct{ Min int64 }

// CompletionTimeInRange - активность в часы [FromHour, ToHour) по местному
// времени. FromHour > ToHour означает интервал через полночь (22..5).
type CompletionTimeInRange struct {
	FromHour int
	ToHour   int
}

// Unrecognized - условие из конфигурации, которое эта версия не знает.
// Никогда не выполняется: достижения закрываются при сомнении.
type Unrecognized struct{ RawKind string }

func (StreakDays) Kind() Kind            { return KindStreakDays }
func (PerfectScoreCount) Kind() Kind     { return KindPerfectScoreCount }
func (SpeedBonusCount) Kind() Kind       { return KindSpeedBonusCount }
func (CoursesCompleted) Kind() Kind      { return KindCoursesCompleted }
func (TotalPoints) Kind() Kind           { return KindTotalPoints }
func (CompletionTimeInRange) Kind() Kind { return KindCompletionTimeInRange }
func (u Unrecognized) Kind() Kind        { return Kind(u.RawKind) }

func (r StreakDays) String() string        { return fmt.Sprintf("streak_days >= %d", r.Min) }
func (r PerfectScoreCount) String() string { return fmt.Sprintf("perfect_score_count >= %d", r.Min) }
func (r SpeedBonusCount) String() string   { return fmt.Sprintf("speed_bonus_count >= %d", r.Min) }
func (r CoursesCompleted) String() string  { return fmt.Sprintf("courses_completed >= %d", r.Min) }
func (r TotalPoints) String() string       { return fmt.Sprintf("total_points >= %d", r.Min) }
func (r CompletionTimeInRange) String() string {
	return fmt.Sprintf("completion_time in [%02d:00, %02d:00)", r.FromHour, r.ToHour)
}
func (u Unrecognized) String() string { return "unrecognized(" + u.RawKind + ")" }

func (StreakDays) sealed()            {}
func (PerfectScoreCount) sealed()     {}
func (SpeedBonusCount) sealed()       {}
func (CoursesCompleted) sealed()      {}
func (TotalPoints) sealed()           {}
func (CompletionTimeInRange) sealed() {}
func (Unrecognized) sealed()          {}

// ContainsHour проверяет час с учётом перехода через полночь.
func (r CompletionTimeInRange) ContainsHour(hour int) bool {
	if r.FromHour == r.ToHour {
		return true
	}
	if r.FromHour < r.ToHour {
		return hour >= r.FromHour && hour < r.ToHour
	}
	return hour >= r.FromHour || hour < r.ToHour
}

// RequirementSpec - сырое описание условия из конфигурации.
type RequirementSpec struct {
	Kind      string
	Threshold int64
	FromHour  int
	ToHour    int
}

// ParseRequirement превращает сырое описание в вариант объединения.
// Неизвестный вид не ошибка: возвращается Unrecognized, который никогда не
// выполняется. Известный вид с некорректными параметрами - ошибка конфигурации.
func ParseRequirement(spec RequirementSpec) (Requirement, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(spec.Kind)))

	if spec.Threshold < 0 && kind.IsKnown() && kind != KindCompletionTimeInRange {
		return nil, invalidRequirement(kind, "threshold must be non-negative")
	}
	n := int(spec.Threshold)

	switch kind {
	case KindStreakDays:
		return StreakDays{Min: n}, nil
	case KindPerfectScoreCount:
		return PerfectScoreCount{Min: n}, nil
	case KindSpeedBonusCount:
		return SpeedBonusCount{Min: n}, nil
	case KindCoursesCompleted:
		return CoursesCompleted{Min: n}, nil
	case KindTotalPoints:
		return TotalPoints{Min: spec.Threshold}, nil
	case KindCompletionTimeInRange:
		if spec.FromHour < 0 || spec.FromHour > 23 || spec.ToHour < 0 || spec.ToHour > 24 {
			return nil, invalidRequirement(kind, "hours must be within 0..24")
		}
		return CompletionTimeInRange{FromHour: spec.FromHour, ToHour: spec.ToHour % 24}, nil
	default:
		return Unrecognized{RawKind: spec.Kind}, nil
	}
}

// SpecOf возвращает сырое описание варианта (для хранения).
func SpecOf(r Requirement) RequirementSpec {
	switch v := r.(type) {
	case StreakDays:
		return RequirementSpec{Kind: string(v.Kind()), Threshold: int64(v.Min)}
	case PerfectScoreCount:
		return RequirementSpec{Kind: string(v.Kind()), Threshold: int64(v.Min)}
	case SpeedBonusCount:
		return RequirementSpec{Kind: string(v.Kind()), Threshold: int64(v.Min)}
	case CoursesCompleted:
		return RequirementSpec{Kind: string(v.Kind()), Threshold: int64(v.Min)}
	case TotalPoints:
		return RequirementSpec{Kind: string(v.Kind()), Threshold: v.Min}
	case CompletionTimeInRange:
		return RequirementSpec{Kind: string(v.Kind()), FromHour: v.FromHour, ToHour: v.ToHour}
	case Unrecognized:
		return RequirementSpec{Kind: v.RawKind}
	default:
		return RequirementSpec{}
	}
}

func invalidRequirement(kind Kind, msg string) error {
	return shared.WrapError("achievement", "ParseRequirement", shared.ErrInvalidRequirement,
		"achievement requirement is malformed", fmt.Errorf("%s: %s", kind, msg))
}
