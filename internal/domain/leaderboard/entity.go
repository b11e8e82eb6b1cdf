// Package leaderboard содержит доменную модель лидерборда движка геймификации.
// Лидерборд только читает состояние пользователей и никогда его не меняет.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Period определяет, по какому полю считается рейтинг.
type Period string

const (
	// PeriodAllTime - рейтинг по totalPoints.
	PeriodAllTime Period = "all_time"
	// PeriodWeekly - рейтинг по weeklyPoints текущего цикла.
	PeriodWeekly Period = "weekly"
)

// ParsePeriod разбирает период. Пустая строка - all_time.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all_time", "all-time", "alltime":
		return PeriodAllTime, nil
	case "weekly", "week":
		return PeriodWeekly, nil
	default:
		return "", shared.WrapError("leaderboard", "ParsePeriod", shared.ErrInvalidInput,
			shared.ErrInvalidPeriod.Message, fmt.Errorf("period %q", s))
	}
}

// IsValid проверяет корректность периода.
func (p Period) IsValid() bool {
	return p == PeriodAllTime || p == PeriodWeekly
}

// Position - место в рейтинге, начиная с 1.
type Position int

// IsValid проверяет, что место положительное.
func (p Position) IsValid() bool {
	return p > 0
}

// String возвращает строковое представление места.
func (p Position) String() string {
	return fmt.Sprintf("#%d", p)
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDING
// ══════════════════════════════════════════════════════════════════════════════

// Standing - срез состояния одного пользователя, достаточный для рейтинга.
type Standing struct {
	UserID       string
	DisplayName  string
	TotalPoints  int64
	WeeklyPoints int64
	CurrentTier  int
}

// PointsFor возвращает очки для периода.
func (s Standing) PointsFor(p Period) int64 {
	if p == PeriodWeekly {
		return s.WeeklyPoints
	}
	return s.TotalPoints
}

// Matches проверяет поиск: подстрока имени без учёта регистра.
// Пустой поиск подходит всем.
func (s Standing) Matches(search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.DisplayName), needle)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - одна строка лидерборда.
type Entry struct {
	Position    Position
	UserID      string
	DisplayName string
	Points      int64
	Tier        int
}

// String возвращает строковое представление для логирования.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{%s, %s, %d}", e.Position, e.UserID, e.Points)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking - полностью упорядоченный список для одного периода.
// Порядок: очки по убыванию, затем userId по возрастанию, поэтому
// у каждого пользователя своё место и повторные запросы стабильны.
type Ranking struct {
	period  Period
	entries []Entry
	byID    map[string]int
}

// NewRanking строит рейтинг из срезов состояния. Поиск применяется до
// расчёта мест, поэтому места считаются внутри отфильтрованного набора.
func NewRanking(standings []Standing, period Period, search string) *Ranking {
	filtered := make([]Standing, 0, len(standings))
	for _, s := range standings {
		if s.Matches(search) {
			filtered = append(filtered, s)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		pi, pj := filtered[i].PointsFor(period), filtered[j].PointsFor(period)
		if pi != pj {
			return pi > pj
		}
		return filtered[i].UserID < filtered[j].UserID
	})

	r := &Ranking{
		period:  period,
		entries: make([]Entry, len(filtered)),
		byID:    make(map[string]int, len(filtered)),
	}
	for i, s := range filtered {
		r.entries[i] = Entry{
			Position:    Position(i + 1),
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			Points:      s.PointsFor(period),
			Tier:        s.CurrentTier,
		}
		r.byID[s.UserID] = i
	}
	return r
}

// Period возвращает период рейтинга.
func (r *Ranking) Period() Period {
	return r.period
}

// Count возвращает количество записей.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// Find возвращает запись пользователя.
func (r *Ranking) Find(userID string) (Entry, bool) {
	i, ok := r.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Slice возвращает копию записей [from:to).
func (r *Ranking) Slice(from, to int) []Entry {
	if from < 0 {
		from = 0
	}
	if to > len(r.entries) {
		to = len(r.entries)
	}
	if from >= to {
		return []Entry{}
	}
	out := make([]Entry, to-from)
	copy(out, r.entries[from:to])
	return out
}

// Page возвращает страницу рейтинга.
func (r *Ranking) Page(p shared.Pagination) []Entry {
	return r.Slice(p.Offset(), p.Offset()+p.Limit())
}

// Top возвращает первые n записей.
func (r *Ranking) Top(n int) []Entry {
	return r.Slice(0, n)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY & RESULT
// ══════════════════════════════════════════════════════════════════════════════

// Query - параметры запроса лидерборда.
type Query struct {
	Period     Period
	Search     string
	Pagination shared.Pagination

	// RequesterID - кто спрашивает. Пусто - без собственной записи.
	RequesterID string
}

// Validate проверяет запрос.
func (q Query) Validate() error {
	if !q.Period.IsValid() {
		return shared.ErrInvalidPeriod
	}
	if q.Pagination.Page < 1 {
		return shared.ErrInvalidPage
	}
	return nil
}

// Result - страница лидерборда вместе с записью запрашивающего.
type Result struct {
	Period     Period
	Search     string
	Entries    []Entry
	Total      int
	Page       int
	PageSize   int
	TotalPages int

	// Requester - запись запрашивающего, даже если она вне страницы.
	// Если запрашивающий не проходит фильтр поиска, место берётся из
	// рейтинга без поиска. nil, если у пользователя ещё нет состояния.
	Requester *Entry

	GeneratedAt time.Time
}

// Compute строит результат запроса из срезов состояния.
func Compute(standings []Standing, q Query, generatedAt time.Time) Result {
	ranking := NewRanking(standings, q.Period, q.Search)

	res := Result{
		Period:      q.Period,
		Search:      q.Search,
		Entries:     ranking.Page(q.Pagination),
		Total:       ranking.Count(),
		Page:        q.Pagination.Page,
		PageSize:    q.Pagination.Limit(),
		TotalPages:  q.Pagination.TotalPages(ranking.Count()),
		GeneratedAt: generatedAt,
	}

	if q.RequesterID == "" {
		return res
	}
	if e, ok := ranking.Find(q.RequesterID); ok {
		res.Requester = &e
		return res
	}
	if strings.TrimSpace(q.Search) != "" {
		if e, ok := NewRanking(standings, q.Period, "").Find(q.RequesterID); ok {
			res.Requester = &e
		}
	}
	return res
}
