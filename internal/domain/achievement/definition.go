// Package achievement содержит каталог достижений и чистую логику
// проверки условий. Получение достижения (набор + награда) выполняется
// агрегатом rank.UserRankState в одной единице работы.
package achievement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Category - раздел каталога для отображения.
type Category string

const (
	CategoryStreak     Category = "streak"
	CategoryMastery    Category = "mastery"
	CategorySpeed      Category = "speed"
	CategoryCompletion Category = "completion"
	CategoryTiming     Category = "timing"
	CategoryPoints     Category = "points"
)

// Rarity - редкость достижения.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Definition описывает достижение. Code уникален и неизменен после того,
// как попал в набор хотя бы одного пользователя.
type Definition struct {
	Code         string
	Name         string
	Description  string
	Emoji        string
	Category     Category
	Requirement  Requirement
	PointsReward int64
	Rarity       Rarity
}

// Validate проверяет определение.
func (d Definition) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Code) == "" {
		problems = append(problems, "code is empty")
	}
	if d.Requirement == nil {
		problems = append(problems, "requirement is missing")
	}
	if d.PointsReward < 0 {
		problems = append(problems, "points_reward is negative")
	}
	if len(problems) > 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrConfiguration,
			"achievement definition is malformed", fmt.Errorf("%s: %s", d.Code, strings.Join(problems, ", ")))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - неизменяемый набор определений с уникальными кодами.
type Catalog struct {
	defs   []Definition
	byCode map[string]int
}

// NewCatalog проверяет определения и уникальность кодов.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]Definition, 0, len(defs)),
		byCode: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		d.Code = strings.TrimSpace(d.Code)
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrDuplicateAchievement,
				"achievement code is not unique", fmt.Errorf("code %q", d.Code))
		}
		c.byCode[d.Code] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// All возвращает определения, отсортированные по коду.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Get возвращает определение по коду.
func (c *Catalog) Get(code string) (Definition, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Len возвращает размер каталога.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Unrecognized возвращает определения с неизвестным видом условия.
func (c *Catalog) Unrecognized() []Definition {
	var out []Definition
	for _, d := range c.defs {
		if _, ok := d.Requirement.(Unrecognized); ok {
			out = append(out, d)
		}
	}
	return out
}
