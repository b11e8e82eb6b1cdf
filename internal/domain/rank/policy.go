package rank

// FloorPolicy - минимальные недельные очки по группам рангов.
// Если недельные очки ниже минимума, недельный цикл пытается понизить ранг.
type FloorPolicy struct {
	floors   map[TierGroup]int64
	fallback int64
}

// NewFloorPolicy создаёт политику. Группы без значения получают fallback.
func NewFloorPolicy(floors map[TierGroup]int64, fallback int64) FloorPolicy {
	normalized := make(map[TierGroup]int64, len(floors))
	for g, v := range floors {
		if v < 0 {
			v = 0
		}
		normalized[g.Normalize()] = v
	}
	if fallback < 0 {
		fallback = 0
	}
	return FloorPolicy{floors: normalized, fallback: fallback}
}

// DefaultFloorPolicy - значения по умолчанию (см. DESIGN.md).
func DefaultFloorPolicy() FloorPolicy {
	return NewFloorPolicy(map[TierGroup]int64{
		GroupNovice:       0,
		GroupIntermediate: 100,
		GroupAdvanced:     200,
		GroupExpert:       350,
		GroupLegendary:    500,
	}, 0)
}

// FloorFor возвращает минимум для ранга.
func (p FloorPolicy) FloorFor(t RankTier) int64 {
	if v, ok := p.floors[t.Group.Normalize()]; ok {
		return v
	}
	return p.fallback
}

// Floors возвращает копию настроенных значений.
func (p FloorPolicy) Floors() map[TierGroup]int64 {
	out := make(map[TierGroup]int64, len(p.floors))
	for g, v := range p.floors {
		out[g] = v
	}
	return out
}
