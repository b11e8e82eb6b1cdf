package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// CurrentCatalogVersion is the catalogue file format this build reads.
const CurrentCatalogVersion = 1

//go:embed default_catalog.toml
var defaultCatalogTOML []byte

// Catalog is the static gamification configuration, validated and ready
// for the domain.
type Catalog struct {
	Tiers         *rank.TierTable
	Achievements  *achievement.Catalog
	Floors        rank.FloorPolicy
	GraceImmunity int
}

// catalogFile mirrors the TOML layout.
type catalogFile struct {
	Version       int               `koanf:"version"`
	GraceImmunity int               `koanf:"grace_immunity"`
	FloorFallback int64             `koanf:"floor_fallback"`
	Floors        map[string]int64  `koanf:"floors"`
	Tiers         []tierFile        `koanf:"tiers"`
	Achievements  []achievementFile `koanf:"achievements"`
}

type tierFile struct {
	Number    int    `koanf:"number"`
	Name      string `koanf:"name"`
	MinPoints int64  `koanf:"min_points"`
	MaxPoints int64  `koanf:"max_points"`
	Group     string `koanf:"group"`
}

type achievementFile struct {
	Code         string          `koanf:"code"`
	Name         string          `koanf:"name"`
	Description  string          `koanf:"description"`
	Emoji        string          `koanf:"emoji"`
	Category     string          `koanf:"category"`
	Rarity       string          `koanf:"rarity"`
	PointsReward int64           `koanf:"points_reward"`
	Requirement  requirementFile `koanf:"requirement"`
}

type requirementFile struct {
	Kind      string `koanf:"kind"`
	Threshold int64  `koanf:"threshold"`
	FromHour  int    `koanf:"from_hour"`
	ToHour    int    `koanf:"to_hour"`
}

// bytesProvider feeds an in-memory document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytes provider does not support Read")
}

// LoadCatalog reads the built-in catalogue and, when path is set, overlays
// the file on top of it. Keys present in the file replace the defaults;
// arrays (tiers, achievements) are replaced as a whole.
func LoadCatalog(path string) (*Catalog, error) {
	k := koanf.New(".")

	if err := k.Load(bytesProvider(defaultCatalogTOML), toml.Parser()); err != nil {
		return nil, catalogError("failed to parse built-in catalogue", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, catalogError("failed to load catalogue file", fmt.Errorf("%s: %w", path, err))
		}
	}

	var raw catalogFile
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, catalogError("failed to decode catalogue", err)
	}
	return buildCatalog(raw)
}

// ParseCatalog builds a catalogue from a TOML document alone, without defaults.
func ParseCatalog(doc []byte) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(bytesProvider(doc), toml.Parser()); err != nil {
		return nil, catalogError("failed to parse catalogue", err)
	}

	var raw catalogFile
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, catalogError("failed to decode catalogue", err)
	}
	return buildCatalog(raw)
}

func buildCatalog(raw catalogFile) (*Catalog, error) {
	if raw.Version != CurrentCatalogVersion {
		return nil, catalogError("unsupported catalogue version",
			fmt.Errorf("got %d, want %d", raw.Version, CurrentCatalogVersion))
	}
	if raw.GraceImmunity < 0 {
		return nil, catalogError("grace_immunity must not be negative", nil)
	}

	tiers := make([]rank.RankTier, 0, len(raw.Tiers))
	for _, t := range raw.Tiers {
		tiers = append(tiers, rank.RankTier{
			Number:    t.Number,
			Name:      t.Name,
			MinPoints: t.MinPoints,
			MaxPoints: t.MaxPoints,
			Group:     rank.TierGroup(t.Group).Normalize(),
		})
	}
	table, err := rank.NewTierTable(tiers)
	if err != nil {
		return nil, err
	}

	floors := make(map[rank.TierGroup]int64, len(raw.Floors))
	for g, v := range raw.Floors {
		if v < 0 {
			return nil, catalogError("floor must not be negative", fmt.Errorf("group %s: %d", g, v))
		}
		floors[rank.TierGroup(g)] = v
	}

	defs := make([]achievement.Definition, 0, len(raw.Achievements))
	for _, a := range raw.Achievements {
		req, err := achievement.ParseRequirement(achievement.RequirementSpec{
			Kind:      a.Requirement.Kind,
			Threshold: a.Requirement.Threshold,
			FromHour:  a.Requirement.FromHour,
			ToHour:    a.Requirement.ToHour,
		})
		if err != nil {
			return nil, fmt.Errorf("achievement %s: %w", a.Code, err)
		}
		defs = append(defs, achievement.Definition{
			Code:         strings.TrimSpace(a.Code),
			Name:         a.Name,
			Description:  a.Description,
			Emoji:        a.Emoji,
			Category:     achievement.Category(strings.ToLower(a.Category)),
			Rarity:       achievement.Rarity(strings.ToLower(a.Rarity)),
			PointsReward: a.PointsReward,
			Requirement:  req,
		})
	}
	catalog, err := achievement.NewCatalog(defs)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		Tiers:         table,
		Achievements:  catalog,
		Floors:        rank.NewFloorPolicy(floors, raw.FloorFallback),
		GraceImmunity: raw.GraceImmunity,
	}, nil
}

func catalogError(msg string, err error) error {
	return shared.ConfigurationError("config", "LoadCatalog", msg, err)
}
