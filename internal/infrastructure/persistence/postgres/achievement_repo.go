package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository.
// Definitions are read once and served from memory until Reload.
type AchievementRepository struct {
	conn *Connection

	mu      sync.RWMutex
	catalog *achievement.Catalog
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// requirementJSON is the stored form of a requirement.
type requirementJSON struct {
	Kind      string `json:"kind"`
	Threshold int64  `json:"threshold,omitempty"`
	FromHour  int    `json:"from_hour,omitempty"`
	ToHour    int    `json:"to_hour,omitempty"`
}

// EncodeRequirement returns the JSONB payload for a requirement.
func EncodeRequirement(r achievement.Requirement) ([]byte, error) {
	spec := achievement.SpecOf(r)
	return json.Marshal(requirementJSON{
		Kind:      spec.Kind,
		Threshold: spec.Threshold,
		FromHour:  spec.FromHour,
		ToHour:    spec.ToHour,
	})
}

// DecodeRequirement parses a stored payload. Unknown kinds decode to
// achievement.Unrecognized.
func DecodeRequirement(raw []byte) (achievement.Requirement, error) {
	var r requirementJSON
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, shared.WrapError("achievement", "DecodeRequirement", shared.ErrConfiguration,
			"stored requirement is not valid JSON", err)
	}
	return achievement.ParseRequirement(achievement.RequirementSpec{
		Kind:      r.Kind,
		Threshold: r.Threshold,
		FromHour:  r.FromHour,
		ToHour:    r.ToHour,
	})
}

// Seed upserts every definition of the catalogue. Definitions missing from
// the catalogue are left in place.
func (r *AchievementRepository) Seed(ctx context.Context, catalog *achievement.Catalog) error {
	defs := catalog.All()
	if len(defs) == 0 {
		return nil
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range defs {
			req, err := EncodeRequirement(d.Requirement)
			if err != nil {
				return fmt.Errorf("encode requirement %s: %w", d.Code, err)
			}
			batch.Queue(`
				INSERT INTO achievement_definitions
					(code, name, description, emoji, category, rarity, requirement, points_reward, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
				ON CONFLICT (code) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					emoji = EXCLUDED.emoji,
					category = EXCLUDED.category,
					rarity = EXCLUDED.rarity,
					requirement = EXCLUDED.requirement,
					points_reward = EXCLUDED.points_reward,
					updated_at = NOW()`,
				d.Code, d.Name, d.Description, d.Emoji, string(d.Category), string(d.Rarity), req, d.PointsReward)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}

	r.mu.Lock()
	r.catalog = nil
	r.mu.Unlock()
	return nil
}

// Reload re-reads the definitions from the database.
func (r *AchievementRepository) Reload(ctx context.Context) (*achievement.Catalog, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT code, name, description, emoji, category, rarity, requirement, points_reward
		FROM achievement_definitions
		ORDER BY code`)
	if err != nil {
		return nil, shared.WrapError("achievement", "Reload", shared.ErrAchievementUnavailable,
			"select achievements", err)
	}

	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.Definition, error) {
		var (
			d                achievement.Definition
			category, rarity string
			rawRequirement   []byte
		)
		if err := row.Scan(&d.Code, &d.Name, &d.Description, &d.Emoji,
			&category, &rarity, &rawRequirement, &d.PointsReward); err != nil {
			return d, err
		}
		d.Category = achievement.Category(category)
		d.Rarity = achievement.Rarity(rarity)

		req, err := DecodeRequirement(rawRequirement)
		if err != nil {
			return d, err
		}
		d.Requirement = req
		return d, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrConfiguration) {
			return nil, err
		}
		return nil, shared.WrapError("achievement", "Reload", shared.ErrAchievementUnavailable,
			"scan achievements", err)
	}

	catalog, err := achievement.NewCatalog(defs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.catalog = catalog
	r.mu.Unlock()
	return catalog, nil
}

func (r *AchievementRepository) loaded(ctx context.Context) (*achievement.Catalog, error) {
	r.mu.RLock()
	c := r.catalog
	r.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	return r.Reload(ctx)
}

// List returns all definitions ordered by code.
func (r *AchievementRepository) List(ctx context.Context) ([]achievement.Definition, error) {
	c, err := r.loaded(ctx)
	if err != nil {
		return nil, err
	}
	return c.All(), nil
}

// GetByCode returns one definition.
func (r *AchievementRepository) GetByCode(ctx context.Context, code string) (achievement.Definition, error) {
	c, err := r.loaded(ctx)
	if err != nil {
		return achievement.Definition{}, err
	}
	if d, ok := c.Get(code); ok {
		return d, nil
	}
	return achievement.Definition{}, shared.ErrAchievementNotFound
}
