package memory

import (
	"context"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository over a catalog
// loaded at startup.
type AchievementRepository struct {
	catalog *achievement.Catalog
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(catalog *achievement.Catalog) *AchievementRepository {
	return &AchievementRepository{catalog: catalog}
}

// List returns all definitions ordered by code.
func (r *AchievementRepository) List(_ context.Context) ([]achievement.Definition, error) {
	if r.catalog == nil {
		return nil, nil
	}
	return r.catalog.All(), nil
}

// GetByCode returns one definition.
func (r *AchievementRepository) GetByCode(_ context.Context, code string) (achievement.Definition, error) {
	if r.catalog != nil {
		if d, ok := r.catalog.Get(code); ok {
			return d, nil
		}
	}
	return achievement.Definition{}, shared.ErrAchievementNotFound
}
