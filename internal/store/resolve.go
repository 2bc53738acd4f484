package store

import (
	"fmt"

	"go.uber.org/zap"

	"larder/internal/models"
	"larder/internal/normalize"
	"larder/internal/similarity"
)

// ResolveResult is returned by ResolveIngredient
type ResolveResult struct {
	Ingredient models.Ingredient
	Confidence float64
	Created    bool
}

// ResolveIngredient finds the best-matching canonical ingredient for a
// raw name string, the same attach-or-create step the recipe-ingestion
// pipeline performs. Exact key and exact alias matches win immediately;
// otherwise the best fuzzy score at or above the threshold wins; otherwise
// a new canonical ingredient is created.
func (s *Store) ResolveIngredient(rawName string, threshold float64) (ResolveResult, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = similarity.DefaultThreshold
	}
	clean := s.extract.Extract(rawName).CleanName
	name := normalize.Fold(clean)
	key := s.keyer.Key(clean)

	all, err := s.ListIngredientsWithUsage()
	if err != nil {
		return ResolveResult{}, err
	}

	var best models.Ingredient
	bestScore := -1.0
	for _, ing := range all {
		if s.keyer.Key(ing.Name) == key {
			return ResolveResult{Ingredient: ing, Confidence: 1.0}, nil
		}
		score := similarity.String(name, ing.Name)
		for _, alias := range ing.Aliases {
			if s.keyer.Key(alias) == key {
				return ResolveResult{Ingredient: ing, Confidence: 1.0}, nil
			}
			if as := similarity.String(name, normalize.Fold(alias)); as > score {
				score = as
			}
		}
		if score > bestScore {
			bestScore = score
			best = ing
		}
	}

	if bestScore >= threshold {
		return ResolveResult{Ingredient: best, Confidence: bestScore}, nil
	}

	created := models.Ingredient{
		Name:        name,
		DisplayName: clean,
		Category:    models.CategoryOther,
		Aliases:     models.StringSlice{},
	}
	if err := s.db.Create(&created).Error; err != nil {
		return ResolveResult{}, fmt.Errorf("failed to create ingredient %q: %w", name, err)
	}
	s.log.Info("created ingredient",
		zap.String("name", name),
		zap.Uint("id", created.ID),
	)
	return ResolveResult{Ingredient: created, Confidence: 1.0, Created: true}, nil
}
