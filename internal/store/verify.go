package store

import (
	"fmt"

	"larder/internal/models"
)

// AliasCollision reports an alias that normalizes to the same key as a
// different canonical ingredient, which would make resolution ambiguous.
type AliasCollision struct {
	IngredientID uint   `json:"ingredient_id"`
	Alias        string `json:"alias"`
	CollidesWith uint   `json:"collides_with"`
	Key          string `json:"key"`
}

// DanglingLink reports a recipe-ingredient row whose ingredient reference
// points at a deleted or missing ingredient.
type DanglingLink struct {
	RecipeIngredientID uint `json:"recipe_ingredient_id"`
	RecipeID           uint `json:"recipe_id"`
	IngredientID       uint `json:"ingredient_id"`
}

// IntegrityReport is the result of a read-only catalog check
type IntegrityReport struct {
	Ingredients     int              `json:"ingredients"`
	Links           int              `json:"links"`
	AliasCollisions []AliasCollision `json:"alias_collisions,omitempty"`
	DanglingLinks   []DanglingLink   `json:"dangling_links,omitempty"`
}

// Clean reports whether the catalog passed every check
func (r *IntegrityReport) Clean() bool {
	return len(r.AliasCollisions) == 0 && len(r.DanglingLinks) == 0
}

// VerifyIntegrity checks the two invariants consolidation must preserve:
// no alias collides with another canonical ingredient's key, and no
// recipe-ingredient references a deleted or missing ingredient. Read-only.
func (s *Store) VerifyIntegrity() (*IntegrityReport, error) {
	report := &IntegrityReport{}

	ingredients, err := s.ListIngredientsWithUsage()
	if err != nil {
		return nil, err
	}
	report.Ingredients = len(ingredients)

	byKey := make(map[string]uint, len(ingredients))
	for _, ing := range ingredients {
		byKey[s.keyer.Key(ing.Name)] = ing.ID
	}
	for _, ing := range ingredients {
		for _, alias := range ing.Aliases {
			key := s.keyer.Key(alias)
			if owner, ok := byKey[key]; ok && owner != ing.ID {
				report.AliasCollisions = append(report.AliasCollisions, AliasCollision{
					IngredientID: ing.ID,
					Alias:        alias,
					CollidesWith: owner,
					Key:          key,
				})
			}
		}
	}

	if err := s.db.Model(&models.RecipeIngredient{}).Count(&report.Links).Error; err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}

	var dangling []DanglingLink
	err = s.db.Table("recipe_ingredients").
		Select("recipe_ingredients.id as recipe_ingredient_id, recipe_ingredients.recipe_id, recipe_ingredients.ingredient_id").
		Joins("LEFT JOIN ingredients ON ingredients.id = recipe_ingredients.ingredient_id AND ingredients.deleted_at IS NULL").
		Where("recipe_ingredients.deleted_at IS NULL AND ingredients.id IS NULL").
		Scan(&dangling).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find dangling links: %w", err)
	}
	report.DanglingLinks = dangling

	return report, nil
}
