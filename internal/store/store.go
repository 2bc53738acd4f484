// Package store is the data-store collaborator for the consolidation
// pipeline: reads over the ingredient catalog and the transactional
// writes the merge executor needs. All mutation paths for one merge
// decision run inside a single transaction.
package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"larder/internal/models"
	"larder/internal/normalize"
)

// ErrAlreadyApplied reports a merge whose duplicate rows no longer exist,
// which is what a re-run of an applied decision looks like.
var ErrAlreadyApplied = errors.New("merge already applied: duplicate ingredients not found")

// Store wraps the database handle with catalog-specific operations
type Store struct {
	db      *gorm.DB
	keyer   normalize.Keyer
	extract *normalize.Extractor
	log     *zap.Logger
}

// New creates a Store over an open database handle. A nil extractor uses
// the default unit and preparation vocabularies.
func New(db *gorm.DB, keyer normalize.Keyer, extractor *normalize.Extractor, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, keyer: keyer, extract: extractor, log: log}
}

// AutoMigrate creates or updates the catalog tables
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Ingredient{},
		&models.Recipe{},
		&models.RecipeIngredient{},
	).Error
}

// DB exposes the underlying handle for callers that manage their own
// scope (tests, one-off scripts).
func (s *Store) DB() *gorm.DB {
	return s.db
}

type usageRow struct {
	IngredientID uint
	Count        int
}

// ListIngredientsWithUsage returns every canonical ingredient with its
// derived usage count (number of recipe-ingredient links), ordered by id.
func (s *Store) ListIngredientsWithUsage() ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	if err := s.db.Order("id").Find(&ingredients).Error; err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}

	var usage []usageRow
	err := s.db.Model(&models.RecipeIngredient{}).
		Select("ingredient_id, count(*) as count").
		Group("ingredient_id").
		Scan(&usage).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count ingredient usage: %w", err)
	}

	counts := make(map[uint]int, len(usage))
	for _, u := range usage {
		counts[u.IngredientID] = u.Count
	}
	for i := range ingredients {
		ingredients[i].UsageCount = counts[ingredients[i].ID]
	}
	return ingredients, nil
}

// IngredientsByIDs loads ingredient rows by id, including usage counts
func (s *Store) IngredientsByIDs(ids []uint) ([]models.Ingredient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ingredients []models.Ingredient
	if err := s.db.Where("id IN (?)", ids).Order("id").Find(&ingredients).Error; err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}
	return ingredients, nil
}

// RecipeIngredientsByIngredientIDs loads every link row pointing at any
// of the given ingredient ids.
func (s *Store) RecipeIngredientsByIngredientIDs(ids []uint) ([]models.RecipeIngredient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var links []models.RecipeIngredient
	if err := s.db.Where("ingredient_id IN (?)", ids).Order("id").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load recipe ingredients: %w", err)
	}
	return links, nil
}

// MergeResult reports what one applied decision changed
type MergeResult struct {
	RowsRepointed   int
	RowsDeleted     int
	AliasesAttached int
}

// CountMergeImpact reports what ApplyMerge would change, without writing.
// Used by dry runs.
func (s *Store) CountMergeImpact(d models.ConsolidationDecision) (MergeResult, error) {
	var result MergeResult
	var repoint int
	err := s.db.Model(&models.RecipeIngredient{}).
		Where("ingredient_id IN (?)", d.DuplicateIDs).
		Count(&repoint).Error
	if err != nil {
		return result, fmt.Errorf("failed to count links: %w", err)
	}

	var dupes int
	err = s.db.Model(&models.Ingredient{}).
		Where("id IN (?)", d.DuplicateIDs).
		Count(&dupes).Error
	if err != nil {
		return result, fmt.Errorf("failed to count duplicates: %w", err)
	}
	if dupes == 0 {
		return result, ErrAlreadyApplied
	}

	result.RowsRepointed = repoint
	result.RowsDeleted = dupes
	result.AliasesAttached = len(d.Aliases)
	return result, nil
}

// ApplyMerge applies one merge decision as a single all-or-nothing unit:
// repoint every link referencing a duplicate id to the canonical id,
// update the canonical row's name/category/aliases, then delete the
// duplicate rows. A decision whose duplicates are already gone fails
// cleanly with ErrAlreadyApplied and writes nothing.
func (s *Store) ApplyMerge(d models.ConsolidationDecision) (MergeResult, error) {
	var result MergeResult
	if len(d.DuplicateIDs) == 0 {
		return result, errors.New("merge decision has no duplicates")
	}
	for _, id := range d.DuplicateIDs {
		if id == d.CanonicalID {
			return result, fmt.Errorf("canonical id %d listed as its own duplicate", id)
		}
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var canonical models.Ingredient
	if err := tx.First(&canonical, d.CanonicalID).Error; err != nil {
		tx.Rollback()
		return result, fmt.Errorf("canonical ingredient %d not found: %w", d.CanonicalID, err)
	}

	var dupes []models.Ingredient
	if err := tx.Where("id IN (?)", d.DuplicateIDs).Find(&dupes).Error; err != nil {
		tx.Rollback()
		return result, fmt.Errorf("failed to load duplicates: %w", err)
	}
	if len(dupes) == 0 {
		tx.Rollback()
		return result, ErrAlreadyApplied
	}
	if len(dupes) != len(d.DuplicateIDs) {
		tx.Rollback()
		return result, fmt.Errorf("%w (found %d of %d)", ErrAlreadyApplied, len(dupes), len(d.DuplicateIDs))
	}

	repoint := tx.Model(&models.RecipeIngredient{}).
		Where("ingredient_id IN (?)", d.DuplicateIDs).
		Update("ingredient_id", d.CanonicalID)
	if repoint.Error != nil {
		tx.Rollback()
		return result, fmt.Errorf("failed to repoint links: %w", repoint.Error)
	}

	aliases := mergeAliases(canonical, d)
	updates := map[string]interface{}{
		"aliases": models.StringSlice(aliases),
	}
	if d.CanonicalName != "" {
		updates["display_name"] = d.CanonicalName
		updates["name"] = normalize.Fold(d.CanonicalName)
	}
	if d.CanonicalCategory != "" {
		updates["category"] = d.CanonicalCategory
	}
	if err := tx.Model(&canonical).Updates(updates).Error; err != nil {
		tx.Rollback()
		return result, fmt.Errorf("failed to update canonical ingredient: %w", err)
	}

	del := tx.Where("id IN (?)", d.DuplicateIDs).Delete(&models.Ingredient{})
	if del.Error != nil {
		tx.Rollback()
		return result, fmt.Errorf("failed to delete duplicates: %w", del.Error)
	}

	if err := tx.Commit().Error; err != nil {
		return result, fmt.Errorf("failed to commit merge: %w", err)
	}

	result.RowsRepointed = int(repoint.RowsAffected)
	result.RowsDeleted = int(del.RowsAffected)
	result.AliasesAttached = len(aliases) - len(canonical.Aliases)
	if result.AliasesAttached < 0 {
		result.AliasesAttached = 0
	}
	return result, nil
}

// mergeAliases unions existing canonical aliases with the decision's,
// dropping anything matching the canonical display name, in sorted order.
func mergeAliases(canonical models.Ingredient, d models.ConsolidationDecision) []string {
	displayName := canonical.DisplayName
	if d.CanonicalName != "" {
		displayName = d.CanonicalName
	}

	seen := make(map[string]bool)
	var aliases []string
	add := func(a string) {
		if a == "" || a == displayName || seen[a] {
			return
		}
		seen[a] = true
		aliases = append(aliases, a)
	}
	for _, a := range canonical.Aliases {
		add(a)
	}
	for _, a := range d.Aliases {
		add(a)
	}
	sort.Strings(aliases)
	return aliases
}

// RestoreSnapshot puts every backed-up row back exactly as captured:
// deleted duplicates are undeleted, canonical rows get their previous
// name/category/aliases, and repointed links get their previous
// ingredient references. Runs as one transaction.
func (s *Store) RestoreSnapshot(snap *models.BackupSnapshot) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	for _, ing := range snap.Ingredients {
		aliasValue, err := ing.Aliases.Value()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to serialize aliases for ingredient %d: %w", ing.ID, err)
		}
		updates := map[string]interface{}{
			"name":         ing.Name,
			"display_name": ing.DisplayName,
			"category":     ing.Category,
			"subcategory":  ing.Subcategory,
			"aliases":      aliasValue,
			"deleted_at":   nil,
		}

		var count int
		if err := tx.Unscoped().Model(&models.Ingredient{}).Where("id = ?", ing.ID).Count(&count).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to check ingredient %d: %w", ing.ID, err)
		}
		if count > 0 {
			if err := tx.Unscoped().Model(&models.Ingredient{}).Where("id = ?", ing.ID).Updates(updates).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to restore ingredient %d: %w", ing.ID, err)
			}
			continue
		}
		restored := ing
		restored.UsageCount = 0
		if err := tx.Create(&restored).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to recreate ingredient %d: %w", ing.ID, err)
		}
	}

	for _, link := range snap.RecipeIngredients {
		err := tx.Model(&models.RecipeIngredient{}).
			Where("id = ?", link.ID).
			Update("ingredient_id", link.IngredientID).Error
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to restore recipe ingredient %d: %w", link.ID, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	s.log.Info("snapshot restored",
		zap.String("tag", snap.Tag),
		zap.Int("ingredients", len(snap.Ingredients)),
		zap.Int("recipe_ingredients", len(snap.RecipeIngredients)),
	)
	return nil
}
