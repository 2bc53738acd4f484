package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/models"
	"larder/internal/normalize"
)

// testStore opens a throwaway sqlite database with the catalog schema.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "larder_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, normalize.Keyer{}, nil, nil)
	require.NoError(t, s.AutoMigrate())
	return s
}

func seedIngredient(t *testing.T, s *Store, name, category string, aliases ...string) models.Ingredient {
	t.Helper()
	ing := models.Ingredient{
		Name:        normalize.Fold(name),
		DisplayName: name,
		Category:    category,
		Aliases:     models.StringSlice(aliases),
	}
	require.NoError(t, s.db.Create(&ing).Error)
	return ing
}

func seedLink(t *testing.T, s *Store, recipeID, ingredientID uint) models.RecipeIngredient {
	t.Helper()
	link := models.RecipeIngredient{RecipeID: recipeID, IngredientID: ingredientID}
	require.NoError(t, s.db.Create(&link).Error)
	return link
}

func TestListIngredientsWithUsage(t *testing.T) {
	s := testStore(t)
	onion := seedIngredient(t, s, "onion", models.CategoryProduce)
	basil := seedIngredient(t, s, "basil", models.CategoryHerbs)
	seedLink(t, s, 1, onion.ID)
	seedLink(t, s, 2, onion.ID)

	ingredients, err := s.ListIngredientsWithUsage()
	require.NoError(t, err)
	require.Len(t, ingredients, 2)

	assert.Equal(t, onion.ID, ingredients[0].ID)
	assert.Equal(t, 2, ingredients[0].UsageCount)
	assert.Equal(t, basil.ID, ingredients[1].ID)
	assert.Equal(t, 0, ingredients[1].UsageCount)
}

func TestApplyMergeRepointsAndDeletes(t *testing.T) {
	s := testStore(t)
	canonical := seedIngredient(t, s, "onion", models.CategoryProduce)
	dup := seedIngredient(t, s, "onions", models.CategoryProduce)
	keep := seedLink(t, s, 1, canonical.ID)
	moved := seedLink(t, s, 2, dup.ID)

	result, err := s.ApplyMerge(models.ConsolidationDecision{
		GroupKey:          "onion",
		Action:            models.ActionMerge,
		CanonicalID:       canonical.ID,
		CanonicalName:     "onion",
		CanonicalCategory: models.CategoryProduce,
		DuplicateIDs:      []uint{dup.ID},
		Aliases:           []string{"onions"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsRepointed)
	assert.Equal(t, 1, result.RowsDeleted)
	assert.Equal(t, 1, result.AliasesAttached)

	// Total link count is unchanged and nothing references the duplicate.
	var total int
	require.NoError(t, s.db.Model(&models.RecipeIngredient{}).Count(&total).Error)
	assert.Equal(t, 2, total)

	var dangling int
	require.NoError(t, s.db.Model(&models.RecipeIngredient{}).
		Where("ingredient_id = ?", dup.ID).Count(&dangling).Error)
	assert.Zero(t, dangling)

	var movedAfter models.RecipeIngredient
	require.NoError(t, s.db.First(&movedAfter, moved.ID).Error)
	assert.Equal(t, canonical.ID, movedAfter.IngredientID)

	var keptAfter models.RecipeIngredient
	require.NoError(t, s.db.First(&keptAfter, keep.ID).Error)
	assert.Equal(t, canonical.ID, keptAfter.IngredientID)

	// Duplicate is soft-deleted, canonical carries the alias.
	var gone models.Ingredient
	err = s.db.First(&gone, dup.ID).Error
	assert.True(t, gorm.IsRecordNotFoundError(err))

	var after models.Ingredient
	require.NoError(t, s.db.First(&after, canonical.ID).Error)
	assert.True(t, after.Aliases.Contains("onions"))
}

func TestApplyMergeIdempotent(t *testing.T) {
	s := testStore(t)
	canonical := seedIngredient(t, s, "onion", models.CategoryProduce)
	dup := seedIngredient(t, s, "onions", models.CategoryProduce)
	seedLink(t, s, 1, dup.ID)

	d := models.ConsolidationDecision{
		CanonicalID:   canonical.ID,
		CanonicalName: "onion",
		DuplicateIDs:  []uint{dup.ID},
		Aliases:       []string{"onions"},
	}
	_, err := s.ApplyMerge(d)
	require.NoError(t, err)

	_, err = s.ApplyMerge(d)
	assert.True(t, errors.Is(err, ErrAlreadyApplied))

	// Re-running changed nothing.
	var links int
	require.NoError(t, s.db.Model(&models.RecipeIngredient{}).
		Where("ingredient_id = ?", canonical.ID).Count(&links).Error)
	assert.Equal(t, 1, links)
}

func TestApplyMergeRejectsSelfReference(t *testing.T) {
	s := testStore(t)
	canonical := seedIngredient(t, s, "onion", models.CategoryProduce)

	_, err := s.ApplyMerge(models.ConsolidationDecision{
		CanonicalID:  canonical.ID,
		DuplicateIDs: []uint{canonical.ID},
	})
	assert.Error(t, err)

	_, err = s.ApplyMerge(models.ConsolidationDecision{CanonicalID: canonical.ID})
	assert.Error(t, err)
}

func TestCountMergeImpactDryRun(t *testing.T) {
	s := testStore(t)
	canonical := seedIngredient(t, s, "onion", models.CategoryProduce)
	dup := seedIngredient(t, s, "onions", models.CategoryProduce)
	seedLink(t, s, 1, dup.ID)
	seedLink(t, s, 2, dup.ID)

	result, err := s.CountMergeImpact(models.ConsolidationDecision{
		CanonicalID:  canonical.ID,
		DuplicateIDs: []uint{dup.ID},
		Aliases:      []string{"onions"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsRepointed)
	assert.Equal(t, 1, result.RowsDeleted)

	// Counting wrote nothing.
	var alive models.Ingredient
	require.NoError(t, s.db.First(&alive, dup.ID).Error)
	var links int
	require.NoError(t, s.db.Model(&models.RecipeIngredient{}).
		Where("ingredient_id = ?", dup.ID).Count(&links).Error)
	assert.Equal(t, 2, links)
}

func TestRestoreSnapshotUndoesMerge(t *testing.T) {
	s := testStore(t)
	canonical := seedIngredient(t, s, "onion", models.CategoryProduce)
	dup := seedIngredient(t, s, "onions", models.CategoryProduce)
	link := seedLink(t, s, 1, dup.ID)

	ingredients, err := s.IngredientsByIDs([]uint{canonical.ID, dup.ID})
	require.NoError(t, err)
	links, err := s.RecipeIngredientsByIngredientIDs([]uint{dup.ID})
	require.NoError(t, err)
	snap := &models.BackupSnapshot{
		Tag:               "test",
		Ingredients:       ingredients,
		RecipeIngredients: links,
	}

	_, err = s.ApplyMerge(models.ConsolidationDecision{
		CanonicalID:   canonical.ID,
		CanonicalName: "onion",
		DuplicateIDs:  []uint{dup.ID},
		Aliases:       []string{"onions"},
	})
	require.NoError(t, err)

	require.NoError(t, s.RestoreSnapshot(snap))

	// Duplicate is back, links point at it again, canonical lost the alias.
	var restored models.Ingredient
	require.NoError(t, s.db.First(&restored, dup.ID).Error)
	assert.Equal(t, "onions", restored.Name)

	var linkAfter models.RecipeIngredient
	require.NoError(t, s.db.First(&linkAfter, link.ID).Error)
	assert.Equal(t, dup.ID, linkAfter.IngredientID)

	var canonAfter models.Ingredient
	require.NoError(t, s.db.First(&canonAfter, canonical.ID).Error)
	assert.False(t, canonAfter.Aliases.Contains("onions"))
}

func TestResolveIngredientExactAndAlias(t *testing.T) {
	s := testStore(t)
	onion := seedIngredient(t, s, "onion", models.CategoryProduce, "onions", "yellow onion")

	got, err := s.ResolveIngredient("2 cups Onion, diced", 0)
	require.NoError(t, err)
	assert.Equal(t, onion.ID, got.Ingredient.ID)
	assert.Equal(t, 1.0, got.Confidence)
	assert.False(t, got.Created)

	got, err = s.ResolveIngredient("yellow onion", 0)
	require.NoError(t, err)
	assert.Equal(t, onion.ID, got.Ingredient.ID)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestResolveIngredientFuzzy(t *testing.T) {
	s := testStore(t)
	tomato := seedIngredient(t, s, "tomato", models.CategoryProduce)

	got, err := s.ResolveIngredient("tomatoe", 0.8)
	require.NoError(t, err)
	assert.Equal(t, tomato.ID, got.Ingredient.ID)
	assert.False(t, got.Created)
	assert.InDelta(t, 1.0-1.0/7.0, got.Confidence, 1e-9)
}

func TestResolveIngredientUsesConfiguredVocabulary(t *testing.T) {
	s := testStore(t)
	s.extract = normalize.NewExtractor([]string{"glug"}, nil)
	oliveOil := seedIngredient(t, s, "olive oil", models.CategoryCondiments)

	got, err := s.ResolveIngredient("2 glug olive oil", 0.85)
	require.NoError(t, err)
	assert.False(t, got.Created)
	assert.Equal(t, oliveOil.ID, got.Ingredient.ID)
	assert.Equal(t, 1.0, got.Confidence)

	// The same string without the configured unit resolves to a fresh
	// ingredient carrying the unrecognized word.
	bare := testStore(t)
	seedIngredient(t, bare, "olive oil", models.CategoryCondiments)
	got, err = bare.ResolveIngredient("2 glug olive oil", 0.85)
	require.NoError(t, err)
	assert.True(t, got.Created)
}

func TestResolveIngredientCreates(t *testing.T) {
	s := testStore(t)
	seedIngredient(t, s, "onion", models.CategoryProduce)

	got, err := s.ResolveIngredient("saffron threads", 0)
	require.NoError(t, err)
	assert.True(t, got.Created)
	assert.Equal(t, "saffron threads", got.Ingredient.Name)
	assert.Equal(t, models.CategoryOther, got.Ingredient.Category)

	// The new record is findable on a second resolve.
	again, err := s.ResolveIngredient("saffron threads", 0)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, got.Ingredient.ID, again.Ingredient.ID)
}

func TestVerifyIntegrity(t *testing.T) {
	s := testStore(t)
	onion := seedIngredient(t, s, "onion", models.CategoryProduce, "onions")
	seedLink(t, s, 1, onion.ID)

	report, err := s.VerifyIntegrity()
	require.NoError(t, err)
	assert.True(t, report.Clean())

	// A link pointing at a missing ingredient is dangling.
	seedLink(t, s, 2, 9999)
	report, err = s.VerifyIntegrity()
	require.NoError(t, err)
	assert.False(t, report.Clean())
	require.Len(t, report.DanglingLinks, 1)
	assert.Equal(t, uint(9999), report.DanglingLinks[0].IngredientID)
}

func TestVerifyIntegrityAliasCollision(t *testing.T) {
	s := testStore(t)
	seedIngredient(t, s, "onion", models.CategoryProduce)
	seedIngredient(t, s, "shallot", models.CategoryProduce, "onion")

	report, err := s.VerifyIntegrity()
	require.NoError(t, err)
	assert.False(t, report.Clean())
	require.Len(t, report.AliasCollisions, 1)
	assert.Equal(t, "onion", report.AliasCollisions[0].Alias)
}

func TestMergeAliases(t *testing.T) {
	canonical := models.Ingredient{
		DisplayName: "onion",
		Aliases:     models.StringSlice{"yellow onion"},
	}
	d := models.ConsolidationDecision{
		CanonicalName: "onion",
		Aliases:       []string{"onions", "onion", "yellow onion"},
	}
	got := mergeAliases(canonical, d)
	assert.Equal(t, []string{"onions", "yellow onion"}, got)
}
