package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/jinzhu/gorm"
)

// StringSlice represents a slice of strings that can be stored in the database
type StringSlice []string

// Value converts the slice to a JSON string for storage
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan converts the database value back to a slice
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported type for StringSlice")
	}
}

// Contains reports whether the slice holds the given string
func (s StringSlice) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Ingredient categories, ordered roughly from most to least specific.
// The ordering is also encoded in the default specificity ranking used
// when resolving category conflicts during consolidation.
const (
	CategoryProduce    = "produce"
	CategoryMeat       = "meat"
	CategorySeafood    = "seafood"
	CategoryDairy      = "dairy"
	CategoryGrains     = "grains"
	CategorySpices     = "spices"
	CategoryHerbs      = "herbs"
	CategoryCondiments = "condiments"
	CategoryBaking     = "baking"
	CategoryBeverages  = "beverages"
	CategoryTools      = "tools"
	CategoryOther      = "other"
)

// Ingredient is the canonical record for one distinct foodstuff or tool.
// Name holds the normalized form (lowercase, ASCII-folded); DisplayName
// keeps the human casing. Aliases collect the display forms of records
// that were merged into this one.
type Ingredient struct {
	gorm.Model
	Name        string      `gorm:"unique_index" json:"name"`
	DisplayName string      `json:"display_name"`
	Category    string      `json:"category"`
	Subcategory string      `json:"subcategory,omitempty"`
	Aliases     StringSlice `gorm:"type:text" json:"aliases"`
	// UsageCount is derived from recipe_ingredients at read time,
	// never stored.
	UsageCount int `gorm:"-" json:"usage_count"`
}

// TableName sets the table name for Ingredient
func (Ingredient) TableName() string {
	return "ingredients"
}

// Recipe is the minimal owning side of recipe-ingredient links. The full
// recipe schema (instructions, images, chef attribution) lives in the web
// application; consolidation only needs the identity.
type Recipe struct {
	gorm.Model
	Title string `json:"title"`
}

// TableName sets the table name for Recipe
func (Recipe) TableName() string {
	return "recipes"
}

// RecipeIngredient links a recipe to an ingredient with per-recipe
// details. Amount, Unit and Preparation are recipe-scoped and are never
// merged or averaged across recipes. RawText keeps the original string
// seen at ingestion time for audit.
type RecipeIngredient struct {
	gorm.Model
	RecipeID        uint     `gorm:"index" json:"recipe_id"`
	IngredientID    uint     `gorm:"index" json:"ingredient_id"`
	Amount          *float64 `json:"amount,omitempty"`
	Unit            string   `json:"unit,omitempty"`
	Preparation     string   `json:"preparation,omitempty"`
	DisplayOrder    int      `json:"display_order"`
	RawText         string   `json:"raw_text,omitempty"`
	ParseConfidence float64  `json:"parse_confidence,omitempty"`
}

// TableName sets the table name for RecipeIngredient
func (RecipeIngredient) TableName() string {
	return "recipe_ingredients"
}
