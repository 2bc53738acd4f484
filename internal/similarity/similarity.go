// Package similarity quantifies how likely two ingredient variants refer
// to the same real-world ingredient.
package similarity

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"larder/internal/models"
)

// DefaultThreshold gates whether two ingredients are proposed as the same
// cluster during fuzzy grouping. Callers may tighten it (e.g. 0.95) to
// reduce false merges.
const DefaultThreshold = 0.85

// Weights for the composite ingredient score. Name similarity dominates;
// category agreement is a smaller boost.
const (
	nameWeight     = 0.8
	categoryWeight = 0.2
)

// String returns a 0.0–1.0 score between two strings using Levenshtein
// distance: 1.0 - distance/max(len(a), len(b)). Symmetric, and 1.0 for
// identical inputs.
func String(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if lb := len([]rune(b)); lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// Ingredient returns the weighted composite score for two ingredient
// variants: normalized-name similarity plus a boost when the categories
// agree.
func Ingredient(a, b models.GroupMember) float64 {
	score := nameWeight * String(a.Name, b.Name)
	if a.Category != "" && a.Category == b.Category {
		score += categoryWeight
	}
	return score
}

// Singularize strips common English plural suffixes. It is deliberately
// crude: it only needs to make "onions"/"onion" and "berries"/"berry"
// compare equal, not to be a stemmer.
func Singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "es") && len(word) > 2:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && len(word) > 1:
		return word[:len(word)-1]
	}
	return word
}

// PluralVariants reports whether two names differ only by pluralization
// ("onion"/"onions", "berry"/"berries", "tomato"/"tomatoes").
func PluralVariants(a, b string) bool {
	if a == b {
		return false
	}
	return Singularize(a) == Singularize(b) ||
		a+"s" == b || b+"s" == a ||
		a+"es" == b || b+"es" == a
}

// significantWords splits a name into lowercase words of 3+ characters,
// plural-stripped, for overlap scoring.
func significantWords(name string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(name)) {
		w = strings.Trim(w, ",.()-")
		if len(w) < 3 {
			continue
		}
		words[Singularize(w)] = true
	}
	return words
}

// WordOverlap returns the Jaccard ratio (intersection over union) of
// significant words in two names. Low overlap between clustered names
// signals genuinely different ingredients ("vinegar" vs "vinaigrette").
func WordOverlap(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	intersection := 0
	for w := range wa {
		if wb[w] {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	return float64(intersection) / float64(union)
}
