// Package decision classifies duplicate groups as merge, keep-separate or
// needs-review. Rules run in a fixed order and the first match wins;
// ambiguous two-member groups may be deferred to the semantic adjudicator.
// The engine never mutates data, it only emits decision objects.
package decision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"larder/internal/adjudicator"
	"larder/internal/models"
	"larder/internal/normalize"
	"larder/internal/similarity"
)

// Thresholds for the rules and for bucketing adjudicator confidence
const (
	// minWordOverlap is the Jaccard ratio below which a two-member
	// group is kept separate.
	minWordOverlap = 0.3
	// actionableConfidence is the floor for acting on an adjudicator
	// verdict at all.
	actionableConfidence = 0.7
	// highConfidence buckets adjudicator-sourced decisions into the
	// high tier.
	highConfidence = 0.85
	// nearTieRatio defines the usage band, relative to the top member,
	// inside which a pluralized display form is preferred as canonical.
	nearTieRatio = 0.8
)

// defaultSpecificity ranks categories for conflict resolution. Food
// categories outrank the generic buckets; a rules file may override.
var defaultSpecificity = map[string]int{
	models.CategoryProduce:    90,
	models.CategoryMeat:       90,
	models.CategorySeafood:    90,
	models.CategoryHerbs:      85,
	models.CategorySpices:     85,
	models.CategoryDairy:      80,
	models.CategoryGrains:     80,
	models.CategoryBaking:     70,
	models.CategoryCondiments: 70,
	models.CategoryBeverages:  60,
	models.CategoryTools:      20,
	models.CategoryOther:      10,
}

// Engine applies the ordered rule checks to duplicate groups
type Engine struct {
	oracle      adjudicator.SimilarityOracle
	keyer       normalize.Keyer
	specificity map[string]int
	log         *zap.Logger

	oracleCalls int
}

// New creates an Engine. A nil oracle gets the conservative default, so
// deferred groups land in needs_review instead of failing.
func New(oracle adjudicator.SimilarityOracle, keyer normalize.Keyer, specificity map[string]int, log *zap.Logger) *Engine {
	if oracle == nil {
		oracle = adjudicator.Conservative{}
	}
	if specificity == nil {
		specificity = defaultSpecificity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{oracle: oracle, keyer: keyer, specificity: specificity, log: log}
}

// Decide classifies every group. A failure while scoring one group
// downgrades that group to needs_review and the batch continues; only
// context cancellation stops the run early, returning the decisions made
// so far.
func (e *Engine) Decide(ctx context.Context, groups []models.DuplicateGroup) ([]models.ConsolidationDecision, models.DecisionSummary, error) {
	decisions := make([]models.ConsolidationDecision, 0, len(groups))
	summary := models.DecisionSummary{
		TotalGroups:  len(groups),
		ByConfidence: make(map[string]int),
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return decisions, summary, err
		}

		d := e.decideGroup(ctx, group)
		decisions = append(decisions, d)

		switch d.Action {
		case models.ActionMerge:
			summary.Merge++
		case models.ActionKeepSeparate:
			summary.KeepSeparate++
		case models.ActionNeedsReview:
			summary.NeedsReview++
		}
		summary.ByConfidence[string(d.Confidence)]++
		if d.Rule == models.RuleZeroUsage {
			summary.ZeroUsage = append(summary.ZeroUsage, d.GroupKey)
		}
	}
	summary.OracleCalls = e.oracleCalls
	return decisions, summary, nil
}

// decideGroup runs the rule chain for one group, recovering from panics
// so a malformed group cannot abort the batch.
func (e *Engine) decideGroup(ctx context.Context, group models.DuplicateGroup) (d models.ConsolidationDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("group scoring panicked",
				zap.String("group", group.Key),
				zap.Any("panic", r),
			)
			d = models.ConsolidationDecision{
				GroupKey:   group.Key,
				Action:     models.ActionNeedsReview,
				Rule:       models.RuleRecovered,
				Confidence: models.ConfidenceLow,
				Reason:     fmt.Sprintf("scoring failed: %v", r),
			}
		}
	}()

	d = models.ConsolidationDecision{GroupKey: group.Key}
	members := group.Members

	// Rule 1: no recipe depends on any member; flag for manual deletion
	// rather than auto-merging records nothing references.
	if totalUsage(members) == 0 {
		d.Action = models.ActionNeedsReview
		d.Rule = models.RuleZeroUsage
		d.Confidence = models.ConfidenceMedium
		d.Reason = "all variants have 0 usage; recommend deletion"
		return d
	}

	// Rule 2: low lexical overlap on a pair signals genuinely different
	// ingredients despite clustering.
	if len(members) == 2 {
		overlap := similarity.WordOverlap(members[0].DisplayName, members[1].DisplayName)
		if overlap < minWordOverlap {
			d.Action = models.ActionKeepSeparate
			d.Rule = models.RuleLowOverlap
			d.Confidence = models.ConfidenceMedium
			d.Reason = fmt.Sprintf("word overlap %.2f below %.2f; likely distinct ingredients", overlap, minWordOverlap)
			return d
		}
	}

	// Rule 3: plural/singular variants
	if allPluralVariants(members) {
		d.Rule = models.RulePluralVariants
		e.fillMerge(&d, members, "plural/singular variants", true)
		return d
	}

	// Rule 4: punctuation/spelling variants collapsing to one string.
	// Identically-named members fall through to the category rule below.
	if len(members) <= 3 && !sameName(members) && singleStripped(members) {
		d.Rule = models.RulePunctuation
		e.fillMerge(&d, members, "punctuation/spacing variants", false)
		return d
	}

	// Rule 5: identical name, different category
	if sameName(members) && !sameCategory(members) {
		d.Rule = models.RuleCategoryConflict
		e.fillMerge(&d, members, "same name in multiple categories", false)
		return d
	}

	// Rule 6: defer pairs to the adjudicator; larger unresolved groups go
	// to manual review.
	if len(members) == 2 {
		return e.adjudicate(ctx, group)
	}

	d.Action = models.ActionNeedsReview
	d.Rule = models.RuleUnresolved
	d.Confidence = models.ConfidenceLow
	d.Reason = "complex variant patterns; manual review recommended"
	return d
}

// adjudicate consults the semantic oracle for a two-member group
func (e *Engine) adjudicate(ctx context.Context, group models.DuplicateGroup) models.ConsolidationDecision {
	a, b := group.Members[0], group.Members[1]
	d := models.ConsolidationDecision{GroupKey: group.Key, Rule: models.RuleAdjudicator}

	e.oracleCalls++
	verdict, err := e.oracle.Compare(ctx, a.DisplayName, b.DisplayName)
	if err != nil {
		e.log.Warn("adjudication failed",
			zap.String("group", group.Key),
			zap.Error(err),
		)
		d.Action = models.ActionNeedsReview
		d.Confidence = models.ConfidenceLow
		d.Reason = "adjudication failed; manual review recommended"
		return d
	}
	d.Oracle = &verdict

	if verdict.Confidence < actionableConfidence {
		d.Action = models.ActionNeedsReview
		d.Confidence = models.ConfidenceLow
		d.Reason = fmt.Sprintf("adjudicator confidence %.2f below %.2f", verdict.Confidence, actionableConfidence)
		return d
	}

	tier := models.ConfidenceMedium
	if verdict.Confidence >= highConfidence {
		tier = models.ConfidenceHigh
	}
	if verdict.Similar {
		e.fillMerge(&d, group.Members, "adjudicator: "+verdict.Reason, false)
		d.Confidence = tier
		e.applyPossessiveDowngrade(&d, group.Members)
		return d
	}
	d.Action = models.ActionKeepSeparate
	d.Confidence = tier
	d.Reason = "adjudicator: " + verdict.Reason
	return d
}

// fillMerge populates a merge decision: canonical member, category,
// duplicate ids and aliases. preferPlural carries the rule-3 tie-break.
func (e *Engine) fillMerge(d *models.ConsolidationDecision, members []models.GroupMember, reason string, preferPlural bool) {
	canonical := e.selectCanonical(members, preferPlural)

	d.Action = models.ActionMerge
	d.Confidence = models.ConfidenceHigh
	d.Reason = reason
	d.CanonicalID = canonical.ID
	d.CanonicalName = canonical.DisplayName
	d.CanonicalCategory = e.selectCategory(members)

	for _, m := range members {
		if m.ID == canonical.ID {
			continue
		}
		d.DuplicateIDs = append(d.DuplicateIDs, m.ID)
		if m.DisplayName != canonical.DisplayName {
			d.Aliases = append(d.Aliases, m.DisplayName)
		}
	}

	e.applyPossessiveDowngrade(d, members)
}

// applyPossessiveDowngrade caps a merge at medium confidence when any
// member's key depends on the possessive-stripping choice, pending manual
// confirmation (a product name ending in "'s" must not silently merge with
// its non-possessive counterpart).
func (e *Engine) applyPossessiveDowngrade(d *models.ConsolidationDecision, members []models.GroupMember) {
	if !e.keyer.StripPossessive || d.Action != models.ActionMerge || d.Confidence != models.ConfidenceHigh {
		return
	}
	for _, m := range members {
		if normalize.PossessiveSensitive(m.Name) || normalize.PossessiveSensitive(m.DisplayName) {
			d.Confidence = models.ConfidenceMedium
			d.Reason += "; merge depends on possessive stripping"
			e.log.Info("possessive-sensitive merge flagged",
				zap.String("group", d.GroupKey),
				zap.String("member", m.DisplayName),
			)
			return
		}
	}
}

// selectCanonical picks the surviving record: the top member by usage if
// it carries more than half the cluster's total usage, otherwise a
// pluralized display form among near-ties, otherwise the top member.
func (e *Engine) selectCanonical(members []models.GroupMember, preferPlural bool) models.GroupMember {
	sorted := make([]models.GroupMember, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UsageCount != sorted[j].UsageCount {
			return sorted[i].UsageCount > sorted[j].UsageCount
		}
		return sorted[i].ID < sorted[j].ID
	})

	top := sorted[0]
	total := totalUsage(members)
	if total > 0 && float64(top.UsageCount) > 0.5*float64(total) {
		return top
	}

	if preferPlural {
		floor := int(nearTieRatio * float64(top.UsageCount))
		for _, m := range sorted {
			if m.UsageCount < floor {
				break
			}
			if isPluralForm(m.Name) {
				return m
			}
		}
	}
	return top
}

// selectCategory picks the canonical category: unanimous if shared,
// otherwise highest summed usage, tie-broken by the specificity ranking,
// then alphabetically so repeated runs emit identical decisions.
func (e *Engine) selectCategory(members []models.GroupMember) string {
	if sameCategory(members) {
		return members[0].Category
	}

	usage := make(map[string]int)
	for _, m := range members {
		usage[m.Category] += m.UsageCount
	}
	cats := make([]string, 0, len(usage))
	for cat := range usage {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	best := cats[0]
	for _, cat := range cats[1:] {
		switch {
		case usage[cat] > usage[best]:
			best = cat
		case usage[cat] == usage[best] && e.specificity[cat] > e.specificity[best]:
			best = cat
		}
	}
	return best
}

func totalUsage(members []models.GroupMember) int {
	total := 0
	for _, m := range members {
		total += m.UsageCount
	}
	return total
}

func sameName(members []models.GroupMember) bool {
	for _, m := range members[1:] {
		if m.Name != members[0].Name {
			return false
		}
	}
	return true
}

func sameCategory(members []models.GroupMember) bool {
	for _, m := range members[1:] {
		if m.Category != members[0].Category {
			return false
		}
	}
	return true
}

// allPluralVariants reports whether every pair of members is related by
// trailing-s/es/y-to-ies pluralization.
func allPluralVariants(members []models.GroupMember) bool {
	if len(members) < 2 {
		return false
	}
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if !similarity.PluralVariants(members[i].Name, members[j].Name) {
				return false
			}
		}
	}
	return true
}

// isPluralForm reports whether the final word of a name looks pluralized
func isPluralForm(name string) bool {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	return similarity.Singularize(last) != last
}

// singleStripped reports whether stripping all non-alphanumeric
// characters and collapsing whitespace leaves one unique string across
// the group.
func singleStripped(members []models.GroupMember) bool {
	first := stripPunct(members[0].Name)
	if first == "" {
		return false
	}
	for _, m := range members[1:] {
		if stripPunct(m.Name) != first {
			return false
		}
	}
	return true
}

func stripPunct(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
