package decision

import (
	"context"
	"strings"
	"testing"

	"larder/internal/models"
	"larder/internal/normalize"
)

// fakeOracle returns a canned verdict, or panics, or errors.
type fakeOracle struct {
	verdict models.OracleVerdict
	err     error
	panics  bool
	calls   int
}

func (f *fakeOracle) Compare(ctx context.Context, a, b string) (models.OracleVerdict, error) {
	f.calls++
	if f.panics {
		panic("oracle exploded")
	}
	return f.verdict, f.err
}

func member(id uint, name, category string, usage int) models.GroupMember {
	return models.GroupMember{
		ID:          id,
		Name:        name,
		DisplayName: name,
		Category:    category,
		UsageCount:  usage,
	}
}

func group(key string, members ...models.GroupMember) models.DuplicateGroup {
	return models.DuplicateGroup{Key: key, Members: members}
}

func decideOne(t *testing.T, e *Engine, g models.DuplicateGroup) models.ConsolidationDecision {
	t.Helper()
	decisions, _, err := e.Decide(context.Background(), []models.DuplicateGroup{g})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	return decisions[0]
}

func TestZeroUsageNeedsReview(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("driedlavender",
		member(1, "dried lavender", models.CategoryHerbs, 0),
		member(2, "Dried Lavender", models.CategoryHerbs, 0),
	))

	if d.Action != models.ActionNeedsReview {
		t.Errorf("action = %s, want needs_review", d.Action)
	}
	if d.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %s, want medium", d.Confidence)
	}
	if !strings.Contains(d.Reason, "0 usage") {
		t.Errorf("reason %q does not mention 0 usage", d.Reason)
	}
	if d.Rule != models.RuleZeroUsage {
		t.Errorf("rule = %s, want %s", d.Rule, models.RuleZeroUsage)
	}
}

func TestEveryDecisionCarriesRule(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	decisions, _, err := e.Decide(context.Background(), []models.DuplicateGroup{
		group("driedlavender",
			member(1, "dried lavender", models.CategoryHerbs, 0),
			member(2, "Dried Lavender", models.CategoryHerbs, 0),
		),
		group("vinegar",
			member(3, "vinegar", models.CategoryCondiments, 20),
			member(4, "vinaigrette", models.CategoryCondiments, 5),
		),
		group("onion",
			member(5, "onion", models.CategoryProduce, 12),
			member(6, "onions", models.CategoryProduce, 3),
		),
		group("basil",
			member(7, "basil", models.CategoryHerbs, 10),
			member(8, "basil", models.CategoryProduce, 2),
		),
		group("chilipowder",
			member(9, "chili powder", models.CategorySpices, 6),
			member(10, "chile powder", models.CategorySpices, 2),
		),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	want := []models.DecisionRule{
		models.RuleZeroUsage,
		models.RuleLowOverlap,
		models.RulePluralVariants,
		models.RuleCategoryConflict,
		models.RuleAdjudicator,
	}
	for i, d := range decisions {
		if d.Rule != want[i] {
			t.Errorf("decision %d rule = %s, want %s", i, d.Rule, want[i])
		}
	}
}

func TestLowWordOverlapKeepsSeparate(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("vinegar",
		member(1, "vinegar", models.CategoryCondiments, 20),
		member(2, "vinaigrette", models.CategoryCondiments, 5),
	))

	if d.Action != models.ActionKeepSeparate {
		t.Errorf("action = %s, want keep_separate", d.Action)
	}
	if d.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %s, want medium", d.Confidence)
	}
}

func TestPluralVariantsMerge(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("onion",
		member(1, "onion", models.CategoryProduce, 12),
		member(2, "onions", models.CategoryProduce, 3),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", d.Confidence)
	}
	// Dominant-usage member wins regardless of plural preference.
	if d.CanonicalID != 1 || d.CanonicalName != "onion" {
		t.Errorf("canonical = %d %q, want 1 onion", d.CanonicalID, d.CanonicalName)
	}
	if len(d.DuplicateIDs) != 1 || d.DuplicateIDs[0] != 2 {
		t.Errorf("duplicates = %v, want [2]", d.DuplicateIDs)
	}
	if len(d.Aliases) != 1 || d.Aliases[0] != "onions" {
		t.Errorf("aliases = %v, want [onions]", d.Aliases)
	}
}

func TestPluralPreferredOnNearTie(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("carrot",
		member(1, "carrot", models.CategoryProduce, 5),
		member(2, "carrots", models.CategoryProduce, 5),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.CanonicalName != "carrots" {
		t.Errorf("canonical = %q, want the plural form carrots", d.CanonicalName)
	}
}

func TestPunctuationVariantsMerge(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("extravirginoliveoil",
		member(1, "extra-virgin olive oil", models.CategoryCondiments, 2),
		member(2, "extra virgin olive oil", models.CategoryCondiments, 9),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", d.Confidence)
	}
	if d.CanonicalID != 2 {
		t.Errorf("canonical id = %d, want the higher-usage member 2", d.CanonicalID)
	}
	if d.Rule != models.RulePunctuation {
		t.Errorf("rule = %s, want %s", d.Rule, models.RulePunctuation)
	}
}

func TestSameNameDifferentCategoryMerge(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("basil",
		member(1, "basil", models.CategoryHerbs, 10),
		member(2, "basil", models.CategoryProduce, 2),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if !strings.Contains(d.Reason, "categories") {
		t.Errorf("reason %q should name the category conflict", d.Reason)
	}
	if d.CanonicalCategory != models.CategoryHerbs {
		t.Errorf("category = %q, want higher-usage herbs", d.CanonicalCategory)
	}
}

func TestCategoryTieBreaksBySpecificity(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("thyme",
		member(1, "thyme", models.CategoryHerbs, 4),
		member(2, "thyme", models.CategoryOther, 4),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.CanonicalCategory != models.CategoryHerbs {
		t.Errorf("category = %q, want herbs over the generic bucket", d.CanonicalCategory)
	}
}

func TestCategoryFullTieDeterministic(t *testing.T) {
	// Equal summed usage and equal specificity rank; alphabetical order
	// breaks the tie the same way on every run.
	e := New(nil, normalize.Keyer{}, nil, nil)
	for i := 0; i < 10; i++ {
		d := decideOne(t, e, group("bass",
			member(1, "bass", models.CategorySeafood, 3),
			member(2, "bass", models.CategoryMeat, 3),
		))
		if d.Action != models.ActionMerge {
			t.Fatalf("action = %s, want merge", d.Action)
		}
		if d.CanonicalCategory != models.CategoryMeat {
			t.Fatalf("run %d picked category %q, want meat", i, d.CanonicalCategory)
		}
	}
}

func TestAdjudicatorMerge(t *testing.T) {
	oracle := &fakeOracle{verdict: models.OracleVerdict{Similar: true, Reason: "same pepper", Confidence: 0.92}}
	e := New(oracle, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("chilipowder",
		member(1, "chili powder", models.CategorySpices, 6),
		member(2, "chile powder", models.CategorySpices, 2),
	))

	if oracle.calls != 1 {
		t.Fatalf("oracle called %d times, want 1", oracle.calls)
	}
	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want high at 0.92", d.Confidence)
	}
	if d.Oracle == nil || d.Oracle.Confidence != 0.92 {
		t.Error("verdict not attached to decision")
	}
}

func TestAdjudicatorKeepSeparate(t *testing.T) {
	oracle := &fakeOracle{verdict: models.OracleVerdict{Similar: false, Reason: "different cuisines", Confidence: 0.8}}
	e := New(oracle, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("chilipowder",
		member(1, "chili powder", models.CategorySpices, 6),
		member(2, "chile powder", models.CategorySpices, 2),
	))

	if d.Action != models.ActionKeepSeparate {
		t.Fatalf("action = %s, want keep_separate", d.Action)
	}
	if d.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %s, want medium at 0.8", d.Confidence)
	}
}

func TestAdjudicatorLowConfidenceNeedsReview(t *testing.T) {
	oracle := &fakeOracle{verdict: models.OracleVerdict{Similar: true, Reason: "unsure", Confidence: 0.4}}
	e := New(oracle, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("chilipowder",
		member(1, "chili powder", models.CategorySpices, 6),
		member(2, "chile powder", models.CategorySpices, 2),
	))

	if d.Action != models.ActionNeedsReview {
		t.Fatalf("action = %s, want needs_review", d.Action)
	}
	if d.Confidence != models.ConfidenceLow {
		t.Errorf("confidence = %s, want low", d.Confidence)
	}
}

func TestNilOracleDefersToReview(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("chilipowder",
		member(1, "chili powder", models.CategorySpices, 6),
		member(2, "chile powder", models.CategorySpices, 2),
	))

	if d.Action != models.ActionNeedsReview {
		t.Fatalf("action = %s, want needs_review with the conservative oracle", d.Action)
	}
}

func TestLargeUnresolvedGroupNeedsReview(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("pepper",
		member(1, "pepper", models.CategorySpices, 6),
		member(2, "peppercorn medley", models.CategorySpices, 2),
		member(3, "pepper blend", models.CategorySpices, 1),
		member(4, "cracked pepper mix", models.CategorySpices, 1),
	))

	if d.Action != models.ActionNeedsReview {
		t.Fatalf("action = %s, want needs_review", d.Action)
	}
	if d.Confidence != models.ConfidenceLow {
		t.Errorf("confidence = %s, want low", d.Confidence)
	}
}

func TestOraclePanicDowngradesGroup(t *testing.T) {
	oracle := &fakeOracle{panics: true}
	e := New(oracle, normalize.Keyer{}, nil, nil)

	decisions, summary, err := e.Decide(context.Background(), []models.DuplicateGroup{
		group("chilipowder",
			member(1, "chili powder", models.CategorySpices, 6),
			member(2, "chile powder", models.CategorySpices, 2),
		),
		group("onion",
			member(3, "onion", models.CategoryProduce, 12),
			member(4, "onions", models.CategoryProduce, 3),
		),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("got %d decisions, want 2; batch should survive a panic", len(decisions))
	}
	if decisions[0].Action != models.ActionNeedsReview {
		t.Errorf("panicking group action = %s, want needs_review", decisions[0].Action)
	}
	if decisions[1].Action != models.ActionMerge {
		t.Errorf("following group action = %s, want merge", decisions[1].Action)
	}
	if summary.NeedsReview != 1 || summary.Merge != 1 {
		t.Errorf("summary = %+v, want one needs_review and one merge", summary)
	}
}

func TestPossessiveMergeDowngraded(t *testing.T) {
	e := New(nil, normalize.Keyer{StripPossessive: true}, nil, nil)
	d := decideOne(t, e, group("bakeryeast",
		member(1, "baker's yeast", models.CategoryBaking, 4),
		member(2, "bakers yeast", models.CategoryBaking, 1),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %s, want medium for a possessive-sensitive merge", d.Confidence)
	}
	if !strings.Contains(d.Reason, "possessive") {
		t.Errorf("reason %q should flag the possessive dependency", d.Reason)
	}
}

func TestPossessiveMergeNotDowngradedWhenStrippingOff(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("bakersyeast",
		member(1, "baker's yeast", models.CategoryBaking, 4),
		member(2, "bakers yeast", models.CategoryBaking, 1),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	if d.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want high when possessive stripping is off", d.Confidence)
	}
}

func TestMergeDecisionDisjoint(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	d := decideOne(t, e, group("tomato",
		member(1, "tomato", models.CategoryProduce, 8),
		member(2, "tomatoes", models.CategoryProduce, 2),
		member(3, "tomatos", models.CategoryProduce, 1),
	))

	if d.Action != models.ActionMerge {
		t.Fatalf("action = %s, want merge", d.Action)
	}
	for _, id := range d.DuplicateIDs {
		if id == d.CanonicalID {
			t.Errorf("canonical id %d listed as its own duplicate", id)
		}
	}
	for _, alias := range d.Aliases {
		if alias == d.CanonicalName {
			t.Errorf("canonical name %q listed as an alias", alias)
		}
	}
}

func TestDecideSummary(t *testing.T) {
	e := New(nil, normalize.Keyer{}, nil, nil)
	_, summary, err := e.Decide(context.Background(), []models.DuplicateGroup{
		group("onion",
			member(1, "onion", models.CategoryProduce, 12),
			member(2, "onions", models.CategoryProduce, 3),
		),
		group("driedlavender",
			member(3, "dried lavender", models.CategoryHerbs, 0),
			member(4, "Dried Lavender", models.CategoryHerbs, 0),
		),
		group("vinegar",
			member(5, "vinegar", models.CategoryCondiments, 20),
			member(6, "vinaigrette", models.CategoryCondiments, 5),
		),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if summary.TotalGroups != 3 {
		t.Errorf("TotalGroups = %d, want 3", summary.TotalGroups)
	}
	if summary.Merge != 1 || summary.KeepSeparate != 1 || summary.NeedsReview != 1 {
		t.Errorf("tallies = %d/%d/%d, want 1/1/1", summary.Merge, summary.KeepSeparate, summary.NeedsReview)
	}
	if len(summary.ZeroUsage) != 1 || summary.ZeroUsage[0] != "driedlavender" {
		t.Errorf("ZeroUsage = %v, want [driedlavender]", summary.ZeroUsage)
	}
	if summary.OracleCalls != 0 {
		t.Errorf("OracleCalls = %d, want 0", summary.OracleCalls)
	}
}

func TestDecideStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(nil, normalize.Keyer{}, nil, nil)
	decisions, _, err := e.Decide(ctx, []models.DuplicateGroup{
		group("onion",
			member(1, "onion", models.CategoryProduce, 12),
			member(2, "onions", models.CategoryProduce, 3),
		),
	})
	if err == nil {
		t.Fatal("Decide did not report cancellation")
	}
	if len(decisions) != 0 {
		t.Errorf("got %d decisions after immediate cancel, want 0", len(decisions))
	}
}
