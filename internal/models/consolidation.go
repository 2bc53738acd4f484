package models

import "time"

// DecisionAction classifies what should happen to a duplicate group
type DecisionAction string

const (
	ActionMerge        DecisionAction = "merge"
	ActionKeepSeparate DecisionAction = "keep_separate"
	ActionNeedsReview  DecisionAction = "needs_review"
)

// ConfidenceTier classifies how certain a decision is. High-confidence
// decisions are safe to auto-apply; medium and low route to manual review.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// DecisionRule names which rule in the engine's ordered chain produced a
// decision, so reports can aggregate structurally instead of parsing the
// human-readable reason.
type DecisionRule string

const (
	RuleZeroUsage        DecisionRule = "zero_usage"
	RuleLowOverlap       DecisionRule = "low_overlap"
	RulePluralVariants   DecisionRule = "plural_variants"
	RulePunctuation      DecisionRule = "punctuation_variants"
	RuleCategoryConflict DecisionRule = "category_conflict"
	RuleAdjudicator      DecisionRule = "adjudicator"
	RuleUnresolved       DecisionRule = "unresolved"
	RuleRecovered        DecisionRule = "recovered"
)

// GroupMember is one ingredient variant inside a duplicate group, carrying
// the fields the decision rules need.
type GroupMember struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	UsageCount  int    `json:"usage_count"`
}

// DuplicateGroup is a cluster of 2+ ingredient variants sharing a
// normalized key. Groups are recomputed on every analysis run and never
// mutated in place.
type DuplicateGroup struct {
	Key     string        `json:"key"`
	Members []GroupMember `json:"members"`
	// Fuzzy marks groups formed by the variant pass rather than exact
	// key collision.
	Fuzzy bool `json:"fuzzy,omitempty"`
}

// OracleVerdict is the semantic adjudicator's answer for one name pair
type OracleVerdict struct {
	Similar    bool    `json:"similar"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// ConsolidationDecision is the decision engine's verdict for one group.
// For merges, DuplicateIDs never contains CanonicalID.
type ConsolidationDecision struct {
	GroupKey          string         `json:"group_key"`
	Action            DecisionAction `json:"action"`
	Rule              DecisionRule   `json:"rule,omitempty"`
	CanonicalID       uint           `json:"canonical_id,omitempty"`
	CanonicalName     string         `json:"canonical_name,omitempty"`
	CanonicalCategory string         `json:"canonical_category,omitempty"`
	DuplicateIDs      []uint         `json:"duplicate_ids,omitempty"`
	Aliases           []string       `json:"aliases,omitempty"`
	Confidence        ConfidenceTier `json:"confidence"`
	Reason            string         `json:"reason"`
	Oracle            *OracleVerdict `json:"oracle,omitempty"`
}

// BackupSnapshot is a point-in-time copy of every row a batch of merge
// decisions will touch, written before the first merge so the whole batch
// can be restored.
type BackupSnapshot struct {
	Tag               string                  `json:"tag"`
	CreatedAt         time.Time               `json:"created_at"`
	Decisions         []ConsolidationDecision `json:"decisions"`
	Ingredients       []Ingredient            `json:"ingredients"`
	RecipeIngredients []RecipeIngredient      `json:"recipe_ingredients"`
}

// DecisionFailure records one merge that could not be applied
type DecisionFailure struct {
	GroupKey string `json:"group_key"`
	Error    string `json:"error"`
}

// ExecutionReport summarizes one execute run for the operator
type ExecutionReport struct {
	Tag             string            `json:"tag"`
	DryRun          bool              `json:"dry_run"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DecisionsTotal  int               `json:"decisions_total"`
	Applied         int               `json:"applied"`
	Failed          int               `json:"failed"`
	RowsRepointed   int               `json:"rows_repointed"`
	RowsDeleted     int               `json:"rows_deleted"`
	AliasesAttached int               `json:"aliases_attached"`
	Failures        []DecisionFailure `json:"failures,omitempty"`
	BackupPath      string            `json:"backup_path,omitempty"`
}

// DecisionSummary aggregates a decide run for the end-of-run summary
type DecisionSummary struct {
	TotalGroups  int            `json:"total_groups"`
	Merge        int            `json:"merge"`
	KeepSeparate int            `json:"keep_separate"`
	NeedsReview  int            `json:"needs_review"`
	ByConfidence map[string]int `json:"by_confidence"`
	OracleCalls  int            `json:"oracle_calls"`
	// ZeroUsage lists group keys flagged for deletion review because no
	// recipe references any member.
	ZeroUsage []string `json:"zero_usage,omitempty"`
}
