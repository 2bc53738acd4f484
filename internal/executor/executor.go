// Package executor applies accepted merge decisions durably and
// reversibly: pre-flight backup of every affected row, one transaction
// per decision, and snapshot-based rollback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"larder/internal/artifact"
	"larder/internal/models"
	"larder/internal/monitoring"
	"larder/internal/store"
)

// ErrBackupFailed marks the fail-closed path: if the pre-merge snapshot
// cannot be written, no merge is attempted.
var ErrBackupFailed = errors.New("backup snapshot failed")

// ErrNoMergeDecisions reports an execute run with nothing to apply
var ErrNoMergeDecisions = errors.New("no merge decisions to apply")

// Executor applies batches of merge decisions
type Executor struct {
	store   *store.Store
	dir     *artifact.Dir
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// New creates an Executor. Metrics may be nil.
func New(st *store.Store, dir *artifact.Dir, metrics *monitoring.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{store: st, dir: dir, metrics: metrics, log: log}
}

// Options controls one execute run. DryRun validates and counts intended
// changes without committing any write.
type Options struct {
	DryRun bool
	Tag    string
}

// Execute applies every merge-action decision in the batch. Preconditions
// are checked up front: each decision carries duplicates disjoint from
// its canonical id, and no duplicate id appears in two decisions. The
// backup snapshot is written before the first merge; a backup failure
// aborts the whole run. Each decision then commits or fails on its own,
// and cancellation takes effect between decisions, never mid-decision.
func (e *Executor) Execute(ctx context.Context, decisions []models.ConsolidationDecision, opts Options) (*models.ExecutionReport, error) {
	merges := filterMerges(decisions)
	if len(merges) == 0 {
		return nil, ErrNoMergeDecisions
	}
	if err := validateDisjoint(merges); err != nil {
		return nil, err
	}

	tag := opts.Tag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
	}

	report := &models.ExecutionReport{
		Tag:            tag,
		DryRun:         opts.DryRun,
		StartedAt:      time.Now().UTC(),
		DecisionsTotal: len(merges),
	}

	if !opts.DryRun {
		backupPath, err := e.writeBackup(tag, merges)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
		report.BackupPath = backupPath
		e.log.Info("backup snapshot written", zap.String("path", backupPath))
	}

	for _, d := range merges {
		if err := ctx.Err(); err != nil {
			e.log.Warn("execution cancelled",
				zap.String("tag", tag),
				zap.Int("applied", report.Applied),
				zap.Int("remaining", len(merges)-report.Applied-report.Failed),
			)
			break
		}
		e.applyOne(d, opts.DryRun, report)
	}

	report.FinishedAt = time.Now().UTC()
	if e.metrics != nil && !opts.DryRun {
		e.metrics.RecordExecution(report)
	}
	if err := artifact.Save(e.dir.ReportPath(tag), report); err != nil {
		e.log.Error("failed to write execution report", zap.Error(err))
	}
	return report, nil
}

// applyOne runs one decision; failures are recorded and the batch moves on
func (e *Executor) applyOne(d models.ConsolidationDecision, dryRun bool, report *models.ExecutionReport) {
	var result store.MergeResult
	var err error
	if dryRun {
		result, err = e.store.CountMergeImpact(d)
	} else {
		result, err = e.store.ApplyMerge(d)
	}
	if err != nil {
		report.Failed++
		report.Failures = append(report.Failures, models.DecisionFailure{
			GroupKey: d.GroupKey,
			Error:    err.Error(),
		})
		e.log.Error("merge failed",
			zap.String("group", d.GroupKey),
			zap.Error(err),
		)
		return
	}

	report.Applied++
	report.RowsRepointed += result.RowsRepointed
	report.RowsDeleted += result.RowsDeleted
	report.AliasesAttached += result.AliasesAttached
	if dryRun {
		e.log.Info("dry run: would merge",
			zap.String("group", d.GroupKey),
			zap.Uint("canonical", d.CanonicalID),
			zap.Int("links_to_repoint", result.RowsRepointed),
			zap.Int("rows_to_delete", result.RowsDeleted),
		)
	} else {
		e.log.Info("merged",
			zap.String("group", d.GroupKey),
			zap.Uint("canonical", d.CanonicalID),
			zap.Int("links_repointed", result.RowsRepointed),
			zap.Int("rows_deleted", result.RowsDeleted),
		)
	}
}

// writeBackup snapshots the union of rows the batch will touch
func (e *Executor) writeBackup(tag string, merges []models.ConsolidationDecision) (string, error) {
	idSet := make(map[uint]bool)
	dupSet := make(map[uint]bool)
	for _, d := range merges {
		idSet[d.CanonicalID] = true
		for _, id := range d.DuplicateIDs {
			idSet[id] = true
			dupSet[id] = true
		}
	}
	ids := make([]uint, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	dupIDs := make([]uint, 0, len(dupSet))
	for id := range dupSet {
		dupIDs = append(dupIDs, id)
	}

	ingredients, err := e.store.IngredientsByIDs(ids)
	if err != nil {
		return "", err
	}
	// Only links pointing at duplicates change; canonical-pointing links
	// are untouched and need no backup.
	links, err := e.store.RecipeIngredientsByIngredientIDs(dupIDs)
	if err != nil {
		return "", err
	}

	snap := models.BackupSnapshot{
		Tag:               tag,
		CreatedAt:         time.Now().UTC(),
		Decisions:         merges,
		Ingredients:       ingredients,
		RecipeIngredients: links,
	}
	path := e.dir.BackupPath(tag)
	if err := artifact.Save(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

// Rollback restores the catalog to the state captured in the named
// backup snapshot.
func (e *Executor) Rollback(tag string) (*models.BackupSnapshot, error) {
	var snap models.BackupSnapshot
	if err := artifact.Load(e.dir.BackupPath(tag), &snap); err != nil {
		return nil, err
	}
	if err := e.store.RestoreSnapshot(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func filterMerges(decisions []models.ConsolidationDecision) []models.ConsolidationDecision {
	merges := make([]models.ConsolidationDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Action == models.ActionMerge {
			merges = append(merges, d)
		}
	}
	return merges
}

// validateDisjoint enforces the batch preconditions: non-empty duplicate
// lists, no decision merging its canonical into itself, and no id claimed
// as a duplicate twice or used both as canonical and duplicate.
func validateDisjoint(merges []models.ConsolidationDecision) error {
	duplicates := make(map[uint]string)
	canonicals := make(map[uint]string)
	for _, d := range merges {
		if len(d.DuplicateIDs) == 0 {
			return fmt.Errorf("decision %s has no duplicates to merge", d.GroupKey)
		}
		if d.CanonicalID == 0 {
			return fmt.Errorf("decision %s has no canonical id", d.GroupKey)
		}
		canonicals[d.CanonicalID] = d.GroupKey
		for _, id := range d.DuplicateIDs {
			if id == d.CanonicalID {
				return fmt.Errorf("decision %s lists canonical %d as its own duplicate", d.GroupKey, id)
			}
			if prev, ok := duplicates[id]; ok {
				return fmt.Errorf("ingredient %d claimed as duplicate by both %s and %s", id, prev, d.GroupKey)
			}
			duplicates[id] = d.GroupKey
		}
	}
	for id, group := range canonicals {
		if prev, ok := duplicates[id]; ok {
			return fmt.Errorf("ingredient %d is canonical in %s but duplicate in %s", id, group, prev)
		}
	}
	return nil
}
