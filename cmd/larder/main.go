// Command larder is the ingredient-consolidation pipeline: analyze the
// catalog for duplicate groups, decide what to do with each group,
// execute accepted merges (dry-run by default), and roll back from a
// backup snapshot when needed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"larder/internal/adjudicator"
	"larder/internal/artifact"
	"larder/internal/config"
	"larder/internal/database"
	"larder/internal/decision"
	"larder/internal/executor"
	"larder/internal/grouper"
	"larder/internal/logging"
	"larder/internal/models"
	"larder/internal/monitoring"
	"larder/internal/normalize"
	"larder/internal/store"
)

const usage = `Usage: larder <command> [flags]

Commands:
  analyze    scan the catalog and write the duplicate-group artifact
  decide     classify duplicate groups and write the decision artifact
  execute    apply merge decisions (dry-run unless -commit)
  rollback   restore the catalog from a backup snapshot
  resolve    attach a raw ingredient string to the catalog
  verify     check alias and reference integrity (read-only)
  serve      serve pipeline metrics and artifacts over HTTP
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}
	defer app.close()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, artifact.ErrMissing) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			fmt.Fprintln(os.Stderr, guidanceFor(os.Args[1]))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// guidanceFor maps a missing input artifact to the step that produces it
func guidanceFor(command string) string {
	switch command {
	case "decide":
		return "run 'larder analyze' first to produce the duplicate-group artifact"
	case "execute":
		return "run 'larder decide' first to produce the decision artifact"
	case "rollback":
		return "no backup snapshot with that tag exists; check 'larder serve' or the backups directory"
	default:
		return "the required input artifact has not been produced yet"
	}
}

// app wires the pipeline components for one invocation
type app struct {
	cfg     *config.Config
	rules   *config.Rules
	log     *zap.Logger
	dir     *artifact.Dir
	store   *store.Store
	metrics *monitoring.Metrics
	keyer   normalize.Keyer

	closers []func() error
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	dir, err := artifact.NewDir(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	keyer := normalize.Keyer{StripPossessive: cfg.Similarity.StripPossessive}
	extractor := normalize.NewExtractor(rules.ExtraUnits, rules.ExtraPreparations)
	a := &app{
		cfg:     cfg,
		rules:   rules,
		log:     log,
		dir:     dir,
		store:   store.New(db, keyer, extractor, log),
		metrics: monitoring.NewMetrics(),
		keyer:   keyer,
	}
	a.closers = append(a.closers, db.Close)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "analyze":
		return a.analyze(args)
	case "decide":
		return a.decide(ctx, args)
	case "execute":
		return a.execute(ctx, args)
	case "rollback":
		return a.rollback(args)
	case "resolve":
		return a.resolve(args)
	case "verify":
		return a.verify(args)
	case "serve":
		return a.serve(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) analyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	threshold := fs.Float64("threshold", a.cfg.Similarity.Threshold, "similarity threshold for the variant pass")
	fs.Parse(args)

	ingredients, err := a.store.ListIngredientsWithUsage()
	if err != nil {
		return err
	}

	groups := grouper.New(a.keyer, *threshold, a.log).Groups(ingredients)
	if err := artifact.Save(a.dir.GroupsPath(), groups); err != nil {
		return err
	}

	exact, fuzzy := 0, 0
	for _, g := range groups {
		if g.Fuzzy {
			fuzzy++
		} else {
			exact++
		}
	}
	fmt.Printf("analyzed %d ingredients: %d duplicate groups (%d exact, %d fuzzy)\n",
		len(ingredients), len(groups), exact, fuzzy)
	fmt.Printf("groups written to %s\n", a.dir.GroupsPath())
	return nil
}

func (a *app) decide(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	useOracle := fs.Bool("use-oracle", a.cfg.Oracle.Provider != "none", "consult the semantic adjudicator for ambiguous pairs")
	fs.Parse(args)

	var groups []models.DuplicateGroup
	if err := artifact.Load(a.dir.GroupsPath(), &groups); err != nil {
		return err
	}

	oracle, err := a.buildOracle(*useOracle)
	if err != nil {
		return err
	}

	engine := decision.New(oracle, a.keyer, a.rules.CategorySpecificity, a.log)
	decisions, summary, err := engine.Decide(ctx, groups)
	if err != nil && len(decisions) == 0 {
		return err
	}
	if err != nil {
		a.log.Warn("decide interrupted; writing partial decisions", zap.Error(err))
	}

	a.metrics.RecordDecisions(summary)
	for _, d := range decisions {
		a.metrics.RecordDecision(d)
	}
	if err := artifact.Save(a.dir.DecisionsPath(), decisions); err != nil {
		return err
	}

	printDecisionSummary(summary)
	fmt.Printf("decisions written to %s\n", a.dir.DecisionsPath())
	return nil
}

func (a *app) execute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	commit := fs.Bool("commit", false, "apply merges for real instead of the default dry run")
	tag := fs.String("tag", "", "tag for the backup snapshot and report (default: generated)")
	minTier := fs.String("min-confidence", "high", "lowest confidence tier to apply: high, medium or low")
	fs.Parse(args)

	var decisions []models.ConsolidationDecision
	if err := artifact.Load(a.dir.DecisionsPath(), &decisions); err != nil {
		return err
	}
	decisions, skipped := filterByTier(decisions, *minTier)

	exec := executor.New(a.store, a.dir, a.metrics, a.log)
	report, err := exec.Execute(ctx, decisions, executor.Options{DryRun: !*commit, Tag: *tag})
	if err != nil {
		return err
	}

	printExecutionReport(report, skipped)
	fmt.Printf("report written to %s\n", a.dir.ReportPath(report.Tag))
	if report.BackupPath != "" {
		fmt.Printf("backup written to %s (rollback with: larder rollback -tag %s)\n", report.BackupPath, report.Tag)
	}
	return nil
}

func (a *app) rollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	tag := fs.String("tag", "", "tag of the backup snapshot to restore")
	fs.Parse(args)
	if *tag == "" {
		return errors.New("rollback requires -tag")
	}

	exec := executor.New(a.store, a.dir, a.metrics, a.log)
	snap, err := exec.Rollback(*tag)
	if err != nil {
		return err
	}
	fmt.Printf("restored snapshot %s: %d ingredients, %d recipe-ingredient links\n",
		snap.Tag, len(snap.Ingredients), len(snap.RecipeIngredients))
	return nil
}

func (a *app) resolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	name := fs.String("name", "", "raw ingredient string to resolve")
	fs.Parse(args)
	if *name == "" {
		return errors.New("resolve requires -name")
	}

	result, err := a.store.ResolveIngredient(*name, a.cfg.Similarity.Threshold)
	if err != nil {
		return err
	}
	verb := "matched"
	if result.Created {
		verb = "created"
	}
	fmt.Printf("%s ingredient %d %q (confidence %.2f)\n",
		verb, result.Ingredient.ID, result.Ingredient.DisplayName, result.Confidence)
	return nil
}

func (a *app) verify(args []string) error {
	flag.NewFlagSet("verify", flag.ExitOnError).Parse(args)

	report, err := a.store.VerifyIntegrity()
	if err != nil {
		return err
	}
	fmt.Printf("checked %d ingredients, %d links\n", report.Ingredients, report.Links)
	for _, c := range report.AliasCollisions {
		fmt.Printf("  alias collision: ingredient %d alias %q collides with ingredient %d (key %s)\n",
			c.IngredientID, c.Alias, c.CollidesWith, c.Key)
	}
	for _, d := range report.DanglingLinks {
		fmt.Printf("  dangling link: recipe_ingredient %d (recipe %d) references missing ingredient %d\n",
			d.RecipeIngredientID, d.RecipeID, d.IngredientID)
	}
	if !report.Clean() {
		return fmt.Errorf("integrity check found %d alias collisions, %d dangling links",
			len(report.AliasCollisions), len(report.DanglingLinks))
	}
	fmt.Println("catalog integrity ok")
	return nil
}

func (a *app) serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", a.cfg.Serve.Port, "port for the metrics/artifact endpoint")
	fs.Parse(args)

	return monitoring.NewServer(a.metrics, a.dir, a.log).Listen(*port)
}

// buildOracle assembles the adjudicator stack: provider, bounded retry,
// and the optional cross-run verdict cache.
func (a *app) buildOracle(useOracle bool) (adjudicator.SimilarityOracle, error) {
	if !useOracle {
		return adjudicator.Conservative{}, nil
	}

	var oracle adjudicator.SimilarityOracle
	switch a.cfg.Oracle.Provider {
	case "none":
		return adjudicator.Conservative{}, nil
	case "openai":
		model, err := openai.New(
			openai.WithModel(a.cfg.Oracle.Model),
			openai.WithToken(a.cfg.Oracle.APIKey),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI model: %w", err)
		}
		oracle = adjudicator.NewLLMOracle(model, a.log)
	case "http":
		oracle = adjudicator.NewHTTPOracle(a.cfg.Oracle.Endpoint, a.cfg.Oracle.APIKey, a.cfg.Oracle.Timeout, a.log)
	default:
		return nil, fmt.Errorf("unsupported oracle provider %q", a.cfg.Oracle.Provider)
	}

	oracle = adjudicator.WithRetry(oracle, a.cfg.Oracle.Retries, a.log)

	if a.cfg.Cache.Enabled {
		cached, err := adjudicator.NewCached(oracle, a.cfg.Cache.Addr, a.cfg.Cache.TTL, a.log)
		if err != nil {
			a.log.Warn("verdict cache unavailable, continuing without it", zap.Error(err))
		} else {
			a.closers = append(a.closers, cached.Close)
			oracle = cached
		}
	}
	return oracle, nil
}

// filterByTier keeps decisions at or above the given confidence tier.
// Non-merge decisions pass through untouched; the executor ignores them.
func filterByTier(decisions []models.ConsolidationDecision, minTier string) ([]models.ConsolidationDecision, int) {
	rank := map[models.ConfidenceTier]int{
		models.ConfidenceLow:    0,
		models.ConfidenceMedium: 1,
		models.ConfidenceHigh:   2,
	}
	floor, ok := rank[models.ConfidenceTier(minTier)]
	if !ok {
		floor = rank[models.ConfidenceHigh]
	}

	kept := make([]models.ConsolidationDecision, 0, len(decisions))
	skipped := 0
	for _, d := range decisions {
		if d.Action == models.ActionMerge && rank[d.Confidence] < floor {
			skipped++
			continue
		}
		kept = append(kept, d)
	}
	return kept, skipped
}

func printDecisionSummary(summary models.DecisionSummary) {
	fmt.Printf("decided %d groups: %d merge, %d keep separate, %d needs review\n",
		summary.TotalGroups, summary.Merge, summary.KeepSeparate, summary.NeedsReview)
	fmt.Printf("confidence: high=%d medium=%d low=%d\n",
		summary.ByConfidence[string(models.ConfidenceHigh)],
		summary.ByConfidence[string(models.ConfidenceMedium)],
		summary.ByConfidence[string(models.ConfidenceLow)])
	if summary.OracleCalls > 0 {
		fmt.Printf("adjudicator consulted for %d groups\n", summary.OracleCalls)
	}
	if len(summary.ZeroUsage) > 0 {
		fmt.Printf("%d groups have no recipe usage and are recommended for deletion:\n", len(summary.ZeroUsage))
		for _, key := range summary.ZeroUsage {
			fmt.Printf("  %s\n", key)
		}
	}
}

func printExecutionReport(report *models.ExecutionReport, skipped int) {
	mode := "dry run"
	if !report.DryRun {
		mode = "committed"
	}
	fmt.Printf("%s: %d/%d merges applied, %d links repointed, %d duplicates deleted, %d aliases attached\n",
		mode, report.Applied, report.DecisionsTotal, report.RowsRepointed, report.RowsDeleted, report.AliasesAttached)
	if skipped > 0 {
		fmt.Printf("%d merges below the confidence floor were skipped\n", skipped)
	}
	for _, f := range report.Failures {
		fmt.Printf("  failed %s: %s\n", f.GroupKey, f.Error)
	}
}
