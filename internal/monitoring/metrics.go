// Package monitoring exposes pipeline counters and an operator-facing
// HTTP surface for reviewing artifacts during and after long runs.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"larder/internal/models"
)

// Metrics holds the consolidation pipeline's prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	GroupsScanned prometheus.Counter
	Decisions     *prometheus.CounterVec
	OracleCalls   prometheus.Counter
	MergesApplied prometheus.Counter
	MergesFailed  prometheus.Counter
	RowsRepointed prometheus.Counter
	RowsDeleted   prometheus.Counter
}

// NewMetrics builds and registers the pipeline collectors on a private
// registry, so repeated constructions (tests, subcommands) never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		GroupsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_groups_scanned_total",
			Help: "Duplicate groups produced by analysis runs",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "larder_decisions_total",
			Help: "Consolidation decisions by action and confidence tier",
		}, []string{"action", "confidence"}),
		OracleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_oracle_calls_total",
			Help: "Semantic adjudicator invocations",
		}),
		MergesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_merges_applied_total",
			Help: "Merge decisions committed to the catalog",
		}),
		MergesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_merges_failed_total",
			Help: "Merge decisions that failed to apply",
		}),
		RowsRepointed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_rows_repointed_total",
			Help: "Recipe-ingredient rows repointed to canonical ingredients",
		}),
		RowsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "larder_rows_deleted_total",
			Help: "Duplicate ingredient rows deleted",
		}),
	}
	registry.MustRegister(
		m.GroupsScanned,
		m.Decisions,
		m.OracleCalls,
		m.MergesApplied,
		m.MergesFailed,
		m.RowsRepointed,
		m.RowsDeleted,
	)
	return m
}

// RecordDecisions folds a decide run's summary into the counters
func (m *Metrics) RecordDecisions(summary models.DecisionSummary) {
	m.GroupsScanned.Add(float64(summary.TotalGroups))
	m.OracleCalls.Add(float64(summary.OracleCalls))
}

// RecordDecision counts one decision by action and tier
func (m *Metrics) RecordDecision(d models.ConsolidationDecision) {
	m.Decisions.WithLabelValues(string(d.Action), string(d.Confidence)).Inc()
}

// RecordExecution folds an execution report into the counters
func (m *Metrics) RecordExecution(report *models.ExecutionReport) {
	m.MergesApplied.Add(float64(report.Applied))
	m.MergesFailed.Add(float64(report.Failed))
	m.RowsRepointed.Add(float64(report.RowsRepointed))
	m.RowsDeleted.Add(float64(report.RowsDeleted))
}
