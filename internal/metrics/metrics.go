// Package metrics records reconciliation run metrics and writes them as a
// node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Metrics provides observability for pipeline runs. A nil *Metrics records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Runs by final status
	Runs *prometheus.CounterVec

	// Stage durations by stage name
	StageDuration *prometheus.HistogramVec

	// Identities linked by matching method
	Matches *prometheus.CounterVec

	// Conflicts raised by type
	ConflictsCreated *prometheus.CounterVec

	// Archival calls by outcome
	Archivals *prometheus.CounterVec

	// Issues recorded by kind
	Issues *prometheus.CounterVec

	LastSuccess prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swab_sync_runs_total",
			Help: "Reconciliation runs by final status",
		}, []string{"status"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swab_sync_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),

		Matches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swab_sync_matches_total",
			Help: "Identities linked to a CRM contact by matching method",
		}, []string{"method"}),

		ConflictsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swab_sync_conflicts_created_total",
			Help: "Conflicts raised for operator review by type",
		}, []string{"type"}),

		Archivals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swab_sync_archivals_total",
			Help: "Duplicate contact archival calls by outcome",
		}, []string{"outcome"}), // outcome: "archived", "failed"

		Issues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swab_sync_issues_total",
			Help: "Issues recorded by kind",
		}, []string{"kind"}),

		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "swab_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RunFinished records a run's final status.
func (m *Metrics) RunFinished(status string, at time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	if status == "complete" {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// AddMatches records n identities linked by method.
func (m *Metrics) AddMatches(method string, n int) {
	if m != nil && n > 0 {
		m.Matches.WithLabelValues(method).Add(float64(n))
	}
}

// AddConflict records a raised conflict.
func (m *Metrics) AddConflict(conflictType string) {
	if m != nil {
		m.ConflictsCreated.WithLabelValues(conflictType).Inc()
	}
}

// AddArchivals records archival outcomes.
func (m *Metrics) AddArchivals(archived, failed int) {
	if m == nil {
		return
	}
	m.Archivals.WithLabelValues("archived").Add(float64(archived))
	m.Archivals.WithLabelValues("failed").Add(float64(failed))
}

// AddIssue records an issue.
func (m *Metrics) AddIssue(kind string) {
	if m != nil {
		m.Issues.WithLabelValues(kind).Inc()
	}
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
