// Package pipeline runs one reconciliation pass: it loads intake and CRM
// data, links identities to contacts, merges fields, records changes, builds
// the export and archives duplicates.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/authority"
	"github.com/SWAB-ITO/swab-app-sub000/internal/config"
	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/crm"
	"github.com/SWAB-ITO/swab-app-sub000/internal/index"
	"github.com/SWAB-ITO/swab-app-sub000/internal/matcher"
	"github.com/SWAB-ITO/swab-app-sub000/internal/metrics"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/jotform"
)

// Stage names, in execution order.
const (
	StageLoadRaw           = "load_raw"
	StageValidate          = "validate"
	StageDeduplicate       = "deduplicate"
	StageMatchContacts     = "match_contacts"
	StageMergeData         = "merge_data"
	StageDetectChanges     = "detect_changes"
	StagePopulateExport    = "populate_export"
	StageArchiveDuplicates = "archive_duplicates"
)

// Stages lists every stage in execution order.
var Stages = []string{
	StageLoadRaw, StageValidate, StageDeduplicate, StageMatchContacts,
	StageMergeData, StageDetectChanges, StagePopulateExport, StageArchiveDuplicates,
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RunOptions select what a run does.
type RunOptions struct {
	// Year is the program year; zero means the configured active year.
	Year int
	// DryRun runs every stage without store writes or CRM mutations. The
	// run itself is still recorded.
	DryRun bool
	// Replay skips fetching and recomputes from the raw records already
	// stored for the year.
	Replay bool
}

// Result summarizes a finished run.
type Result struct {
	Run       *model.Run
	Matches   map[matcher.Method]int
	Conflicts int
	Changes   int
	Issues    int
	Exported  int
	Archived  int
	Failed    int
}

// Pipeline sequences the reconciliation stages. Only one run executes at a
// time per process; the store lock extends that across processes.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	intake    jotform.Client
	crm       crm.Provider
	years     *config.YearProvider
	authority *authority.Table
	metrics   *metrics.Metrics
	now       func() time.Time

	mu sync.Mutex
}

// New creates a Pipeline. auth and m may be nil.
func New(cfg *config.Config, st store.Store, intake jotform.Client, provider crm.Provider, auth *authority.Table, m *metrics.Metrics) *Pipeline {
	if auth == nil {
		auth = authority.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		intake:    intake,
		crm:       provider,
		years:     config.NewYearProvider(cfg, st),
		authority: auth,
		metrics:   m,
		now:       time.Now,
	}
}

// runState carries each stage's full output to the next.
type runState struct {
	run  *model.Run
	opts RunOptions
	year config.YearConfig
	now  time.Time
	seq  *Sequence
	log  *zap.Logger

	// load_raw
	raw      rawSet
	signups  []model.IntakeSubmission
	setups   []model.IntakeSubmission
	contacts []model.ExternalContact
	members  []model.Membership
	existing map[string]model.Identity
	pins     conflict.Pins
	tasks    []model.ArchiveTask
	statuses map[string]string // operator status_category overrides

	// match_contacts
	subjects []model.Identity
	idx      *index.Index
	matched  *matcher.Result

	// merge_data
	merged []model.Identity

	// detect_changes
	written []model.Identity

	result *Result
}

// Run executes every stage in order. The first failing stage aborts the run
// and is returned as a *StageError. A concurrent run gets store.ErrRunLocked.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, store.ErrRunLocked
	}
	defer p.mu.Unlock()

	if opts.Year == 0 {
		opts.Year = p.cfg.Program.Year
	}
	if !opts.DryRun {
		release, err := p.store.AcquireRunLock(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	year, err := p.years.Year(ctx, opts.Year)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		Year:      opts.Year,
		Status:    model.RunStatusRunning,
		DryRun:    opts.DryRun,
		StartedAt: now,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	st := &runState{
		run:    run,
		opts:   opts,
		year:   year,
		now:    now,
		seq:    NewSequence(PlaceholderPrefix),
		log:    zap.L().With(zap.String("run_id", run.ID), zap.Int("year", opts.Year), zap.Bool("dry_run", opts.DryRun)),
		result: &Result{Run: run},
	}
	st.log.Info("pipeline: starting run")

	steps := []struct {
		name string
		fn   func(context.Context, *runState) (map[string]any, error)
	}{
		{StageLoadRaw, p.loadRaw},
		{StageValidate, p.validate},
		{StageDeduplicate, p.deduplicate},
		{StageMatchContacts, p.matchContacts},
		{StageMergeData, p.mergeData},
		{StageDetectChanges, p.detectChanges},
		{StagePopulateExport, p.populateExport},
		{StageArchiveDuplicates, p.archiveDuplicates},
	}

	var runErr error
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			runErr = &StageError{Stage: s.name, Err: err}
			break
		}
		if err := p.trackStage(ctx, st, s.name, s.fn); err != nil {
			runErr = err
			break
		}
	}

	p.finish(ctx, st, runErr)
	if runErr != nil {
		return st.result, runErr
	}
	return st.result, nil
}

// trackStage runs one stage and records its outcome on the run.
func (p *Pipeline) trackStage(ctx context.Context, st *runState, name string, fn func(context.Context, *runState) (map[string]any, error)) error {
	start := time.Now()
	meta, fnErr := fn(ctx, st)
	elapsed := time.Since(start)

	res := model.StageResult{
		Name:     name,
		Status:   model.StageStatusComplete,
		Duration: elapsed.Milliseconds(),
		Metadata: meta,
	}
	if fnErr != nil {
		res.Status = model.StageStatusFailed
		res.Error = fnErr.Error()
		st.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.Error(fnErr),
		)
	} else {
		st.log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.Any("metadata", meta),
		)
	}
	p.metrics.ObserveStage(name, elapsed)

	bg := context.WithoutCancel(ctx)
	if err := p.store.SaveStage(bg, st.run.ID, res); err != nil {
		st.log.Warn("pipeline: failed to save stage", zap.String("stage", name), zap.Error(err))
	}
	st.run.Stages = append(st.run.Stages, res)

	if fnErr == nil {
		return nil
	}
	if !st.opts.DryRun {
		failure := p.issue(st, name, "", model.IssueStageFailure, model.SeverityCritical, fnErr.Error())
		if err := p.store.Commit(bg, store.Batch{Issues: []model.Issue{failure}}); err != nil {
			st.log.Warn("pipeline: failed to record stage failure", zap.String("stage", name), zap.Error(err))
		}
	}
	return &StageError{Stage: name, Err: fnErr}
}

func (p *Pipeline) finish(ctx context.Context, st *runState, runErr error) {
	completed := p.now().UTC()
	st.run.CompletedAt = &completed
	st.run.Status = model.RunStatusComplete
	if runErr != nil {
		st.run.Status = model.RunStatusFailed
		st.run.Error = runErr.Error()
	}

	if err := p.store.FinishRun(context.WithoutCancel(ctx), st.run); err != nil {
		st.log.Warn("pipeline: failed to finish run", zap.Error(err))
	}

	p.metrics.RunFinished(string(st.run.Status), completed)
	if err := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); err != nil {
		st.log.Warn("pipeline: failed to write metrics", zap.Error(err))
	}

	st.log.Info("pipeline: run finished",
		zap.String("status", string(st.run.Status)),
		zap.Duration("elapsed", completed.Sub(st.run.StartedAt)),
		zap.Int("conflicts", st.result.Conflicts),
		zap.Int("changes", st.result.Changes),
		zap.Int("issues", st.result.Issues),
		zap.Int("archived", st.result.Archived),
	)
}

// commit applies a stage's writes unless the run is a dry run.
func (p *Pipeline) commit(ctx context.Context, st *runState, b store.Batch) error {
	for _, is := range b.Issues {
		p.metrics.AddIssue(string(is.Kind))
	}
	st.result.Issues += len(b.Issues)
	if st.opts.DryRun {
		return nil
	}
	return p.store.Commit(ctx, b)
}

func (p *Pipeline) issue(st *runState, stage, subject string, kind model.IssueKind, sev model.Severity, msg string) model.Issue {
	return model.Issue{
		RunID:     st.run.ID,
		Stage:     stage,
		SubjectID: subject,
		Kind:      kind,
		Severity:  sev,
		Message:   msg,
		CreatedAt: st.now,
	}
}
