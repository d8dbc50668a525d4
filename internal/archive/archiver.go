// Package archive retires losing duplicate contacts in the CRM, one at a
// time under a fixed minimum spacing.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// DefaultMinInterval is the CRM's documented minimum spacing between
// mutation calls.
const DefaultMinInterval = 100 * time.Millisecond

// ContactArchiver is the CRM mutation the archiver drives.
type ContactArchiver interface {
	ArchiveContact(ctx context.Context, contactID string) error
}

// Task is one loser to archive. TaskID is set for operator-scheduled
// archivals and zero for duplicates settled automatically.
type Task struct {
	LoserID string
	TaskID  int64
}

// Batch is one winner with its losing duplicates.
type Batch struct {
	SubjectID string
	WinnerID  string
	Tasks     []Task
}

// TaskResult is the captured outcome of one archival call.
type TaskResult struct {
	SubjectID string
	WinnerID  string
	Task
	Err error
}

// Report summarizes an archival pass.
type Report struct {
	Results   []TaskResult
	Changes   []model.Change
	Issues    []model.Issue
	Archived  int
	Failed    int
	Cancelled bool
}

// Options tunes an Archiver.
type Options struct {
	MinInterval time.Duration
	Now         func() time.Time
}

// Archiver runs archival batches sequentially.
type Archiver struct {
	crm     ContactArchiver
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

// New creates an Archiver. A MinInterval below DefaultMinInterval is raised
// to it.
func New(crm ContactArchiver, opts Options) *Archiver {
	if opts.MinInterval < DefaultMinInterval {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Archiver{
		crm:     crm,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		now:     opts.Now,
		log:     zap.L().With(zap.String("component", "archive")),
	}
}

// Run archives every task in order. A failed call is recorded and the next
// task proceeds. Cancellation stops before the next call; results so far are
// kept. Each batch with at least one success yields one DuplicatesArchived
// change from the winner to the comma list of archived ids.
func (a *Archiver) Run(ctx context.Context, runID string, batches []Batch) Report {
	var rep Report
	for _, b := range batches {
		var archived []string
		for _, t := range b.Tasks {
			if err := a.limiter.Wait(ctx); err != nil {
				rep.Cancelled = true
				break
			}
			err := a.crm.ArchiveContact(ctx, t.LoserID)
			rep.Results = append(rep.Results, TaskResult{SubjectID: b.SubjectID, WinnerID: b.WinnerID, Task: t, Err: err})
			if err != nil {
				rep.Failed++
				a.log.Warn("archive: contact failed",
					zap.String("loser_id", t.LoserID),
					zap.String("winner_id", b.WinnerID),
					zap.Error(err),
				)
				rep.Issues = append(rep.Issues, model.Issue{
					RunID:     runID,
					Stage:     "archive_duplicates",
					SubjectID: t.LoserID,
					Kind:      model.IssueArchivalFailure,
					Severity:  model.SeverityWarning,
					Message:   fmt.Sprintf("archive contact %s (duplicate of %s): %v", t.LoserID, b.WinnerID, err),
					CreatedAt: a.now().UTC(),
				})
				continue
			}
			rep.Archived++
			archived = append(archived, t.LoserID)
		}

		if len(archived) > 0 {
			rep.Changes = append(rep.Changes, model.Change{
				RunID:       runID,
				SubjectID:   b.SubjectID,
				Type:        model.ChangeDuplicatesArchived,
				Field:       model.FieldExternalContactID,
				OldValue:    b.WinnerID,
				NewValue:    strings.Join(archived, ","),
				Significant: true,
				SourceTable: "external_contacts",
				At:          a.now().UTC(),
			})
		}
		if rep.Cancelled {
			break
		}
	}

	a.log.Info("archival complete",
		zap.Int("archived", rep.Archived),
		zap.Int("failed", rep.Failed),
		zap.Bool("cancelled", rep.Cancelled),
	)
	return rep
}
