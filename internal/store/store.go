// Package store persists raw source records, canonical identities, conflicts,
// change and issue trails, the export table and run bookkeeping.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// Sentinel errors. Compare with errors.Is.
var (
	ErrNotFound   = eris.New("store: not found")
	ErrNotPending = eris.New("store: conflict is not pending")
	ErrRunLocked  = eris.New("store: another run holds the lock")
)

// MaxArchiveAttempts bounds how often a scheduled archival is retried.
const MaxArchiveAttempts = 5

// RawRecord is one source record as fetched, after normalization.
type RawRecord struct {
	Source   model.Source    `json:"source"`
	Year     int             `json:"year"`
	RecordID string          `json:"record_id"`
	Data     json.RawMessage `json:"data"`
	LoadedAt time.Time       `json:"loaded_at"`
}

// RawSet is every record for one source and year. Committing it replaces
// what was stored for that pair.
type RawSet struct {
	Source  model.Source
	Year    int
	Records []RawRecord
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ConflictFilter specifies criteria for listing conflicts. Zero values match
// everything.
type ConflictFilter struct {
	Status    model.ConflictStatus `json:"status,omitempty"`
	Type      model.ConflictType   `json:"type,omitempty"`
	SubjectID string               `json:"subject_id,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
}

// ChangeFilter queries the change trail by subject, time window and
// significance.
type ChangeFilter struct {
	SubjectID       string           `json:"subject_id,omitempty"`
	Type            model.ChangeType `json:"type,omitempty"`
	Since           time.Time        `json:"since,omitempty"`
	Until           time.Time        `json:"until,omitempty"`
	SignificantOnly bool             `json:"significant_only,omitempty"`
	Limit           int              `json:"limit,omitempty"`
}

// IssueFilter specifies criteria for listing issues.
type IssueFilter struct {
	RunID    string          `json:"run_id,omitempty"`
	Kind     model.IssueKind `json:"kind,omitempty"`
	Severity model.Severity  `json:"severity,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// Batch is one stage's writes, applied atomically by Commit.
type Batch struct {
	Raw           []RawSet
	Identities    []model.Identity
	Conflicts     []model.Conflict // inserted; existing dedupe keys are left alone
	Changes       []model.Change
	Issues        []model.Issue
	ArchiveTasks  []model.ArchiveTask // status updates by ID
	Export        []model.ExportRow
	ReplaceExport bool
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Raw) == 0 && len(b.Identities) == 0 && len(b.Conflicts) == 0 && len(b.Changes) == 0 &&
		len(b.Issues) == 0 && len(b.ArchiveTasks) == 0 && !b.ReplaceExport
}

// Store defines the persistence interface for the reconciliation pipeline.
type Store interface {
	// Raw records. Commit replaces them wholesale per source and year.
	LoadRaw(ctx context.Context, source model.Source, year int) ([]RawRecord, error)

	// Canonical identities
	ListIdentities(ctx context.Context) ([]model.Identity, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)

	// Conflicts
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error)
	// DecideConflict moves a pending conflict to its new status and records
	// archive tasks in one transaction. It returns ErrNotPending when the
	// conflict was already decided.
	DecideConflict(ctx context.Context, c *model.Conflict, tasks []model.ArchiveTask) error

	// Trails and derived tables
	ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]model.Issue, error)
	PendingArchiveTasks(ctx context.Context) ([]model.ArchiveTask, error)
	ListExport(ctx context.Context) ([]model.ExportRow, error)

	// Commit applies a stage's writes in one transaction.
	Commit(ctx context.Context, b Batch) error

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	SaveStage(ctx context.Context, runID string, stage model.StageResult) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Year-scoped operator overrides
	AppConfig(ctx context.Context, year int) (map[string]string, error)
	SetAppConfig(ctx context.Context, year int, key, value string) error

	// AcquireRunLock takes the pipeline's mutual-exclusion lock. It returns
	// ErrRunLocked when another run holds it.
	AcquireRunLock(ctx context.Context) (release func(), err error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
