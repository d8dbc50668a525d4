package model

import "time"

// ChangeType classifies an audit record.
type ChangeType string

// Change types.
const (
	ChangeNewIdentity        ChangeType = "new_identity"
	ChangeDropped            ChangeType = "dropped"
	ChangeReactivated        ChangeType = "reactivated"
	ChangeField              ChangeType = "field_change"
	ChangeDuplicatesArchived ChangeType = "duplicates_archived"
)

// Change is one append-only audit record. Field is empty for record-level
// changes.
type Change struct {
	ID          int64      `json:"id,omitempty"`
	RunID       string     `json:"run_id"`
	SubjectID   string     `json:"subject_id"`
	Type        ChangeType `json:"type"`
	Field       string     `json:"field,omitempty"`
	OldValue    string     `json:"old_value,omitempty"`
	NewValue    string     `json:"new_value,omitempty"`
	Significant bool       `json:"significant"`
	SourceTable string     `json:"source_table"`
	At          time.Time  `json:"at"`
}

// IssueKind classifies a persisted warning or error.
type IssueKind string

// Issue kinds.
const (
	IssueMissingIdentifier   IssueKind = "missing_identifier"
	IssueDuplicateIntake     IssueKind = "duplicate_intake"
	IssueAmbiguousIdentifier IssueKind = "ambiguous_identifier"
	IssueExternalIDCollision IssueKind = "external_id_collision"
	IssueArchivalFailure     IssueKind = "archival_failure"
	IssueTransformation      IssueKind = "transformation_error"
	IssueStageFailure        IssueKind = "stage_failure"
)

// Issue is a non-fatal anomaly tied to a subject. Issues never block the
// pipeline; they are persisted so failures stay auditable after a run.
type Issue struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	SubjectID string    `json:"subject_id,omitempty"`
	Kind      IssueKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveTaskStatus is the state of a scheduled archival.
type ArchiveTaskStatus string

// Archive task statuses.
const (
	ArchivePending ArchiveTaskStatus = "pending"
	ArchiveDone    ArchiveTaskStatus = "done"
	ArchiveFailed  ArchiveTaskStatus = "failed"
)

// ArchiveTask is an operator-scheduled archival of a losing contact, created
// when a selection conflict is resolved.
type ArchiveTask struct {
	ID         int64             `json:"id,omitempty"`
	ConflictID string            `json:"conflict_id"`
	SubjectID  string            `json:"subject_id"`
	WinnerID   string            `json:"winner_id"`
	LoserID    string            `json:"loser_id"`
	Status     ArchiveTaskStatus `json:"status"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
