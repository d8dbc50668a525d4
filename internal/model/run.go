// Package model defines the reconciliation domain types shared by every
// pipeline stage: raw source records, canonical identities, conflicts,
// change records and issues.
package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single reconciliation pass over one program year.
type Run struct {
	ID          string        `json:"id"`
	Year        int           `json:"year"`
	Status      RunStatus     `json:"status"`
	DryRun      bool          `json:"dry_run"`
	Error       string        `json:"error,omitempty"`
	Stages      []StageResult `json:"stages,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

// Stage statuses.
const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
)

// StageResult holds the outcome of one pipeline stage.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
