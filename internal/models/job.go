// Package models defines the domain entities for the groupwork application.
// This file contains the background job record for bulk group operations.
package models

import "time"

// Job statuses. A bulk job that commits some records but reports per-record
// errors finishes as JobStatusPartialSuccess; only unexpected errors or a
// lock-acquisition failure produce JobStatusFailed.
const (
	JobStatusPending        = "pending"
	JobStatusRunning        = "running"
	JobStatusSuccess        = "success"
	JobStatusPartialSuccess = "partial_success"
	JobStatusFailed         = "failed"
)

// Job represents one asynchronous administrative operation (CSV group upload
// or random group assignment) together with its accumulated log output.
//
// Database Table: jobs
type Job struct {
	ID           string     `db:"id"`            // UUID primary key
	AssessmentID int64      `db:"assessment_id"` // Assessment the job operates on
	Type         string     `db:"type"`          // "upload_instance_groups" or "random_groups"
	Description  string     `db:"description"`   // Human-readable description
	Status       string     `db:"status"`        // One of the JobStatus* values
	Output       string     `db:"output"`        // Accumulated log lines
	CreatedAt    time.Time  `db:"created_at"`    // Creation timestamp
	FinishedAt   *time.Time `db:"finished_at"`   // Terminal-state timestamp
}
