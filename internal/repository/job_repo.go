// Package repository implements the database access layer for the groupwork application.
// This file handles background job records for bulk group operations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// JobRepository handles background-job database operations.
// Job rows are written outside the bulk operation's data transaction so
// progress and the final status survive a rollback of the data changes.
type JobRepository struct{}

// NewJobRepository creates a new instance of JobRepository.
func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

// Create inserts a new job row in pending state.
//
// Side Effects: populates job.CreatedAt with the database value
func (r *JobRepository) Create(ctx context.Context, q database.DBTX, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, assessment_id, type, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return q.QueryRow(ctx, query, job.ID, job.AssessmentID, job.Type, job.Description, job.Status).
		Scan(&job.CreatedAt)
}

// MarkRunning transitions a job from pending to running.
func (r *JobRepository) MarkRunning(ctx context.Context, q database.DBTX, jobID string) error {
	query := `UPDATE jobs SET status = $2 WHERE id = $1`
	_, err := q.Exec(ctx, query, jobID, models.JobStatusRunning)
	return err
}

// AppendOutput appends a chunk of log text to a job's accumulated output.
func (r *JobRepository) AppendOutput(ctx context.Context, q database.DBTX, jobID, text string) error {
	query := `UPDATE jobs SET output = output || $2 WHERE id = $1`
	_, err := q.Exec(ctx, query, jobID, text)
	return err
}

// Finish moves a job to a terminal status and stamps its finish time.
func (r *JobRepository) Finish(ctx context.Context, q database.DBTX, jobID, status string) error {
	query := `UPDATE jobs SET status = $2, finished_at = NOW() WHERE id = $1`
	_, err := q.Exec(ctx, query, jobID, status)
	return err
}

// GetByID retrieves a job record with its accumulated output.
//
// Returns:
//   - *models.Job: The job, nil if it does not exist
//   - error: Database error if query fails
func (r *JobRepository) GetByID(ctx context.Context, q database.DBTX, jobID string) (*models.Job, error) {
	query := `
		SELECT id, assessment_id, type, description, status, output, created_at, finished_at
		FROM jobs
		WHERE id = $1
	`

	var j models.Job
	err := q.QueryRow(ctx, query, jobID).
		Scan(&j.ID, &j.AssessmentID, &j.Type, &j.Description, &j.Status, &j.Output, &j.CreatedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
