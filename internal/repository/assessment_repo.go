// Package repository implements the database access layer for the groupwork application.
// This file handles assessment lookups needed by the group engine.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// AssessmentRepository handles assessment lookups. The group engine only
// reads assessments; their lifecycle belongs to other parts of the platform.
type AssessmentRepository struct{}

// NewAssessmentRepository creates a new instance of AssessmentRepository.
func NewAssessmentRepository() *AssessmentRepository {
	return &AssessmentRepository{}
}

// GetByID retrieves an assessment by id.
//
// Returns:
//   - *models.Assessment: The assessment, nil if it does not exist
//   - error: Database error if query fails
func (r *AssessmentRepository) GetByID(ctx context.Context, q database.DBTX, assessmentID int64) (*models.Assessment, error) {
	query := `
		SELECT id, course_instance_id, label
		FROM assessments
		WHERE id = $1
	`

	var a models.Assessment
	err := q.QueryRow(ctx, query, assessmentID).
		Scan(&a.ID, &a.CourseInstanceID, &a.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
