// Package repository implements the database access layer for the groupwork application.
// This file handles user lookup and enrollment/instructor checks.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// UserRepository handles user-related database operations.
type UserRepository struct{}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// FindByUID looks up a user by its unique login identifier.
//
// Returns:
//   - *models.User: The user, nil if no user has that uid
//   - error: Database error if query fails
func (r *UserRepository) FindByUID(ctx context.Context, q database.DBTX, uid string) (*models.User, error) {
	query := `
		SELECT id, uid, name, password_hash, created_at
		FROM users
		WHERE uid = $1
	`

	var u models.User
	err := q.QueryRow(ctx, query, uid).
		Scan(&u.ID, &u.UID, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IsInstructor reports whether the user holds the instructor role in the
// course instance. Instructors may always be added to groups.
func (r *UserRepository) IsInstructor(ctx context.Context, q database.DBTX, userID, courseInstanceID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM enrollments
			WHERE user_id = $1 AND course_instance_id = $2 AND role = 'instructor'
		)
	`

	var exists bool
	if err := q.QueryRow(ctx, query, userID, courseInstanceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasActiveEnrollment reports whether the user has an active student
// enrollment in the course instance.
func (r *UserRepository) HasActiveEnrollment(ctx context.Context, q database.DBTX, userID, courseInstanceID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM enrollments
			WHERE user_id = $1 AND course_instance_id = $2 AND status = 'active'
		)
	`

	var exists bool
	if err := q.QueryRow(ctx, query, userID, courseInstanceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
