// Package models defines the domain entities for the groupwork application.
// It includes database models mapped to PostgreSQL tables and the composite
// row shapes returned by the repository layer.
package models

import "time"

// User represents a platform user account.
// Students and instructors share the same table; course-level capabilities
// come from the enrollments table, not from this record.
//
// Database Table: users
// Security Note: PasswordHash should never be exposed in API responses or logs
type User struct {
	ID           int64     `db:"id"`            // Primary key, auto-increment
	UID          string    `db:"uid"`           // Unique login identifier (e.g., "student1@example.com")
	Name         string    `db:"name"`          // Display name
	PasswordHash string    `db:"password_hash"` // bcrypt hashed password
	CreatedAt    time.Time `db:"created_at"`    // Account creation timestamp
}

// Assessment represents a group-work-enabled assessment within a course instance.
// Only the fields the group engine needs are modeled here.
//
// Database Table: assessments
type Assessment struct {
	ID               int64  `db:"id"`                 // Primary key
	CourseInstanceID int64  `db:"course_instance_id"` // Owning course instance
	Label            string `db:"label"`              // Human-readable label, used in job descriptions
}
