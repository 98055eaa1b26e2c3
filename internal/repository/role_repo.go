// Package repository implements the database access layer for the groupwork application.
// This file handles group role definitions and role-assignment edges.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// RoleRepository handles role-related database operations.
// Role definitions are static per assessment; assignment edges are mutated
// only while the owning group's row lock is held by the caller.
type RoleRepository struct{}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository() *RoleRepository {
	return &RoleRepository{}
}

// ListWithCounts retrieves all role definitions of an assessment together
// with the number of holders of each role inside one group. Ordered by role
// id for deterministic balancer output.
func (r *RoleRepository) ListWithCounts(ctx context.Context, q database.DBTX, assessmentID, groupID int64) ([]models.GroupRoleWithCount, error) {
	query := `
		SELECT gr.id, gr.assessment_id, gr.role_name, gr.minimum, gr.maximum, gr.can_assign_roles,
		       COUNT(gur.user_id)::int AS count
		FROM group_roles gr
		LEFT JOIN group_user_roles gur ON gur.group_role_id = gr.id AND gur.group_id = $2
		WHERE gr.assessment_id = $1
		GROUP BY gr.id
		ORDER BY gr.id
	`

	rows, err := q.Query(ctx, query, assessmentID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []models.GroupRoleWithCount
	for rows.Next() {
		var role models.GroupRoleWithCount
		err := rows.Scan(&role.ID, &role.AssessmentID, &role.RoleName, &role.Minimum, &role.Maximum,
			&role.CanAssignRoles, &role.Count)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListAssignments retrieves the current role assignments of a group, joined
// with user and role identity. Ordered by membership insertion order then
// role id; the balancer relies on this order for deterministic plans.
func (r *RoleRepository) ListAssignments(ctx context.Context, q database.DBTX, groupID int64) ([]models.RoleAssignment, error) {
	query := `
		SELECT gur.user_id, u.uid, gr.role_name, gur.group_role_id
		FROM group_user_roles gur
		JOIN users u ON u.id = gur.user_id
		JOIN group_roles gr ON gr.id = gur.group_role_id
		JOIN group_users gu ON gu.group_id = gur.group_id AND gu.user_id = gur.user_id
		WHERE gur.group_id = $1
		ORDER BY gu.created_at, gur.user_id, gur.group_role_id
	`

	rows, err := q.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.RoleAssignment
	for rows.Next() {
		var a models.RoleAssignment
		if err := rows.Scan(&a.UserID, &a.UID, &a.RoleName, &a.GroupRoleID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// SelectSuitableRole picks the role to hand a user joining a group: the
// lowest-id required role whose current holder count is below its minimum.
// When every required role is satisfied the new member gets no role and the
// balancer resolves the gap later.
//
// Returns:
//   - *int64: Role id to assign, nil when no role applies
//   - error: Database error if query fails
func (r *RoleRepository) SelectSuitableRole(ctx context.Context, q database.DBTX, assessmentID, groupID int64) (*int64, error) {
	query := `
		SELECT gr.id
		FROM group_roles gr
		LEFT JOIN group_user_roles gur ON gur.group_role_id = gr.id AND gur.group_id = $2
		WHERE gr.assessment_id = $1 AND gr.minimum > 0
		GROUP BY gr.id
		HAVING COUNT(gur.user_id) < gr.minimum
		ORDER BY gr.id
		LIMIT 1
	`

	var id int64
	err := q.QueryRow(ctx, query, assessmentID, groupID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ReplaceAssignments atomically replaces a group's full role-assignment set.
// Must be called with the group row locked.
func (r *RoleRepository) ReplaceAssignments(ctx context.Context, q database.DBTX, groupID int64, assignments []models.GroupRoleAssignment) error {
	if _, err := q.Exec(ctx, `DELETE FROM group_user_roles WHERE group_id = $1`, groupID); err != nil {
		return err
	}

	query := `
		INSERT INTO group_user_roles (group_id, user_id, group_role_id)
		VALUES ($1, $2, $3)
	`
	for _, a := range assignments {
		if _, err := q.Exec(ctx, query, groupID, a.UserID, a.GroupRoleID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteNonRequired removes all assignments of optional (minimum = 0) roles
// in a group. Invoked when a group shrinks to the point where only required
// roles are meaningful.
func (r *RoleRepository) DeleteNonRequired(ctx context.Context, q database.DBTX, groupID, assessmentID int64) error {
	query := `
		DELETE FROM group_user_roles gur
		USING group_roles gr
		WHERE gur.group_role_id = gr.id
		  AND gur.group_id = $1
		  AND gr.assessment_id = $2
		  AND gr.minimum = 0
	`
	_, err := q.Exec(ctx, query, groupID, assessmentID)
	return err
}
