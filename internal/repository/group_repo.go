// Package repository implements the database access layer for the groupwork application.
// This file handles group rows, membership edges, and the group audit log.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// GroupRepository handles group-related database operations.
// All methods take a database.DBTX so they participate in whatever
// transaction the caller has open; callers own the locking discipline
// (see SelectAndLockByID / SelectAndLockByName).
type GroupRepository struct{}

// NewGroupRepository creates a new instance of GroupRepository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{}
}

// GetConfig retrieves the group configuration for an assessment.
//
// Returns:
//   - *models.GroupConfig: The configuration, nil if the assessment has none
//   - error: Database error if query fails
func (r *GroupRepository) GetConfig(ctx context.Context, q database.DBTX, assessmentID int64) (*models.GroupConfig, error) {
	query := `
		SELECT id, assessment_id, minimum, maximum, has_roles, created_at, deleted_at
		FROM group_configs
		WHERE assessment_id = $1 AND deleted_at IS NULL
	`

	var c models.GroupConfig
	err := q.QueryRow(ctx, query, assessmentID).
		Scan(&c.ID, &c.AssessmentID, &c.Minimum, &c.Maximum, &c.HasRoles, &c.CreatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new group with the given name and join code.
// The unique index on live group names per assessment surfaces a duplicate
// name as a pgconn.PgError with code 23505; the service layer translates
// that into a domain error.
//
// Side Effects: writes a "create" row to group_logs
func (r *GroupRepository) Create(ctx context.Context, q database.DBTX, configID, assessmentID int64, name, joinCode string, authnUserID int64) (*models.Group, error) {
	query := `
		INSERT INTO groups (group_config_id, assessment_id, name, join_code)
		VALUES ($1, $2, $3, $4)
		RETURNING id, group_config_id, assessment_id, name, join_code, created_at, deleted_at
	`

	var g models.Group
	err := q.QueryRow(ctx, query, configID, assessmentID, name, joinCode).
		Scan(&g.ID, &g.GroupConfigID, &g.AssessmentID, &g.Name, &g.JoinCode, &g.CreatedAt, &g.DeletedAt)
	if err != nil {
		return nil, err
	}

	if err := r.log(ctx, q, g.ID, nil, authnUserID, "create"); err != nil {
		return nil, err
	}
	return &g, nil
}

// SelectAndLockByID locks a live group row FOR UPDATE and returns it with
// its current size and config-derived size/role settings. Concurrent
// mutations of the same group block here until the holding transaction
// commits or rolls back.
//
// Returns:
//   - *models.GroupForUpdate: The locked row, nil if no live group matches
//   - error: Database error if query fails
func (r *GroupRepository) SelectAndLockByID(ctx context.Context, q database.DBTX, groupID, assessmentID int64) (*models.GroupForUpdate, error) {
	query := `
		WITH locked_group AS (
			SELECT g.id, g.group_config_id, g.assessment_id, g.name, g.join_code, g.created_at, g.deleted_at
			FROM groups g
			WHERE g.id = $1 AND g.assessment_id = $2 AND g.deleted_at IS NULL
			FOR UPDATE OF g
		)
		SELECT lg.id, lg.group_config_id, lg.assessment_id, lg.name, lg.join_code, lg.created_at, lg.deleted_at,
		       COALESCE(m.cur_size, 0) AS cur_size, gc.maximum AS max_size, gc.has_roles
		FROM locked_group lg
		JOIN group_configs gc ON gc.id = lg.group_config_id
		LEFT JOIN LATERAL (
			SELECT COUNT(*)::int AS cur_size FROM group_users gu WHERE gu.group_id = lg.id
		) m ON true
	`

	var g models.GroupForUpdate
	err := q.QueryRow(ctx, query, groupID, assessmentID).
		Scan(&g.ID, &g.GroupConfigID, &g.AssessmentID, &g.Name, &g.JoinCode, &g.CreatedAt, &g.DeletedAt,
			&g.CurSize, &g.MaxSize, &g.HasRoles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SelectAndLockByName locks a live group row FOR UPDATE by its name within
// an assessment. Used by the join-by-code and create-or-add flows, which
// must hold the row lock before reading membership state.
//
// Returns:
//   - *models.Group: The locked row, nil if no live group has that name
//   - error: Database error if query fails
func (r *GroupRepository) SelectAndLockByName(ctx context.Context, q database.DBTX, assessmentID int64, name string) (*models.Group, error) {
	query := `
		SELECT id, group_config_id, assessment_id, name, join_code, created_at, deleted_at
		FROM groups
		WHERE assessment_id = $1 AND name = $2 AND deleted_at IS NULL
		FOR UPDATE
	`

	var g models.Group
	err := q.QueryRow(ctx, query, assessmentID, name).
		Scan(&g.ID, &g.GroupConfigID, &g.AssessmentID, &g.Name, &g.JoinCode, &g.CreatedAt, &g.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGroupID returns the id of the user's current live group in an
// assessment, if any. Used to enforce the one-live-group-per-user invariant.
//
// Returns:
//   - int64: Group id, 0 when the user is not in a group
//   - bool: Whether the user is in a group
//   - error: Database error if query fails
func (r *GroupRepository) GetGroupID(ctx context.Context, q database.DBTX, assessmentID, userID int64) (int64, bool, error) {
	query := `
		SELECT g.id
		FROM group_users gu
		JOIN groups g ON g.id = gu.group_id
		WHERE g.assessment_id = $1 AND gu.user_id = $2 AND g.deleted_at IS NULL
	`

	var id int64
	err := q.QueryRow(ctx, query, assessmentID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetMembers retrieves all members of a group in insertion order.
// The role balancer depends on this order for deterministic reassignment.
func (r *GroupRepository) GetMembers(ctx context.Context, q database.DBTX, groupID int64) ([]models.GroupMember, error) {
	query := `
		SELECT u.id AS user_id, u.uid, g.name AS group_name, g.join_code
		FROM group_users gu
		JOIN users u ON u.id = gu.user_id
		JOIN groups g ON g.id = gu.group_id
		WHERE gu.group_id = $1
		ORDER BY gu.created_at, u.id
	`

	rows, err := q.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.UserID, &m.UID, &m.GroupName, &m.JoinCode); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// InsertMember adds a user to a group, optionally assigning an initial role,
// and logs the join. Must be called with the group row locked.
//
// Side Effects: writes a "join" row to group_logs
func (r *GroupRepository) InsertMember(ctx context.Context, q database.DBTX, groupID, userID, configID int64, roleID *int64, authnUserID int64) error {
	query := `
		INSERT INTO group_users (group_id, user_id, group_config_id)
		VALUES ($1, $2, $3)
	`
	if _, err := q.Exec(ctx, query, groupID, userID, configID); err != nil {
		return err
	}

	if roleID != nil {
		roleQuery := `
			INSERT INTO group_user_roles (group_id, user_id, group_role_id)
			VALUES ($1, $2, $3)
		`
		if _, err := q.Exec(ctx, roleQuery, groupID, userID, *roleID); err != nil {
			return err
		}
	}

	return r.log(ctx, q, groupID, &userID, authnUserID, "join")
}

// DeleteMember removes a user from a group together with any roles the user
// held in it, and logs the leave.
//
// Side Effects: writes a "leave" row to group_logs
func (r *GroupRepository) DeleteMember(ctx context.Context, q database.DBTX, groupID, userID, authnUserID int64) error {
	roleQuery := `DELETE FROM group_user_roles WHERE group_id = $1 AND user_id = $2`
	if _, err := q.Exec(ctx, roleQuery, groupID, userID); err != nil {
		return err
	}

	query := `DELETE FROM group_users WHERE group_id = $1 AND user_id = $2`
	if _, err := q.Exec(ctx, query, groupID, userID); err != nil {
		return err
	}

	return r.log(ctx, q, groupID, &userID, authnUserID, "leave")
}

// SoftDelete marks a group as deleted and removes its memberships and role
// assignments. The group row itself is retained for audit history.
//
// Returns:
//   - bool: Whether a live group was found and deleted
//   - error: Database error if any statement fails
//
// Side Effects: writes a "delete" row to group_logs
func (r *GroupRepository) SoftDelete(ctx context.Context, q database.DBTX, assessmentID, groupID, authnUserID int64) (bool, error) {
	query := `
		UPDATE groups
		SET deleted_at = NOW()
		WHERE id = $1 AND assessment_id = $2 AND deleted_at IS NULL
		RETURNING id
	`

	var id int64
	err := q.QueryRow(ctx, query, groupID, assessmentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := r.clearMemberships(ctx, q, groupID); err != nil {
		return false, err
	}
	if err := r.log(ctx, q, groupID, nil, authnUserID, "delete"); err != nil {
		return false, err
	}
	return true, nil
}

// SoftDeleteAll marks every live group of an assessment as deleted and
// removes their memberships and role assignments.
//
// Side Effects: writes a "delete" row to group_logs per group
func (r *GroupRepository) SoftDeleteAll(ctx context.Context, q database.DBTX, assessmentID, authnUserID int64) error {
	query := `
		UPDATE groups
		SET deleted_at = NOW()
		WHERE assessment_id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	rows, err := q.Query(ctx, query, assessmentID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := r.clearMemberships(ctx, q, id); err != nil {
			return err
		}
		if err := r.log(ctx, q, id, nil, authnUserID, "delete"); err != nil {
			return err
		}
	}
	return nil
}

// ListUngroupedEnrolled retrieves the user ids and uids of all users with an
// active student enrollment in the assessment's course instance that are not
// currently in a live group for the assessment. Input to random assignment.
func (r *GroupRepository) ListUngroupedEnrolled(ctx context.Context, q database.DBTX, assessmentID int64) ([]models.User, error) {
	query := `
		SELECT u.id, u.uid
		FROM enrollments e
		JOIN users u ON u.id = e.user_id
		JOIN assessments a ON a.course_instance_id = e.course_instance_id
		WHERE a.id = $1
		  AND e.status = 'active'
		  AND e.role = 'student'
		  AND NOT EXISTS (
			SELECT 1
			FROM group_users gu
			JOIN groups g ON g.id = gu.group_id
			WHERE gu.user_id = u.id AND g.assessment_id = a.id AND g.deleted_at IS NULL
		  )
		ORDER BY u.id
	`

	rows, err := q.Query(ctx, query, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.UID); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// NextSystemName returns the next free server-generated group name for an
// assessment, following the "group<N>" sequence. User-specified names of
// that shape with long numbers are rejected at validation time, so the
// numeric suffix stays small enough for integer arithmetic.
func (r *GroupRepository) NextSystemName(ctx context.Context, q database.DBTX, assessmentID int64) (string, error) {
	query := `
		SELECT 'group' || (COALESCE(MAX(substring(name FROM 6)::bigint), 0) + 1)::text
		FROM groups
		WHERE assessment_id = $1 AND name ~ '^group[0-9]+$'
	`

	var name string
	if err := q.QueryRow(ctx, query, assessmentID).Scan(&name); err != nil {
		return "", err
	}
	return name, nil
}

// clearMemberships removes all membership and role-assignment rows of a
// group. Used by the soft-delete paths; the group row itself stays.
func (r *GroupRepository) clearMemberships(ctx context.Context, q database.DBTX, groupID int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM group_user_roles WHERE group_id = $1`, groupID); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `DELETE FROM group_users WHERE group_id = $1`, groupID)
	return err
}

// log appends a row to the group audit log.
func (r *GroupRepository) log(ctx context.Context, q database.DBTX, groupID int64, userID *int64, authnUserID int64, action string) error {
	query := `
		INSERT INTO group_logs (group_id, user_id, authn_user_id, action)
		VALUES ($1, $2, $3, $4)
	`
	_, err := q.Exec(ctx, query, groupID, userID, authnUserID, action)
	return err
}
