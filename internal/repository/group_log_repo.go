// Package repository implements the database access layer for the groupwork application.
// This file implements the read side of the group audit log. Log rows are
// written by GroupRepository inside the same transaction as the mutation
// they record; this repository only queries them.
package repository

import (
	"context"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// GroupLogRepository retrieves group audit log entries.
//
// Immutability Note:
//
//	Group log entries are never modified or deleted once created. They
//	provide a permanent record of who joined, left, created, and deleted
//	groups.
type GroupLogRepository struct{}

// NewGroupLogRepository creates and returns a new GroupLogRepository instance.
func NewGroupLogRepository() *GroupLogRepository {
	return &GroupLogRepository{}
}

// ListByGroup retrieves a group's audit trail in reverse chronological
// order (newest first). Used by instructors reviewing membership churn.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - q: Query surface (pool or open transaction)
//   - groupID: The group whose log to fetch
//   - limit: Maximum number of entries to retrieve
//
// Returns:
//   - []models.GroupLog: Recent entries, empty slice if none
//   - error: Database error if query fails
func (r *GroupLogRepository) ListByGroup(ctx context.Context, q database.DBTX, groupID int64, limit int) ([]models.GroupLog, error) {
	query := `
		SELECT id, group_id, user_id, authn_user_id, action, created_at
		FROM group_logs
		WHERE group_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.GroupLog
	for rows.Next() {
		var entry models.GroupLog
		if err := rows.Scan(
			&entry.ID,
			&entry.GroupID,
			&entry.UserID, // Nullable, NULL for group-level actions
			&entry.AuthnUserID,
			&entry.Action,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
