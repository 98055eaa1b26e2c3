// Package models defines the domain entities for the groupwork application.
// This file contains the group, membership, and configuration models.
package models

import "time"

// GroupConfig is the per-assessment configuration for group work.
// Created when an assessment is configured for groups; treated as immutable
// by the group engine.
//
// Database Table: group_configs
type GroupConfig struct {
	ID           int64      `db:"id"`            // Primary key
	AssessmentID int64      `db:"assessment_id"` // Owning assessment
	Minimum      *int       `db:"minimum"`       // Minimum group size, nil = no lower bound
	Maximum      *int       `db:"maximum"`       // Maximum group size, nil = unbounded
	HasRoles     bool       `db:"has_roles"`     // Enables the role subsystem for this assessment
	CreatedAt    time.Time  `db:"created_at"`    // Creation timestamp
	DeletedAt    *time.Time `db:"deleted_at"`    // Soft-delete marker
}

// MinimumSize returns the configured minimum group size, treating an absent
// bound as zero.
func (c *GroupConfig) MinimumSize() int {
	if c.Minimum == nil {
		return 0
	}
	return *c.Minimum
}

// Group represents one team of users within an assessment.
// The full join token handed to students is "<name>-<join_code>".
//
// Database Table: groups
// Database: name is unique per assessment among non-deleted groups
type Group struct {
	ID            int64      `db:"id"`              // Primary key
	GroupConfigID int64      `db:"group_config_id"` // Foreign key to group_configs.id
	AssessmentID  int64      `db:"assessment_id"`   // Owning assessment
	Name          string     `db:"name"`            // Alphanumeric, at most 30 characters
	JoinCode      string     `db:"join_code"`       // 4-character uppercase code
	CreatedAt     time.Time  `db:"created_at"`      // Creation timestamp
	DeletedAt     *time.Time `db:"deleted_at"`      // Soft-delete marker, never hard-deleted
}

// GroupForUpdate is a Group row selected FOR UPDATE together with the live
// membership count and the size/role settings from its config. All mutating
// membership decisions must be made against this locked snapshot.
type GroupForUpdate struct {
	Group
	CurSize  int  `db:"cur_size"`  // Current number of members
	MaxSize  *int `db:"max_size"`  // Configured maximum, nil = unbounded
	HasRoles bool `db:"has_roles"` // Role subsystem enabled
}

// GroupMember is a membership row joined with user identity, as returned by
// GroupRepository.GetMembers. Ordered by insertion (group_users.created_at),
// which the role balancer relies on for deterministic output.
type GroupMember struct {
	UserID    int64  `db:"user_id"`    // Foreign key to users.id
	UID       string `db:"uid"`        // User login identifier
	GroupName string `db:"group_name"` // Name of the containing group
	JoinCode  string `db:"join_code"`  // Join code of the containing group
}

// GroupLog is an audit entry for a membership mutation.
// Log rows are written in the same transaction as the mutation and are
// never modified or deleted.
//
// Database Table: group_logs
// Action Values: "create", "join", "leave", "delete"
type GroupLog struct {
	ID          int64     `db:"id"`            // Primary key
	GroupID     int64     `db:"group_id"`      // Affected group
	UserID      *int64    `db:"user_id"`       // Affected user, nil for group-level actions
	AuthnUserID int64     `db:"authn_user_id"` // Acting (authenticated) user
	Action      string    `db:"action"`        // What happened
	CreatedAt   time.Time `db:"created_at"`    // When it happened
}
