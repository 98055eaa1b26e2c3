// Package models defines the domain entities for the groupwork application.
// This file contains the group role definitions and assignment edges.
package models

// GroupRole is a per-assessment role definition (e.g., Recorder, Reflector).
// Static configuration, read-only to the group engine.
//
// Database Table: group_roles
type GroupRole struct {
	ID             int64  `db:"id"`               // Primary key
	AssessmentID   int64  `db:"assessment_id"`    // Owning assessment
	RoleName       string `db:"role_name"`        // Display name
	Minimum        int    `db:"minimum"`          // Required occupancy; > 0 marks a required role
	Maximum        *int   `db:"maximum"`          // Occupancy cap, nil = unbounded
	CanAssignRoles bool   `db:"can_assign_roles"` // Holders of this role may reassign roles
}

// Required reports whether the role must be filled before a group is
// considered ready to start.
func (r *GroupRole) Required() bool {
	return r.Minimum > 0
}

// GroupRoleWithCount extends GroupRole with the current number of holders in
// one specific group. Produced by RoleRepository.ListWithCounts.
type GroupRoleWithCount struct {
	GroupRole
	Count int `db:"count"` // Current holders of this role in the group
}

// RoleAssignment is an assignment edge joined with user and role identity,
// as returned by RoleRepository.ListAssignments. Ordered by role id then
// user insertion order; the balancer relies on this order.
type RoleAssignment struct {
	UserID      int64  `db:"user_id"`       // Foreign key to users.id
	UID         string `db:"uid"`           // User login identifier
	RoleName    string `db:"role_name"`     // Display name of the assigned role
	GroupRoleID int64  `db:"group_role_id"` // Foreign key to group_roles.id
}

// GroupRoleAssignment is the minimal (user, role) pair used when writing a
// group's full assignment set.
type GroupRoleAssignment struct {
	UserID      int64 `db:"user_id"`       // Assignee
	GroupRoleID int64 `db:"group_role_id"` // Assigned role
}
