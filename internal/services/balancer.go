// Package services provides the business logic layer for the groupwork application.
// This file implements the role balancer: pure computations over an
// in-memory snapshot of a group's members and role assignments. No I/O
// happens here, so these functions are safe to call without holding any
// lock when only validating state.
package services

import "github.com/avissapr/groupwork/internal/models"

// RolesInfo describes the role state of one group: who holds what, which
// roles violate their occupancy bounds, and whether every member holds
// exactly one role.
type RolesInfo struct {
	RoleAssignments   map[string][]models.RoleAssignment `json:"roleAssignments"`   // keyed by member uid
	GroupRoles        []models.GroupRoleWithCount        `json:"groupRoles"`        // all roles with current counts
	ValidationErrors  []models.GroupRoleWithCount        `json:"validationErrors"`  // roles outside [minimum, maximum]
	DisabledRoles     []string                           `json:"disabledRoles"`     // optional roles hidden at small group sizes
	RolesAreBalanced  bool                               `json:"rolesAreBalanced"`  // every member holds exactly one role
	UsersWithoutRoles []models.GroupMember               `json:"usersWithoutRoles"` // members with no role at all

	// ordered keeps the assignment rows in repository order. Reassignment
	// plans iterate this slice, never the map, so plans are deterministic.
	ordered []models.RoleAssignment
}

// GroupInfo is the read model for one group, including role state when the
// assessment has roles enabled.
type GroupInfo struct {
	GroupMembers []models.GroupMember `json:"groupMembers"`
	GroupSize    int                  `json:"groupSize"`
	GroupName    string               `json:"groupName"`
	JoinCode     string               `json:"joinCode"` // full join token, "<name>-<code>"
	Start        bool                 `json:"start"`    // group is ready to start the assessment
	RolesInfo    *RolesInfo           `json:"rolesInfo,omitempty"`
}

// BuildRolesInfo computes the role state of a group from a snapshot of its
// members, assignment rows, and role definitions with counts.
//
// Rules:
//   - A role is a validation error when its count is below a nonzero
//     minimum or above its maximum.
//   - Optional (minimum-0) roles are disabled once the group size is at or
//     below the sum of required-role minimums: adding optional-role holders
//     can never help such a group become ready.
//   - Roles are balanced when every member holds exactly one role, or the
//     group is still too small to fill all required roles.
func BuildRolesInfo(members []models.GroupMember, assignments []models.RoleAssignment, groupRoles []models.GroupRoleWithCount) *RolesInfo {
	roleAssignments := make(map[string][]models.RoleAssignment)
	for _, a := range assignments {
		roleAssignments[a.UID] = append(roleAssignments[a.UID], a)
	}

	var validationErrors []models.GroupRoleWithCount
	for _, role := range groupRoles {
		if (role.Required() && role.Count < role.Minimum) ||
			(role.Maximum != nil && role.Count > *role.Maximum) {
			validationErrors = append(validationErrors, role)
		}
	}

	minimumRolesToFill := 0
	var optionalRoleNames []string
	for _, role := range groupRoles {
		minimumRolesToFill += role.Minimum
		if !role.Required() {
			optionalRoleNames = append(optionalRoleNames, role.RoleName)
		}
	}
	var disabledRoles []string
	if len(members) <= minimumRolesToFill {
		disabledRoles = optionalRoleNames
	}

	rolesAreBalanced := true
	if len(members) >= minimumRolesToFill {
		for _, roles := range roleAssignments {
			if len(roles) != 1 {
				rolesAreBalanced = false
				break
			}
		}
	}

	var usersWithoutRoles []models.GroupMember
	for _, member := range members {
		if _, ok := roleAssignments[member.UID]; !ok {
			usersWithoutRoles = append(usersWithoutRoles, member)
		}
	}

	return &RolesInfo{
		RoleAssignments:   roleAssignments,
		GroupRoles:        groupRoles,
		ValidationErrors:  validationErrors,
		DisabledRoles:     disabledRoles,
		RolesAreBalanced:  rolesAreBalanced,
		UsersWithoutRoles: usersWithoutRoles,
		ordered:           assignments,
	}
}

// RoleReassignmentsAfterLeave computes the full assignment set a group
// should have after the given member leaves. A greedy, single-pass
// heuristic: for each required role the leaver held whose fill count would
// drop below its minimum, try in order
//
//  1. a remaining member who holds no role,
//  2. a remaining member holding an optional role, replacing it,
//  3. a remaining member who does not already hold this specific role
//     (taking it as an additional role).
//
// If no candidate exists the role stays unfilled for this cycle; the next
// validation pass reports it. Ties break by member insertion order. There
// is no backtracking, so the result can be suboptimal; that is accepted
// behavior, not a bug.
func RoleReassignmentsAfterLeave(info *GroupInfo, leavingUserID int64) []models.GroupRoleAssignment {
	if info.RolesInfo == nil {
		return nil
	}
	rolesInfo := info.RolesInfo

	leavingRoleIDs := make(map[int64]bool)
	for _, a := range rolesInfo.ordered {
		if a.UserID == leavingUserID {
			leavingRoleIDs[a.GroupRoleID] = true
		}
	}

	var roleIDsToReassign []int64
	for _, role := range rolesInfo.GroupRoles {
		if role.Required() && role.Count <= role.Minimum && leavingRoleIDs[role.ID] {
			roleIDsToReassign = append(roleIDsToReassign, role.ID)
		}
	}

	roleMinimum := make(map[int64]int)
	for _, role := range rolesInfo.GroupRoles {
		roleMinimum[role.ID] = role.Minimum
	}

	// Start from the existing assignments minus the leaving user's entries.
	updates := make([]models.GroupRoleAssignment, 0, len(rolesInfo.ordered))
	for _, a := range rolesInfo.ordered {
		if a.UserID != leavingUserID {
			updates = append(updates, models.GroupRoleAssignment{UserID: a.UserID, GroupRoleID: a.GroupRoleID})
		}
	}

	hasAnyRole := func(userID int64) bool {
		for _, u := range updates {
			if u.UserID == userID {
				return true
			}
		}
		return false
	}
	hasRole := func(userID, roleID int64) bool {
		for _, u := range updates {
			if u.UserID == userID && u.GroupRoleID == roleID {
				return true
			}
		}
		return false
	}

	for _, roleID := range roleIDsToReassign {
		// First, try to give the role to a member with no roles.
		assigned := false
		for _, m := range info.GroupMembers {
			if m.UserID != leavingUserID && !hasAnyRole(m.UserID) {
				updates = append(updates, models.GroupRoleAssignment{UserID: m.UserID, GroupRoleID: roleID})
				assigned = true
				break
			}
		}
		if assigned {
			continue
		}

		// Next, try to find a member with a non-required role and replace it.
		replaced := false
		for i := range updates {
			if roleMinimum[updates[i].GroupRoleID] == 0 {
				updates[i].GroupRoleID = roleID
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}

		// Finally, give the role to a member that doesn't already have it.
		for _, m := range info.GroupMembers {
			if m.UserID != leavingUserID && !hasRole(m.UserID, roleID) {
				updates = append(updates, models.GroupRoleAssignment{UserID: m.UserID, GroupRoleID: roleID})
				break
			}
		}
	}

	return updates
}

// CanUserAssignRoles reports whether the user may reassign the group's
// roles. If no current member holds an assigner-capable role, anyone in the
// group may assign; otherwise only holders of an assigner role may.
func CanUserAssignRoles(info *GroupInfo, userID int64) bool {
	if info.RolesInfo == nil {
		return false
	}

	assignerRoles := make(map[int64]bool)
	for _, role := range info.RolesInfo.GroupRoles {
		if role.CanAssignRoles {
			assignerRoles[role.ID] = true
		}
	}

	foundAssigner := false
	for _, a := range info.RolesInfo.ordered {
		if assignerRoles[a.GroupRoleID] {
			foundAssigner = true
			if a.UserID == userID {
				return true
			}
		}
	}
	// With no assigner among current members, any member may assign.
	return !foundAssigner
}

// RoleNamesForUser returns the role names a member currently holds, or
// ["None"] for a member with no role. Used for display.
func RoleNamesForUser(info *GroupInfo, uid string) []string {
	if info.RolesInfo == nil {
		return []string{"None"}
	}
	assignments, ok := info.RolesInfo.RoleAssignments[uid]
	if !ok || len(assignments) == 0 {
		return []string{"None"}
	}
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
	}
	return names
}
