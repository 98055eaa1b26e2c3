// Package services_test provides unit tests for the business logic layer.
// Balancer tests exercise the pure role computations with in-memory
// fixtures; no database mocking is needed here.
package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/services"
)

// Role fixture ids shared across balancer tests. Manager is the assigner
// role; Contributor is the only optional role.
const (
	managerRoleID     = int64(1)
	recorderRoleID    = int64(2)
	reflectorRoleID   = int64(3)
	contributorRoleID = int64(4)
)

func makeRole(id int64, name string, minimum int, maximum *int, canAssign bool, count int) models.GroupRoleWithCount {
	return models.GroupRoleWithCount{
		GroupRole: models.GroupRole{
			ID:             id,
			AssessmentID:   42,
			RoleName:       name,
			Minimum:        minimum,
			Maximum:        maximum,
			CanAssignRoles: canAssign,
		},
		Count: count,
	}
}

func makeMember(userID int64, uid string) models.GroupMember {
	return models.GroupMember{UserID: userID, UID: uid, GroupName: "alpha", JoinCode: "AB12"}
}

func makeAssignment(userID int64, uid string, roleID int64, roleName string) models.RoleAssignment {
	return models.RoleAssignment{UserID: userID, UID: uid, RoleName: roleName, GroupRoleID: roleID}
}

// TestBuildRolesInfo_ValidationErrors verifies that roles below a nonzero
// minimum or above their maximum are reported, and satisfied roles are not.
func TestBuildRolesInfo_ValidationErrors(t *testing.T) {
	maxOne := 1
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
		makeMember(3, "carol@example.com"),
	}
	// Manager is over its maximum, Recorder is unfilled, Reflector is fine.
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(2, "bob@example.com", managerRoleID, "Manager"),
		makeAssignment(3, "carol@example.com", reflectorRoleID, "Reflector"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, &maxOne, true, 2),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 0),
		makeRole(reflectorRoleID, "Reflector", 1, nil, false, 1),
	}

	info := services.BuildRolesInfo(members, assignments, groupRoles)

	require.Len(t, info.ValidationErrors, 2)
	assert.Equal(t, "Manager", info.ValidationErrors[0].RoleName)
	assert.Equal(t, "Recorder", info.ValidationErrors[1].RoleName)
}

// TestBuildRolesInfo_DisabledRoles verifies that optional roles are disabled
// once the group size is at or below the sum of required-role minimums, and
// enabled again for larger groups.
func TestBuildRolesInfo_DisabledRoles(t *testing.T) {
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
		makeRole(reflectorRoleID, "Reflector", 1, nil, false, 1),
		makeRole(contributorRoleID, "Contributor", 0, nil, false, 0),
	}

	tests := []struct {
		name         string
		memberCount  int
		wantDisabled []string
	}{
		{name: "at the required minimum", memberCount: 3, wantDisabled: []string{"Contributor"}},
		{name: "above the required minimum", memberCount: 4, wantDisabled: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := make([]models.GroupMember, 0, tt.memberCount)
			for i := 0; i < tt.memberCount; i++ {
				members = append(members, makeMember(int64(i+1), "u@example.com"))
			}

			info := services.BuildRolesInfo(members, nil, groupRoles)

			assert.Equal(t, tt.wantDisabled, info.DisabledRoles)
		})
	}
}

// TestBuildRolesInfo_Balance verifies the exactly-one-role-per-member rule,
// including the exemption for groups still too small to fill every required
// role.
func TestBuildRolesInfo_Balance(t *testing.T) {
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
		makeRole(reflectorRoleID, "Reflector", 1, nil, false, 0),
	}

	t.Run("member with two roles is unbalanced", func(t *testing.T) {
		members := []models.GroupMember{
			makeMember(1, "alice@example.com"),
			makeMember(2, "bob@example.com"),
			makeMember(3, "carol@example.com"),
		}
		assignments := []models.RoleAssignment{
			makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
			makeAssignment(1, "alice@example.com", recorderRoleID, "Recorder"),
		}

		info := services.BuildRolesInfo(members, assignments, groupRoles)

		assert.False(t, info.RolesAreBalanced)
	})

	t.Run("undersized group is not penalized", func(t *testing.T) {
		members := []models.GroupMember{makeMember(1, "alice@example.com")}
		assignments := []models.RoleAssignment{
			makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
			makeAssignment(1, "alice@example.com", recorderRoleID, "Recorder"),
		}

		info := services.BuildRolesInfo(members, assignments, groupRoles)

		assert.True(t, info.RolesAreBalanced, "Doubled-up roles are expected while the group is too small")
	})

	t.Run("one role each is balanced", func(t *testing.T) {
		members := []models.GroupMember{
			makeMember(1, "alice@example.com"),
			makeMember(2, "bob@example.com"),
			makeMember(3, "carol@example.com"),
		}
		assignments := []models.RoleAssignment{
			makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
			makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
			makeAssignment(3, "carol@example.com", reflectorRoleID, "Reflector"),
		}

		info := services.BuildRolesInfo(members, assignments, groupRoles)

		assert.True(t, info.RolesAreBalanced)
		assert.Empty(t, info.UsersWithoutRoles)
	})
}

// TestBuildRolesInfo_UsersWithoutRoles verifies detection of members holding
// no role at all.
func TestBuildRolesInfo_UsersWithoutRoles(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
	}

	info := services.BuildRolesInfo(members, assignments, groupRoles)

	require.Len(t, info.UsersWithoutRoles, 1)
	assert.Equal(t, "bob@example.com", info.UsersWithoutRoles[0].UID)
}

// TestRoleReassignmentsAfterLeave_ToMemberWithoutRole verifies that a
// required role freed by a leaver goes to a remaining member who holds no
// role, the first and cheapest option.
func TestRoleReassignmentsAfterLeave_ToMemberWithoutRole(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
		makeMember(3, "carol@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
		makeRole(contributorRoleID, "Contributor", 0, nil, false, 0),
	}

	info := &services.GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
		RolesInfo:    services.BuildRolesInfo(members, assignments, groupRoles),
	}

	// Bob, the Recorder, leaves. Carol holds nothing and inherits the role.
	updates := services.RoleReassignmentsAfterLeave(info, 2)

	assert.Equal(t, []models.GroupRoleAssignment{
		{UserID: 1, GroupRoleID: managerRoleID},
		{UserID: 3, GroupRoleID: recorderRoleID},
	}, updates)
}

// TestRoleReassignmentsAfterLeave_ReplacesOptionalRole verifies that when no
// member is free, a required role overwrites an optional-role assignment.
func TestRoleReassignmentsAfterLeave_ReplacesOptionalRole(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
		makeMember(3, "carol@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
		makeAssignment(3, "carol@example.com", contributorRoleID, "Contributor"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
		makeRole(contributorRoleID, "Contributor", 0, nil, false, 1),
	}

	info := &services.GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
		RolesInfo:    services.BuildRolesInfo(members, assignments, groupRoles),
	}

	// Bob leaves; Carol's optional Contributor slot becomes Recorder.
	updates := services.RoleReassignmentsAfterLeave(info, 2)

	assert.Equal(t, []models.GroupRoleAssignment{
		{UserID: 1, GroupRoleID: managerRoleID},
		{UserID: 3, GroupRoleID: recorderRoleID},
	}, updates)
}

// TestRoleReassignmentsAfterLeave_AdditionalRole verifies the last resort:
// a remaining member takes the freed role on top of their existing one.
func TestRoleReassignmentsAfterLeave_AdditionalRole(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
	}

	info := &services.GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
		RolesInfo:    services.BuildRolesInfo(members, assignments, groupRoles),
	}

	updates := services.RoleReassignmentsAfterLeave(info, 2)

	assert.Equal(t, []models.GroupRoleAssignment{
		{UserID: 1, GroupRoleID: managerRoleID},
		{UserID: 1, GroupRoleID: recorderRoleID},
	}, updates)
}

// TestRoleReassignmentsAfterLeave_OptionalRoleNotReassigned verifies that an
// optional role held by the leaver is simply dropped.
func TestRoleReassignmentsAfterLeave_OptionalRoleNotReassigned(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
		makeMember(3, "carol@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
		makeAssignment(3, "carol@example.com", contributorRoleID, "Contributor"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
		makeRole(contributorRoleID, "Contributor", 0, nil, false, 1),
	}

	info := &services.GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
		RolesInfo:    services.BuildRolesInfo(members, assignments, groupRoles),
	}

	// Carol held only the optional Contributor role.
	updates := services.RoleReassignmentsAfterLeave(info, 3)

	assert.Equal(t, []models.GroupRoleAssignment{
		{UserID: 1, GroupRoleID: managerRoleID},
		{UserID: 2, GroupRoleID: recorderRoleID},
	}, updates)
}

// TestCanUserAssignRoles covers the assigner-role permission rules,
// including the fallback when no current member holds an assigner role.
func TestCanUserAssignRoles(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
	}

	tests := []struct {
		name        string
		assignments []models.RoleAssignment
		userID      int64
		want        bool
	}{
		{
			name: "assigner role holder may assign",
			assignments: []models.RoleAssignment{
				makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
				makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
			},
			userID: 1,
			want:   true,
		},
		{
			name: "non-holder may not assign while an assigner exists",
			assignments: []models.RoleAssignment{
				makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
				makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
			},
			userID: 2,
			want:   false,
		},
		{
			name: "anyone may assign when no assigner is present",
			assignments: []models.RoleAssignment{
				makeAssignment(2, "bob@example.com", recorderRoleID, "Recorder"),
			},
			userID: 2,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &services.GroupInfo{
				GroupMembers: members,
				GroupSize:    len(members),
				RolesInfo:    services.BuildRolesInfo(members, tt.assignments, groupRoles),
			}

			assert.Equal(t, tt.want, services.CanUserAssignRoles(info, tt.userID))
		})
	}
}

// TestCanUserAssignRoles_NoRolesInfo verifies that assignment is never
// allowed when the assessment has no role subsystem.
func TestCanUserAssignRoles_NoRolesInfo(t *testing.T) {
	info := &services.GroupInfo{GroupMembers: []models.GroupMember{makeMember(1, "alice@example.com")}}

	assert.False(t, services.CanUserAssignRoles(info, 1))
}

// TestRoleNamesForUser verifies role names used for display, with the "None"
// placeholder for role-less members.
func TestRoleNamesForUser(t *testing.T) {
	members := []models.GroupMember{
		makeMember(1, "alice@example.com"),
		makeMember(2, "bob@example.com"),
	}
	assignments := []models.RoleAssignment{
		makeAssignment(1, "alice@example.com", managerRoleID, "Manager"),
		makeAssignment(1, "alice@example.com", recorderRoleID, "Recorder"),
	}
	groupRoles := []models.GroupRoleWithCount{
		makeRole(managerRoleID, "Manager", 1, nil, true, 1),
		makeRole(recorderRoleID, "Recorder", 1, nil, false, 1),
	}

	info := &services.GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
		RolesInfo:    services.BuildRolesInfo(members, assignments, groupRoles),
	}

	assert.Equal(t, []string{"Manager", "Recorder"}, services.RoleNamesForUser(info, "alice@example.com"))
	assert.Equal(t, []string{"None"}, services.RoleNamesForUser(info, "bob@example.com"))
}
