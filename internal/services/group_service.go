// Package services provides the business logic layer for the groupwork application.
// This file implements the group service: creating, joining, and leaving
// groups, and reassigning roles within them. Every mutating operation runs
// in one transaction and takes decisions only against row-locked state.
package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
)

var (
	groupNamePattern = regexp.MustCompile(`^[0-9a-zA-Z]+$`)

	// System-generated names are "group" plus a counter. Letting users grab
	// names in this shape with a very long number would overflow the counter
	// arithmetic, so those are rejected outright.
	reservedNamePattern = regexp.MustCompile(`^group[0-9]{7,}$`)
)

const maxGroupNameLength = 30

// GroupService coordinates group membership and role assignment.
type GroupService struct {
	groups      *repository.GroupRepository
	roles       *repository.RoleRepository
	users       *repository.UserRepository
	assessments *repository.AssessmentRepository
	logger      *zap.Logger
}

// NewGroupService creates a new GroupService.
func NewGroupService(logger *zap.Logger) *GroupService {
	return &GroupService{
		groups:      repository.NewGroupRepository(),
		roles:       repository.NewRoleRepository(),
		users:       repository.NewUserRepository(),
		assessments: repository.NewAssessmentRepository(),
		logger:      logger,
	}
}

// AddUserToGroupParams identifies the target group and user for AddUserToGroup.
type AddUserToGroupParams struct {
	AssessmentID     int64
	GroupID          int64
	UID              string
	ActingUserID     int64
	EnforceGroupSize bool // false for administrative adds, which may overfill
}

// GetGroupConfig returns the group configuration for an assessment.
// Returns a 404 StatusError when the assessment has no group configuration.
func (s *GroupService) GetGroupConfig(ctx context.Context, assessmentID int64) (*models.GroupConfig, error) {
	config, err := s.groups.GetConfig(ctx, database.DB, assessmentID)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, NewStatusError(404, "Assessment is not configured for group work")
	}
	return config, nil
}

// GetGroupID returns the id of the live group the user belongs to in the
// given assessment, with found=false when the user has no group.
func (s *GroupService) GetGroupID(ctx context.Context, assessmentID, userID int64) (int64, bool, error) {
	return s.groups.GetGroupID(ctx, database.DB, assessmentID, userID)
}

// GetGroupInfo builds the read model for one group: members, size, the
// full join token, readiness to start, and role state when the assessment
// has roles enabled.
func (s *GroupService) GetGroupInfo(ctx context.Context, groupID int64, config *models.GroupConfig) (*GroupInfo, error) {
	return s.groupInfoTx(ctx, database.DB, groupID, config)
}

func (s *GroupService) groupInfoTx(ctx context.Context, q database.DBTX, groupID int64, config *models.GroupConfig) (*GroupInfo, error) {
	members, err := s.groups.GetMembers(ctx, q, groupID)
	if err != nil {
		return nil, err
	}

	info := &GroupInfo{
		GroupMembers: members,
		GroupSize:    len(members),
	}
	if len(members) > 0 {
		info.GroupName = members[0].GroupName
		info.JoinCode = members[0].GroupName + "-" + members[0].JoinCode
	}

	needSize := config.MinimumSize() - len(members)
	info.Start = needSize <= 0

	if config.HasRoles {
		groupRoles, err := s.roles.ListWithCounts(ctx, q, config.AssessmentID, groupID)
		if err != nil {
			return nil, err
		}
		assignments, err := s.roles.ListAssignments(ctx, q, groupID)
		if err != nil {
			return nil, err
		}
		rolesInfo := BuildRolesInfo(members, assignments, groupRoles)
		info.RolesInfo = rolesInfo
		info.Start = info.Start &&
			rolesInfo.RolesAreBalanced &&
			len(rolesInfo.ValidationErrors) == 0 &&
			len(rolesInfo.UsersWithoutRoles) == 0
	}

	return info, nil
}

// AddUserToGroup adds one user to an existing group.
//
// Runs in its own transaction and locks the group row before deciding.
// Domain failures (unknown group, user not enrolled, user already grouped,
// group full) come back as *GroupOperationError.
func (s *GroupService) AddUserToGroup(ctx context.Context, params AddUserToGroupParams) error {
	return database.RunInTransaction(ctx, func(tx database.DBTX) error {
		assessment, err := s.getAssessment(ctx, tx, params.AssessmentID)
		if err != nil {
			return err
		}
		return s.addUserToGroupTx(ctx, tx, assessment, params.GroupID, params.UID, params.ActingUserID, params.EnforceGroupSize)
	})
}

// addUserToGroupTx is the locked core of every membership-adding path.
// The caller must already be inside a transaction; the group row lock taken
// here is what serializes concurrent joins against the size check.
func (s *GroupService) addUserToGroupTx(ctx context.Context, q database.DBTX, assessment *models.Assessment, groupID int64, uid string, authnUserID int64, enforceGroupSize bool) error {
	group, err := s.groups.SelectAndLockByID(ctx, q, groupID, assessment.ID)
	if err != nil {
		return err
	}
	if group == nil {
		return NewGroupOperationError("Group does not exist.")
	}

	user, err := s.resolveEnrolledUser(ctx, q, uid, assessment.CourseInstanceID)
	if err != nil {
		return err
	}
	if user == nil {
		// An unknown uid and a known-but-unenrolled uid are reported the same.
		return NewGroupOperationError("User %s is not enrolled in this course.", uid)
	}

	_, alreadyGrouped, err := s.groups.GetGroupID(ctx, q, assessment.ID, user.ID)
	if err != nil {
		return err
	}
	if alreadyGrouped {
		if user.ID == authnUserID {
			return NewGroupOperationError("You are already in another group.")
		}
		return NewGroupOperationError("User is already in another group.")
	}

	if enforceGroupSize && group.MaxSize != nil && group.CurSize >= *group.MaxSize {
		return NewGroupOperationError("Group is already full.")
	}

	// Pick a role for the new member. If no required role is unfilled,
	// the member joins without a role.
	var roleID *int64
	if group.HasRoles {
		roleID, err = s.roles.SelectSuitableRole(ctx, q, assessment.ID, group.ID)
		if err != nil {
			return err
		}
	}

	err = s.groups.InsertMember(ctx, q, group.ID, user.ID, group.GroupConfigID, roleID, authnUserID)
	if database.IsUniqueViolation(err, "unique_group_user") {
		// A concurrent join against a different group passed the check
		// above; the membership index caught it.
		if user.ID == authnUserID {
			return NewGroupOperationError("You are already in another group.")
		}
		return NewGroupOperationError("User is already in another group.")
	}
	return err
}

// resolveEnrolledUser looks up a user by uid and checks they may be part of
// a group in the course instance: either actively enrolled as a student or
// an instructor. Returns nil for both an unknown uid and an ineligible one.
func (s *GroupService) resolveEnrolledUser(ctx context.Context, q database.DBTX, uid string, courseInstanceID int64) (*models.User, error) {
	user, err := s.users.FindByUID(ctx, q, uid)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	isInstructor, err := s.users.IsInstructor(ctx, q, user.ID, courseInstanceID)
	if err != nil {
		return nil, err
	}
	if isInstructor {
		return user, nil
	}

	enrolled, err := s.users.HasActiveEnrollment(ctx, q, user.ID, courseInstanceID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, nil
	}
	return user, nil
}

// JoinGroup adds the user to the group identified by the full join token
// "<name>-<code>". The code comparison is case-insensitive; the name is not.
// Size limits are always enforced on this path.
func (s *GroupService) JoinGroup(ctx context.Context, fullJoinCode string, assessmentID int64, uid string, actingUserID int64) error {
	parts := strings.Split(fullJoinCode, "-")
	if len(parts) != 2 || len(parts[1]) != 4 {
		return NewGroupOperationError("The join code has an incorrect format")
	}
	groupName := parts[0]
	joinCode := strings.ToUpper(parts[1])

	err := database.RunInTransaction(ctx, func(tx database.DBTX) error {
		assessment, err := s.getAssessment(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		group, err := s.groups.SelectAndLockByName(ctx, tx, assessmentID, groupName)
		if err != nil {
			return err
		}
		if group == nil || group.JoinCode != joinCode {
			// A wrong code and a wrong name are indistinguishable to the caller.
			return NewGroupOperationError("Group does not exist.")
		}
		return s.addUserToGroupTx(ctx, tx, assessment, group.ID, uid, actingUserID, true)
	})
	if IsGroupOperationError(err) {
		return NewGroupOperationError("Cannot join group %q: %s", fullJoinCode, err.Error())
	}
	return err
}

// CreateGroup creates a group and adds the given users to it, with size
// enforcement disabled. An empty groupName requests a system-generated one.
//
// Per-user failures inside the member loop are expected (a uid may not be
// enrolled, or already grouped) and do not abort the transaction: the group
// commits with whichever members succeeded, and the failures come back as
// one aggregated *GroupOperationError. The transaction rolls back only when
// the name is taken, no member at all could be added, or an unexpected
// error occurs.
func (s *GroupService) CreateGroup(ctx context.Context, groupName string, assessmentID int64, uids []string, actingUserID int64) error {
	if err := validateGroupName(groupName); err != nil {
		return err
	}
	if len(uids) == 0 {
		return NewGroupOperationError("There must be at least one user in the group.")
	}

	var memberErrors []string
	err := database.RunInTransaction(ctx, func(tx database.DBTX) error {
		assessment, err := s.getAssessment(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		config, err := s.groups.GetConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if config == nil {
			return NewStatusError(404, "Assessment is not configured for group work")
		}
		memberErrors, err = s.createGroupTx(ctx, tx, assessment, config, groupName, uids, actingUserID)
		return err
	})
	if IsGroupOperationError(err) {
		if groupName != "" {
			return NewGroupOperationError("Failed to create the group %s. %s", groupName, err.Error())
		}
		return NewGroupOperationError("Failed to create a group for: %s. %s", strings.Join(uids, ", "), err.Error())
	}
	if err != nil {
		return err
	}
	if len(memberErrors) > 0 {
		s.logger.Warn("group created with member failures",
			zap.String("group_name", groupName),
			zap.Int("failed", len(memberErrors)))
		return NewGroupOperationError("Some users could not be added to the group: %s", strings.Join(memberErrors, "; "))
	}
	return nil
}

// createGroupTx inserts the group row and adds each uid with size
// enforcement disabled. Expected per-user failures are collected and
// returned; any other error aborts. If every uid fails the whole creation
// aborts, so an empty group is never committed.
func (s *GroupService) createGroupTx(ctx context.Context, q database.DBTX, assessment *models.Assessment, config *models.GroupConfig, groupName string, uids []string, authnUserID int64) ([]string, error) {
	if groupName == "" {
		var err error
		groupName, err = s.groups.NextSystemName(ctx, q, assessment.ID)
		if err != nil {
			return nil, err
		}
	}

	joinCode, err := newJoinCode()
	if err != nil {
		return nil, err
	}

	group, err := s.groups.Create(ctx, q, config.ID, assessment.ID, groupName, joinCode, authnUserID)
	if err != nil {
		if database.IsUniqueViolation(err, "unique_group_name") {
			return nil, NewGroupOperationError("Group name is already taken.")
		}
		return nil, err
	}

	var memberErrors []string
	for _, uid := range uids {
		err := s.addUserToGroupTx(ctx, q, assessment, group.ID, uid, authnUserID, false)
		if err == nil {
			continue
		}
		if !IsGroupOperationError(err) {
			return nil, err
		}
		memberErrors = append(memberErrors, err.Error())
	}
	if len(memberErrors) == len(uids) {
		return nil, NewGroupOperationError("None of the requested users could be added to the group: %s", strings.Join(memberErrors, "; "))
	}
	return memberErrors, nil
}

// CreateOrAddToGroupTx looks up a live group by name inside the caller's
// transaction, creating it when absent, and adds each uid to it with size
// enforcement disabled. Used by the bulk upload path, which already holds
// the assessment-wide lock.
func (s *GroupService) CreateOrAddToGroupTx(ctx context.Context, q database.DBTX, assessment *models.Assessment, config *models.GroupConfig, groupName string, uids []string, authnUserID int64) error {
	if err := validateGroupName(groupName); err != nil {
		return err
	}

	group, err := s.groups.SelectAndLockByName(ctx, q, assessment.ID, groupName)
	if err != nil {
		return err
	}
	if group == nil {
		_, err := s.createGroupTx(ctx, q, assessment, config, groupName, uids, authnUserID)
		return err
	}
	for _, uid := range uids {
		if err := s.addUserToGroupTx(ctx, q, assessment, group.ID, uid, authnUserID, false); err != nil {
			return err
		}
	}
	return nil
}

// CreateGroupTx creates a group with a system-generated name inside the
// caller's transaction. Used by the random-grouping bulk path.
func (s *GroupService) CreateGroupTx(ctx context.Context, q database.DBTX, assessment *models.Assessment, config *models.GroupConfig, uids []string, authnUserID int64) error {
	_, err := s.createGroupTx(ctx, q, assessment, config, "", uids, authnUserID)
	return err
}

// LeaveGroup removes the user from their group in the assessment.
//
// When roles are enabled and other members remain, the leaver's required
// roles are reassigned first (see RoleReassignmentsAfterLeave), and
// optional roles are stripped once the shrunken group is at or below the
// size needed to fill required roles.
//
// expectedGroupID, when non-nil, must match the group the user is actually
// in; a mismatch is a 403. A user with no group at all is a 404. Both come
// back as *StatusError.
func (s *GroupService) LeaveGroup(ctx context.Context, assessmentID, userID, authnUserID int64, expectedGroupID *int64) error {
	return database.RunInTransaction(ctx, func(tx database.DBTX) error {
		groupID, found, err := s.groups.GetGroupID(ctx, tx, assessmentID, userID)
		if err != nil {
			return err
		}
		if !found {
			return NewStatusError(404, "User is not part of a group in this assessment")
		}
		if expectedGroupID != nil && *expectedGroupID != groupID {
			return NewStatusError(403, "Group ID does not match the user ID and assessment ID provided")
		}

		config, err := s.groups.GetConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if config == nil {
			return NewStatusError(404, "Assessment is not configured for group work")
		}

		// Lock the row so the reassignment plan and the removal see the
		// same membership as any concurrent join.
		group, err := s.groups.SelectAndLockByID(ctx, tx, groupID, assessmentID)
		if err != nil {
			return err
		}
		if group == nil {
			return NewStatusError(404, "User is not part of a group in this assessment")
		}

		if config.HasRoles {
			info, err := s.groupInfoTx(ctx, tx, groupID, config)
			if err != nil {
				return err
			}
			if info.GroupSize > 1 {
				updates := RoleReassignmentsAfterLeave(info, userID)
				if err := s.roles.ReplaceAssignments(ctx, tx, groupID, updates); err != nil {
					return err
				}

				minRolesToFill := 0
				for _, role := range info.RolesInfo.GroupRoles {
					minRolesToFill += role.Minimum
				}
				if info.GroupSize-1 <= minRolesToFill {
					if err := s.roles.DeleteNonRequired(ctx, tx, groupID, assessmentID); err != nil {
						return err
					}
				}
			}
		}

		return s.groups.DeleteMember(ctx, tx, groupID, userID, authnUserID)
	})
}

// UpdateGroupRoles replaces the group's full role assignment set from form
// data. Keys of the form "user_role_<roleID>-<userID>" select the desired
// assignments; all other keys are ignored.
//
// The requesting user must hold an assigner-capable role unless no member
// does, or hasStaffOverride is set. If the submitted set leaves no one with
// an assigner role, the first assigner role is granted to the requesting
// user, or to the group's first member when the requester is not a member
// (the staff case).
func (s *GroupService) UpdateGroupRoles(ctx context.Context, form map[string]string, assessmentID, groupID, userID int64, hasStaffOverride bool, authnUserID int64) error {
	return database.RunInTransaction(ctx, func(tx database.DBTX) error {
		config, err := s.groups.GetConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if config == nil {
			return NewStatusError(404, "Assessment is not configured for group work")
		}

		group, err := s.groups.SelectAndLockByID(ctx, tx, groupID, assessmentID)
		if err != nil {
			return err
		}
		if group == nil {
			return NewStatusError(404, "Group does not exist.")
		}

		info, err := s.groupInfoTx(ctx, tx, groupID, config)
		if err != nil {
			return err
		}

		if !hasStaffOverride && !CanUserAssignRoles(info, userID) {
			return NewStatusError(403, "User does not have permission to assign roles")
		}

		members := make(map[int64]bool, len(info.GroupMembers))
		for _, m := range info.GroupMembers {
			members[m.UserID] = true
		}
		validRoles := make(map[int64]bool)
		var assignerRoleIDs []int64
		if info.RolesInfo != nil {
			for _, role := range info.RolesInfo.GroupRoles {
				validRoles[role.ID] = true
				if role.CanAssignRoles {
					assignerRoleIDs = append(assignerRoleIDs, role.ID)
				}
			}
		}

		// Map iteration order is random; sort the keys so the stored
		// assignment order is stable for identical submissions.
		keys := make([]string, 0, len(form))
		for key := range form {
			if strings.HasPrefix(key, "user_role_") {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		var assignments []models.GroupRoleAssignment
		for _, key := range keys {
			roleID, memberID, err := parseRoleFormKey(key)
			if err != nil {
				return err
			}
			if !members[memberID] {
				return NewStatusError(403, "User %d is not a member of this group", memberID)
			}
			if !validRoles[roleID] {
				return NewStatusError(403, "Role %d does not exist for this assessment", roleID)
			}
			assignments = append(assignments, models.GroupRoleAssignment{UserID: memberID, GroupRoleID: roleID})
		}

		// Never leave the group without an assigner: if the submitted set
		// grants no assigner role, give the first one to the requester, or
		// to the first member when the requester is staff.
		assignerFound := false
		for _, a := range assignments {
			for _, id := range assignerRoleIDs {
				if a.GroupRoleID == id {
					assignerFound = true
				}
			}
		}
		if !assignerFound && len(assignerRoleIDs) > 0 {
			assignee := userID
			if !members[assignee] && len(info.GroupMembers) > 0 {
				assignee = info.GroupMembers[0].UserID
			}
			if members[assignee] {
				assignments = append(assignments, models.GroupRoleAssignment{UserID: assignee, GroupRoleID: assignerRoleIDs[0]})
			}
		}

		return s.roles.ReplaceAssignments(ctx, tx, groupID, assignments)
	})
}

// DeleteGroup soft-deletes a group and clears its memberships.
// Returns a 404 StatusError when the group does not exist or is already
// deleted.
func (s *GroupService) DeleteGroup(ctx context.Context, assessmentID, groupID, authnUserID int64) error {
	return database.RunInTransaction(ctx, func(tx database.DBTX) error {
		found, err := s.groups.SoftDelete(ctx, tx, assessmentID, groupID, authnUserID)
		if err != nil {
			return err
		}
		if !found {
			return NewStatusError(404, "Group does not exist.")
		}
		return nil
	})
}

// DeleteAllGroups soft-deletes every live group in the assessment.
func (s *GroupService) DeleteAllGroups(ctx context.Context, assessmentID, authnUserID int64) error {
	return database.RunInTransaction(ctx, func(tx database.DBTX) error {
		return s.groups.SoftDeleteAll(ctx, tx, assessmentID, authnUserID)
	})
}

func (s *GroupService) getAssessment(ctx context.Context, q database.DBTX, assessmentID int64) (*models.Assessment, error) {
	assessment, err := s.assessments.GetByID(ctx, q, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, NewStatusError(404, "Assessment not found")
	}
	return assessment, nil
}

// validateGroupName checks a user-supplied group name. The empty string is
// allowed and means "generate a system name".
func validateGroupName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > maxGroupNameLength {
		return NewGroupOperationError("The group name is too long. Use at most 30 alphanumerical characters.")
	}
	if !groupNamePattern.MatchString(name) {
		return NewGroupOperationError("The group name is invalid. Only alphanumerical characters (letters and digits) are allowed.")
	}
	if reservedNamePattern.MatchString(name) {
		return NewGroupOperationError(`User-specified group names cannot start with "group" followed by a large number.`)
	}
	return nil
}

// parseRoleFormKey extracts the role and user ids from a form key of the
// shape "user_role_<roleID>-<userID>".
func parseRoleFormKey(key string) (roleID, userID int64, err error) {
	parts := strings.Split(strings.TrimPrefix(key, "user_role_"), "-")
	if len(parts) != 2 {
		return 0, 0, NewStatusError(400, "Malformed role assignment field: %s", key)
	}
	roleID, err = strconv.ParseInt(parts[0], 10, 64)
	if err == nil {
		userID, err = strconv.ParseInt(parts[1], 10, 64)
	}
	if err != nil {
		return 0, 0, NewStatusError(400, "Malformed role assignment field: %s", key)
	}
	return roleID, userID, nil
}

// joinCodeAlphabet is the character set for join codes. Codes are compared
// after uppercasing, so the alphabet carries no lowercase letters.
const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newJoinCode generates the 4-character uppercase code appended to the
// group name to form the full join token.
func newJoinCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}
