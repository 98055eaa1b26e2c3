// Package handlers implements HTTP request handlers for the groupwork API.
// This file handles group self-service (create, join, leave, role updates)
// and the instructor-facing group management endpoints.
package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/jobs"
	"github.com/avissapr/groupwork/internal/middleware"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/avissapr/groupwork/internal/security"
	"github.com/avissapr/groupwork/internal/services"
)

// groupLogPageSize bounds the activity log response.
const groupLogPageSize = 100

// GroupHandler handles group-related HTTP requests.
type GroupHandler struct {
	service     *services.GroupService
	updater     *jobs.GroupUpdater
	groupLogs   *repository.GroupLogRepository
	users       *repository.UserRepository
	assessments *repository.AssessmentRepository
	validator   *security.ValidationService
	secConfig   *security.SecurityConfig
	logger      *zap.Logger
}

// NewGroupHandler creates a new instance of GroupHandler.
func NewGroupHandler(service *services.GroupService, updater *jobs.GroupUpdater, secConfig *security.SecurityConfig, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		service:     service,
		updater:     updater,
		groupLogs:   repository.NewGroupLogRepository(),
		users:       repository.NewUserRepository(),
		assessments: repository.NewAssessmentRepository(),
		validator:   security.NewValidationService(secConfig),
		secConfig:   secConfig,
		logger:      logger,
	}
}

// GetMyGroup returns the caller's group in the assessment: members, size,
// join token, readiness, and role state. A caller with no group gets
// grouped=false plus the assessment's size configuration so the client can
// render the join/create form.
func (h *GroupHandler) GetMyGroup(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	userID := middleware.UserID(c)

	config, err := h.service.GetGroupConfig(c.Context(), assessmentID)
	if err != nil {
		return h.serviceError(c, err)
	}

	groupID, found, err := h.service.GetGroupID(c.Context(), assessmentID, userID)
	if err != nil {
		return h.serviceError(c, err)
	}
	if !found {
		return c.JSON(fiber.Map{
			"grouped":   false,
			"minimum":   config.Minimum,
			"maximum":   config.Maximum,
			"has_roles": config.HasRoles,
		})
	}

	info, err := h.service.GetGroupInfo(c.Context(), groupID, config)
	if err != nil {
		return h.serviceError(c, err)
	}

	resp := fiber.Map{
		"grouped":  true,
		"group_id": groupID,
		"info":     info,
	}
	if config.HasRoles {
		resp["role_names"] = services.RoleNamesForUser(info, middleware.UID(c))
		resp["can_assign_roles"] = services.CanUserAssignRoles(info, userID)
	}
	return c.JSON(resp)
}

type createGroupRequest struct {
	GroupName string   `json:"group_name"`
	UIDs      []string `json:"uids"`
}

// CreateGroup creates a group in the assessment. Students create a group
// containing themselves; instructors may pass an explicit uid list. An
// empty group_name requests a system-generated one.
func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	uids := req.UIDs
	if len(uids) == 0 {
		uids = []string{middleware.UID(c)}
	} else {
		// Only staff may build groups for other users.
		isInstructor, err := h.isInstructor(c.Context(), middleware.UserID(c), assessmentID)
		if err != nil {
			return h.serviceError(c, err)
		}
		if !isInstructor {
			return forbidden(c, "Only instructors may create groups for other users")
		}
	}

	if err := h.service.CreateGroup(c.Context(), req.GroupName, assessmentID, uids, middleware.UserID(c)); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusCreated)
}

type joinGroupRequest struct {
	JoinCode string `json:"join_code"`
}

// JoinGroup adds the caller to the group identified by the submitted join
// token ("<name>-<code>").
func (h *GroupHandler) JoinGroup(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}

	var req joinGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	err := h.service.JoinGroup(c.Context(), req.JoinCode, assessmentID, middleware.UID(c), middleware.UserID(c))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type leaveGroupRequest struct {
	GroupID *int64 `json:"group_id"`
}

// LeaveGroup removes the caller from their group. group_id, when present,
// must match the group the caller is actually in.
func (h *GroupHandler) LeaveGroup(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}

	var req leaveGroupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	userID := middleware.UserID(c)
	err := h.service.LeaveGroup(c.Context(), assessmentID, userID, userID, req.GroupID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateRoles replaces the group's role assignments from submitted form
// data (fields named "user_role_<roleID>-<userID>"). Instructors bypass
// the assigner-role permission check.
func (h *GroupHandler) UpdateRoles(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	groupID, ok := paramID(c, "groupID")
	if !ok {
		return nil
	}
	userID := middleware.UserID(c)

	isInstructor, err := h.isInstructor(c.Context(), userID, assessmentID)
	if err != nil {
		return h.serviceError(c, err)
	}

	form := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		form[string(key)] = string(value)
	})

	err = h.service.UpdateGroupRoles(c.Context(), form, assessmentID, groupID, userID, isInstructor, userID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GroupLog returns a group's audit trail, newest first. Instructor only.
func (h *GroupHandler) GroupLog(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	groupID, ok := paramID(c, "groupID")
	if !ok {
		return nil
	}
	if !h.requireInstructor(c, assessmentID) {
		return nil
	}

	logs, err := h.groupLogs.ListByGroup(c.Context(), database.DB, groupID, groupLogPageSize)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(fiber.Map{"log": logs})
}

// DeleteGroup soft-deletes one group. Instructor only.
func (h *GroupHandler) DeleteGroup(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	groupID, ok := paramID(c, "groupID")
	if !ok {
		return nil
	}
	if !h.requireInstructor(c, assessmentID) {
		return nil
	}

	if err := h.service.DeleteGroup(c.Context(), assessmentID, groupID, middleware.UserID(c)); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteAllGroups soft-deletes every group in the assessment. Instructor only.
func (h *GroupHandler) DeleteAllGroups(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	if !h.requireInstructor(c, assessmentID) {
		return nil
	}

	if err := h.service.DeleteAllGroups(c.Context(), assessmentID, middleware.UserID(c)); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadGroups accepts a multipart CSV roster ("file" field with uid and
// group_name columns) and starts the bulk assignment job. Instructor only.
// Responds 202 with the job id for polling.
func (h *GroupHandler) UploadGroups(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	if !h.requireInstructor(c, assessmentID) {
		return nil
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "A CSV file is required")
	}
	if fileHeader.Size > int64(h.secConfig.MaxUploadSize) {
		return badRequest(c, "The uploaded file is too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open upload", zap.Error(err))
		return internalError(c)
	}
	defer file.Close()

	records, err := jobs.ParseGroupUploadCSV(file)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.validator.ValidateCSVRowCount(len(records)); err != nil {
		return badRequest(c, err.Error())
	}

	jobID, err := h.updater.UploadInstanceGroups(c.Context(), assessmentID, middleware.UserID(c), records)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": jobID})
}

type randomGroupsRequest struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// RandomGroups starts a job assigning every ungrouped student to random
// groups of size between min and max. Instructor only. Responds 202 with
// the job id for polling.
func (h *GroupHandler) RandomGroups(c *fiber.Ctx) error {
	assessmentID, ok := paramID(c, "assessmentID")
	if !ok {
		return nil
	}
	if !h.requireInstructor(c, assessmentID) {
		return nil
	}

	var req randomGroupsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	jobID, err := h.updater.RandomGroups(c.Context(), assessmentID, middleware.UserID(c), req.Min, req.Max)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": jobID})
}

// isInstructor reports whether the user has instructor access to the
// assessment's course instance.
func (h *GroupHandler) isInstructor(ctx context.Context, userID, assessmentID int64) (bool, error) {
	assessment, err := h.assessments.GetByID(ctx, database.DB, assessmentID)
	if err != nil {
		return false, err
	}
	if assessment == nil {
		return false, services.NewStatusError(404, "Assessment not found")
	}
	return h.users.IsInstructor(ctx, database.DB, userID, assessment.CourseInstanceID)
}

// requireInstructor checks instructor access, writing the 403 (or error)
// response itself when the check fails.
func (h *GroupHandler) requireInstructor(c *fiber.Ctx, assessmentID int64) bool {
	isInstructor, err := h.isInstructor(c.Context(), middleware.UserID(c), assessmentID)
	if err != nil {
		_ = h.serviceError(c, err)
		return false
	}
	if !isInstructor {
		_ = forbidden(c, "Instructor access required")
		return false
	}
	return true
}

// serviceError maps service-layer errors onto HTTP responses: domain errors
// become 400s with the message intact, status errors keep their status, and
// everything else is logged and hidden behind a 500.
func (h *GroupHandler) serviceError(c *fiber.Ctx, err error) error {
	if services.IsGroupOperationError(err) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) {
		return c.Status(statusErr.Status).JSON(fiber.Map{"error": statusErr.Message})
	}
	h.logger.Error("request failed",
		zap.String("path", c.Path()),
		zap.Error(err))
	return internalError(c)
}

// paramID parses a positive integer route parameter. On failure it writes
// the 400 response itself and returns ok=false.
func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		_ = badRequest(c, "Invalid "+name)
		return 0, false
	}
	return int64(id), true
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": message})
}
