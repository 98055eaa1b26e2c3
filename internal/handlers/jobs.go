// Package handlers implements HTTP request handlers for the groupwork API.
// This file exposes background job status for polling.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/jobs"
)

// JobHandler serves background job records.
type JobHandler struct {
	runner *jobs.Runner
	logger *zap.Logger
}

// NewJobHandler creates a new instance of JobHandler.
func NewJobHandler(runner *jobs.Runner, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		runner: runner,
		logger: logger,
	}
}

// GetJob returns one job's status, description, and accumulated log output.
// Clients poll this after starting a bulk operation.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("jobID")
	if jobID == "" {
		return badRequest(c, "Invalid jobID")
	}

	job, err := h.runner.GetJob(c.Context(), jobID)
	if err != nil {
		h.logger.Error("failed to load job", zap.String("job_id", jobID), zap.Error(err))
		return internalError(c)
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Job not found"})
	}

	return c.JSON(fiber.Map{
		"id":          job.ID,
		"type":        job.Type,
		"description": job.Description,
		"status":      job.Status,
		"output":      job.Output,
		"created_at":  job.CreatedAt,
		"finished_at": job.FinishedAt,
	})
}
