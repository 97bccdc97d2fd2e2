package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/smpb05/janus-gateway/internal/scheduler"
	"github.com/smpb05/janus-gateway/pkg/response"
)

type JobHandler struct {
	jobs JobService
}

func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Status handles GET /job/:id
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	status, err := h.jobs.Get(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return response.JobNotFound(c, jobID)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, status)
}

// Waiting handles GET /jobs/waiting
func (h *JobHandler) Waiting(c *fiber.Ctx) error {
	ids, err := h.jobs.Waiting(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return response.OK(c, fiber.Map{"jobs": ids})
}
