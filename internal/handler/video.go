package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/model"
	"github.com/smpb05/janus-gateway/pkg/response"
)

// JobService is the queue the handlers submit to and query.
type JobService interface {
	Submit(ctx context.Context, req model.JobRequest, priority int) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.JobStatus, error)
	Waiting(ctx context.Context) ([]string, error)
}

type VideoHandler struct {
	jobs      JobService
	store     *fragment.Store
	validator *validator.Validate
	logger    *slog.Logger
}

func NewVideoHandler(jobs JobService, store *fragment.Store, v *validator.Validate, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{
		jobs:      jobs,
		store:     store,
		validator: v,
		logger:    logger,
	}
}

// Convert handles GET /videos/:id?priority=N
func (h *VideoHandler) Convert(c *fiber.Ctx) error {
	req := model.SubmitRequest{
		Room:     c.Params("id"),
		Priority: c.QueryInt("priority", 0),
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	fragments, err := h.store.List(req.Room, fragment.KindOriginal)
	if err != nil {
		if errors.Is(err, fragment.ErrRoomNotFound) {
			return response.RoomNotFound(c, req.Room)
		}
		return response.ServiceError(c, err.Error())
	}

	names := make([]string, 0, len(fragments))
	for _, f := range fragments {
		names = append(names, f.Filename)
	}

	job, err := h.jobs.Submit(c.UserContext(), model.JobRequest{Room: req.Room, Fragments: names}, req.Priority)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("conversion requested", "room", req.Room, "priority", req.Priority, "job_id", job.ID, "fragments", len(names))
	return response.Accepted(c, model.SubmitResponse{JobID: job.ID, State: job.State})
}

// Processed handles GET /videos/:id/processed
func (h *VideoHandler) Processed(c *fiber.Ctx) error {
	room := c.Params("id")
	files, err := h.store.ProcessedFiles(room)
	if err != nil {
		return h.roomError(c, room, err)
	}
	return response.OK(c, files)
}

// Mixed handles GET /videos/:id/mixed
func (h *VideoHandler) Mixed(c *fiber.Ctx) error {
	room := c.Params("id")
	files, err := h.store.List(room, fragment.KindMixed)
	if err != nil {
		return h.roomError(c, room, err)
	}
	if files == nil {
		files = []model.Fragment{}
	}
	return response.OK(c, files)
}

func (h *VideoHandler) roomError(c *fiber.Ctx, room string, err error) error {
	if errors.Is(err, fragment.ErrRoomNotFound) {
		return response.RoomNotFound(c, room)
	}
	return response.ServiceError(c, err.Error())
}
