package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/model"
	"github.com/smpb05/janus-gateway/pkg/response"
)

// Prober reads media metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (model.Metadata, error)
}

type RoomHandler struct {
	store     *fragment.Store
	prober    Prober
	validator *validator.Validate
}

func NewRoomHandler(store *fragment.Store, prober Prober, v *validator.Validate) *RoomHandler {
	return &RoomHandler{
		store:     store,
		prober:    prober,
		validator: v,
	}
}

// FileList handles GET /call/filelist/:id
func (h *RoomHandler) FileList(c *fiber.Ctx) error {
	room := c.Params("id")
	list, err := h.store.RoomFiles(room)
	if err != nil {
		if errors.Is(err, fragment.ErrRoomNotFound) {
			return response.RoomNotFound(c, room)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, list)
}

// FileInfo handles GET /file/info/:id/:filename?
// Probe failures are reported in the body with status ERROR.
func (h *RoomHandler) FileInfo(c *fiber.Ctx) error {
	req := model.FileInfoRequest{
		Room:     c.Params("id"),
		Filename: c.Params("filename"),
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.Filename == "" {
		req.Filename = fragment.ArtifactName(req.Room)
	}

	meta, err := h.prober.Probe(c.UserContext(), h.store.Path(req.Room, req.Filename))
	if err == nil && meta.Duration <= 0 {
		err = errors.New("could not get video duration")
	}
	if err != nil {
		return response.OK(c, model.FileInfoResponse{
			Status: model.ProbeStatusError,
			Data:   model.FileInfoError{Message: err.Error()},
		})
	}

	return response.OK(c, model.FileInfoResponse{
		Status: model.ProbeStatusOK,
		Data:   model.FileDuration{Filename: req.Filename, Duration: meta.Duration},
	})
}
