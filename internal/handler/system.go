package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/smpb05/janus-gateway/internal/version"
	"github.com/smpb05/janus-gateway/pkg/response"
)

type SystemHandler struct {
	config map[string]interface{}
}

// NewSystemHandler serves the given public configuration at /config.
func NewSystemHandler(publicConfig map[string]interface{}) *SystemHandler {
	return &SystemHandler{config: publicConfig}
}

// Health handles GET /health
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Index handles GET /
func (h *SystemHandler) Index(c *fiber.Ctx) error {
	return c.SendString("Janus recording converter " + version.Version)
}

// Config handles GET /config
func (h *SystemHandler) Config(c *fiber.Ctx) error {
	return response.OK(c, h.config)
}

// Version handles GET /version
func (h *SystemHandler) Version(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
