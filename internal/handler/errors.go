package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/smpb05/janus-gateway/pkg/response"
)

// ErrorHandler renders errors that escape the handlers, including unknown
// routes, in the JSON error envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code == fiber.StatusNotFound {
		return response.NotFound(c, message)
	}
	return response.Error(c, code, response.CodeServiceError, message, nil)
}
