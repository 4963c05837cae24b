package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// ErrorResponse is the flat error body every failing endpoint returns.
// Clients switch on the HTTP status; the string is for humans and logs.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Success sends a 200 JSON response with the given payload.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(data)
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// Fail sends a JSON error response with the given status and message.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message})
}
