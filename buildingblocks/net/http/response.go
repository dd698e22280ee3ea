package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// OK sends an HTTP 200 OK response with body.
func OK(c *fiber.Ctx, body any) error {
	return c.Status(http.StatusOK).JSON(body)
}

// NoContent sends an HTTP 204 No Content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

// BadRequest sends an HTTP 400 Bad Request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
		Code:    "0001",
		Title:   "Bad Request",
		Message: message,
	})
}

// NotFound sends an HTTP 404 Not Found response.
func NotFound(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusNotFound).JSON(ErrorResponse{
		Code:    "0002",
		Title:   "Not Found",
		Message: message,
	})
}

// InternalServerError sends an HTTP 500 response. The cause is not echoed.
func InternalServerError(c *fiber.Ctx) error {
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
		Code:    "0003",
		Title:   "Internal Server Error",
		Message: "the request could not be completed",
	})
}
