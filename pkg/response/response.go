// Package response renders the JSON bodies of the batch API.
package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeUnknownMacro    = "UNKNOWN_MACRO"
	CodeServiceError    = "SERVICE_ERROR"
)

// codeFor maps the statuses the API emits to their error code.
var codeFor = map[int]string{
	fiber.StatusBadRequest:          CodeValidationError,
	fiber.StatusUnauthorized:        CodeUnauthorized,
	fiber.StatusForbidden:           CodeForbidden,
	fiber.StatusNotFound:            CodeNotFound,
	fiber.StatusUnprocessableEntity: CodeUnknownMacro,
}

// Envelope wraps every error body.
type Envelope struct {
	Error Problem `json:"error"`
}

// Problem is a machine readable code plus a message for people.
type Problem struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func write(c *fiber.Ctx, status int, message string, details interface{}) error {
	code, ok := codeFor[status]
	if !ok {
		code = CodeServiceError
	}
	return c.Status(status).JSON(Envelope{Error: Problem{Code: code, Message: message, Details: details}})
}

// ValidationError reports a malformed request; details maps fields to rules.
func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return write(c, fiber.StatusBadRequest, message, details)
}

// UnknownMacro reports a macro missing from the catalogue.
func UnknownMacro(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusUnprocessableEntity, message, nil)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusNotFound, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return write(c, fiber.StatusInternalServerError, message, nil)
}

// ErrorHandler renders errors that escape handlers, such as fiber's own
// routing errors, in the same envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return write(c, fe.Code, fe.Message, nil)
	}
	return write(c, fiber.StatusInternalServerError, "internal server error", nil)
}

// OK sends data with status 200, Accepted with 202.
func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
