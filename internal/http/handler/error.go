package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"crmapi/internal/http/middleware"
	"crmapi/internal/logging"
	"crmapi/internal/repository"
	"crmapi/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// failure is a server-side error carrying a machine code. The ErrorHandler logs the cause
// and decides how much of it the client sees.
type failure struct {
	code string
	err  error
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// idParam returns the :id route param detached from the request buffer; it ends up on
// spans and log records that outlive the handler.
func idParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

// writeError writes a standardized JSON error response.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "VALIDATION_ERROR")
// - message: human-readable safe message
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromCtx(c),
	})
}

// serviceError translates service and repository errors into responses. Errors that are not
// the client's fault are handed to the ErrorHandler.
func serviceError(c *fiber.Ctx, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, service.ErrNoDocument):
		return writeError(c, fiber.StatusNotFound, "NO_DOCUMENT", "customer has no document")
	case errors.Is(err, service.ErrInvalidCredentials):
		return writeError(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, service.ErrEmailTaken):
		return writeError(c, fiber.StatusConflict, "EMAIL_TAKEN", "User with this email already exists")
	case errors.Is(err, service.ErrWrongPassword):
		return writeError(c, fiber.StatusBadRequest, "WRONG_PASSWORD", "Current password is incorrect")
	case errors.Is(err, service.ErrSelfDelete):
		return writeError(c, fiber.StatusBadRequest, "SELF_DELETE", "You cannot delete your own account")
	case errors.Is(err, repository.ErrConstraint):
		return writeError(c, fiber.StatusBadRequest, "CONSTRAINT_VIOLATION", "request violates a data constraint")
	case errors.Is(err, repository.ErrConflict):
		return writeError(c, fiber.StatusConflict, "CONFLICT", "resource already exists")
	case errors.Is(err, service.ErrCreateFailed):
		return &failure{code: "CREATE_FAILED", err: err}
	case errors.Is(err, service.ErrUpdateFailed):
		return &failure{code: "UPDATE_FAILED", err: err}
	case errors.Is(err, service.ErrDeleteFailed):
		return &failure{code: "DELETE_FAILED", err: err}
	default:
		return &failure{code: "INTERNAL_ERROR", err: err}
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
// Server errors are logged; their cause is only shown outside production.
func ErrorHandler(log *slog.Logger, production bool) fiber.ErrorHandler {
	if log == nil {
		log = logging.Discard()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
			return writeError(c, fe.Code, codeFor(fe.Code), fe.Message)
		}

		status := fiber.StatusInternalServerError
		code := "INTERNAL_ERROR"
		var f *failure
		switch {
		case errors.As(err, &f):
			code = f.code
		case fe != nil:
			status = fe.Code
			code = codeFor(fe.Code)
		}

		log.ErrorContext(c.UserContext(), "request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			logging.Err(err),
		)

		msg := "internal server error"
		if !production {
			msg = err.Error()
		}
		return writeError(c, status, code, msg)
	}
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	case fiber.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case fiber.StatusInternalServerError:
		return "INTERNAL_ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
