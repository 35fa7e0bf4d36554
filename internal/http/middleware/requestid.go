package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"crmapi/internal/logging"
)

const (
	// RequestIDHeader is the header used to accept and echo request ids.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is the fiber locals key holding the request id.
	RequestIDLocalKey = "request_id"
	// MaxRequestIDLength bounds a client-supplied id; longer ones are replaced.
	MaxRequestIDLength = 128
)

// RequestID assigns every request an id.
//
// A client X-Request-ID is kept only when it is at most MaxRequestIDLength bytes of
// visible ASCII; otherwise a UUID is generated. The id is echoed in the response
// header, stored in locals, attached to the user context (so service logs carry
// request_id) and set on the active span. Register it after the tracing middleware.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if validRequestID(id) {
			id = utils.CopyString(id)
		} else {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)

		ctx := c.UserContext()
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("http.request_id", id))
		c.SetUserContext(logging.WithRequestID(ctx, id))

		return c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
