package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"crmapi/internal/auth"
)

const (
	// TokenCookie is the httpOnly cookie carrying the session token.
	TokenCookie = "token"
	// IdentityLocalKey is the key used to store the auth.Identity in Fiber's context locals.
	IdentityLocalKey = "identity"
)

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Authenticate requires a valid session token from the Authorization bearer header or the
// token cookie. A missing token is 401; an invalid or expired one is 403.
func Authenticate(parser TokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies(TokenCookie)
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Access token required")
		}

		claims, err := parser.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return fiber.NewError(fiber.StatusForbidden, "Token expired")
			}
			return fiber.NewError(fiber.StatusForbidden, "Invalid token")
		}

		c.Locals(IdentityLocalKey, claims.Identity())
		return c.Next()
	}
}

// RequirePermission rejects identities whose role lacks perm. It must run after Authenticate.
func RequirePermission(perm auth.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := IdentityFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}
		if !auth.Allowed(id.Role, perm) {
			return fiber.NewError(fiber.StatusForbidden, "Insufficient permissions")
		}
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by Authenticate.
func IdentityFromCtx(c *fiber.Ctx) (auth.Identity, bool) {
	id, ok := c.Locals(IdentityLocalKey).(auth.Identity)
	return id, ok
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
