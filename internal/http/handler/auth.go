package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"crmapi/internal/http/middleware"
	"crmapi/internal/model"
	"crmapi/internal/service"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Secure bool
	TTL    time.Duration
}

// Register creates an account.
//
//	@Summary	Register
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		service.RegisterInput	true	"Account"
//	@Success	201		{object}	map[string]model.User
//	@Failure	400		{object}	errorPayload
//	@Failure	409		{object}	errorPayload
//	@Router		/api/auth/register [post]
func Register(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.RegisterInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		u, err := svc.Register(c.UserContext(), in)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": u})
	}
}

// Login verifies credentials, sets the httpOnly token cookie and returns the token.
//
//	@Summary	Login
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		service.LoginInput	true	"Credentials"
//	@Success	200		{object}	service.Session
//	@Failure	401		{object}	errorPayload
//	@Router		/api/auth/login [post]
func Login(svc service.AuthService, cookie CookieConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.LoginInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		sess, err := svc.Login(c.UserContext(), in)
		if err != nil {
			return serviceError(c, err)
		}
		c.Cookie(&fiber.Cookie{
			Name:     middleware.TokenCookie,
			Value:    sess.Token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			MaxAge:   int(cookie.TTL.Seconds()),
			HTTPOnly: true,
			Secure:   cookie.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		return c.JSON(sess)
	}
}

// Logout clears the token cookie. Tokens are stateless, so a copied token stays valid until expiry.
func Logout(cookie CookieConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Cookie(&fiber.Cookie{
			Name:     middleware.TokenCookie,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HTTPOnly: true,
			Secure:   cookie.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		return c.JSON(fiber.Map{"message": "Logged out successfully"})
	}
}

// Profile returns the caller's account.
func Profile(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Not authenticated")
		}
		u, err := svc.Profile(c.UserContext(), id.UserID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"user": u})
	}
}

// UpdateProfile changes the caller's name or email. A role in the body is ignored.
func UpdateProfile(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Not authenticated")
		}
		var patch model.UserPatch
		if err := c.BodyParser(&patch); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		u, err := svc.UpdateProfile(c.UserContext(), id.UserID, patch)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"user": u})
	}
}

// ChangePassword replaces the caller's password after verifying the current one.
func ChangePassword(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "Not authenticated")
		}
		var in service.ChangePasswordInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if err := svc.ChangePassword(c.UserContext(), id.UserID, in); err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "Password changed successfully"})
	}
}
