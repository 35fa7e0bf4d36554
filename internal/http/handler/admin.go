package handler

import (
	"github.com/gofiber/fiber/v2"

	"crmapi/internal/http/middleware"
	"crmapi/internal/service"
)

// ListUsers returns every account.
//
//	@Summary	List users
//	@Tags		admin
//	@Produce	json
//	@Success	200	{object}	map[string][]model.User
//	@Failure	403	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/admin/users [get]
func ListUsers(svc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		users, err := svc.List(c.UserContext())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"data": users})
	}
}

func GetUser(svc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := svc.Get(c.UserContext(), idParam(c))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"user": u})
	}
}

func CreateUser(svc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.CreateUserInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		u, err := svc.Create(c.UserContext(), in)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": u})
	}
}

func UpdateUser(svc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.UpdateUserInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		u, err := svc.Update(c.UserContext(), idParam(c), in)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"user": u})
	}
}

// DeleteUser removes an account other than the caller's own.
func DeleteUser(svc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, _ := middleware.IdentityFromCtx(c)
		if err := svc.Delete(c.UserContext(), actor.UserID, idParam(c)); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ListDocuments returns every stored customer document.
//
//	@Summary	List stored documents
//	@Tags		admin
//	@Produce	json
//	@Success	200	{object}	map[string][]storage.Blob
//	@Security	BearerAuth
//	@Router		/api/admin/documents [get]
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		blobs, err := svc.List(c.UserContext())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"data": blobs})
	}
}

// ReconcileDocuments runs a reconciliation pass. It is a dry run unless ?dry_run=false.
//
//	@Summary	Reconcile documents with customer rows
//	@Tags		admin
//	@Produce	json
//	@Param		dry_run	query		bool	false	"Report without deleting (default true)"
//	@Success	200		{object}	service.ReconcileReport
//	@Security	BearerAuth
//	@Router		/api/admin/documents/reconcile [post]
func ReconcileDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dryRun := c.QueryBool("dry_run", true)
		rep, err := svc.Reconcile(c.UserContext(), dryRun)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(rep)
	}
}
