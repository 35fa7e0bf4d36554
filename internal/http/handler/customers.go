package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"crmapi/internal/model"
	"crmapi/internal/repository"
	"crmapi/internal/service"
)

// ListCustomers lists customers with optional search, status filter and limit/offset paging.
//
//	@Summary	List customers
//	@Tags		customers
//	@Produce	json
//	@Param		search	query		string	false	"Matches name or email"
//	@Param		status	query		string	false	"active, inactive or lead"
//	@Param		limit	query		int		false	"Page size (max 100, 0 = all)"
//	@Param		offset	query		int		false	"Rows to skip"
//	@Success	200		{object}	service.CustomerListResult
//	@Failure	400		{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/customers [get]
func ListCustomers(svc service.CustomerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), repository.CustomerQuery{
			Search:    c.Query("search"),
			Status:    model.CustomerStatus(c.Query("status")),
			PageQuery: repository.PageQuery{Limit: limit, Offset: offset},
		})
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetCustomer returns one customer.
//
//	@Summary	Get customer
//	@Tags		customers
//	@Produce	json
//	@Param		id	path		string	true	"Customer ID"
//	@Success	200	{object}	model.Customer
//	@Failure	404	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/customers/{id} [get]
func GetCustomer(svc service.CustomerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cust, err := svc.Get(c.UserContext(), idParam(c))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(cust)
	}
}

// CreateCustomer accepts JSON or multipart/form-data with an optional "document" file.
//
//	@Summary	Create customer
//	@Tags		customers
//	@Accept		json,mpfd
//	@Produce	json
//	@Param		document	formData	file	false	"jpg, png, gif, pdf, doc, docx, xls, xlsx or csv"
//	@Success	201			{object}	model.Customer
//	@Failure	400			{object}	errorPayload
//	@Failure	413			{object}	errorPayload
//	@Failure	415			{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/customers [post]
func CreateCustomer(svc service.CustomerService, policy UploadPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in model.CustomerInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		file, closer, err := documentFromForm(c, policy)
		if err != nil {
			return uploadError(c, err)
		}
		if closer != nil {
			defer closer.Close()
		}

		cust, err := svc.Create(c.UserContext(), in, file)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(cust)
	}
}

// UpdateCustomer applies a partial update; a "document" file replaces the current one.
//
//	@Summary	Update customer
//	@Tags		customers
//	@Accept		json,mpfd
//	@Produce	json
//	@Param		id			path		string	true	"Customer ID"
//	@Param		document	formData	file	false	"Replacement document"
//	@Success	200			{object}	model.Customer
//	@Failure	400			{object}	errorPayload
//	@Failure	404			{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/customers/{id} [put]
func UpdateCustomer(svc service.CustomerService, policy UploadPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var patch model.CustomerPatch
		if err := c.BodyParser(&patch); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		file, closer, err := documentFromForm(c, policy)
		if err != nil {
			return uploadError(c, err)
		}
		if closer != nil {
			defer closer.Close()
		}

		cust, err := svc.Update(c.UserContext(), idParam(c), patch, file)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(cust)
	}
}

// DeleteCustomer removes a customer and its document.
//
//	@Summary	Delete customer
//	@Tags		customers
//	@Param		id	path	string	true	"Customer ID"
//	@Success	204
//	@Failure	404	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/api/customers/{id} [delete]
func DeleteCustomer(svc service.CustomerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), idParam(c)); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// CustomerStats serves the dashboard counters.
//
//	@Summary	Customer counts by status
//	@Tags		customers
//	@Produce	json
//	@Success	200	{object}	model.CustomerStats
//	@Security	BearerAuth
//	@Router		/api/customers/stats [get]
func CustomerStats(svc service.CustomerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := svc.Stats(c.UserContext())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(stats)
	}
}

// CustomerDocument returns a short-lived download link for the customer's document.
func CustomerDocument(svc service.CustomerService, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		link, err := svc.DocumentLink(c.UserContext(), idParam(c), ttl)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{
			"url":        link,
			"expires_in": int(ttl.Seconds()),
		})
	}
}
