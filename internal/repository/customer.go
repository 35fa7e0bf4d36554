package repository

import (
	"context"

	"crmapi/internal/model"
)

// CustomerRepository defines data access for customers using SQL queries only.
// No business logic here, strictly persistence operations.
// Lookups by ID return ErrNotFound when no row matches; every other error is a database failure.
type CustomerRepository interface {
	// Create inserts a new customer and returns the stored row (id and created_at assigned by the DB).
	Create(ctx context.Context, in model.CustomerInput, documentURL *string) (*model.Customer, error)

	// List returns customers matching the query, newest first, plus the total count.
	List(ctx context.Context, q CustomerQuery) (*PageResult[model.Customer], error)

	// FindByID returns a customer by its ID.
	FindByID(ctx context.Context, id string) (*model.Customer, error)

	// Update applies a partial update by ID and returns the updated row.
	Update(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error)

	// Delete removes a customer by ID.
	Delete(ctx context.Context, id string) error

	// CountByStatus returns aggregate counts for the dashboard.
	CountByStatus(ctx context.Context) (*model.CustomerStats, error)

	// DocumentURLs maps every non-null document_url to the customer ID referencing it.
	DocumentURLs(ctx context.Context) (map[string]string, error)
}

// CustomerQuery filters and paginates customer listings. Zero Limit means no limit.
type CustomerQuery struct {
	Search string
	Status model.CustomerStatus
	PageQuery
}
