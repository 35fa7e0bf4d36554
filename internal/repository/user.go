package repository

import (
	"context"

	"crmapi/internal/model"
)

// UserRepository persists accounts. Email uniqueness is enforced by the database and
// surfaces as ErrConflict.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	// CreatePromotingFirst is Create, except that the account is stored as admin when no
	// other account exists. Concurrent calls are serialized.
	CreatePromotingFirst(ctx context.Context, u *model.User) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
	UpdatePassword(ctx context.Context, id string, hash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
