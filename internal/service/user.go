package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crmapi/internal/config"
	"crmapi/internal/logging"
	"crmapi/internal/model"
	"crmapi/internal/repository"
)

// CreateUserInput is the admin provisioning payload.
type CreateUserInput struct {
	Email     string     `json:"email" validate:"required,email,max=320"`
	Password  string     `json:"password" validate:"required,min=8,max=72"`
	FirstName string     `json:"first_name" validate:"required,max=100"`
	LastName  string     `json:"last_name" validate:"required,max=100"`
	Role      model.Role `json:"role" validate:"required,oneof=admin manager sales_rep"`
}

// UpdateUserInput lets an admin change any field of an account, including role and password.
type UpdateUserInput struct {
	model.UserPatch
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// UserService is the admin-only account management surface.
type UserService interface {
	List(ctx context.Context) ([]model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, in CreateUserInput) (*model.User, error)
	Update(ctx context.Context, id string, in UpdateUserInput) (*model.User, error)
	// Delete removes id on behalf of actorID. Admins cannot delete themselves.
	Delete(ctx context.Context, actorID, id string) error
	// EnsureAdmin creates the configured admin when no account exists yet.
	// It reports whether an account was created.
	EnsureAdmin(ctx context.Context, cfg config.AdminConfig) (bool, error)
}

type userService struct {
	users repository.UserRepository
	log   *slog.Logger
}

// NewUserService constructs a UserService.
func NewUserService(users repository.UserRepository, log *slog.Logger) UserService {
	if log == nil {
		log = logging.Discard()
	}
	return &userService{users: users, log: log}
}

func (s *userService) List(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	return findUser(ctx, s.users, id)
}

func (s *userService) Create(ctx context.Context, in CreateUserInput) (*model.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	u, err := createUser(ctx, s.users.Create, in.Email, in.Password, in.FirstName, in.LastName, in.Role)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user provisioned", slog.String("user_id", u.ID), slog.String("role", string(u.Role)))
	return u, nil
}

func (s *userService) Update(ctx context.Context, id string, in UpdateUserInput) (*model.User, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	var (
		u   *model.User
		err error
	)
	if in.UserPatch.IsEmpty() {
		u, err = findUser(ctx, s.users, id)
	} else {
		u, err = updateUser(ctx, s.users, id, in.UserPatch)
	}
	if err != nil {
		return nil, err
	}
	if in.Password != nil {
		if err := setPassword(ctx, s.users, id, *in.Password); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *userService) Delete(ctx context.Context, actorID, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	if id == actorID {
		return ErrSelfDelete
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	s.log.InfoContext(ctx, "user deleted", slog.String("user_id", id), slog.String("actor_id", actorID))
	return nil
}

func (s *userService) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if cfg.Email == "" || cfg.Password == "" {
		s.log.WarnContext(ctx, "no users exist and ADMIN_EMAIL/ADMIN_PASSWORD are not set; the first registration becomes admin")
		return false, nil
	}
	u, err := s.Create(ctx, CreateUserInput{
		Email:     cfg.Email,
		Password:  cfg.Password,
		FirstName: cfg.FirstName,
		LastName:  cfg.LastName,
		Role:      model.RoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	s.log.InfoContext(ctx, "admin user created", slog.String("user_id", u.ID), slog.String("email", u.Email))
	return true, nil
}
