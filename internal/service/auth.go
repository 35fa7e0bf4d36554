package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crmapi/internal/auth"
	"crmapi/internal/logging"
	"crmapi/internal/model"
	"crmapi/internal/repository"
)

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Email     string     `json:"email" validate:"required,email,max=320"`
	Password  string     `json:"password" validate:"required,min=8,max=72"`
	FirstName string     `json:"first_name" validate:"required,max=100"`
	LastName  string     `json:"last_name" validate:"required,max=100"`
	Role      model.Role `json:"role" validate:"omitempty,oneof=admin manager sales_rep"`
}

// LoginInput is the login payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordInput is the password change payload.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// Session is a freshly issued credential.
type Session struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// AuthService covers the account owner's own operations.
type AuthService interface {
	// Register creates an account. The very first account becomes admin; afterwards admin
	// cannot be self-assigned.
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	// Login verifies credentials and issues a session token.
	Login(ctx context.Context, in LoginInput) (*Session, error)
	// Profile returns the caller's account.
	Profile(ctx context.Context, userID string) (*model.User, error)
	// UpdateProfile changes name and email. Role changes are ignored.
	UpdateProfile(ctx context.Context, userID string, patch model.UserPatch) (*model.User, error)
	// ChangePassword verifies the current password before storing the new one.
	ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error
}

type authService struct {
	users  repository.UserRepository
	issuer *auth.Issuer
	log    *slog.Logger
	// dummyHash keeps unknown-email logins as slow as wrong-password logins.
	dummyHash string
}

// NewAuthService constructs an AuthService.
func NewAuthService(users repository.UserRepository, issuer *auth.Issuer, log *slog.Logger) AuthService {
	if log == nil {
		log = logging.Discard()
	}
	dummy, _ := auth.HashPassword("not-a-real-password")
	return &authService{users: users, issuer: issuer, log: log, dummyHash: dummy}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	role := in.Role
	switch role {
	case "":
		role = model.RoleSalesRep
	case model.RoleAdmin:
		n, err := s.users.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count users: %w", err)
		}
		if n > 0 {
			return nil, invalid("role", "admin accounts are created by an administrator")
		}
		// promoted by the repository if the table is still empty at insert time
		role = model.RoleSalesRep
	}

	u, err := createUser(ctx, s.users.CreatePromotingFirst, in.Email, in.Password, in.FirstName, in.LastName, role)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user registered", slog.String("user_id", u.ID), slog.String("role", string(u.Role)))
	return u, nil
}

func (s *authService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	u, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_, _ = auth.CheckPassword(s.dummyHash, in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, in.Password)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.log.InfoContext(ctx, "login rejected", slog.String("user_id", u.ID))
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.issuer.Issue(auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *authService) Profile(ctx context.Context, userID string) (*model.User, error) {
	return findUser(ctx, s.users, userID)
}

func (s *authService) UpdateProfile(ctx context.Context, userID string, patch model.UserPatch) (*model.User, error) {
	patch.Role = nil
	return updateUser(ctx, s.users, userID, patch)
}

func (s *authService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	u, err := findUser(ctx, s.users, userID)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, in.CurrentPassword)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrWrongPassword
	}
	return setPassword(ctx, s.users, userID, in.NewPassword)
}

func findUser(ctx context.Context, users repository.UserRepository, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	u, err := users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// createFunc is UserRepository.Create or CreatePromotingFirst.
type createFunc func(ctx context.Context, u *model.User) (*model.User, error)

func createUser(ctx context.Context, create createFunc, email, password, first, last string, role model.Role) (*model.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := create(ctx, &model.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return u, nil
}

func updateUser(ctx context.Context, users repository.UserRepository, id string, patch model.UserPatch) (*model.User, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	trimPtr(patch.Email)
	trimPtr(patch.FirstName)
	trimPtr(patch.LastName)
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	u, err := users.Update(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	return u, nil
}

func setPassword(ctx context.Context, users repository.UserRepository, id, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := users.UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	return nil
}
