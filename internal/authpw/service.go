// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskify/api/internal/store"
	"taskify/api/internal/util"
)

var (
	// ErrEmailTaken is returned when registering with an address that
	// already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown email and wrong password
	// so sign-in failures are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidResetToken is returned for unknown, expired or already
	// used reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (store.PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

// Service provides email/password authentication
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains registration parameters, already validated
// by the caller.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates a new user account with the MEMBER role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         "MEMBER",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset creates a reset token for the address. An unknown
// email yields no token and no error, so responses never reveal whether
// an account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token, userName string, err error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", "", nil
	}

	token = util.NewToken()
	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.Email, token, expiresAt); err != nil {
		return "", "", fmt.Errorf("create password reset: %w", err)
	}
	return token, user.Name, nil
}

// ResetPassword sets a new password using a single-use reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	reset, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		return ErrInvalidResetToken
	}

	user, err := s.store.GetUserByEmail(ctx, reset.Email)
	if err != nil {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, token); err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}
