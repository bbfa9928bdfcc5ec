package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskify/api/internal/store"
)

// mockUserStore is an in-memory implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	resets     map[string]store.PasswordReset
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets:     make(map[string]store.PasswordReset),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.resets[token] = store.PasswordReset{Token: token, Email: email, ExpiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (store.PasswordReset, error) {
	if reset, ok := m.resets[token]; ok && reset.UsedAt == nil && time.Now().Before(reset.ExpiresAt) {
		return reset, nil
	}
	return store.PasswordReset{}, errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		now := time.Now()
		reset.UsedAt = &now
		m.resets[token] = reset
	}
	return nil
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful registration", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterRequest{
			Name:     "Test User",
			Email:    "test@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if user.ID == "" {
			t.Error("expected user ID to be set")
		}
		if user.Role != "MEMBER" {
			t.Errorf("expected role MEMBER, got %s", user.Role)
		}
		if user.PasswordHash == "password123" {
			t.Error("password must not be stored in plain text")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{
			Name:     "Test User 2",
			Email:    "test@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	if _, err := svc.Register(ctx, RegisterRequest{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "test@example.com", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "test@example.com", "wrongpassword")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "nonexistent@example.com", "password123")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	if _, err := svc.Register(ctx, RegisterRequest{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("request reset for existing user", func(t *testing.T) {
		token, userName, err := svc.RequestPasswordReset(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
		if userName != "Test User" {
			t.Errorf("expected user name for email rendering, got %q", userName)
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		token, _, err := svc.RequestPasswordReset(ctx, "nonexistent@example.com")
		if err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
		if token != "" {
			t.Error("expected no token for non-existent user")
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		token, _, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		if err := svc.ResetPassword(ctx, token, "newpassword123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Old password must stop working.
		if _, err := svc.SignIn(ctx, "test@example.com", "password123"); err == nil {
			t.Error("expected old password to not work")
		}
		if _, err := svc.SignIn(ctx, "test@example.com", "newpassword123"); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		token, _, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		if err := svc.ResetPassword(ctx, token, "anotherpass1"); err != nil {
			t.Fatalf("first reset failed: %v", err)
		}
		if err := svc.ResetPassword(ctx, token, "anotherpass2"); !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("expected ErrInvalidResetToken on reuse, got %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, "invalid-token", "newpassword123")
		if !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("expected ErrInvalidResetToken, got %v", err)
		}
	})
}
