package app

import (
	"context"
	"fmt"

	"taskify/api/internal/authpw"
	"taskify/api/internal/store"
)

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates the account and signs the new user straight in. The
// welcome email is best effort and never blocks the response.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, store.User, error) {
	if err := validateRegister(input.Name, input.Email, input.Password); err != nil {
		return Session{}, store.User{}, err
	}

	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return Session{}, store.User{}, err
	}

	session, err := s.CreateSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}

	if s.SMTPConfigured() {
		go func(email, name string) {
			if err := s.mail.SendWelcomeEmail(email, name, s.cfg.AppURL); err != nil {
				s.log.WithError(err).Warn("welcome email failed")
			}
		}(user.Email, user.Name)
	}

	return session, user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, store.User, error) {
	errs := fieldErrors{}
	if email == "" {
		errs.add("email", "email is required")
	}
	if password == "" {
		errs.add("password", "password is required")
	}
	if err := errs.err(); err != nil {
		return Session{}, store.User{}, err
	}

	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, store.User{}, err
	}
	session, err := s.CreateSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, user, nil
}

// ForgotPassword issues a reset token and emails it when SMTP is wired.
// The returned token is non-empty only when no mailer is configured, so
// local setups can complete the flow without a mailbox. Unknown emails
// produce neither a token nor an error.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	if !emailPattern.MatchString(email) {
		return "", errValidationField("email", "email must be a valid address")
	}

	token, userName, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}

	if s.SMTPConfigured() {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppURL, token)
		go func(email, name, url string) {
			if err := s.mail.SendPasswordResetEmail(email, name, url); err != nil {
				s.log.WithError(err).Warn("password reset email failed")
			}
		}(email, userName, resetURL)
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	errs := fieldErrors{}
	if token == "" {
		errs.add("token", "token is required")
	}
	if len(newPassword) < 6 {
		errs.add("password", "password must be at least 6 characters")
	}
	if err := errs.err(); err != nil {
		return err
	}
	return s.passwords.ResetPassword(ctx, token, newPassword)
}
