package app

import (
	"database/sql"
	"errors"
	"net/http"

	"taskify/api/internal/store"
)

// sessionPayload is the body returned by register, login and refresh.
func sessionPayload(session Session, user store.User) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
		"user":         userPayload(user),
	}
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if err := decodeBody(r, &input); err != nil {
		s.writeMappedError(w, err)
		return
	}
	session, user, err := s.service.Register(r.Context(), input)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sessionPayload(session, user))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeMappedError(w, err)
		return
	}
	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session, user))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeMappedError(w, err)
		return
	}
	if body.RefreshToken == "" {
		s.writeMappedError(w, errInvalidInput("refreshToken is required"))
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		// An unknown, expired or revoked refresh token is an auth
		// failure, not a missing resource.
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token", nil)
			return
		}
		s.writeMappedError(w, err)
		return
	}
	user, err := s.service.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session, user))
}

// handleLogout revokes the access token when one is presented and the
// refresh token when the body carries one. It succeeds either way.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeMappedError(w, err)
		return
	}

	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"loggedOut": true})
}

// handleForgotPassword answers identically for known and unknown emails.
// Without a configured mailer the token rides back in the response so
// the flow stays usable in development.
func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeMappedError(w, err)
		return
	}
	token, err := s.service.ForgotPassword(r.Context(), body.Email)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	payload := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" && s.env != "production" {
		payload["resetToken"] = token
	}
	writeData(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeMappedError(w, err)
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"message": "Password has been reset"})
}
