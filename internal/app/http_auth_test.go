package app

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskify/api/internal/auth"
	"taskify/api/internal/store"
)

func TestRegisterReturnsSessionAndMemberRole(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/register", "",
		`{"name":"Avery Quinn","email":"avery@example.com","password":"hunter22"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := envelopeData(t, rr)
	if data["token"] == "" || data["refreshToken"] == "" {
		t.Fatalf("expected token pair, got %s", rr.Body.String())
	}
	user, _ := data["user"].(map[string]any)
	if user["role"] != "MEMBER" {
		t.Fatalf("expected new accounts to get role MEMBER, got %v", user["role"])
	}
	if created.PasswordHash == "hunter22" {
		t.Fatalf("password stored in plaintext")
	}
}

func TestRegisterValidation(t *testing.T) {
	server := newTestServer(&fakeStore{})

	cases := []struct {
		name string
		body string
	}{
		{"short name", `{"name":"A","email":"a@example.com","password":"hunter22"}`},
		{"bad email", `{"name":"Avery","email":"not-an-email","password":"hunter22"}`},
		{"short password", `{"name":"Avery","email":"a@example.com","password":"12345"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, http.MethodPost, "/api/auth/register", "", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
			}
			if code := envelopeErrorCode(t, rr); code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email}, nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/register", "",
		`{"name":"Avery Quinn","email":"taken@example.com","password":"hunter22"}`)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "ALREADY_EXISTS" {
		t.Fatalf("expected ALREADY_EXISTS, got %s", code)
	}
}

func TestLoginWrongPasswordIsUnauthorized(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email, PasswordHash: string(hash), Role: "MEMBER"}, nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/login", "",
		`{"email":"avery@example.com","password":"battery-staple"}`)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/register", "",
		`{"name":"Avery Quinn","email":"avery@example.com","password":"hunter22"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", rr.Code, rr.Body.String())
	}
	refreshToken, _ := envelopeData(t, rr)["refreshToken"].(string)

	rr = doJSON(t, server, http.MethodPost, "/api/auth/refresh", "",
		`{"refreshToken":"`+refreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", rr.Code, rr.Body.String())
	}
	rotated, _ := envelopeData(t, rr)["refreshToken"].(string)
	if rotated == "" || rotated == refreshToken {
		t.Fatalf("expected a new refresh token")
	}

	// The presented token is revoked on rotation; replaying it fails.
	rr = doJSON(t, server, http.MethodPost, "/api/auth/refresh", "",
		`{"refreshToken":"`+refreshToken+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for replayed token, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestForgotPasswordNeverRevealsAccounts(t *testing.T) {
	known := "avery@example.com"
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email == known {
				return store.User{ID: "usr_1", Name: "Avery", Email: email}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	server := newTestServer(fs)

	knownRR := doJSON(t, server, http.MethodPost, "/api/auth/forgot-password", "",
		`{"email":"avery@example.com"}`)
	unknownRR := doJSON(t, server, http.MethodPost, "/api/auth/forgot-password", "",
		`{"email":"ghost@example.com"}`)

	if knownRR.Code != http.StatusOK || unknownRR.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", knownRR.Code, unknownRR.Code)
	}
	knownData := envelopeData(t, knownRR)
	unknownData := envelopeData(t, unknownRR)
	if knownData["message"] != unknownData["message"] {
		t.Fatalf("messages differ: %v vs %v", knownData["message"], unknownData["message"])
	}
	if _, leaked := unknownData["resetToken"]; leaked {
		t.Fatalf("unknown email produced a reset token")
	}
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Name: "Avery", Email: email}, nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/forgot-password", "",
		`{"email":"avery@example.com"}`)
	token, _ := envelopeData(t, rr)["resetToken"].(string)
	if token == "" {
		t.Fatalf("expected dev reset token without SMTP, got %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "",
		`{"token":"`+token+`","password":"new-password"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "",
		`{"token":"`+token+`","password":"another-password"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for reused token, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %s", code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/tasks", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without bearer, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/tasks", "definitely-not-a-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for garbage token, got %d", rr.Code)
	}

	expired, err := auth.IssueToken([]byte("test-secret"), "usr_1", "Avery", "MEMBER", "jti-old", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr = doJSON(t, server, http.MethodGet, "/api/tasks", expired, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for expired token, got %d", rr.Code)
	}
	if code := envelopeErrorCode(t, rr); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}
