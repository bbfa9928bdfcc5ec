package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskify/api/internal/auth"
	"taskify/api/internal/authpw"
	"taskify/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	env        string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, corsOrigin, env string, log *logrus.Logger) *HTTPServer {
	if log == nil {
		log = logrus.New()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, env: env, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]any{"database": "ok"}
		status := http.StatusOK
		if err := s.service.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeData(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
		return
	}

	// Auth routes carry no session.
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/auth/") {
		switch strings.TrimPrefix(r.URL.Path, "/api/auth/") {
		case "register":
			s.handleRegister(w, r)
			return
		case "login":
			s.handleLogin(w, r)
			return
		case "refresh":
			s.handleRefresh(w, r)
			return
		case "logout":
			s.handleLogout(w, r)
			return
		case "forgot-password":
			s.handleForgotPassword(w, r)
			return
		case "reset-password":
			s.handleResetPassword(w, r)
			return
		}
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/dashboard" && r.Method == http.MethodGet {
		payload, err := s.service.Dashboard(r.Context(), session)
		s.respond(w, http.StatusOK, payload, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		s.writeNotFound(w)
		return
	}

	switch parts[1] {
	case "tasks":
		s.handleTasks(w, r, session, parts)
	case "projects":
		s.handleProjects(w, r, session, parts)
	case "conversations":
		s.handleConversations(w, r, session, parts)
	case "users":
		s.handleUsers(w, r, session, parts)
	default:
		s.writeNotFound(w)
	}
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			items, meta, err := s.service.ListTasks(r.Context(), session, TaskListInput{
				Status:    strings.TrimSpace(query.Get("status")),
				Priority:  strings.TrimSpace(query.Get("priority")),
				ProjectID: strings.TrimSpace(query.Get("projectId")),
				Search:    strings.TrimSpace(query.Get("search")),
				Page:      parsePagination(query),
			})
			s.respondPage(w, items, meta, err)
		case http.MethodPost:
			var input CreateTaskInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.CreateTask(r.Context(), session, input)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	taskID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetTask(r.Context(), session, taskID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var input UpdateTaskInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.UpdateTask(r.Context(), session, taskID, input)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteTask(r.Context(), session, taskID)
			s.respond(w, http.StatusOK, map[string]any{"deleted": err == nil}, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "comments" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListTaskComments(r.Context(), session, taskID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.CreateComment(r.Context(), session, taskID, body.Content)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	s.writeNotFound(w)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			items, meta, err := s.service.ListProjects(r.Context(), session, ProjectListInput{
				Search: strings.TrimSpace(query.Get("search")),
				Page:   parsePagination(query),
			})
			s.respondPage(w, items, meta, err)
		case http.MethodPost:
			var input CreateProjectInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.CreateProject(r.Context(), session, input)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	projectID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(r.Context(), session, projectID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var input UpdateProjectInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.UpdateProject(r.Context(), session, projectID, input)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteProject(r.Context(), session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"deleted": err == nil}, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "members" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListProjectMembers(r.Context(), session, projectID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var input AddMemberInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.AddProjectMember(r.Context(), session, projectID, input)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 5 && parts[3] == "members" && r.Method == http.MethodDelete {
		err := s.service.RemoveProjectMember(r.Context(), session, projectID, parts[4])
		s.respond(w, http.StatusOK, map[string]any{"removed": err == nil}, err)
		return
	}

	s.writeNotFound(w)
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListConversations(r.Context(), session)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				ParticipantID string `json:"participantId"`
			}
			if err := decodeBody(r, &body); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.StartConversation(r.Context(), session, body.ParticipantID)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "messages" {
		conversationID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListMessages(r.Context(), session, conversationID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.SendMessage(r.Context(), session, conversationID, body.Content)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	s.writeNotFound(w)
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		query := r.URL.Query()
		items, meta, err := s.service.ListUsers(r.Context(), UserListInput{
			Search:    strings.TrimSpace(query.Get("search")),
			ProjectID: strings.TrimSpace(query.Get("projectId")),
			Page:      parsePagination(query),
		})
		s.respondPage(w, items, meta, err)
		return
	}

	if len(parts) == 3 && parts[2] == "me" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Profile(r.Context(), session)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var input UpdateProfileInput
			if err := decodeBody(r, &input); err != nil {
				s.writeMappedError(w, err)
				return
			}
			payload, err := s.service.UpdateProfile(r.Context(), session, input)
			s.respond(w, http.StatusOK, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 4 && parts[2] == "me" && parts[3] == "avatar" && r.Method == http.MethodPost {
		s.handleAvatarUpload(w, r, session)
		return
	}

	if len(parts) == 4 && parts[3] == "follow" {
		targetID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.FollowState(r.Context(), session, targetID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			payload, err := s.service.ToggleFollow(r.Context(), session, targetID)
			s.respond(w, http.StatusOK, payload, err)
		default:
			s.writeMethodNotAllowed(w)
		}
		return
	}

	s.writeNotFound(w)
}

func (s *HTTPServer) handleAvatarUpload(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.writeMappedError(w, errInvalidInput("Request must be multipart/form-data"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeMappedError(w, errInvalidInput("File is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	contentType := header.Header.Get("Content-Type")
	payload, err := s.service.UploadAvatar(r.Context(), session, contentType, data)
	s.respond(w, http.StatusOK, payload, err)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.writeMappedError(w, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeData(w, status, payload)
}

func (s *HTTPServer) respondPage(w http.ResponseWriter, payload any, meta Meta, err error) {
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writePage(w, http.StatusOK, payload, meta)
}

func (s *HTTPServer) writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// writeMappedError translates service errors into the envelope. Unknown
// errors log server-side and reduce to INTERNAL_ERROR; the underlying
// message leaks to the client only outside production.
func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidResetToken):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid or expired reset token", nil)
	case store.IsUniqueViolation(err):
		writeError(w, http.StatusConflict, "CONFLICT", "Resource already exists", nil)
	default:
		s.log.WithError(err).Error("request failed")
		message := "Internal server error"
		if s.env != "production" {
			message = err.Error()
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writePage(w http.ResponseWriter, status int, data any, meta Meta) {
	writeJSON(w, status, map[string]any{"success": true, "data": data, "meta": meta})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	errBody := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		errBody["details"] = details
	}
	writeJSON(w, status, map[string]any{"success": false, "error": errBody})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidInput("Invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
