package app

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"taskify/api/internal/store"
)

func memberTask(taskID, creatorID, assigneeID string) store.TaskWithRefs {
	task := store.TaskWithRefs{
		Task: store.Task{
			ID:        taskID,
			Title:     "Fix the flaky deploy",
			Status:    "TODO",
			Priority:  "MEDIUM",
			ProjectID: "prj_1",
			CreatorID: creatorID,
		},
		Project: store.ProjectRef{ID: "prj_1", Name: "Project", Color: "#3B82F6"},
		Creator: store.UserSummary{ID: creatorID, Name: "Creator"},
	}
	if assigneeID != "" {
		task.AssigneeID = &assigneeID
		task.Assignee = &store.UserSummary{ID: assigneeID, Name: "Assignee"}
	}
	return task
}

func adminUser(fs *fakeStore, adminID string) {
	fs.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		role := "MEMBER"
		if userID == adminID {
			role = "ADMIN"
		}
		return store.User{ID: userID, Name: "Test User", Role: role}, nil
	}
}

func TestListTasksScopesNonAdminToOwnAssignments(t *testing.T) {
	var captured store.TaskFilter
	fs := &fakeStore{
		listTasksFn: func(_ context.Context, filter store.TaskFilter) ([]store.TaskWithRefs, int, error) {
			captured = filter
			return nil, 0, nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodGet, "/api/tasks?status=TODO", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if captured.AssigneeID != "usr_1" {
		t.Fatalf("expected member listing scoped to usr_1, got %q", captured.AssigneeID)
	}
	if captured.Status != "TODO" {
		t.Fatalf("expected status filter TODO, got %q", captured.Status)
	}
}

func TestListTasksAdminSeesEverything(t *testing.T) {
	var captured store.TaskFilter
	fs := &fakeStore{
		listTasksFn: func(_ context.Context, filter store.TaskFilter) ([]store.TaskWithRefs, int, error) {
			captured = filter
			return nil, 0, nil
		},
	}
	adminUser(fs, "usr_admin")
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodGet, "/api/tasks", issueTestToken(t, "usr_admin"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if captured.AssigneeID != "" {
		t.Fatalf("expected unscoped admin listing, got assignee %q", captured.AssigneeID)
	}
}

func TestListTasksRejectsUnknownEnums(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/tasks?status=SHIPPED", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestGetTaskMissingBeatsForbidden(t *testing.T) {
	// The task does not exist and the caller would not be authorized
	// anyway; the response must still be 404, never 403.
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/tasks/tsk_missing", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", code)
	}
}

func TestGetTaskForbiddenForOutsiders(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, taskID string) (store.TaskWithRefs, error) {
			return memberTask(taskID, "usr_creator", "usr_assignee"), nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodGet, "/api/tasks/tsk_1", issueTestToken(t, "usr_outsider"), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeleteTaskOnlyCreatorOrGlobalAdmin(t *testing.T) {
	cases := []struct {
		name       string
		caller     string
		memberRole string
		wantStatus int
	}{
		{"creator", "usr_creator", "MEMBER", http.StatusOK},
		{"global admin", "usr_admin", "", http.StatusOK},
		{"assignee", "usr_assignee", "MEMBER", http.StatusForbidden},
		{"project owner", "usr_owner", "OWNER", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{
				getTaskFn: func(_ context.Context, taskID string) (store.TaskWithRefs, error) {
					return memberTask(taskID, "usr_creator", "usr_assignee"), nil
				},
				getProjectMemberRoleFn: func(context.Context, string, string) (string, error) {
					return tc.memberRole, nil
				},
			}
			adminUser(fs, "usr_admin")
			server := newTestServer(fs)

			rr := doJSON(t, server, http.MethodDelete, "/api/tasks/tsk_1", issueTestToken(t, tc.caller), "")
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateTaskValidatesAndDefaults(t *testing.T) {
	var created store.Task
	fs := &fakeStore{
		createTaskFn: func(_ context.Context, task store.Task) error {
			created = task
			return nil
		},
		getTaskFn: func(_ context.Context, taskID string) (store.TaskWithRefs, error) {
			return memberTask(taskID, "usr_1", ""), nil
		},
		getProjectMemberRoleFn: func(context.Context, string, string) (string, error) {
			return "MEMBER", nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "usr_1")

	rr := doJSON(t, server, http.MethodPost, "/api/tasks", token,
		`{"title":"Write the runbook","projectId":"prj_1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created.Status != "TODO" || created.Priority != "MEDIUM" {
		t.Fatalf("expected TODO/MEDIUM defaults, got %s/%s", created.Status, created.Priority)
	}
	if created.CreatorID != "usr_1" {
		t.Fatalf("expected creator usr_1, got %s", created.CreatorID)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/tasks", token, `{"projectId":"prj_1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing title, got %d", rr.Code)
	}
}

func TestCreateTaskMissingProjectIs404(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.ProjectWithCounts, error) {
			return store.ProjectWithCounts{}, sql.ErrNoRows
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/tasks", issueTestToken(t, "usr_1"),
		`{"title":"Orphan","projectId":"prj_missing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUpdateTaskNullVersusOmitted(t *testing.T) {
	var captured store.TaskUpdate
	newStore := func() *fakeStore {
		return &fakeStore{
			getTaskFn: func(_ context.Context, taskID string) (store.TaskWithRefs, error) {
				return memberTask(taskID, "usr_creator", "usr_1"), nil
			},
			getProjectMemberRoleFn: func(context.Context, string, string) (string, error) {
				return "MEMBER", nil
			},
			updateTaskFn: func(_ context.Context, _ string, update store.TaskUpdate) error {
				captured = update
				return nil
			},
		}
	}
	token := issueTestToken(t, "usr_1")

	// Omitted dueDate leaves the stored value alone.
	server := newTestServer(newStore())
	rr := doJSON(t, server, http.MethodPut, "/api/tasks/tsk_1", token, `{"status":"IN_PROGRESS"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if captured.DueDateSet || captured.AssigneeSet {
		t.Fatalf("omitted fields must not be marked for update: %+v", captured)
	}

	// Explicit null clears it.
	server = newTestServer(newStore())
	rr = doJSON(t, server, http.MethodPut, "/api/tasks/tsk_1", token, `{"dueDate":null,"assigneeId":null}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !captured.DueDateSet || captured.DueDate != nil {
		t.Fatalf("expected dueDate cleared, got %+v", captured)
	}
	if !captured.AssigneeSet || captured.AssigneeID != nil {
		t.Fatalf("expected assignee cleared, got %+v", captured)
	}
}

func TestCreateCommentValidatesLength(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, taskID string) (store.TaskWithRefs, error) {
			return memberTask(taskID, "usr_creator", "usr_1"), nil
		},
		getProjectMemberRoleFn: func(context.Context, string, string) (string, error) {
			return "MEMBER", nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "usr_1")

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	rr := doJSON(t, server, http.MethodPost, "/api/tasks/tsk_1/comments", token,
		`{"content":"`+string(long)+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/tasks/tsk_1/comments", token,
		`{"content":"Looks good to me."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}
