package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"taskify/api/internal/rbac"
	"taskify/api/internal/store"
	"taskify/api/internal/util"
)

// taskFacts loads the authorization facts for a task: ownership fields
// plus the caller's membership role in the task's project. A missing
// task surfaces as sql.ErrNoRows so NOT_FOUND wins over FORBIDDEN.
func (s *Service) taskFacts(ctx context.Context, session Session, task store.TaskWithRefs) (rbac.TaskFacts, error) {
	role, err := s.store.GetProjectMemberRole(ctx, task.ProjectID, session.UserID)
	if err != nil {
		return rbac.TaskFacts{}, err
	}
	facts := rbac.TaskFacts{
		CreatorID:    task.CreatorID,
		ProjectFacts: rbac.ProjectFacts{MemberRole: rbac.ProjectRole(role)},
	}
	if task.AssigneeID != nil {
		facts.AssigneeID = *task.AssigneeID
	}
	return facts, nil
}

type TaskListInput struct {
	Status    string
	Priority  string
	ProjectID string
	Search    string
	Page      pagination
}

func (s *Service) ListTasks(ctx context.Context, session Session, input TaskListInput) ([]map[string]any, Meta, error) {
	errs := fieldErrors{}
	if input.Status != "" && !validTaskStatus(input.Status) {
		errs.add("status", "status must be one of TODO, IN_PROGRESS, IN_REVIEW, DONE")
	}
	if input.Priority != "" && !validTaskPriority(input.Priority) {
		errs.add("priority", "priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}
	if err := errs.err(); err != nil {
		return nil, Meta{}, err
	}

	filter := store.TaskFilter{
		Status:    input.Status,
		Priority:  input.Priority,
		ProjectID: input.ProjectID,
		Search:    input.Search,
		Limit:     input.Page.Limit,
		Offset:    input.Page.Offset(),
	}
	// Non-admin listings only ever see the caller's own assignments.
	if !session.principal().IsAdmin() {
		filter.AssigneeID = session.UserID
	}

	items, total, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, Meta{}, err
	}
	return taskListPayload(items), pageMeta(input.Page, len(items), total), nil
}

type CreateTaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	DueDate     *string `json:"dueDate"`
	ProjectID   string  `json:"projectId"`
	AssigneeID  *string `json:"assigneeId"`
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (map[string]any, error) {
	errs := fieldErrors{}
	checkTaskTitle(errs, input.Title)
	checkTaskDescription(errs, input.Description)
	if input.Status == "" {
		input.Status = "TODO"
	} else if !validTaskStatus(input.Status) {
		errs.add("status", "status must be one of TODO, IN_PROGRESS, IN_REVIEW, DONE")
	}
	if input.Priority == "" {
		input.Priority = "MEDIUM"
	} else if !validTaskPriority(input.Priority) {
		errs.add("priority", "priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}
	if input.ProjectID == "" {
		errs.add("projectId", "projectId is required")
	}
	var dueDate *time.Time
	if input.DueDate != nil && *input.DueDate != "" {
		parsed, ok := parseDueDate(*input.DueDate)
		if !ok {
			errs.add("dueDate", "dueDate must be an RFC 3339 timestamp or YYYY-MM-DD date")
		} else {
			dueDate = &parsed
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Project not found")
		}
		return nil, err
	}
	role, err := s.store.GetProjectMemberRole(ctx, input.ProjectID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReadProject(session.principal(), rbac.ProjectFacts{MemberRole: rbac.ProjectRole(role)}) {
		return nil, errForbidden()
	}

	if input.AssigneeID != nil && *input.AssigneeID != "" {
		if _, err := s.store.GetUserByID(ctx, *input.AssigneeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errValidationField("assigneeId", "assignee does not exist")
			}
			return nil, err
		}
	} else {
		input.AssigneeID = nil
	}

	task := store.Task{
		ID:          util.NewID("tsk"),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
		DueDate:     dueDate,
		ProjectID:   input.ProjectID,
		CreatorID:   session.UserID,
		AssigneeID:  input.AssigneeID,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return taskPayload(created), nil
}

func errValidationField(field, message string) error {
	errs := fieldErrors{}
	errs.add(field, message)
	return errs.err()
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	facts, err := s.taskFacts(ctx, session, task)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReadTask(session.principal(), facts) {
		return nil, errForbidden()
	}
	return taskPayload(task), nil
}

// UpdateTaskInput distinguishes omitted fields from explicit nulls for
// dueDate and assigneeId by keeping them as raw JSON.
type UpdateTaskInput struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	Priority    *string         `json:"priority"`
	DueDate     json.RawMessage `json:"dueDate"`
	AssigneeID  json.RawMessage `json:"assigneeId"`
}

var jsonNull = []byte("null")

func rawString(raw json.RawMessage) (value *string, set bool, ok bool) {
	if len(raw) == 0 {
		return nil, false, true
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, true, true
	}
	var parsed string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, false
	}
	return &parsed, true, true
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input UpdateTaskInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	facts, err := s.taskFacts(ctx, session, task)
	if err != nil {
		return nil, err
	}
	if !rbac.CanUpdateTask(session.principal(), facts) {
		return nil, errForbidden()
	}

	errs := fieldErrors{}
	update := store.TaskUpdate{
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
	}
	if input.Title != nil {
		checkTaskTitle(errs, *input.Title)
	}
	if input.Description != nil {
		checkTaskDescription(errs, *input.Description)
	}
	if input.Status != nil && !validTaskStatus(*input.Status) {
		errs.add("status", "status must be one of TODO, IN_PROGRESS, IN_REVIEW, DONE")
	}
	if input.Priority != nil && !validTaskPriority(*input.Priority) {
		errs.add("priority", "priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}

	dueRaw, dueSet, ok := rawString(input.DueDate)
	if !ok {
		errs.add("dueDate", "dueDate must be a string or null")
	} else if dueSet {
		update.DueDateSet = true
		if dueRaw != nil && *dueRaw != "" {
			parsed, valid := parseDueDate(*dueRaw)
			if !valid {
				errs.add("dueDate", "dueDate must be an RFC 3339 timestamp or YYYY-MM-DD date")
			} else {
				update.DueDate = &parsed
			}
		}
	}

	assigneeRaw, assigneeSet, ok := rawString(input.AssigneeID)
	if !ok {
		errs.add("assigneeId", "assigneeId must be a string or null")
	} else if assigneeSet {
		update.AssigneeSet = true
		if assigneeRaw != nil && *assigneeRaw != "" {
			if _, err := s.store.GetUserByID(ctx, *assigneeRaw); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					errs.add("assigneeId", "assignee does not exist")
				} else {
					return nil, err
				}
			}
			update.AssigneeID = assigneeRaw
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateTask(ctx, taskID, update); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return taskPayload(updated), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	facts, err := s.taskFacts(ctx, session, task)
	if err != nil {
		return err
	}
	if !rbac.CanDeleteTask(session.principal(), facts) {
		return errForbidden()
	}
	return s.store.DeleteTask(ctx, taskID)
}

func (s *Service) ListTaskComments(ctx context.Context, session Session, taskID string) ([]map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	facts, err := s.taskFacts(ctx, session, task)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReadTask(session.principal(), facts) {
		return nil, errForbidden()
	}

	comments, err := s.store.ListComments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, commentPayload(comment))
	}
	return payload, nil
}

func (s *Service) CreateComment(ctx context.Context, session Session, taskID, content string) (map[string]any, error) {
	if err := validateComment(content); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	facts, err := s.taskFacts(ctx, session, task)
	if err != nil {
		return nil, err
	}
	if !rbac.CanCommentOnTask(session.principal(), facts) {
		return nil, errForbidden()
	}

	comment, err := s.store.CreateComment(ctx, store.Comment{
		ID:       util.NewID("cmt"),
		Content:  content,
		TaskID:   taskID,
		AuthorID: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}
