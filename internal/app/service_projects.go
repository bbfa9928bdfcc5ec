package app

import (
	"context"
	"database/sql"
	"errors"

	"taskify/api/internal/rbac"
	"taskify/api/internal/store"
	"taskify/api/internal/util"
)

func (s *Service) projectFacts(ctx context.Context, session Session, projectID string) (rbac.ProjectFacts, error) {
	role, err := s.store.GetProjectMemberRole(ctx, projectID, session.UserID)
	if err != nil {
		return rbac.ProjectFacts{}, err
	}
	return rbac.ProjectFacts{MemberRole: rbac.ProjectRole(role)}, nil
}

type ProjectListInput struct {
	Search string
	Page   pagination
}

func (s *Service) ListProjects(ctx context.Context, session Session, input ProjectListInput) ([]map[string]any, Meta, error) {
	filter := store.ProjectFilter{
		Search: input.Search,
		Limit:  input.Page.Limit,
		Offset: input.Page.Offset(),
	}
	// Non-admin listings are scoped to the caller's memberships.
	if !session.principal().IsAdmin() {
		filter.MemberID = session.UserID
	}

	items, total, err := s.store.ListProjects(ctx, filter)
	if err != nil {
		return nil, Meta{}, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, projectPayload(item))
	}
	return payload, pageMeta(input.Page, len(items), total), nil
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (map[string]any, error) {
	errs := fieldErrors{}
	checkProjectName(errs, input.Name)
	checkProjectDescription(errs, input.Description)
	checkProjectColor(errs, input.Color)
	if err := errs.err(); err != nil {
		return nil, err
	}
	if input.Color == "" {
		input.Color = "#3B82F6"
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		Name:        input.Name,
		Description: input.Description,
		Color:       input.Color,
	}
	// The creator becomes the project's first and only OWNER.
	member := store.ProjectMember{
		ID:        util.NewID("pmb"),
		ProjectID: project.ID,
		UserID:    session.UserID,
		Role:      string(rbac.ProjectRoleOwner),
	}
	if err := s.store.CreateProject(ctx, project, member); err != nil {
		return nil, err
	}

	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return projectPayload(created), nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReadProject(session.principal(), facts) {
		return nil, errForbidden()
	}
	return projectPayload(project), nil
}

type UpdateProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input UpdateProjectInput) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanUpdateProject(session.principal(), facts) {
		return nil, errForbidden()
	}

	errs := fieldErrors{}
	if input.Name != nil {
		checkProjectName(errs, *input.Name)
	}
	if input.Description != nil {
		checkProjectDescription(errs, *input.Description)
	}
	if input.Color != nil {
		checkProjectColor(errs, *input.Color)
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateProject(ctx, projectID, input.Name, input.Description, input.Color)
	if err != nil {
		return nil, err
	}
	return projectPayload(updated), nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return err
	}
	if !rbac.CanDeleteProject(session.principal(), facts) {
		return errForbidden()
	}
	// Members, tasks and comments cascade with the project row.
	return s.store.DeleteProject(ctx, projectID)
}

func (s *Service) ListProjectMembers(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReadProject(session.principal(), facts) {
		return nil, errForbidden()
	}

	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(members))
	for _, member := range members {
		payload = append(payload, memberPayload(member))
	}
	return payload, nil
}

type AddMemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (s *Service) AddProjectMember(ctx context.Context, session Session, projectID string, input AddMemberInput) (map[string]any, error) {
	errs := fieldErrors{}
	if input.UserID == "" {
		errs.add("userId", "userId is required")
	}
	if input.Role == "" {
		input.Role = string(rbac.ProjectRoleMember)
	} else if !rbac.ValidProjectRole(input.Role) {
		errs.add("role", "role must be one of OWNER, ADMIN, MEMBER")
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageMembers(session.principal(), facts) {
		return nil, errForbidden()
	}

	if _, err := s.store.GetUserByID(ctx, input.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}

	member, err := s.store.AddProjectMember(ctx, store.ProjectMember{
		ID:        util.NewID("pmb"),
		ProjectID: projectID,
		UserID:    input.UserID,
		Role:      input.Role,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, errConflict("User is already a member of this project")
		}
		return nil, err
	}
	return memberPayload(member), nil
}

func (s *Service) RemoveProjectMember(ctx context.Context, session Session, projectID, memberID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	member, err := s.store.GetProjectMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member.ProjectID != projectID {
		return sql.ErrNoRows
	}

	facts, err := s.projectFacts(ctx, session, projectID)
	if err != nil {
		return err
	}
	if !rbac.CanManageMembers(session.principal(), facts) {
		return errForbidden()
	}

	// Never remove the last OWNER.
	if rbac.ProjectRole(member.Role) == rbac.ProjectRoleOwner {
		owners, err := s.store.CountProjectOwners(ctx, projectID)
		if err != nil {
			return err
		}
		if rbac.RemovalWouldOrphanProject(rbac.ProjectRole(member.Role), owners) {
			return errForbidden()
		}
	}

	return s.store.RemoveProjectMember(ctx, memberID)
}
