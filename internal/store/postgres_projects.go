package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) CreateProject(ctx context.Context, project Project, creatorMember ProjectMember) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, color)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.Description, project.Color); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, creatorMember.ID, project.ID, creatorMember.UserID, creatorMember.Role); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert creator membership: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (ProjectWithCounts, error) {
	var item ProjectWithCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.color, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id),
			(SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = p.id)
		FROM projects p
		WHERE p.id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.Color, &item.CreatedAt, &item.UpdatedAt, &item.TaskCount, &item.MemberCount)
	if err != nil {
		return ProjectWithCounts{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]ProjectWithCounts, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	if filter.MemberID != "" {
		args = append(args, filter.MemberID)
		where += fmt.Sprintf(` AND EXISTS(SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $%d)`, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(` AND (p.name ILIKE $%d OR p.description ILIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects p `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT p.id, p.name, p.description, p.color, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id),
			(SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = p.id)
		FROM projects p
		%s
		ORDER BY p.updated_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectWithCounts, 0)
	for rows.Next() {
		var item ProjectWithCounts
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Color, &item.CreatedAt, &item.UpdatedAt, &item.TaskCount, &item.MemberCount); err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate projects: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, name, description, color *string) (ProjectWithCounts, error) {
	query := `UPDATE projects SET updated_at=NOW()`
	args := []any{projectID}
	if name != nil {
		args = append(args, *name)
		query += fmt.Sprintf(", name=$%d", len(args))
	}
	if description != nil {
		args = append(args, *description)
		query += fmt.Sprintf(", description=$%d", len(args))
	}
	if color != nil {
		args = append(args, *color)
		query += fmt.Sprintf(", color=$%d", len(args))
	}
	query += ` WHERE id=$1`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ProjectWithCounts{}, fmt.Errorf("update project: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ProjectWithCounts{}, sql.ErrNoRows
	}
	return s.GetProject(ctx, projectID)
}

// DeleteProject removes the project row; members, tasks and task
// comments go with it via ON DELETE CASCADE, so the cascade is atomic.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetProjectMemberRole returns the principal's membership role in the
// project, or "" when they are not a member.
func (s *PostgresStore) GetProjectMemberRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMemberWithUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.role, pm.joined_at,
			u.id, u.name, u.avatar, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.role ASC, pm.joined_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMemberWithUser, 0)
	for rows.Next() {
		var item ProjectMemberWithUser
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Role, &item.JoinedAt,
			&item.User.ID, &item.User.Name, &item.User.Avatar, &item.Email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProjectMember(ctx context.Context, memberID string) (ProjectMember, error) {
	var member ProjectMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, role, joined_at FROM project_members WHERE id=$1
	`, memberID).Scan(&member.ID, &member.ProjectID, &member.UserID, &member.Role, &member.JoinedAt)
	if err != nil {
		return ProjectMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) AddProjectMember(ctx context.Context, member ProjectMember) (ProjectMemberWithUser, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.ProjectID, member.UserID, member.Role)
	if err != nil {
		return ProjectMemberWithUser{}, err
	}

	var item ProjectMemberWithUser
	err = s.db.QueryRowContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.role, pm.joined_at,
			u.id, u.name, u.avatar, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.id=$1
	`, member.ID).Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Role, &item.JoinedAt,
		&item.User.ID, &item.User.Name, &item.User.Avatar, &item.Email)
	if err != nil {
		return ProjectMemberWithUser{}, fmt.Errorf("read new member: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) RemoveProjectMember(ctx context.Context, memberID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE id=$1`, memberID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountProjectOwners(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM project_members WHERE project_id=$1 AND role='OWNER'
	`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}
