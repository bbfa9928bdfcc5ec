package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// priorityRank orders URGENT > HIGH > MEDIUM > LOW; the task list is a
// triage view, most urgent and soonest-due first.
const priorityRank = `CASE t.priority WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END`

const taskRefColumns = `
	t.id, t.title, t.description, t.status, t.priority, t.due_date,
	t.project_id, t.creator_id, t.assignee_id, t.created_at, t.updated_at,
	p.id, p.name, p.color,
	c.id, c.name, c.avatar,
	a.id, a.name, a.avatar,
	(SELECT COUNT(*) FROM comments cm WHERE cm.task_id = t.id)`

const taskRefJoins = `
	FROM tasks t
	JOIN projects p ON p.id = t.project_id
	JOIN users c ON c.id = t.creator_id
	LEFT JOIN users a ON a.id = t.assignee_id`

func scanTaskWithRefs(scan func(dest ...any) error) (TaskWithRefs, error) {
	var item TaskWithRefs
	var assigneeID, assigneeName *string
	var assigneeAvatar *string
	err := scan(
		&item.ID, &item.Title, &item.Description, &item.Status, &item.Priority, &item.DueDate,
		&item.ProjectID, &item.CreatorID, &item.AssigneeID, &item.CreatedAt, &item.UpdatedAt,
		&item.Project.ID, &item.Project.Name, &item.Project.Color,
		&item.Creator.ID, &item.Creator.Name, &item.Creator.Avatar,
		&assigneeID, &assigneeName, &assigneeAvatar,
		&item.CommentCount,
	)
	if err != nil {
		return TaskWithRefs{}, err
	}
	if assigneeID != nil {
		item.Assignee = &UserSummary{ID: *assigneeID, Name: *assigneeName, Avatar: assigneeAvatar}
	}
	return item, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, due_date, project_id, creator_id, assignee_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.Title, task.Description, task.Status, task.Priority, task.DueDate, task.ProjectID, task.CreatorID, task.AssigneeID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (TaskWithRefs, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskRefColumns+taskRefJoins+` WHERE t.id=$1`, taskID)
	return scanTaskWithRefs(row.Scan)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]TaskWithRefs, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	appendEq := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where += fmt.Sprintf(` AND %s = $%d`, column, len(args))
	}
	appendEq("t.status", filter.Status)
	appendEq("t.priority", filter.Priority)
	appendEq("t.project_id", filter.ProjectID)
	appendEq("t.assignee_id", filter.AssigneeID)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(` AND (t.title ILIKE $%d OR t.description ILIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s %s %s
		ORDER BY %s DESC, t.due_date ASC NULLS LAST, t.created_at DESC
		LIMIT $%d OFFSET $%d
	`, taskRefColumns, taskRefJoins, where, priorityRank, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWithRefs, 0)
	for rows.Next() {
		item, err := scanTaskWithRefs(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, total, nil
}

// TaskUpdate carries the partial-update fields; nil means "leave as is".
// AssigneeSet/DueDateSet distinguish clearing from omitting.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *time.Time
	DueDateSet  bool
	AssigneeID  *string
	AssigneeSet bool
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) error {
	query := `UPDATE tasks SET updated_at=NOW()`
	args := []any{taskID}
	set := func(column string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(", %s=$%d", column, len(args))
	}
	if update.Title != nil {
		set("title", *update.Title)
	}
	if update.Description != nil {
		set("description", *update.Description)
	}
	if update.Status != nil {
		set("status", *update.Status)
	}
	if update.Priority != nil {
		set("priority", *update.Priority)
	}
	if update.DueDateSet {
		set("due_date", update.DueDate)
	}
	if update.AssigneeSet {
		set("assignee_id", update.AssigneeID)
	}
	query += ` WHERE id=$1`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]CommentWithAuthor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.task_id, c.author_id, c.created_at,
			u.id, u.name, u.avatar
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.task_id=$1
		ORDER BY c.created_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]CommentWithAuthor, 0)
	for rows.Next() {
		var item CommentWithAuthor
		if err := rows.Scan(&item.ID, &item.Content, &item.TaskID, &item.AuthorID, &item.CreatedAt,
			&item.Author.ID, &item.Author.Name, &item.Author.Avatar); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (CommentWithAuthor, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, content, task_id, author_id)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.Content, comment.TaskID, comment.AuthorID)
	if err != nil {
		return CommentWithAuthor{}, fmt.Errorf("insert comment: %w", err)
	}

	var item CommentWithAuthor
	err = s.db.QueryRowContext(ctx, `
		SELECT c.id, c.content, c.task_id, c.author_id, c.created_at,
			u.id, u.name, u.avatar
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, comment.ID).Scan(&item.ID, &item.Content, &item.TaskID, &item.AuthorID, &item.CreatedAt,
		&item.Author.ID, &item.Author.Name, &item.Author.Avatar)
	if err != nil {
		return CommentWithAuthor{}, fmt.Errorf("read new comment: %w", err)
	}
	return item, nil
}

// DashboardCounts computes the stat block in one round trip. assigneeID
// is empty for ADMIN principals, which widens the task counts to all
// tasks; the project count is always the caller's own memberships.
func (s *PostgresStore) DashboardCounts(ctx context.Context, assigneeID, userID string) (DashboardCounts, error) {
	scope := ``
	args := []any{}
	if assigneeID != "" {
		args = append(args, assigneeID)
		scope = ` AND t.assignee_id = $1`
	}
	memberArgs := len(args) + 1
	args = append(args, userID)

	var counts DashboardCounts
	query := fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM tasks t WHERE 1=1%[1]s),
			(SELECT COUNT(*) FROM tasks t WHERE t.status='DONE'%[1]s),
			(SELECT COUNT(*) FROM tasks t WHERE t.status='IN_PROGRESS'%[1]s),
			(SELECT COUNT(*) FROM tasks t WHERE t.status='TODO'%[1]s),
			(SELECT COUNT(*) FROM tasks t WHERE t.status <> 'DONE'
				AND t.due_date BETWEEN NOW() AND NOW() + INTERVAL '7 days'%[1]s),
			(SELECT COUNT(*) FROM project_members pm WHERE pm.user_id = $%[2]d)
	`, scope, memberArgs)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&counts.TotalTasks, &counts.CompletedTasks, &counts.InProgressTasks,
		&counts.TodoTasks, &counts.UpcomingDeadlines, &counts.ProjectCount,
	)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) ListRecentInProgress(ctx context.Context, assigneeID string, limit int) ([]TaskWithRefs, error) {
	return s.listDashboardTasks(ctx, assigneeID, limit, `t.status = 'IN_PROGRESS'`, `t.updated_at DESC`)
}

func (s *PostgresStore) ListUpcomingTasks(ctx context.Context, assigneeID string, limit int) ([]TaskWithRefs, error) {
	return s.listDashboardTasks(ctx, assigneeID, limit, `t.status <> 'DONE' AND t.due_date IS NOT NULL`, `t.due_date ASC`)
}

func (s *PostgresStore) listDashboardTasks(ctx context.Context, assigneeID string, limit int, cond, order string) ([]TaskWithRefs, error) {
	args := []any{}
	scope := ``
	if assigneeID != "" {
		args = append(args, assigneeID)
		scope = ` AND t.assignee_id = $1`
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s %s WHERE %s%s ORDER BY %s LIMIT $%d`,
		taskRefColumns, taskRefJoins, cond, scope, order, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dashboard tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWithRefs, 0)
	for rows.Next() {
		item, err := scanTaskWithRefs(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard tasks: %w", err)
	}
	return items, nil
}

// CompletionTimes returns updated_at of tasks completed since the given
// instant; the service folds them into the per-day activity series.
func (s *PostgresStore) CompletionTimes(ctx context.Context, assigneeID string, since time.Time) ([]time.Time, error) {
	args := []any{since}
	scope := ``
	if assigneeID != "" {
		args = append(args, assigneeID)
		scope = ` AND assignee_id = $2`
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT updated_at FROM tasks WHERE status='DONE' AND updated_at >= $1`+scope, args...)
	if err != nil {
		return nil, fmt.Errorf("completion times: %w", err)
	}
	defer rows.Close()

	times := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan completion time: %w", err)
		}
		times = append(times, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion times: %w", err)
	}
	return times, nil
}
