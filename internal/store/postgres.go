package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, email, password_hash, role, avatar, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Avatar, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, avatar)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.Avatar)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID string, name string, avatar *string, avatarSet bool) (User, error) {
	query := `UPDATE users SET updated_at=NOW()`
	args := []any{userID}
	if name != "" {
		args = append(args, name)
		query += fmt.Sprintf(", name=$%d", len(args))
	}
	if avatarSet {
		args = append(args, avatar)
		query += fmt.Sprintf(", avatar=$%d", len(args))
	}
	query += ` WHERE id=$1 RETURNING ` + userColumns
	return scanUser(s.db.QueryRowContext(ctx, query, args...))
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]UserWithStats, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(` AND (u.name ILIKE $%d OR u.email ILIKE $%d)`, len(args), len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where += fmt.Sprintf(` AND EXISTS(SELECT 1 FROM project_members pm WHERE pm.user_id = u.id AND pm.project_id = $%d)`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users u `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT u.id, u.name, u.email, u.role, u.avatar, u.created_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.assignee_id = u.id),
			(SELECT COUNT(*) FROM project_members pm WHERE pm.user_id = u.id)
		FROM users u
		%s
		ORDER BY u.name ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]UserWithStats, 0)
	for rows.Next() {
		var item UserWithStats
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Role, &item.Avatar, &item.CreatedAt, &item.TaskCount, &item.ProjectCount); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return items, total, nil
}

// UserProfileCounts returns the stats block for /users/me: assigned and
// created task counts, memberships and authored comments.
func (s *PostgresStore) UserProfileCounts(ctx context.Context, userID string) (assigned, created, projects, comments int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tasks WHERE assignee_id=$1),
			(SELECT COUNT(*) FROM tasks WHERE creator_id=$1),
			(SELECT COUNT(*) FROM project_members WHERE user_id=$1),
			(SELECT COUNT(*) FROM comments WHERE author_id=$1)
	`, userID).Scan(&assigned, &created, &projects, &comments)
	if err != nil {
		err = fmt.Errorf("profile counts: %w", err)
	}
	return
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to a user id; the
// caller loads the user so the profile is always the committed one.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	// A new request invalidates earlier tokens for the same address.
	if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE email=$1`, email); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear password resets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_resets (token, email, expires_at) VALUES ($1, $2, $3)
	`, token, email, expiresAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert password reset: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (PasswordReset, error) {
	var reset PasswordReset
	err := s.db.QueryRowContext(ctx, `
		SELECT token, email, expires_at, used_at
		FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&reset.Token, &reset.Email, &reset.ExpiresAt, &reset.UsedAt)
	if err != nil {
		return PasswordReset{}, err
	}
	return reset, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}
