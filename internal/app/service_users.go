package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskify/api/internal/blob"
	"taskify/api/internal/rbac"
	"taskify/api/internal/store"
)

type UserListInput struct {
	Search    string
	ProjectID string
	Page      pagination
}

func (s *Service) ListUsers(ctx context.Context, input UserListInput) ([]map[string]any, Meta, error) {
	items, total, err := s.store.ListUsers(ctx, store.UserFilter{
		Search:    input.Search,
		ProjectID: input.ProjectID,
		Limit:     input.Page.Limit,
		Offset:    input.Page.Offset(),
	})
	if err != nil {
		return nil, Meta{}, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, userListPayload(item))
	}
	return payload, pageMeta(input.Page, len(items), total), nil
}

// Profile returns the caller's own user record plus activity counts.
func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	assigned, created, projects, comments, err := s.store.UserProfileCounts(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	payload := userPayload(user)
	payload["stats"] = map[string]any{
		"assignedTasks": assigned,
		"createdTasks":  created,
		"projects":      projects,
		"comments":      comments,
	}
	return payload, nil
}

// UpdateProfileInput keeps avatar as raw JSON so an explicit null clears
// the image while an omitted field leaves it untouched.
type UpdateProfileInput struct {
	Name   *string         `json:"name"`
	Avatar json.RawMessage `json:"avatar"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input UpdateProfileInput) (map[string]any, error) {
	errs := fieldErrors{}
	name := ""
	if input.Name != nil {
		checkProfileName(errs, *input.Name)
		name = *input.Name
	}

	avatar, avatarSet, ok := rawString(input.Avatar)
	if !ok {
		errs.add("avatar", "avatar must be a URL string or null")
	} else if avatarSet && avatar != nil && !validAbsoluteURL(*avatar) {
		errs.add("avatar", "avatar must be an absolute URL")
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	user, err := s.store.UpdateUserProfile(ctx, session.UserID, name, avatar, avatarSet)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// UploadAvatar stores the image in object storage and saves its URL on
// the profile.
func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, data []byte) (map[string]any, error) {
	if s.avatars == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	if len(data) == 0 {
		return nil, errInvalidInput("File is required")
	}
	if len(data) > 5<<20 {
		return nil, errValidationField("file", "file must be at most 5 MB")
	}
	if !blob.AllowedAvatarType(contentType) {
		return nil, errValidationField("file", "file must be a PNG, JPEG or WebP image")
	}

	url, err := s.avatars.UploadAvatar(ctx, session.UserID, contentType, data)
	if err != nil {
		return nil, err
	}

	user, err := s.store.UpdateUserProfile(ctx, session.UserID, "", &url, true)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// FollowState reports whether the caller follows the target user.
func (s *Service) FollowState(ctx context.Context, session Session, targetID string) (map[string]any, error) {
	if _, err := s.store.GetUserByID(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}
	following, err := s.store.IsFollowing(ctx, session.UserID, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"following": following}, nil
}

// ToggleFollow flips the directed follow edge and reports the new state.
// A race between two toggles from the same caller may flip the edge
// twice; that end state is accepted.
func (s *Service) ToggleFollow(ctx context.Context, session Session, targetID string) (map[string]any, error) {
	if !rbac.CanFollow(session.principal(), targetID) {
		return nil, errInvalidInput("Cannot follow yourself")
	}
	if _, err := s.store.GetUserByID(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}

	following, err := s.store.IsFollowing(ctx, session.UserID, targetID)
	if err != nil {
		return nil, err
	}
	if following {
		if err := s.store.DeleteFollow(ctx, session.UserID, targetID); err != nil {
			return nil, err
		}
	} else {
		if err := s.store.CreateFollow(ctx, session.UserID, targetID); err != nil {
			return nil, err
		}
	}
	return map[string]any{"following": !following}, nil
}

// Dashboard aggregates the caller's workload: stat counts, in-flight and
// upcoming tasks, a 7-day completion series and the completion rate.
// ADMIN principals see organisation-wide task numbers.
func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	assigneeID := session.UserID
	if session.principal().IsAdmin() {
		assigneeID = ""
	}

	counts, err := s.store.DashboardCounts(ctx, assigneeID, session.UserID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListRecentInProgress(ctx, assigneeID, 5)
	if err != nil {
		return nil, err
	}
	upcoming, err := s.store.ListUpcomingTasks(ctx, assigneeID, 5)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	weekAgo := now.AddDate(0, 0, -6)
	dayStart := time.Date(weekAgo.Year(), weekAgo.Month(), weekAgo.Day(), 0, 0, 0, 0, now.Location())
	completions, err := s.store.CompletionTimes(ctx, assigneeID, dayStart)
	if err != nil {
		return nil, err
	}

	activity := make([]map[string]any, 0, 7)
	for day := 0; day < 7; day++ {
		from := dayStart.AddDate(0, 0, day)
		to := from.AddDate(0, 0, 1)
		count := 0
		for _, ts := range completions {
			if !ts.Before(from) && ts.Before(to) {
				count++
			}
		}
		activity = append(activity, map[string]any{
			"date":      from.Format("2006-01-02"),
			"completed": count,
		})
	}

	completionRate := 0.0
	if counts.TotalTasks > 0 {
		completionRate = float64(counts.CompletedTasks) / float64(counts.TotalTasks)
	}

	return map[string]any{
		"stats": map[string]any{
			"totalTasks":        counts.TotalTasks,
			"completedTasks":    counts.CompletedTasks,
			"inProgressTasks":   counts.InProgressTasks,
			"todoTasks":         counts.TodoTasks,
			"upcomingDeadlines": counts.UpcomingDeadlines,
			"projects":          counts.ProjectCount,
			"completionRate":    completionRate,
		},
		"recentTasks":   taskListPayload(recent),
		"upcomingTasks": taskListPayload(upcoming),
		"activity":      activity,
	}, nil
}
