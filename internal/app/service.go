package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskify/api/internal/auth"
	"taskify/api/internal/authpw"
	"taskify/api/internal/config"
	"taskify/api/internal/rbac"
	"taskify/api/internal/store"
	"taskify/api/internal/util"
)

// Session is the authenticated caller attached to a request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) principal() rbac.Principal {
	return rbac.Principal{ID: s.UserID, Role: rbac.NormalizeGlobal(s.Role)}
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserProfile(ctx context.Context, userID string, name string, avatar *string, avatarSet bool) (store.User, error)
	ListUsers(ctx context.Context, filter store.UserFilter) ([]store.UserWithStats, int, error)
	UserProfileCounts(ctx context.Context, userID string) (assigned, created, projects, comments int, err error)

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateProject(ctx context.Context, project store.Project, creatorMember store.ProjectMember) error
	GetProject(ctx context.Context, projectID string) (store.ProjectWithCounts, error)
	ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.ProjectWithCounts, int, error)
	UpdateProject(ctx context.Context, projectID string, name, description, color *string) (store.ProjectWithCounts, error)
	DeleteProject(ctx context.Context, projectID string) error
	GetProjectMemberRole(ctx context.Context, projectID, userID string) (string, error)
	ListProjectMembers(ctx context.Context, projectID string) ([]store.ProjectMemberWithUser, error)
	GetProjectMember(ctx context.Context, memberID string) (store.ProjectMember, error)
	AddProjectMember(ctx context.Context, member store.ProjectMember) (store.ProjectMemberWithUser, error)
	RemoveProjectMember(ctx context.Context, memberID string) error
	CountProjectOwners(ctx context.Context, projectID string) (int, error)

	CreateTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, taskID string) (store.TaskWithRefs, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.TaskWithRefs, int, error)
	UpdateTask(ctx context.Context, taskID string, update store.TaskUpdate) error
	DeleteTask(ctx context.Context, taskID string) error
	ListComments(ctx context.Context, taskID string) ([]store.CommentWithAuthor, error)
	CreateComment(ctx context.Context, comment store.Comment) (store.CommentWithAuthor, error)

	FindConversationBetween(ctx context.Context, userA, userB string) (*store.ConversationWithParticipants, error)
	CreateConversation(ctx context.Context, conv store.Conversation, userA, userB string) (*store.ConversationWithParticipants, error)
	GetConversationParticipants(ctx context.Context, conversationID string) ([]store.ConversationParticipant, error)
	ListConversations(ctx context.Context, userID string) ([]store.ConversationListItem, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.MessageWithSender, error)
	CreateMessage(ctx context.Context, message store.Message) (store.MessageWithSender, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) error

	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	CreateFollow(ctx context.Context, followerID, followingID string) error
	DeleteFollow(ctx context.Context, followerID, followingID string) error

	DashboardCounts(ctx context.Context, assigneeID, userID string) (store.DashboardCounts, error)
	ListRecentInProgress(ctx context.Context, assigneeID string, limit int) ([]store.TaskWithRefs, error)
	ListUpcomingTasks(ctx context.Context, assigneeID string, limit int) ([]store.TaskWithRefs, error)
	CompletionTimes(ctx context.Context, assigneeID string, since time.Time) ([]time.Time, error)
}

// sessionStore holds refresh sessions. Redis in production, the
// Postgres tables when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// AvatarStore uploads avatar images and returns their public URL.
type AvatarStore interface {
	UploadAvatar(ctx context.Context, userID, contentType string, data []byte) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendWelcomeEmail(to, userName, appURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	mail      mailer
	avatars   AvatarStore
	log       *logrus.Logger
}

// New wires the service. sessions may be nil, in which case refresh
// sessions live in the primary store; avatars and mail may be nil when
// the respective backends are not configured.
func New(cfg config.Config, st dataStore, sessions sessionStore, passwords *authpw.Service, mail mailer, avatars AvatarStore, log *logrus.Logger) *Service {
	if sessions == nil {
		if fallback, ok := st.(sessionStore); ok {
			sessions = fallback
		}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		passwords: passwords,
		mail:      mail,
		avatars:   avatars,
		log:       log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// CreateSession issues an access token and a refresh token for the user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked and
// a fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Bootstrap seeds demo data on an empty database: five users, four
// projects with mixed membership roles, ten tasks across every status
// and priority, and a handful of comments.
func (s *Service) Bootstrap(ctx context.Context) error {
	_, total, err := s.store.ListUsers(ctx, store.UserFilter{Limit: 1})
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	userSeeds := []struct {
		ID    string
		Name  string
		Email string
		Role  string
	}{
		{"usr_seed_alice", "Alice Romero", "alice@taskify.dev", "ADMIN"},
		{"usr_seed_ben", "Ben Okafor", "ben@taskify.dev", "MEMBER"},
		{"usr_seed_carla", "Carla Nguyen", "carla@taskify.dev", "MEMBER"},
		{"usr_seed_dev", "Dev Sharma", "dev@taskify.dev", "MEMBER"},
		{"usr_seed_emma", "Emma Fischer", "emma@taskify.dev", "MEMBER"},
	}
	for _, seed := range userSeeds {
		if err := s.store.CreateUser(ctx, store.User{
			ID:           seed.ID,
			Name:         seed.Name,
			Email:        seed.Email,
			PasswordHash: string(hash),
			Role:         seed.Role,
		}); err != nil {
			return err
		}
	}

	projectSeeds := []struct {
		ID          string
		Name        string
		Description string
		Color       string
		Members     map[string]string // userID -> project role
	}{
		{"prj_seed_web", "Website Relaunch", "Marketing site rebuild", "#3B82F6",
			map[string]string{"usr_seed_ben": "OWNER", "usr_seed_carla": "ADMIN", "usr_seed_dev": "MEMBER"}},
		{"prj_seed_mobile", "Mobile App", "iOS and Android client", "#10B981",
			map[string]string{"usr_seed_carla": "OWNER", "usr_seed_emma": "MEMBER"}},
		{"prj_seed_infra", "Infrastructure", "Deployment and observability", "#F59E0B",
			map[string]string{"usr_seed_dev": "OWNER", "usr_seed_ben": "MEMBER"}},
		{"prj_seed_docs", "Documentation", "Help center and API docs", "#8B5CF6",
			map[string]string{"usr_seed_emma": "OWNER", "usr_seed_alice": "ADMIN"}},
	}
	for _, seed := range projectSeeds {
		var firstOwner string
		for userID, role := range seed.Members {
			if role == "OWNER" {
				firstOwner = userID
			}
		}
		if err := s.store.CreateProject(ctx, store.Project{
			ID:          seed.ID,
			Name:        seed.Name,
			Description: seed.Description,
			Color:       seed.Color,
		}, store.ProjectMember{
			ID:        util.NewID("pmb"),
			ProjectID: seed.ID,
			UserID:    firstOwner,
			Role:      "OWNER",
		}); err != nil {
			return err
		}
		for userID, role := range seed.Members {
			if userID == firstOwner {
				continue
			}
			if _, err := s.store.AddProjectMember(ctx, store.ProjectMember{
				ID:        util.NewID("pmb"),
				ProjectID: seed.ID,
				UserID:    userID,
				Role:      role,
			}); err != nil {
				return err
			}
		}
	}

	due := func(days int) *time.Time {
		ts := time.Now().AddDate(0, 0, days)
		return &ts
	}
	taskSeeds := []store.Task{
		{ID: "tsk_seed_01", Title: "Design landing hero", Description: "Hero section with product screenshot", Status: "IN_PROGRESS", Priority: "HIGH", DueDate: due(3), ProjectID: "prj_seed_web", CreatorID: "usr_seed_ben", AssigneeID: ptr("usr_seed_carla")},
		{ID: "tsk_seed_02", Title: "Fix checkout redirect", Description: "Users land on a 404 after payment", Status: "TODO", Priority: "URGENT", DueDate: due(1), ProjectID: "prj_seed_web", CreatorID: "usr_seed_carla", AssigneeID: ptr("usr_seed_dev")},
		{ID: "tsk_seed_03", Title: "Migrate blog content", Description: "", Status: "DONE", Priority: "LOW", ProjectID: "prj_seed_web", CreatorID: "usr_seed_ben", AssigneeID: ptr("usr_seed_ben")},
		{ID: "tsk_seed_04", Title: "Push notification opt-in", Description: "Permission prompt after first task created", Status: "IN_REVIEW", Priority: "MEDIUM", DueDate: due(7), ProjectID: "prj_seed_mobile", CreatorID: "usr_seed_carla", AssigneeID: ptr("usr_seed_emma")},
		{ID: "tsk_seed_05", Title: "Offline task cache", Description: "Queue mutations while offline", Status: "TODO", Priority: "HIGH", ProjectID: "prj_seed_mobile", CreatorID: "usr_seed_carla", AssigneeID: nil},
		{ID: "tsk_seed_06", Title: "Crash on empty board", Description: "Null deref when a project has no tasks", Status: "DONE", Priority: "URGENT", ProjectID: "prj_seed_mobile", CreatorID: "usr_seed_emma", AssigneeID: ptr("usr_seed_carla")},
		{ID: "tsk_seed_07", Title: "Terraform staging cluster", Description: "", Status: "IN_PROGRESS", Priority: "MEDIUM", DueDate: due(10), ProjectID: "prj_seed_infra", CreatorID: "usr_seed_dev", AssigneeID: ptr("usr_seed_dev")},
		{ID: "tsk_seed_08", Title: "Alerting runbook", Description: "Document the PagerDuty escalation path", Status: "TODO", Priority: "LOW", ProjectID: "prj_seed_infra", CreatorID: "usr_seed_dev", AssigneeID: ptr("usr_seed_ben")},
		{ID: "tsk_seed_09", Title: "Getting-started guide", Description: "First-run walkthrough with screenshots", Status: "IN_REVIEW", Priority: "HIGH", DueDate: due(5), ProjectID: "prj_seed_docs", CreatorID: "usr_seed_emma", AssigneeID: ptr("usr_seed_emma")},
		{ID: "tsk_seed_10", Title: "API reference audit", Description: "Flag endpoints missing examples", Status: "TODO", Priority: "MEDIUM", ProjectID: "prj_seed_docs", CreatorID: "usr_seed_alice", AssigneeID: ptr("usr_seed_emma")},
	}
	for _, task := range taskSeeds {
		if err := s.store.CreateTask(ctx, task); err != nil {
			return err
		}
	}

	commentSeeds := []store.Comment{
		{ID: "cmt_seed_01", Content: "Screenshot asset is in the shared drive.", TaskID: "tsk_seed_01", AuthorID: "usr_seed_ben"},
		{ID: "cmt_seed_02", Content: "Reproduced on staging, happens only with PayPal.", TaskID: "tsk_seed_02", AuthorID: "usr_seed_dev"},
		{ID: "cmt_seed_03", Content: "Review comments addressed, ready for another pass.", TaskID: "tsk_seed_04", AuthorID: "usr_seed_emma"},
		{ID: "cmt_seed_04", Content: "Cluster is up, DNS pending.", TaskID: "tsk_seed_07", AuthorID: "usr_seed_dev"},
		{ID: "cmt_seed_05", Content: "Added the missing webhook section.", TaskID: "tsk_seed_09", AuthorID: "usr_seed_alice"},
	}
	for _, comment := range commentSeeds {
		if _, err := s.store.CreateComment(ctx, comment); err != nil {
			return err
		}
	}

	s.log.WithField("users", len(userSeeds)).Info("seeded demo data")
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
