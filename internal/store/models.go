package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Avatar       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserSummary is the shape embedded in task, comment and conversation
// payloads: enough to render a name and avatar, nothing more.
type UserSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// UserWithStats augments a user with the counts shown on people lists.
type UserWithStats struct {
	User
	TaskCount    int
	ProjectCount int
}

type Project struct {
	ID          string
	Name        string
	Description string
	Color       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectWithCounts is a project plus its task and member counts.
type ProjectWithCounts struct {
	Project
	TaskCount   int
	MemberCount int
}

type ProjectMember struct {
	ID        string
	ProjectID string
	UserID    string
	Role      string
	JoinedAt  time.Time
}

type ProjectMemberWithUser struct {
	ProjectMember
	User  UserSummary
	Email string
}

type Task struct {
	ID          string
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     *time.Time
	ProjectID   string
	CreatorID   string
	AssigneeID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectRef is the slim project shape embedded in task payloads.
type ProjectRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type TaskWithRefs struct {
	Task
	Project      ProjectRef
	Creator      UserSummary
	Assignee     *UserSummary
	CommentCount int
}

type Comment struct {
	ID        string
	Content   string
	TaskID    string
	AuthorID  string
	CreatedAt time.Time
}

type CommentWithAuthor struct {
	Comment
	Author UserSummary
}

type Conversation struct {
	ID        string
	PairKey   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ConversationParticipant struct {
	ID             string
	ConversationID string
	UserID         string
	LastReadAt     *time.Time
}

// ConversationWithParticipants is the create/lookup result shape.
type ConversationWithParticipants struct {
	Conversation
	Participants []UserSummary
}

// ConversationListItem is one row of a user's conversation list: the
// other participant, the latest message and the unread count derived
// from the caller's last_read_at.
type ConversationListItem struct {
	ID            string
	Other         UserSummary
	LastMessage   *Message
	UnreadCount   int
	UpdatedAt     time.Time
}

type Message struct {
	ID             string
	Content        string
	ConversationID string
	SenderID       string
	CreatedAt      time.Time
}

type MessageWithSender struct {
	Message
	Sender UserSummary
}

type Follow struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

type PasswordReset struct {
	Token     string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// TaskFilter holds the list-endpoint filters. Empty fields are skipped;
// AssigneeID scopes non-admin listings to the caller.
type TaskFilter struct {
	Status     string
	Priority   string
	ProjectID  string
	AssigneeID string
	Search     string
	Limit      int
	Offset     int
}

type ProjectFilter struct {
	MemberID string
	Search   string
	Limit    int
	Offset   int
}

type UserFilter struct {
	Search    string
	ProjectID string
	Limit     int
	Offset    int
}

// DashboardCounts is the aggregate block on the dashboard endpoint.
type DashboardCounts struct {
	TotalTasks        int
	CompletedTasks    int
	InProgressTasks   int
	TodoTasks         int
	UpcomingDeadlines int
	ProjectCount      int
}
