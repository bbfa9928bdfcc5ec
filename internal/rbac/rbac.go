// Package rbac holds the authorization predicates. Every predicate is a
// pure function of an authenticated principal and pre-fetched resource
// facts; callers fetch the facts, predicates only decide.
package rbac

type GlobalRole string
type ProjectRole string

const (
	RoleAdmin  GlobalRole = "ADMIN"
	RoleMember GlobalRole = "MEMBER"
)

const (
	ProjectRoleOwner  ProjectRole = "OWNER"
	ProjectRoleAdmin  ProjectRole = "ADMIN"
	ProjectRoleMember ProjectRole = "MEMBER"
)

// Principal is the authenticated caller: user id plus global role.
type Principal struct {
	ID   string
	Role GlobalRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// ProjectFacts carries the principal's membership in the target project.
// MemberRole is empty when the principal is not a member.
type ProjectFacts struct {
	MemberRole ProjectRole
}

func (f ProjectFacts) isMember() bool {
	return f.MemberRole != ""
}

// TaskFacts carries the ownership fields of the target task together
// with the principal's membership in the task's project.
type TaskFacts struct {
	CreatorID  string
	AssigneeID string
	ProjectFacts
}

// ConversationFacts carries the participant ids of the target
// conversation.
type ConversationFacts struct {
	ParticipantIDs []string
}

func CanReadProject(p Principal, f ProjectFacts) bool {
	return p.IsAdmin() || f.isMember()
}

func CanUpdateProject(p Principal, f ProjectFacts) bool {
	return p.IsAdmin() || f.MemberRole == ProjectRoleOwner || f.MemberRole == ProjectRoleAdmin
}

func CanDeleteProject(p Principal, f ProjectFacts) bool {
	return p.IsAdmin() || f.MemberRole == ProjectRoleOwner
}

// CanManageMembers gates adding and removing project members. Unlike the
// project predicates above there is no global-ADMIN bypass: membership
// management is reserved to project-scoped OWNER and ADMIN roles.
func CanManageMembers(p Principal, f ProjectFacts) bool {
	return f.MemberRole == ProjectRoleOwner || f.MemberRole == ProjectRoleAdmin
}

// RemovalWouldOrphanProject reports whether removing a member with the
// given role would leave the project without any OWNER.
func RemovalWouldOrphanProject(targetRole ProjectRole, ownerCount int) bool {
	return targetRole == ProjectRoleOwner && ownerCount <= 1
}

func CanReadTask(p Principal, f TaskFacts) bool {
	if p.IsAdmin() {
		return true
	}
	return f.CreatorID == p.ID || f.AssigneeID == p.ID || f.isMember()
}

func CanUpdateTask(p Principal, f TaskFacts) bool {
	return CanReadTask(p, f)
}

// CanDeleteTask is intentionally narrower than read/update: only the
// creator or a global ADMIN may delete, project membership is not
// sufficient.
func CanDeleteTask(p Principal, f TaskFacts) bool {
	return p.IsAdmin() || f.CreatorID == p.ID
}

func CanCommentOnTask(p Principal, f TaskFacts) bool {
	return CanReadTask(p, f)
}

// CanAccessConversation has no ADMIN bypass: only the two participants
// may read or post.
func CanAccessConversation(p Principal, f ConversationFacts) bool {
	for _, id := range f.ParticipantIDs {
		if id == p.ID {
			return true
		}
	}
	return false
}

// CanFollow rejects self-follow; any other target is allowed.
func CanFollow(p Principal, targetUserID string) bool {
	return targetUserID != p.ID
}

func NormalizeGlobal(role string) GlobalRole {
	if GlobalRole(role) == RoleAdmin {
		return RoleAdmin
	}
	return RoleMember
}

func ValidProjectRole(role string) bool {
	switch ProjectRole(role) {
	case ProjectRoleOwner, ProjectRoleAdmin, ProjectRoleMember:
		return true
	default:
		return false
	}
}
