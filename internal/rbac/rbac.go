package rbac

// Role is a per-project membership role. Roles are totally ordered:
// admin > manager > member.
type Role string

// Action names a project-scoped operation that needs a minimum role.
type Action string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionComment       Action = "comment"
	ActionWriteBoard    Action = "board:write"
	ActionDeleteBoard   Action = "board:delete"
	ActionWriteTask     Action = "task:write"
	ActionDeleteTask    Action = "task:delete"
	ActionUpdateProject Action = "project:update"
	ActionInvite        Action = "member:invite"
	ActionRemoveMember  Action = "member:remove"
)

var minimumRole = map[Action]Role{
	ActionRead:          RoleMember,
	ActionComment:       RoleMember,
	ActionWriteBoard:    RoleMember,
	ActionDeleteBoard:   RoleManager,
	ActionWriteTask:     RoleMember,
	ActionDeleteTask:    RoleManager,
	ActionUpdateProject: RoleManager,
	ActionInvite:        RoleManager,
	ActionRemoveMember:  RoleManager,
}

// Rank maps a role to its position in the order. Unknown roles rank 0.
func Rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether role ranks at or above required.
func AtLeast(role, required Role) bool {
	return Rank(role) > 0 && Rank(role) >= Rank(required)
}

// MinimumRole returns the lowest role allowed to perform action.
func MinimumRole(action Action) (Role, bool) {
	role, ok := minimumRole[action]
	return role, ok
}

func Can(role Role, action Action) bool {
	required, ok := minimumRole[action]
	if !ok {
		return false
	}
	return AtLeast(role, required)
}

// Parse accepts only the three known roles.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleMember, RoleManager, RoleAdmin:
		return Role(role), true
	default:
		return "", false
	}
}

func Normalize(role string) Role {
	if parsed, ok := Parse(role); ok {
		return parsed
	}
	return RoleMember
}
