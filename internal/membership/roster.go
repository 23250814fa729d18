// Package membership holds a project's member list and the guarded
// transitions that keep it consistent with the project owner.
package membership

import (
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/rbac"
)

var (
	ErrAlreadyMember = errors.New("user is already a member")
	ErrNotMember     = errors.New("user is not a member")
	ErrOwner         = errors.New("the project owner cannot be removed or re-roled")
	ErrInvalidRole   = errors.New("invalid role")
	ErrOwnerMissing  = errors.New("owner is not an admin member")
)

type Member struct {
	UserID   string    `json:"userId"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Roster is the member list of one project. The owner is always present
// with role admin and every user appears at most once.
type Roster struct {
	owner   string
	members []Member
}

func New(ownerID string, now time.Time) *Roster {
	return &Roster{
		owner:   ownerID,
		members: []Member{{UserID: ownerID, Role: rbac.RoleAdmin, JoinedAt: now}},
	}
}

// Load rebuilds a roster from persisted members. Duplicate entries keep the
// first occurrence.
func Load(ownerID string, members []Member) (*Roster, error) {
	unique := lo.UniqBy(members, func(m Member) string { return m.UserID })
	r := &Roster{owner: ownerID, members: unique}
	if role, ok := r.RoleOf(ownerID); !ok || role != rbac.RoleAdmin {
		return nil, ErrOwnerMissing
	}
	return r, nil
}

func (r *Roster) Owner() string { return r.owner }

func (r *Roster) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Roster) IsMember(userID string) bool {
	_, ok := r.RoleOf(userID)
	return ok
}

func (r *Roster) RoleOf(userID string) (rbac.Role, bool) {
	m, ok := lo.Find(r.members, func(m Member) bool { return m.UserID == userID })
	if !ok {
		return "", false
	}
	return m.Role, true
}

// HasPermission is true when userID is a member whose role ranks at or
// above required. Non-members never have permission.
func (r *Roster) HasPermission(userID string, required rbac.Role) bool {
	role, ok := r.RoleOf(userID)
	return ok && rbac.AtLeast(role, required)
}

func (r *Roster) Add(userID string, role rbac.Role, now time.Time) error {
	if _, ok := rbac.Parse(string(role)); !ok {
		return ErrInvalidRole
	}
	if r.IsMember(userID) {
		return ErrAlreadyMember
	}
	r.members = append(r.members, Member{UserID: userID, Role: role, JoinedAt: now})
	return nil
}

func (r *Roster) Remove(userID string) error {
	if userID == r.owner {
		return ErrOwner
	}
	_, idx, ok := lo.FindIndexOf(r.members, func(m Member) bool { return m.UserID == userID })
	if !ok {
		return ErrNotMember
	}
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	return nil
}

func (r *Roster) ChangeRole(userID string, role rbac.Role) error {
	if _, ok := rbac.Parse(string(role)); !ok {
		return ErrInvalidRole
	}
	_, idx, ok := lo.FindIndexOf(r.members, func(m Member) bool { return m.UserID == userID })
	if !ok {
		return ErrNotMember
	}
	if userID == r.owner {
		return ErrOwner
	}
	r.members[idx].Role = role
	return nil
}
