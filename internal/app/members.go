package app

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/samarth3282/trello-api/internal/auth"
	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

const (
	EventMemberJoined      = "member:joined"
	EventMemberRemoved     = "member:removed"
	EventMemberRoleChanged = "member:role-changed"
	EventMemberLeft        = "member:left"
	// EventNotification is the personal-room event for a user.
	EventNotification = "notification"
)

type InviteInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Invitation is the signed token handed to the invitee.
type Invitation struct {
	InviteToken string `json:"inviteToken"`
	ProjectID   string `json:"projectId"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// membershipPrefixes are the lists that depend on who belongs to a project.
func membershipPrefixes() []string {
	return []string{cache.Prefix(cache.Projects), cache.Prefix(cache.Tasks)}
}

// InviteMember issues an invite token for an existing user and queues the
// invitation notification. The roster is unchanged until the invite is
// accepted.
func (s *Service) InviteMember(ctx context.Context, actor Actor, projectID string, in InviteInput) (Invitation, Effects, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Invitation{}, Effects{}, validationError("email", "Please provide a valid email")
	}
	role, ok := rbac.Parse(in.Role)
	if !ok {
		return Invitation{}, Effects{}, validationError("role", "Role must be admin, manager, or member")
	}
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return Invitation{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionInvite); err != nil {
		return Invitation{}, Effects{}, err
	}
	invitee, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Invitation{}, Effects{}, mapStoreErr(err, "User not found with this email")
	}
	if sc.roster.IsMember(invitee.ID) {
		return Invitation{}, Effects{}, badRequest("User is already a member of this project")
	}

	now := s.now()
	token, err := auth.IssueInvite(s.inviteSecret, auth.InviteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        util.NewID("inv"),
			Subject:   invitee.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.inviteTTL)),
		},
		ProjectID: projectID,
		Email:     email,
		Role:      string(role),
		InvitedBy: actor.UserID,
	})
	if err != nil {
		return Invitation{}, Effects{}, err
	}
	inv := Invitation{InviteToken: token, ProjectID: projectID, Email: email, Role: string(role)}
	p := sc.project
	eff := s.commit(ctx, mutation{
		entity:    "project",
		action:    "invite",
		entityID:  p.ID,
		projectID: p.ID,
		activity: s.activity(actor, "invite", "project", p.ID, p.Name, p.ID, map[string]any{
			"invitedEmail": email,
			"role":         string(role),
		}),
		direct: []directEvent{{userID: invitee.ID, name: EventNotification, payload: map[string]any{
			"type":        notify.ProjectInvite,
			"projectId":   p.ID,
			"projectName": p.Name,
			"role":        string(role),
		}}},
		notifications: []notify.Notification{{
			Type:      notify.ProjectInvite,
			Recipient: notify.Recipient{UserID: invitee.ID, Email: invitee.Email, Name: invitee.Name},
			TemplateData: map[string]any{
				"projectName": p.Name,
				"inviterName": actor.Name,
				"inviteToken": token,
				"role":        string(role),
			},
		}},
	})
	return inv, eff, nil
}

// AcceptInvite adds actor to the invited project with the invited role.
func (s *Service) AcceptInvite(ctx context.Context, actor Actor, token string) (store.Project, Effects, error) {
	claims, err := auth.ParseInvite(s.inviteSecret, token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return store.Project{}, Effects{}, badRequest("Invitation has expired")
		}
		return store.Project{}, Effects{}, badRequest("Invalid invitation")
	}
	if !strings.EqualFold(actor.Email, claims.Email) {
		return store.Project{}, Effects{}, badRequest("This invitation is for a different email")
	}
	sc, err := s.loadProject(ctx, claims.ProjectID)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	if sc.roster.IsMember(actor.UserID) {
		return store.Project{}, Effects{}, badRequest("You are already a member of this project")
	}
	now := s.now()
	if err := sc.roster.Add(actor.UserID, rbac.Normalize(claims.Role), now); err != nil {
		return store.Project{}, Effects{}, membershipErr(err)
	}
	p := sc.project
	p.Members = sc.roster.Members()
	p.UpdatedAt = now
	if err := s.store.SaveProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "member",
		action:     "join",
		entityID:   actor.UserID,
		projectID:  p.ID,
		invalidate: membershipPrefixes(),
		activity:   s.activity(actor, "join", "project", p.ID, p.Name, p.ID, nil),
		event:      EventMemberJoined,
		payload:    map[string]any{"userId": actor.UserID, "userName": actor.Name, "role": claims.Role},
	})
	return p, eff, nil
}

// LeaveProject removes actor from a project they do not own.
func (s *Service) LeaveProject(ctx context.Context, actor Actor, projectID string) (Effects, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return Effects{}, err
	}
	if sc.roster.Owner() == actor.UserID {
		return Effects{}, badRequest("The project owner cannot leave the project")
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return Effects{}, err
	}
	if err := sc.roster.Remove(actor.UserID); err != nil {
		return Effects{}, membershipErr(err)
	}
	p := sc.project
	p.Members = sc.roster.Members()
	p.UpdatedAt = s.now()
	if err := s.store.SaveProject(ctx, p); err != nil {
		return Effects{}, err
	}
	return s.commit(ctx, mutation{
		entity:     "member",
		action:     "leave",
		entityID:   actor.UserID,
		projectID:  p.ID,
		invalidate: membershipPrefixes(),
		activity:   s.activity(actor, "leave", "project", p.ID, p.Name, p.ID, nil),
		event:      EventMemberLeft,
		payload:    map[string]any{"userId": actor.UserID},
		revoke:     []string{actor.UserID},
	}), nil
}

// RemoveMember takes memberID out of the project. Removing the owner is
// rejected before any permission check.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, projectID, memberID string) (store.Project, Effects, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	if sc.roster.Owner() == memberID {
		return store.Project{}, Effects{}, badRequest("Cannot remove project owner")
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRemoveMember); err != nil {
		return store.Project{}, Effects{}, err
	}
	if err := sc.roster.Remove(memberID); err != nil {
		return store.Project{}, Effects{}, membershipErr(err)
	}
	p := sc.project
	p.Members = sc.roster.Members()
	p.UpdatedAt = s.now()
	if err := s.store.SaveProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "member",
		action:     "remove",
		entityID:   memberID,
		projectID:  p.ID,
		invalidate: membershipPrefixes(),
		activity:   s.activity(actor, "update", "project", p.ID, p.Name, p.ID, map[string]any{"removedMember": memberID}),
		event:      EventMemberRemoved,
		payload:    map[string]any{"userId": memberID},
		revoke:     []string{memberID},
		direct: []directEvent{{userID: memberID, name: EventNotification, payload: map[string]any{
			"type":        "removed-from-project",
			"projectId":   p.ID,
			"projectName": p.Name,
		}}},
	})
	return p, eff, nil
}

// ChangeMemberRole is restricted to the owner and project admins.
func (s *Service) ChangeMemberRole(ctx context.Context, actor Actor, projectID, memberID, role string) (store.Project, Effects, error) {
	newRole, ok := rbac.Parse(role)
	if !ok {
		return store.Project{}, Effects{}, validationError("role", "Role must be admin, manager, or member")
	}
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	if !sc.ownerOrAdmin(actor.UserID) {
		return store.Project{}, Effects{}, forbidden("Only project owner or admin can change member roles")
	}
	oldRole, _ := sc.roster.RoleOf(memberID)
	if err := sc.roster.ChangeRole(memberID, newRole); err != nil {
		return store.Project{}, Effects{}, membershipErr(err)
	}
	p := sc.project
	p.Members = sc.roster.Members()
	p.UpdatedAt = s.now()
	if err := s.store.SaveProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "member",
		action:     "role-change",
		entityID:   memberID,
		projectID:  p.ID,
		invalidate: membershipPrefixes(),
		activity: s.activity(actor, "update", "project", p.ID, p.Name, p.ID, map[string]any{
			"memberRole": map[string]any{"userId": memberID, "old": string(oldRole), "new": string(newRole)},
		}),
		event:   EventMemberRoleChanged,
		payload: map[string]any{"userId": memberID, "role": string(newRole)},
	})
	return p, eff, nil
}
