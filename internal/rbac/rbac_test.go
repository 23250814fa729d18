package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member writes task", role: RoleMember, action: ActionWriteTask, allow: true},
		{name: "member writes board", role: RoleMember, action: ActionWriteBoard, allow: true},
		{name: "member deletes task", role: RoleMember, action: ActionDeleteTask, allow: false},
		{name: "member invites", role: RoleMember, action: ActionInvite, allow: false},
		{name: "manager deletes board", role: RoleManager, action: ActionDeleteBoard, allow: true},
		{name: "manager updates project", role: RoleManager, action: ActionUpdateProject, allow: true},
		{name: "manager removes member", role: RoleManager, action: ActionRemoveMember, allow: true},
		{name: "admin deletes task", role: RoleAdmin, action: ActionDeleteTask, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
		{name: "unknown action", role: RoleAdmin, action: Action("nope"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestRankOrdering(t *testing.T) {
	if !(Rank(RoleAdmin) > Rank(RoleManager) && Rank(RoleManager) > Rank(RoleMember)) {
		t.Fatalf("expected admin > manager > member")
	}
	if AtLeast(Role(""), Role("")) {
		t.Fatalf("empty role must not satisfy anything")
	}
	if !AtLeast(RoleAdmin, RoleMember) || AtLeast(RoleMember, RoleManager) {
		t.Fatalf("unexpected AtLeast result")
	}
}

func TestParseAndNormalize(t *testing.T) {
	if _, ok := Parse("viewer"); ok {
		t.Fatalf("viewer must be rejected")
	}
	if role, ok := Parse("manager"); !ok || role != RoleManager {
		t.Fatalf("expected manager, got %q %v", role, ok)
	}
	if got := Normalize("bogus"); got != RoleMember {
		t.Fatalf("expected member fallback, got %q", got)
	}
}
