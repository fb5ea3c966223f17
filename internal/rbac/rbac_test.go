package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionDeleteDomain, true},
		{RoleMember, ActionDeleteDomain, false},
		{RoleAdmin, ActionForceTerminate, true},
		{RoleMember, ActionForceTerminate, false},
		{RoleMember, ActionVoteContent, true},
		{RoleMember, ActionVoteWingScoped, true},
		{RoleMember, ActionRead, true},
		{RoleMember, Action("unknown"), false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestAdminBypassPolicy(t *testing.T) {
	// Admins may join content quorums without membership, but wing-scoped
	// votes always require actual membership.
	if !AdminBypasses(ActionVoteContent) {
		t.Error("content voting should admit admins without membership")
	}
	if AdminBypasses(ActionVoteWingScoped) {
		t.Error("wing-scoped voting must not bypass membership for admins")
	}
	if AdminBypasses(ActionProposeTransfer) {
		t.Error("transfer proposals must not bypass membership for admins")
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Error("admin should normalize to RoleAdmin")
	}
	if Normalize("") != RoleMember {
		t.Error("empty role should normalize to RoleMember")
	}
	if Normalize("bogus") != RoleMember {
		t.Error("unknown role should normalize to RoleMember")
	}
}
