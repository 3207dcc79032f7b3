package rbac

import "testing"

func TestPermissionMatrix(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleOwner, ActionRead, true},
		{RoleOwner, ActionWrite, true},
		{RoleOwner, ActionInvite, true},
		{RoleOwner, ActionChangeRole, true},
		{RoleOwner, ActionDeactivate, true},
		{RoleAdmin, ActionRead, true},
		{RoleAdmin, ActionWrite, true},
		{RoleAdmin, ActionInvite, true},
		{RoleAdmin, ActionChangeRole, false},
		{RoleAdmin, ActionDeactivate, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionInvite, false},
		{RoleViewer, ActionChangeRole, false},
		{RoleViewer, ActionDeactivate, false},
		{Role(""), ActionRead, false},
		{Role("superuser"), ActionWrite, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, role := range []string{"owner", "admin", "viewer"} {
		if !Valid(role) {
			t.Errorf("Valid(%q) = false, want true", role)
		}
	}
	for _, role := range []string{"", "Owner", "editor", "root"} {
		if Valid(role) {
			t.Errorf("Valid(%q) = true, want false", role)
		}
	}
}
