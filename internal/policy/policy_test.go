package policy_test

import (
	"errors"
	"testing"

	"bugtrail/internal/domain"
	"bugtrail/internal/policy"
)

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role        domain.Role
		canValidate bool
	}{
		{domain.RoleTester, true},
		{domain.RoleDeveloper, false},
		{domain.RoleAdmin, true},
	}
	for _, tc := range cases {
		if got := policy.CanValidate(tc.role).Allowed; got != tc.canValidate {
			t.Errorf("CanValidate(%s) = %v, want %v", tc.role, got, tc.canValidate)
		}
		if !policy.CanCreate(tc.role).Allowed {
			t.Errorf("CanCreate(%s) should be allowed", tc.role)
		}
		if !policy.CanAssign(tc.role).Allowed {
			t.Errorf("CanAssign(%s) should be allowed", tc.role)
		}
		if !policy.CanComment(tc.role).Allowed {
			t.Errorf("CanComment(%s) should be allowed", tc.role)
		}
	}
}

func TestUnknownRoleDeniedEverywhere(t *testing.T) {
	unknown := domain.Role("manager")
	decisions := map[string]policy.Decision{
		"create":     policy.CanCreate(unknown),
		"assign":     policy.CanAssign(unknown),
		"comment":    policy.CanComment(unknown),
		"validate":   policy.CanValidate(unknown),
		"transition": policy.CanTransition(domain.StatusOpen, domain.StatusInProgress, unknown),
	}
	for name, d := range decisions {
		if d.Allowed {
			t.Errorf("%s: unknown role should be denied", name)
		}
		if d.Reason != policy.ReasonUnknownRole {
			t.Errorf("%s: reason = %q, want %q", name, d.Reason, policy.ReasonUnknownRole)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name      string
		current   domain.Status
		requested domain.Status
		role      domain.Role
		allowed   bool
		reason    policy.Reason
	}{
		{"developer resolves", domain.StatusInProgress, domain.StatusResolved, domain.RoleDeveloper, true, ""},
		{"developer cannot close", domain.StatusResolved, domain.StatusClosed, domain.RoleDeveloper, false, policy.ReasonOnlyTesterOrAdminCloses},
		{"tester closes", domain.StatusResolved, domain.StatusClosed, domain.RoleTester, true, ""},
		{"admin closes", domain.StatusResolved, domain.StatusClosed, domain.RoleAdmin, true, ""},
		{"tester cannot touch closed", domain.StatusClosed, domain.StatusOpen, domain.RoleTester, false, policy.ReasonOnlyAdminModifiesClosed},
		{"developer cannot touch closed", domain.StatusClosed, domain.StatusInProgress, domain.RoleDeveloper, false, policy.ReasonOnlyAdminModifiesClosed},
		{"admin reopens closed", domain.StatusClosed, domain.StatusOpen, domain.RoleAdmin, true, ""},
		{"backward move allowed", domain.StatusResolved, domain.StatusOpen, domain.RoleDeveloper, true, ""},
		{"skip ahead allowed", domain.StatusOpen, domain.StatusResolved, domain.RoleTester, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.CanTransition(tc.current, tc.requested, tc.role)
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v", d.Allowed, tc.allowed)
			}
			if !tc.allowed && d.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", d.Reason, tc.reason)
			}
		})
	}
}

func TestDecisionErr(t *testing.T) {
	if err := policy.CanCreate(domain.RoleTester).Err(); err != nil {
		t.Fatalf("allowed decision should yield nil error, got %v", err)
	}
	err := policy.CanValidate(domain.RoleDeveloper).Err()
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %T", err)
	}
	if fe.Reason != policy.ReasonInsufficientPermissions {
		t.Fatalf("reason = %q", fe.Reason)
	}
}
