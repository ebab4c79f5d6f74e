// Package policy contains the pure authorization decisions for the bug
// lifecycle. It performs no I/O; every function is a total function of the
// actor role and the requested transition, so the whole permission surface is
// checkable with truth tables.
package policy

import (
	"fmt"

	"bugtrail/internal/domain"
)

// Permissions is the static capability set of a role.
type Permissions struct {
	CreateBug    bool
	ValidateBug  bool
	CloseBug     bool
	AssignBug    bool
	UpdateStatus bool
	Comment      bool
}

// rolePermissions is a fixed lookup table, not per-user configuration.
var rolePermissions = map[domain.Role]Permissions{
	domain.RoleTester: {
		CreateBug:    true,
		ValidateBug:  true,
		CloseBug:     true,
		AssignBug:    true,
		UpdateStatus: true,
		Comment:      true,
	},
	domain.RoleDeveloper: {
		CreateBug:    true,
		ValidateBug:  false,
		CloseBug:     false,
		AssignBug:    true,
		UpdateStatus: true,
		Comment:      true,
	},
	domain.RoleAdmin: {
		CreateBug:    true,
		ValidateBug:  true,
		CloseBug:     true,
		AssignBug:    true,
		UpdateStatus: true,
		Comment:      true,
	},
}

// For returns the permission set of a role. Unknown roles get the zero set.
func For(role domain.Role) Permissions {
	return rolePermissions[role]
}

// Reason explains a denial in a stable, human-readable form.
type Reason string

const (
	ReasonUnknownRole             Reason = "unknown role"
	ReasonInsufficientPermissions Reason = "insufficient permissions"
	ReasonOnlyAdminModifiesClosed Reason = "only an admin may modify a closed bug"
	ReasonOnlyTesterOrAdminCloses Reason = "only a tester or admin may close a bug"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// ForbiddenError carries a denial out of the policy layer as a typed error.
type ForbiddenError struct {
	Reason Reason
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// Err converts a denial into a ForbiddenError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ForbiddenError{Reason: d.Reason}
}

// CanCreate decides whether role may report a new bug.
func CanCreate(role domain.Role) Decision {
	return simple(role, func(p Permissions) bool { return p.CreateBug })
}

// CanAssign decides whether role may change a bug's assignee.
func CanAssign(role domain.Role) Decision {
	return simple(role, func(p Permissions) bool { return p.AssignBug })
}

// CanComment decides whether role may comment on a bug.
func CanComment(role domain.Role) Decision {
	return simple(role, func(p Permissions) bool { return p.Comment })
}

// CanValidate decides whether role may validate a resolved bug.
func CanValidate(role domain.Role) Decision {
	return simple(role, func(p Permissions) bool { return p.ValidateBug })
}

// CanTransition decides whether role may move a bug from current to requested.
// Closed bugs are admin-only territory, and only closers may target Closed.
func CanTransition(current, requested domain.Status, role domain.Role) Decision {
	if !role.Valid() {
		return deny(ReasonUnknownRole)
	}
	perms := rolePermissions[role]
	if !perms.UpdateStatus {
		return deny(ReasonInsufficientPermissions)
	}
	if current == domain.StatusClosed && role != domain.RoleAdmin {
		return deny(ReasonOnlyAdminModifiesClosed)
	}
	if requested == domain.StatusClosed && !perms.CloseBug {
		return deny(ReasonOnlyTesterOrAdminCloses)
	}
	return allow()
}

func simple(role domain.Role, pick func(Permissions) bool) Decision {
	if !role.Valid() {
		return deny(ReasonUnknownRole)
	}
	if !pick(rolePermissions[role]) {
		return deny(ReasonInsufficientPermissions)
	}
	return allow()
}
