// Package access holds the authorization policy: a role by operation table
// evaluated before each booking or schedule operation runs.
package access

import (
	"classbook/internal/types"
)

// Operation names a guarded action.
type Operation string

const (
	OpViewSchedule     Operation = "view_schedule"
	OpBookSelf         Operation = "book_self"
	OpBookChild        Operation = "book_child"
	OpConfirmPayment   Operation = "confirm_payment"
	OpManageTemplates  Operation = "manage_templates"
	OpViewJobs         Operation = "view_jobs"
	OpActForOtherUsers Operation = "act_for_other_users"
)

// Ownership says how far a role's grant reaches.
type Ownership int

const (
	// Deny refuses the operation.
	Deny Ownership = iota
	// Own allows the operation on the actor's own records (or their
	// children's).
	Own
	// Tenant allows the operation on any record in the actor's tenant.
	Tenant
	// Global allows the operation in every tenant.
	Global
)

var policy = map[types.Role]map[Operation]Ownership{
	types.RolePlatformAdmin: {
		OpViewSchedule:     Global,
		OpBookSelf:         Global,
		OpBookChild:        Global,
		OpConfirmPayment:   Global,
		OpManageTemplates:  Global,
		OpViewJobs:         Global,
		OpActForOtherUsers: Global,
	},
	types.RoleTenantAdmin: {
		OpViewSchedule:     Tenant,
		OpBookSelf:         Tenant,
		OpBookChild:        Tenant,
		OpConfirmPayment:   Tenant,
		OpManageTemplates:  Tenant,
		OpViewJobs:         Tenant,
		OpActForOtherUsers: Tenant,
	},
	types.RoleUser: {
		OpViewSchedule: Own,
		OpBookSelf:     Own,
		OpBookChild:    Own,
	},
}

// Target is what an operation touches. OwnerID is the user the records
// belong to; ParentID is that user's parent when the target is a child.
type Target struct {
	TenantID string
	OwnerID  string
	ParentID string
}

// Decision is the outcome of Authorize. Scope is the tenant filter every
// storage call made for the operation must use.
type Decision struct {
	Allow bool
	Scope types.Scope
	Grant Ownership
}

// Authorize evaluates op for actor against target. A denial carries the
// error to return to the caller.
func Authorize(actor types.Actor, op Operation, target Target) (Decision, error) {
	grant := policy[actor.Role][op]

	switch grant {
	case Global:
		scope := types.Scope{AllTenants: true}
		if target.TenantID != "" {
			scope = types.TenantScope(target.TenantID)
		}
		return Decision{Allow: true, Scope: scope, Grant: grant}, nil

	case Tenant:
		if target.TenantID != "" && target.TenantID != actor.TenantID {
			return Decision{}, tenantMismatch()
		}
		return Decision{Allow: true, Scope: types.TenantScope(actor.TenantID), Grant: grant}, nil

	case Own:
		if target.TenantID != "" && target.TenantID != actor.TenantID {
			return Decision{}, tenantMismatch()
		}
		if target.OwnerID != "" && target.OwnerID != actor.ID && target.ParentID != actor.ID {
			return Decision{}, types.NewAppError(types.ErrCodePermissionNotOwner,
				"operation is limited to your own bookings", nil)
		}
		return Decision{Allow: true, Scope: types.TenantScope(actor.TenantID), Grant: grant}, nil
	}

	return Decision{}, types.NewAppError(types.ErrCodePermissionRole,
		"role "+string(actor.Role)+" may not "+string(op), nil)
}

// ScopeFor derives the storage scope for a request. Platform admins act in
// the resolved tenant when there is one and across all tenants otherwise.
// Everybody else must belong to the resolved tenant. Anonymous viewers
// (zero actor) get the tenant's scope.
func ScopeFor(actor types.Actor, tenant types.TenantRef) (types.Scope, error) {
	if actor.IsPlatformAdmin() {
		if tenant.IsZero() {
			return types.Scope{AllTenants: true}, nil
		}
		return types.TenantScope(tenant.ID), nil
	}
	if actor.ID == "" || tenant.IsZero() {
		return types.TenantScope(tenant.ID), nil
	}
	if actor.TenantID != tenant.ID {
		return types.Scope{}, tenantMismatch()
	}
	return types.TenantScope(tenant.ID), nil
}

func tenantMismatch() error {
	return types.NewAppError(types.ErrCodePermissionTenantMismatch,
		"resource belongs to a different tenant", nil)
}
