// Package auth implements the dev-mode bearer token manager and the
// role/permission matrix used for RBAC enforcement at the HTTP boundary.
package auth

// Role describes a principal's position in the RBAC matrix.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleService  Role = "service"
)

// Permission is one gated capability.
type Permission string

const (
	PermCreatePlans           Permission = "CREATE_PLANS"
	PermReadPlans             Permission = "READ_PLANS"
	PermApplyPlans            Permission = "APPLY_PLANS"
	PermWriteModels           Permission = "WRITE_MODELS"
	PermReadModels            Permission = "READ_MODELS"
	PermViewAudit             Permission = "VIEW_AUDIT"
	PermTriggerReconciliation Permission = "TRIGGER_RECONCILIATION"
	PermManageBilling         Permission = "MANAGE_BILLING"
	PermManageWebhooks        Permission = "MANAGE_WEBHOOKS"
	PermViewPlatformAnalytics Permission = "VIEW_PLATFORM_ANALYTICS"
	PermManageEnvironments    Permission = "MANAGE_ENVIRONMENTS"
)

var allPermissions = []Permission{
	PermCreatePlans, PermReadPlans, PermApplyPlans, PermWriteModels,
	PermReadModels, PermViewAudit, PermTriggerReconciliation, PermManageBilling,
	PermManageWebhooks, PermViewPlatformAnalytics, PermManageEnvironments,
}

// RolePermissions returns the permissions granted to role. ADMIN implicitly
// holds every permission rather than enumerating them, so the matrix stays
// correct as new permissions are added.
func RolePermissions(role Role) []Permission {
	switch role {
	case RoleAdmin:
		return allPermissions
	case RoleOperator:
		return []Permission{
			PermCreatePlans, PermReadPlans, PermApplyPlans, PermWriteModels, PermReadModels,
			PermManageWebhooks, PermManageEnvironments,
		}
	case RoleViewer:
		return []Permission{PermReadPlans, PermReadModels}
	case RoleService:
		return nil
	default:
		return nil
	}
}

// RoleHasPermission reports whether role grants perm. ADMIN always returns
// true for any permission, including ones introduced after this role
// matrix was last updated.
func RoleHasPermission(role Role, perm Permission) bool {
	if role == RoleAdmin {
		return true
	}
	for _, p := range RolePermissions(role) {
		if p == perm {
			return true
		}
	}
	return false
}

// ValidRole reports whether role is one of the supported roles.
func ValidRole(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleOperator, RoleViewer, RoleService:
		return true
	default:
		return false
	}
}
