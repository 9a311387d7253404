package auth

import "testing"

func TestRoleHasPermissionViewerCannotWriteModels(t *testing.T) {
	if RoleHasPermission(RoleViewer, PermWriteModels) {
		t.Fatal("viewer must not hold WRITE_MODELS")
	}
}

func TestRoleHasPermissionAdminHoldsEveryPermission(t *testing.T) {
	for _, p := range allPermissions {
		if !RoleHasPermission(RoleAdmin, p) {
			t.Fatalf("admin must hold permission %s", p)
		}
	}
}

func TestRoleHasPermissionServiceHoldsNone(t *testing.T) {
	for _, p := range allPermissions {
		if RoleHasPermission(RoleService, p) {
			t.Fatalf("service role must not hold permission %s via the role matrix", p)
		}
	}
}

func TestRolePermissionsOperatorCanReadAndApplyPlans(t *testing.T) {
	perms := RolePermissions(RoleOperator)
	want := map[Permission]bool{
		PermCreatePlans: true, PermReadPlans: true, PermApplyPlans: true, PermWriteModels: true, PermReadModels: true,
		PermManageWebhooks: true, PermManageEnvironments: true,
	}
	if len(perms) != len(want) {
		t.Fatalf("operator permissions = %v, want %d entries", perms, len(want))
	}
	for _, p := range perms {
		if !want[p] {
			t.Fatalf("unexpected operator permission %s", p)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{"admin", "operator", "viewer", "service"} {
		if !ValidRole(r) {
			t.Fatalf("ValidRole(%q) = false, want true", r)
		}
	}
	if ValidRole("superuser") {
		t.Fatal("ValidRole(\"superuser\") = true, want false")
	}
}
