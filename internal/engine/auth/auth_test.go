package auth

import (
	"errors"
	"testing"
)

func TestAdminHoldsEveryPermission(t *testing.T) {
	if !HasAllPermissions([]Role{RoleAdmin}, AllPermissions...) {
		t.Fatalf("admin should hold every permission")
	}
	if !IsPrivileged([]Role{RoleAdmin}) || IsPrivileged([]Role{RoleDepartmentManager}) {
		t.Fatalf("only admins are privileged")
	}
}

func TestHierarchy(t *testing.T) {
	manager := []Role{RoleDepartmentManager}
	if !HasAllPermissions(manager, ViewAssignments, ManageAssignments, ViewDepartments) {
		t.Fatalf("manager permissions missing")
	}
	if HasPermission(manager, ManageTemplates) || HasPermission(manager, ReviewAuditLogs) {
		t.Fatalf("manager must not manage templates or review audit logs")
	}
	if HasPermission([]Role{RoleAssignee}, ManageAssignments) {
		t.Fatalf("assignee must not manage assignments")
	}
	if !HasPermission([]Role{RoleAssignee, RoleDepartmentManager}, ManageAssignments) {
		t.Fatalf("any role granting the permission is enough")
	}
	if HasAllPermissions([]Role{RoleAssignee}, ViewAssignments, ManageAssignments) {
		t.Fatalf("aggregated check must require every permission")
	}
}

func TestDepartmentAccess(t *testing.T) {
	if !CanAccessDepartment([]Role{RoleAdmin}, nil, "dept-123") {
		t.Fatalf("admin should access any department")
	}
	manager := []Role{RoleDepartmentManager}
	if !CanAccessDepartment(manager, []string{"dept-1", "dept-2"}, "dept-2") {
		t.Fatalf("member should access department")
	}
	err := RequireDepartment(manager, []string{"dept-1"}, "dept-2")
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.DepartmentID != "dept-2" {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if CanAccessDepartment(manager, []string{""}, "") {
		t.Fatalf("empty department must not match")
	}
}

func TestParseRolesAndPermissions(t *testing.T) {
	roles := ParseRoles([]string{"ASSIGNEE", "root", "ASSIGNEE", "DEPARTMENT_MANAGER"})
	if len(roles) != 2 {
		t.Fatalf("unexpected roles %v", roles)
	}
	perms := Permissions(roles)
	if len(perms) != 3 || perms[0] != ViewAssignments {
		t.Fatalf("unexpected permissions %v", perms)
	}
	if err := Require(roles, ManageTemplates); err == nil || err.Error() != "permission templates:manage required" {
		t.Fatalf("unexpected error %v", err)
	}
}
