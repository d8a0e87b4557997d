// Package auth maps roles to permissions and scopes callers to departments.
package auth

import (
	"fmt"
	"slices"
)

type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleDepartmentManager Role = "DEPARTMENT_MANAGER"
	RoleAssignee          Role = "ASSIGNEE"
)

type Permission string

const (
	ViewAssignments       Permission = "assignments:view"
	ManageAssignments     Permission = "assignments:manage"
	ViewDepartments       Permission = "departments:view"
	ViewTemplates         Permission = "templates:view"
	ManageTemplates       Permission = "templates:manage"
	ManageComplianceTasks Permission = "complianceTasks:manage"
	ReviewAuditLogs       Permission = "auditLogs:review"
)

// AllPermissions lists every permission; admins hold all of them.
var AllPermissions = []Permission{
	ViewAssignments, ManageAssignments, ViewDepartments,
	ViewTemplates, ManageTemplates, ManageComplianceTasks, ReviewAuditLogs,
}

// hierarchy lists the roles whose permissions a role inherits, itself included.
var hierarchy = map[Role][]Role{
	RoleAdmin:             {RoleAdmin, RoleDepartmentManager, RoleAssignee},
	RoleDepartmentManager: {RoleDepartmentManager, RoleAssignee},
	RoleAssignee:          {RoleAssignee},
}

var rolePermissions = map[Role][]Permission{
	RoleAdmin:             AllPermissions,
	RoleDepartmentManager: {ViewAssignments, ManageAssignments, ViewDepartments},
	RoleAssignee:          {ViewAssignments},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission   Permission
	DepartmentID string
}

func (e ForbiddenError) Error() string {
	if e.DepartmentID != "" {
		return fmt.Sprintf("no access to department %s", e.DepartmentID)
	}
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ParseRoles keeps known roles and drops the rest.
func ParseRoles(raw []string) []Role {
	var out []Role
	for _, r := range raw {
		role := Role(r)
		if _, ok := hierarchy[role]; ok && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}

func IsPrivileged(roles []Role) bool {
	return slices.Contains(roles, RoleAdmin)
}

// HasPermission reports whether any role, directly or by inheritance, grants perm.
func HasPermission(roles []Role, perm Permission) bool {
	for _, role := range roles {
		inherited, ok := hierarchy[role]
		if !ok {
			inherited = []Role{role}
		}
		for _, r := range inherited {
			if slices.Contains(rolePermissions[r], perm) {
				return true
			}
		}
	}
	return false
}

func HasAllPermissions(roles []Role, perms ...Permission) bool {
	for _, p := range perms {
		if !HasPermission(roles, p) {
			return false
		}
	}
	return true
}

// Permissions returns the effective permissions of roles in declaration order.
func Permissions(roles []Role) []Permission {
	var out []Permission
	for _, p := range AllPermissions {
		if HasPermission(roles, p) {
			out = append(out, p)
		}
	}
	return out
}

// CanAccessDepartment lets admins through and requires everyone else to be a
// member of departmentID.
func CanAccessDepartment(roles []Role, departmentIDs []string, departmentID string) bool {
	if IsPrivileged(roles) {
		return true
	}
	return departmentID != "" && slices.Contains(departmentIDs, departmentID)
}

// Require returns a ForbiddenError unless roles grant perm.
func Require(roles []Role, perm Permission) error {
	if HasPermission(roles, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// RequireDepartment returns a ForbiddenError unless the caller may act on departmentID.
func RequireDepartment(roles []Role, departmentIDs []string, departmentID string) error {
	if CanAccessDepartment(roles, departmentIDs, departmentID) {
		return nil
	}
	return ForbiddenError{DepartmentID: departmentID}
}
