package models

import "strings"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleLecturer UserRole = "LECTURER"
)

// NormalizeRole maps the legacy ROLE_* spellings onto the canonical roles.
// Anything that is not an admin is treated as a lecturer.
func NormalizeRole(raw string) UserRole {
	role := strings.ToUpper(strings.TrimSpace(raw))
	role = strings.TrimPrefix(role, "ROLE_")
	switch role {
	case string(RoleAdmin):
		return RoleAdmin
	case "":
		return ""
	default:
		return RoleLecturer
	}
}
