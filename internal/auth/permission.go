package auth

import "crmapi/internal/model"

// Permission names an operation class gated by role.
type Permission string

const (
	PermCustomersRead   Permission = "customers:read"
	PermCustomersWrite  Permission = "customers:write"
	PermUsersManage     Permission = "users:manage"
	PermDocumentsManage Permission = "documents:manage"
)

var grants = map[model.Role][]Permission{
	model.RoleManager:  {PermCustomersRead, PermCustomersWrite},
	model.RoleSalesRep: {PermCustomersRead, PermCustomersWrite},
}

// Allowed reports whether role may perform perm. Admins may do everything; unknown roles nothing.
func Allowed(role model.Role, perm Permission) bool {
	if role == model.RoleAdmin {
		return true
	}
	for _, p := range grants[role] {
		if p == perm {
			return true
		}
	}
	return false
}
