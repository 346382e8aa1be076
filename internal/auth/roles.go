package auth

import "slices"

// Role is a position in the workspace authorisation hierarchy.
type Role string

// Roles, lowest privilege first.
const (
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

// roleOrder is the single source of truth for the hierarchy. A role's
// level is its index here.
var roleOrder = []Role{RoleViewer, RoleEditor, RoleAdmin, RoleOwner}

// Roles returns the hierarchy in ascending order.
func Roles() []Role {
	return slices.Clone(roleOrder)
}

// Level returns the role's position in the hierarchy, or -1 if the role
// is not part of it. The empty role is not a level; callers that want
// the VIEWER default go through HasPermission.
func (r Role) Level() int {
	return slices.Index(roleOrder, r)
}

// Valid reports whether r is one of the four hierarchy roles.
func (r Role) Valid() bool {
	return r.Level() >= 0
}

// ParseRole converts a label to a Role. Matching is exact.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// HasPermission reports whether a principal holding actual satisfies a
// route that requires required.
//
// An empty role on either side is read as VIEWER. Any other label that
// is not in the hierarchy denies access, on either side.
func HasPermission(actual, required Role) bool {
	if actual == "" {
		actual = RoleViewer
	}
	if required == "" {
		required = RoleViewer
	}

	have, need := actual.Level(), required.Level()
	if have < 0 || need < 0 {
		return false
	}
	return have >= need
}
