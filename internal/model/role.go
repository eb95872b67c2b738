package model

import "strings"

// Role is an ordered permission tier. A higher tier implies every lower one.
type Role string

const (
	RoleUser       Role = "USER"
	RoleEditor     Role = "EDITOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Tier returns the rank of the role, or -1 for unknown roles.
func (r Role) Tier() int {
	switch r {
	case RoleUser:
		return 0
	case RoleEditor:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperAdmin:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is one of the four known tiers.
func (r Role) Valid() bool {
	return r.Tier() >= 0
}

// AtLeast reports whether r grants everything min grants.
// Unknown roles never satisfy any requirement.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r.Tier() >= min.Tier()
}

// ParseRole accepts the role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}
