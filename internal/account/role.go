package account

// Role is a capability set, not a rank: admin is not "above" publisher, it
// simply allows a different set of actions.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePublisher Role = "publisher"
	RoleOperator  Role = "operator"
)

// IsValid checks if the role is one of the predefined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePublisher, RoleOperator:
		return true
	default:
		return false
	}
}

// CanManageCredentials reports whether the role may read or write the
// account's secret values (masked or raw) and manage the OAuth connection.
func (r Role) CanManageCredentials() bool {
	return r == RoleAdmin
}

// CanUseCredentials reports whether the role may make calls with the
// resolved credential bundle.
func (r Role) CanUseCredentials() bool {
	return r.IsValid()
}

// CanManageUsers reports whether the role may change roles of, or remove,
// other users of the same account.
func (r Role) CanManageUsers() bool {
	return r == RoleAdmin
}

// AllRoles returns every predefined role.
func AllRoles() []Role {
	return []Role{RoleAdmin, RolePublisher, RoleOperator}
}

// ParseRole safely parses a string into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}
