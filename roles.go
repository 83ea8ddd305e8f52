package tenancy

import "strings"

// Role is the privilege level of a membership.
type Role string

const (
	RoleNone     Role = ""
	RoleViewer   Role = "viewer"
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleOwner    Role = "owner"
)

// Section is a functional area of the application guarded by write permissions.
type Section string

const (
	SectionInvoices  Section = "invoices"
	SectionQuotes    Section = "quotes"
	SectionCustomers Section = "customers"
	SectionExpenses  Section = "expenses"
	SectionSettings  Section = "settings"
	SectionUsers     Section = "users"
)

// employeeRestricted lists the sections an employee can read but not write.
var employeeRestricted = map[Section]struct{}{
	SectionSettings: {},
	SectionUsers:    {},
}

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleViewer, RoleEmployee, RoleManager, RoleOwner:
		return true
	default:
		return false
	}
}

func (r Role) level() int {
	switch r {
	case RoleOwner:
		return 3
	// manager and owner share write privileges
	case RoleManager:
		return 3
	case RoleEmployee:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	if !r.IsValid() || !minRole.IsValid() {
		return false
	}
	return r.level() >= minRole.level()
}

// CanWrite reports whether role may write to section. It does not depend on
// the tenant.
func CanWrite(role Role, section Section) bool {
	switch role {
	case RoleOwner, RoleManager:
		return true
	case RoleEmployee:
		_, restricted := employeeRestricted[Section(strings.ToLower(string(section)))]
		return !restricted
	default:
		return false
	}
}

// GetAllRoles returns all predefined roles in ascending privilege order
func GetAllRoles() []Role {
	return []Role{
		RoleViewer,
		RoleEmployee,
		RoleManager,
		RoleOwner,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.IsValid()
}

// roleOrDefault returns role when valid, otherwise fallback.
func roleOrDefault(role, fallback Role) Role {
	if role.IsValid() {
		return role
	}
	return fallback
}
