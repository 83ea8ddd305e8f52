package tenancy

import "fmt"

// Session is the resolved tenancy state of a signed-in identity.
// ActiveTenantID, when set, always names one of Memberships.
type Session struct {
	Identity       Identity     `json:"identity"`
	Memberships    []Membership `json:"memberships"`
	ActiveTenantID string       `json:"active_tenant_id,omitempty"`
	ActiveRole     Role         `json:"active_role,omitempty"`
}

// Membership returns the membership for tenantID.
func (s *Session) Membership(tenantID string) (Membership, bool) {
	if s == nil || tenantID == "" {
		return Membership{}, false
	}
	for _, m := range s.Memberships {
		if m.TenantID == tenantID && m.Status == MembershipStatusActive {
			return m, true
		}
	}
	return Membership{}, false
}

// HasMembership reports whether tenantID is one of the active memberships.
func (s *Session) HasMembership(tenantID string) bool {
	_, ok := s.Membership(tenantID)
	return ok
}

// ActiveMembership returns the membership matching the active tenant.
func (s *Session) ActiveMembership() (Membership, bool) {
	if s == nil {
		return Membership{}, false
	}
	return s.Membership(s.ActiveTenantID)
}

// activate sets the active tenant, refusing tenants outside the memberships.
func (s *Session) activate(tenantID string) error {
	m, ok := s.Membership(tenantID)
	if !ok {
		return ErrUnauthorizedTenantSwitch
	}
	s.ActiveTenantID = m.TenantID
	s.ActiveRole = m.Role
	return nil
}

func (s *Session) deactivate() {
	s.ActiveTenantID = ""
	s.ActiveRole = RoleNone
}

// Clone returns a deep copy so snapshots never share membership slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Memberships != nil {
		out.Memberships = make([]Membership, len(s.Memberships))
		copy(out.Memberships, s.Memberships)
	}
	return &out
}

// Validate checks the active tenant invariant.
func (s *Session) Validate() error {
	if s == nil {
		return ErrNoSession
	}
	if s.ActiveTenantID == "" {
		if s.ActiveRole != RoleNone {
			return fmt.Errorf("active role %q set without active tenant", s.ActiveRole)
		}
		return nil
	}
	m, ok := s.Membership(s.ActiveTenantID)
	if !ok {
		return fmt.Errorf("active tenant %q is not a membership: %w", s.ActiveTenantID, ErrUnauthorizedTenantSwitch)
	}
	if m.Role != s.ActiveRole {
		return fmt.Errorf("active role %q does not match membership role %q", s.ActiveRole, m.Role)
	}
	return nil
}

func (s Session) String() string {
	return fmt.Sprintf(
		"user=%s memberships=%d active_tenant=%s active_role=%s",
		s.Identity.ID,
		len(s.Memberships),
		s.ActiveTenantID,
		s.ActiveRole,
	)
}
