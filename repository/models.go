package repository

import (
	"time"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/uptrace/bun"
)

// UserProfileModel links a user to its tenant.
type UserProfileModel struct {
	bun.BaseModel `bun:"table:user_profiles"`

	UserID    string    `bun:"user_id,pk"`
	TenantID  string    `bun:"tenant_id,nullzero"`
	Role      string    `bun:"role,nullzero"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// TenantModel is a company account.
type TenantModel struct {
	bun.BaseModel `bun:"table:tenants"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,nullzero"`
	Status    string    `bun:"status,nullzero"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// MembershipModel binds a user to a tenant with a role.
type MembershipModel struct {
	bun.BaseModel `bun:"table:memberships"`

	TenantID  string    `bun:"tenant_id,pk"`
	UserID    string    `bun:"user_id,pk"`
	Role      string    `bun:"role,nullzero"`
	Status    string    `bun:"status,notnull,default:'active'"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// PlatformAdminModel marks a user as platform administrator.
type PlatformAdminModel struct {
	bun.BaseModel `bun:"table:platform_admins"`

	UserID    string    `bun:"user_id,pk"`
	GrantedAt time.Time `bun:"granted_at,nullzero,notnull,default:current_timestamp"`
}

func (m *UserProfileModel) toDomain() *tenancy.UserProfile {
	return &tenancy.UserProfile{
		UserID:   m.UserID,
		TenantID: m.TenantID,
		Role:     tenancy.Role(m.Role),
	}
}

func (m *TenantModel) toDomain() *tenancy.TenantProfile {
	return &tenancy.TenantProfile{
		TenantID: m.ID,
		Name:     m.Name,
		Status:   tenancy.TenantStatus(m.Status),
	}
}

func (m *MembershipModel) toDomain() *tenancy.MembershipRecord {
	return &tenancy.MembershipRecord{
		TenantID: m.TenantID,
		UserID:   m.UserID,
		Role:     tenancy.Role(m.Role),
		Status:   tenancy.MembershipStatus(m.Status),
	}
}

func userProfileFromDomain(p tenancy.UserProfile) *UserProfileModel {
	return &UserProfileModel{
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		Role:      string(p.Role),
		UpdatedAt: time.Now(),
	}
}

func tenantFromDomain(t tenancy.TenantProfile) *TenantModel {
	return &TenantModel{
		ID:        t.TenantID,
		Name:      t.Name,
		Status:    string(t.Status),
		UpdatedAt: time.Now(),
	}
}

func membershipFromDomain(m tenancy.MembershipRecord) *MembershipModel {
	status := string(m.Status)
	if status == "" {
		status = string(tenancy.MembershipStatusActive)
	}
	return &MembershipModel{
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Status:    status,
		UpdatedAt: time.Now(),
	}
}
