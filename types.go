package tenancy

import (
	"context"
	"strings"
)

// Identity is the minimal, provider-agnostic view of a signed-in user.
// Empty Email or DisplayName means the provider did not supply one.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Normalize trims the identity fields and returns nil when no usable id is present.
func (i *Identity) Normalize() *Identity {
	if i == nil {
		return nil
	}
	id := strings.TrimSpace(i.ID)
	if id == "" {
		return nil
	}
	return &Identity{
		ID:          id,
		Email:       strings.TrimSpace(i.Email),
		DisplayName: strings.TrimSpace(i.DisplayName),
	}
}

// TenantStatus is the approval status of a tenant account.
type TenantStatus string

const (
	TenantStatusPending  TenantStatus = "pending"
	TenantStatusApproved TenantStatus = "approved"
	TenantStatusRejected TenantStatus = "rejected"
)

// UserProfile links a user to a tenant. TenantID is empty when the user has no
// tenant yet.
type UserProfile struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// TenantProfile is the subset of a tenant record needed to authorize a session.
type TenantProfile struct {
	TenantID string       `json:"tenant_id"`
	Name     string       `json:"name"`
	Status   TenantStatus `json:"status"`
}

// Complete reports whether both name and status are present.
func (t TenantProfile) Complete() bool {
	return strings.TrimSpace(t.Name) != "" && strings.TrimSpace(string(t.Status)) != ""
}

// MembershipStatus describes whether a membership may be used.
type MembershipStatus string

const (
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusInactive MembershipStatus = "inactive"
)

// Membership binds an identity to a tenant with a role.
type Membership struct {
	TenantID   string           `json:"tenant_id"`
	TenantName string           `json:"tenant_name"`
	Role       Role             `json:"role"`
	Status     MembershipStatus `json:"status"`
}

// MembershipRecord is what the document store holds for (tenant, user).
type MembershipRecord struct {
	TenantID string           `json:"tenant_id"`
	UserID   string           `json:"user_id"`
	Role     Role             `json:"role"`
	Status   MembershipStatus `json:"status"`
}

// IdentityClient is the identity provider collaborator.
type IdentityClient interface {
	// Subscribe registers onChange and returns a disposer. onChange receives nil
	// on sign-out.
	Subscribe(onChange func(*Identity)) (unsubscribe func())
	SignOut(ctx context.Context) error
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	SignInWithProvider(ctx context.Context, provider string) (string, error)
	Register(ctx context.Context, email, password, displayName string) (*Identity, error)
}

// DocumentStore is the remote document store collaborator. Lookups return
// nil, nil when the entity does not exist.
type DocumentStore interface {
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
	GetTenant(ctx context.Context, tenantID string) (*TenantProfile, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*MembershipRecord, error)
	CheckPlatformAdmin(ctx context.Context, userID string) (bool, error)
}

// KeyValueStore is the synchronous local store used for advisory session hints.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// KeyLister is implemented by stores able to enumerate their keys.
type KeyLister interface {
	Keys() []string
}
