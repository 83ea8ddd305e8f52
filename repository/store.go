package repository

import (
	"context"
	"database/sql"
	"errors"

	gorepository "github.com/goliatone/go-repository-bun"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var _ tenancy.DocumentStore = (*Store)(nil)

// Store is the bun backed document store.
type Store struct {
	db          *bun.DB
	profiles    gorepository.Repository[*UserProfileModel]
	tenants     gorepository.Repository[*TenantModel]
	memberships gorepository.Repository[*MembershipModel]
	admins      gorepository.Repository[*PlatformAdminModel]
}

// NewStore returns a Store over db.
func NewStore(db *bun.DB) *Store {
	return &Store{
		db: db,
		profiles: newRepository(db, "user_id", func() *UserProfileModel {
			return &UserProfileModel{}
		}),
		tenants: newRepository(db, "id", func() *TenantModel {
			return &TenantModel{}
		}),
		memberships: newRepository(db, "user_id", func() *MembershipModel {
			return &MembershipModel{}
		}),
		admins: newRepository(db, "user_id", func() *PlatformAdminModel {
			return &PlatformAdminModel{}
		}),
	}
}

// newRepository builds a repository for records keyed by identity provider
// or tenant strings. They carry no UUID, so the id handlers are inert.
func newRepository[T any](db *bun.DB, identifier string, newRecord func() T) gorepository.Repository[T] {
	return gorepository.NewRepository[T](db, gorepository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(T) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(T, uuid.UUID) {},
		GetIdentifier: func() string {
			return identifier
		},
	})
}

// Models lists the bun models owned by the store.
func Models() []any {
	return []any{
		(*UserProfileModel)(nil),
		(*TenantModel)(nil),
		(*MembershipModel)(nil),
		(*PlatformAdminModel)(nil),
	}
}

// CreateSchema creates the tables used by the store when missing.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Validate() error {
	if s.db == nil {
		return errors.New("repository store requires a database")
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

func where(query string, args ...any) gorepository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(query, args...)
	}
}

// GetUserProfile implements tenancy.DocumentStore.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*tenancy.UserProfile, error) {
	record, err := s.profiles.Get(ctx, where("?TableAlias.user_id = ?", userID))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// GetTenant implements tenancy.DocumentStore.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenancy.TenantProfile, error) {
	record, err := s.tenants.Get(ctx, where("?TableAlias.id = ?", tenantID))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// GetMembership implements tenancy.DocumentStore.
func (s *Store) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.MembershipRecord, error) {
	record, err := s.memberships.Get(ctx,
		where("?TableAlias.tenant_id = ?", tenantID),
		where("?TableAlias.user_id = ?", userID),
	)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// CheckPlatformAdmin implements tenancy.DocumentStore.
func (s *Store) CheckPlatformAdmin(ctx context.Context, userID string) (bool, error) {
	_, err := s.admins.Get(ctx, where("?TableAlias.user_id = ?", userID))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListMemberships returns every membership of userID.
func (s *Store) ListMemberships(ctx context.Context, userID string) ([]tenancy.MembershipRecord, error) {
	records, _, err := s.memberships.List(ctx,
		where("?TableAlias.user_id = ?", userID),
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("tenant_id ASC")
		},
	)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	out := make([]tenancy.MembershipRecord, 0, len(records))
	for _, record := range records {
		out = append(out, *record.toDomain())
	}
	return out, nil
}

// SaveUserProfile inserts or updates a user profile.
func (s *Store) SaveUserProfile(ctx context.Context, profile tenancy.UserProfile) error {
	return saveUserProfile(ctx, s.db, profile)
}

// SaveTenant inserts or updates a tenant.
func (s *Store) SaveTenant(ctx context.Context, tenant tenancy.TenantProfile) error {
	return saveTenant(ctx, s.db, tenant)
}

// SetTenantStatus changes the approval status of a tenant.
func (s *Store) SetTenantStatus(ctx context.Context, tenantID string, status tenancy.TenantStatus) error {
	res, err := s.db.NewUpdate().
		Model((*TenantModel)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gorepository.NewRecordNotFound().WithMetadata(map[string]any{
			"tenant_id": tenantID,
		})
	}
	return nil
}

// SaveMembership inserts or updates a membership.
func (s *Store) SaveMembership(ctx context.Context, membership tenancy.MembershipRecord) error {
	return saveMembership(ctx, s.db, membership)
}

// DeleteMembership removes the membership of userID in tenantID.
func (s *Store) DeleteMembership(ctx context.Context, tenantID, userID string) error {
	_, err := s.db.NewDelete().
		Model((*MembershipModel)(nil)).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Exec(ctx)
	return err
}

// GrantPlatformAdmin marks userID as platform administrator.
func (s *Store) GrantPlatformAdmin(ctx context.Context, userID string) error {
	_, err := s.db.NewInsert().
		Model(&PlatformAdminModel{UserID: userID}).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	return err
}

// RevokePlatformAdmin removes the administrator flag of userID.
func (s *Store) RevokePlatformAdmin(ctx context.Context, userID string) error {
	_, err := s.db.NewDelete().
		Model((*PlatformAdminModel)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

// Onboard stores a tenant, links the owner profile to it and creates the
// owner membership in one transaction.
func (s *Store) Onboard(ctx context.Context, tenant tenancy.TenantProfile, ownerID string) error {
	return s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := saveTenant(ctx, tx, tenant); err != nil {
			return err
		}
		if err := saveUserProfile(ctx, tx, tenancy.UserProfile{
			UserID:   ownerID,
			TenantID: tenant.TenantID,
			Role:     tenancy.RoleOwner,
		}); err != nil {
			return err
		}
		return saveMembership(ctx, tx, tenancy.MembershipRecord{
			TenantID: tenant.TenantID,
			UserID:   ownerID,
			Role:     tenancy.RoleOwner,
			Status:   tenancy.MembershipStatusActive,
		})
	})
}

func saveTenant(ctx context.Context, db bun.IDB, tenant tenancy.TenantProfile) error {
	_, err := db.NewInsert().
		Model(tenantFromDomain(tenant)).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func saveUserProfile(ctx context.Context, db bun.IDB, profile tenancy.UserProfile) error {
	_, err := db.NewInsert().
		Model(userProfileFromDomain(profile)).
		On("CONFLICT (user_id) DO UPDATE").
		Set("tenant_id = EXCLUDED.tenant_id").
		Set("role = EXCLUDED.role").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func saveMembership(ctx context.Context, db bun.IDB, membership tenancy.MembershipRecord) error {
	_, err := db.NewInsert().
		Model(membershipFromDomain(membership)).
		On("CONFLICT (tenant_id, user_id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func isNotFound(err error) bool {
	return gorepository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
