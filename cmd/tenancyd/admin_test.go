package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

func setupAdmin(t *testing.T) (*AdminController, *repository.Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, repository.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { _ = bunDB.Close() })

	store := repository.NewStore(bunDB)
	return NewAdminController(store, tenancy.NewCompanyCache(), nil), store
}

func bindWith[T any](ctx *router.MockContext, fill func(*T)) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		fill(args.Get(0).(*T))
	}).Return(nil)
}

func TestAdminOnboardAndListMemberships(t *testing.T) {
	ctrl, store := setupAdmin(t)

	ctx := router.NewMockContext()
	bindWith(ctx, func(r *OnboardRequest) {
		r.TenantID = "acme"
		r.Name = " Acme "
		r.OwnerID = "u1"
	})
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusCreated, mock.Anything).Run(func(args mock.Arguments) {
		tenant := args.Get(1).(tenancy.TenantProfile)
		assert.Equal(t, "Acme", tenant.Name)
		assert.Equal(t, tenancy.TenantStatusPending, tenant.Status)
	}).Return(nil)

	require.NoError(t, ctrl.Onboard(ctx))
	ctx.AssertExpectations(t)

	membership, err := store.GetMembership(context.Background(), "acme", "u1")
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, tenancy.RoleOwner, membership.Role)

	ctx = router.NewMockContext()
	ctx.ParamsM["user_id"] = "u1"
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		body := args.Get(1).(map[string]any)
		memberships := body["memberships"].([]tenancy.MembershipRecord)
		require.Len(t, memberships, 1)
		assert.Equal(t, "acme", memberships[0].TenantID)
	}).Return(nil)

	require.NoError(t, ctrl.ListMemberships(ctx))
	ctx.AssertExpectations(t)
}

func TestAdminOnboardRejectsInvalidTenantID(t *testing.T) {
	ctrl, store := setupAdmin(t)

	ctx := router.NewMockContext()
	bindWith(ctx, func(r *OnboardRequest) {
		r.TenantID = "bad id!"
		r.Name = "Acme"
		r.OwnerID = "u1"
	})
	ctx.On("JSON", router.StatusBadRequest, mock.Anything).Return(nil)

	require.NoError(t, ctrl.Onboard(ctx))
	ctx.AssertExpectations(t)

	tenant, err := store.GetTenant(context.Background(), "bad id!")
	require.NoError(t, err)
	assert.Nil(t, tenant)
}

func TestAdminSetTenantStatusInvalidatesCache(t *testing.T) {
	ctrl, store := setupAdmin(t)
	require.NoError(t, store.SaveTenant(context.Background(), tenancy.TenantProfile{
		TenantID: "acme", Name: "Acme", Status: tenancy.TenantStatusPending,
	}))
	ctrl.Cache.Set("acme", tenancy.TenantProfile{TenantID: "acme", Status: tenancy.TenantStatusPending})

	ctx := router.NewMockContext()
	ctx.ParamsM["tenant_id"] = "acme"
	bindWith(ctx, func(r *TenantStatusRequest) { r.Status = "approved" })
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

	require.NoError(t, ctrl.SetTenantStatus(ctx))
	ctx.AssertExpectations(t)

	_, cached := ctrl.Cache.Get("acme")
	assert.False(t, cached)

	tenant, err := store.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, tenancy.TenantStatusApproved, tenant.Status)
}

func TestAdminSetTenantStatusUnknownTenant(t *testing.T) {
	ctrl, _ := setupAdmin(t)

	ctx := router.NewMockContext()
	ctx.ParamsM["tenant_id"] = "ghost"
	bindWith(ctx, func(r *TenantStatusRequest) { r.Status = "rejected" })
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, ctrl.SetTenantStatus(ctx))
	ctx.AssertExpectations(t)
	assert.NotEqual(t, router.StatusOK, ctx.StatusCodeM)
}

func TestAdminSaveAndDeleteMembership(t *testing.T) {
	ctrl, store := setupAdmin(t)
	background := context.Background()

	ctx := router.NewMockContext()
	ctx.ParamsM["tenant_id"] = "acme"
	ctx.ParamsM["user_id"] = "u2"
	bindWith(ctx, func(r *MembershipRequest) { r.Role = "manager" })
	ctx.On("Context").Return(background)
	ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

	require.NoError(t, ctrl.SaveMembership(ctx))
	ctx.AssertExpectations(t)

	membership, err := store.GetMembership(background, "acme", "u2")
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, tenancy.RoleManager, membership.Role)
	assert.Equal(t, tenancy.MembershipStatusActive, membership.Status)

	ctx = router.NewMockContext()
	ctx.ParamsM["tenant_id"] = "acme"
	ctx.ParamsM["user_id"] = "u2"
	ctx.On("Context").Return(background)
	ctx.On("NoContent", router.StatusNoContent).Return(nil)

	require.NoError(t, ctrl.DeleteMembership(ctx))
	ctx.AssertExpectations(t)

	membership, err = store.GetMembership(background, "acme", "u2")
	require.NoError(t, err)
	assert.Nil(t, membership)
}

func TestAdminSaveMembershipRejectsUnknownRole(t *testing.T) {
	ctrl, _ := setupAdmin(t)

	ctx := router.NewMockContext()
	ctx.ParamsM["tenant_id"] = "acme"
	ctx.ParamsM["user_id"] = "u2"
	bindWith(ctx, func(r *MembershipRequest) { r.Role = "janitor" })
	ctx.On("JSON", router.StatusBadRequest, mock.Anything).Return(nil)

	require.NoError(t, ctrl.SaveMembership(ctx))
	ctx.AssertExpectations(t)
}

func TestAdminSaveUserProfile(t *testing.T) {
	ctrl, store := setupAdmin(t)

	ctx := router.NewMockContext()
	ctx.ParamsM["user_id"] = "u3"
	bindWith(ctx, func(r *UserProfileRequest) {
		r.TenantID = "acme"
		r.Role = "employee"
	})
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusOK, mock.Anything).Return(nil)

	require.NoError(t, ctrl.SaveUserProfile(ctx))
	ctx.AssertExpectations(t)

	profile, err := store.GetUserProfile(context.Background(), "u3")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "acme", profile.TenantID)
}

func TestAdminGrantAndRevokePlatformAdmin(t *testing.T) {
	ctrl, store := setupAdmin(t)
	background := context.Background()

	ctx := router.NewMockContext()
	ctx.ParamsM["user_id"] = "root"
	ctx.On("Context").Return(background)
	ctx.On("NoContent", router.StatusNoContent).Return(nil)
	require.NoError(t, ctrl.GrantPlatformAdmin(ctx))

	admin, err := store.CheckPlatformAdmin(background, "root")
	require.NoError(t, err)
	assert.True(t, admin)

	ctx = router.NewMockContext()
	ctx.ParamsM["user_id"] = "root"
	ctx.On("Context").Return(background)
	ctx.On("NoContent", router.StatusNoContent).Return(nil)
	require.NoError(t, ctrl.RevokePlatformAdmin(ctx))

	admin, err = store.CheckPlatformAdmin(background, "root")
	require.NoError(t, err)
	assert.False(t, admin)
}
