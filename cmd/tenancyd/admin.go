package main

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
)

// AdminStore is the slice of the repository store used by the admin routes.
type AdminStore interface {
	ListMemberships(ctx context.Context, userID string) ([]tenancy.MembershipRecord, error)
	SaveUserProfile(ctx context.Context, profile tenancy.UserProfile) error
	SaveTenant(ctx context.Context, tenant tenancy.TenantProfile) error
	SetTenantStatus(ctx context.Context, tenantID string, status tenancy.TenantStatus) error
	SaveMembership(ctx context.Context, membership tenancy.MembershipRecord) error
	DeleteMembership(ctx context.Context, tenantID, userID string) error
	GrantPlatformAdmin(ctx context.Context, userID string) error
	RevokePlatformAdmin(ctx context.Context, userID string) error
	Onboard(ctx context.Context, tenant tenancy.TenantProfile, ownerID string) error
}

// AdminController manages tenants, memberships and platform administrators.
type AdminController struct {
	Store  AdminStore
	Cache  *tenancy.CompanyCache
	Logger tenancy.Logger
}

func NewAdminController(store AdminStore, cache *tenancy.CompanyCache, logger tenancy.Logger) *AdminController {
	_, logger = tenancy.ResolveLogger("tenancyd.admin", nil, logger)
	return &AdminController{
		Store:  store,
		Cache:  cache,
		Logger: logger,
	}
}

// AdminRoutes mounts the admin controller behind the platform admin check.
func AdminRoutes(app *App) {
	p := app.srv.Router()
	ctrl := NewAdminController(app.store, app.engine.Cache(), app.GetLogger("admin:ctrl"))
	admin := tenancy.RequirePlatformAdmin(app.engine)

	p.Post("/admin/tenants", ctrl.Onboard, admin)
	p.Put("/admin/tenants/:tenant_id", ctrl.SaveTenant, admin)
	p.Put("/admin/tenants/:tenant_id/status", ctrl.SetTenantStatus, admin)
	p.Put("/admin/tenants/:tenant_id/members/:user_id", ctrl.SaveMembership, admin)
	p.Delete("/admin/tenants/:tenant_id/members/:user_id", ctrl.DeleteMembership, admin)
	p.Get("/admin/users/:user_id/memberships", ctrl.ListMemberships, admin)
	p.Put("/admin/users/:user_id/profile", ctrl.SaveUserProfile, admin)
	p.Put("/admin/platform-admins/:user_id", ctrl.GrantPlatformAdmin, admin)
	p.Delete("/admin/platform-admins/:user_id", ctrl.RevokePlatformAdmin, admin)
}

func (c *AdminController) fail(ctx router.Context, err error) error {
	return tenancy.RespondError(ctx, c.Logger, err)
}

func invalid(ctx router.Context, err error) error {
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"validation": err,
	})
}

func parseTenantStatus(value any) error {
	s, _ := value.(string)
	switch tenancy.TenantStatus(s) {
	case tenancy.TenantStatusPending, tenancy.TenantStatusApproved, tenancy.TenantStatusRejected:
		return nil
	}
	return validation.NewError("validation_tenant_status", "must be pending, approved or rejected")
}

func parseMembershipStatus(value any) error {
	s, _ := value.(string)
	switch tenancy.MembershipStatus(s) {
	case "", tenancy.MembershipStatusActive, tenancy.MembershipStatusInactive:
		return nil
	}
	return validation.NewError("validation_membership_status", "must be active or inactive")
}

func parseRole(value any) error {
	s, _ := value.(string)
	if _, ok := tenancy.ParseRole(s); !ok {
		return validation.NewError("validation_role", "must be a known role")
	}
	return nil
}

func tenantIDRule(value any) error {
	s, _ := value.(string)
	return tenancy.ValidateTenantID(s)
}

// OnboardRequest payload
type OnboardRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	OwnerID  string `json:"owner_id"`
	Status   string `json:"status"`
}

// Validate will run validation rules
func (r OnboardRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TenantID, validation.Required, validation.By(tenantIDRule)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.OwnerID, validation.Required),
		validation.Field(&r.Status, validation.By(parseTenantStatus)),
	)
}

func (c *AdminController) Onboard(ctx router.Context) error {
	payload := new(OnboardRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.fail(ctx, err)
	}
	if payload.Status == "" {
		payload.Status = string(tenancy.TenantStatusPending)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ctx, err)
	}

	tenant := tenancy.TenantProfile{
		TenantID: payload.TenantID,
		Name:     strings.TrimSpace(payload.Name),
		Status:   tenancy.TenantStatus(payload.Status),
	}
	if err := c.Store.Onboard(ctx.Context(), tenant, payload.OwnerID); err != nil {
		return c.fail(ctx, err)
	}

	c.Logger.Info("tenant onboarded", "tenant_id", tenant.TenantID, "owner_id", payload.OwnerID)
	return ctx.JSON(router.StatusCreated, tenant)
}

// TenantRequest payload
type TenantRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Validate will run validation rules
func (r TenantRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Status, validation.Required, validation.By(parseTenantStatus)),
	)
}

func (c *AdminController) SaveTenant(ctx router.Context) error {
	tenantID := ctx.Param("tenant_id")
	if err := tenancy.ValidateTenantID(tenantID); err != nil {
		return c.fail(ctx, err)
	}

	payload := new(TenantRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.fail(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ctx, err)
	}

	tenant := tenancy.TenantProfile{
		TenantID: tenantID,
		Name:     strings.TrimSpace(payload.Name),
		Status:   tenancy.TenantStatus(payload.Status),
	}
	if err := c.Store.SaveTenant(ctx.Context(), tenant); err != nil {
		return c.fail(ctx, err)
	}
	c.Cache.Invalidate()

	return ctx.JSON(router.StatusOK, tenant)
}

// TenantStatusRequest payload
type TenantStatusRequest struct {
	Status string `json:"status"`
}

// Validate will run validation rules
func (r TenantStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.By(parseTenantStatus)),
	)
}

// SetTenantStatus approves or rejects a tenant. Cached tenant profiles are
// dropped so the next resolution sees the new status.
func (c *AdminController) SetTenantStatus(ctx router.Context) error {
	tenantID := ctx.Param("tenant_id")
	if err := tenancy.ValidateTenantID(tenantID); err != nil {
		return c.fail(ctx, err)
	}

	payload := new(TenantStatusRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.fail(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ctx, err)
	}

	status := tenancy.TenantStatus(payload.Status)
	if err := c.Store.SetTenantStatus(ctx.Context(), tenantID, status); err != nil {
		return c.fail(ctx, err)
	}
	c.Cache.Invalidate()

	c.Logger.Info("tenant status changed", "tenant_id", tenantID, "status", status)
	return ctx.JSON(router.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"status":    status,
	})
}

// MembershipRequest payload
type MembershipRequest struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Validate will run validation rules
func (r MembershipRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.By(parseRole)),
		validation.Field(&r.Status, validation.By(parseMembershipStatus)),
	)
}

func (c *AdminController) SaveMembership(ctx router.Context) error {
	tenantID, userID := ctx.Param("tenant_id"), ctx.Param("user_id")
	if err := tenancy.ValidateTenantID(tenantID); err != nil {
		return c.fail(ctx, err)
	}

	payload := new(MembershipRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.fail(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ctx, err)
	}

	role, _ := tenancy.ParseRole(payload.Role)
	membership := tenancy.MembershipRecord{
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
		Status:   tenancy.MembershipStatus(payload.Status),
	}
	if membership.Status == "" {
		membership.Status = tenancy.MembershipStatusActive
	}

	if err := c.Store.SaveMembership(ctx.Context(), membership); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(router.StatusOK, membership)
}

func (c *AdminController) DeleteMembership(ctx router.Context) error {
	tenantID, userID := ctx.Param("tenant_id"), ctx.Param("user_id")
	if err := tenancy.ValidateTenantID(tenantID); err != nil {
		return c.fail(ctx, err)
	}

	if err := c.Store.DeleteMembership(ctx.Context(), tenantID, userID); err != nil {
		return c.fail(ctx, err)
	}

	c.Logger.Info("membership removed", "tenant_id", tenantID, "user_id", userID)
	return ctx.NoContent(router.StatusNoContent)
}

func (c *AdminController) ListMemberships(ctx router.Context) error {
	userID := ctx.Param("user_id")
	memberships, err := c.Store.ListMemberships(ctx.Context(), userID)
	if err != nil {
		return c.fail(ctx, err)
	}
	if memberships == nil {
		memberships = []tenancy.MembershipRecord{}
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"user_id":     userID,
		"memberships": memberships,
	})
}

// UserProfileRequest payload
type UserProfileRequest struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Validate will run validation rules
func (r UserProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TenantID, validation.Required, validation.By(tenantIDRule)),
		validation.Field(&r.Role, validation.Required, validation.By(parseRole)),
	)
}

func (c *AdminController) SaveUserProfile(ctx router.Context) error {
	payload := new(UserProfileRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.fail(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ctx, err)
	}

	role, _ := tenancy.ParseRole(payload.Role)
	profile := tenancy.UserProfile{
		UserID:   ctx.Param("user_id"),
		TenantID: payload.TenantID,
		Role:     role,
	}
	if err := c.Store.SaveUserProfile(ctx.Context(), profile); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(router.StatusOK, profile)
}

func (c *AdminController) GrantPlatformAdmin(ctx router.Context) error {
	userID := ctx.Param("user_id")
	if err := c.Store.GrantPlatformAdmin(ctx.Context(), userID); err != nil {
		return c.fail(ctx, err)
	}

	c.Logger.Info("platform admin granted", "user_id", userID)
	return ctx.NoContent(router.StatusNoContent)
}

func (c *AdminController) RevokePlatformAdmin(ctx router.Context) error {
	userID := ctx.Param("user_id")
	if err := c.Store.RevokePlatformAdmin(ctx.Context(), userID); err != nil {
		return c.fail(ctx, err)
	}

	c.Logger.Info("platform admin revoked", "user_id", userID)
	return ctx.NoContent(router.StatusNoContent)
}
