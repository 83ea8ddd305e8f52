package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Resolution is the settled outcome of one resolver run.
type Resolution struct {
	TraceID         string
	Kind            StateKind
	Session         *Session
	OnboardingError *OnboardingError
	PlatformAdmin   bool
}

// State converts the resolution into an engine snapshot for identity.
func (r Resolution) State(identity *Identity) State {
	return State{
		Kind:            r.Kind,
		Identity:        identity,
		Session:         r.Session,
		OnboardingError: r.OnboardingError,
		PlatformAdmin:   r.PlatformAdmin,
	}
}

// TenantResolver turns an identity into a Session or an OnboardingError.
type TenantResolver struct {
	store        DocumentStore
	cache        *CompanyCache
	logger       Logger
	activitySink ActivitySink
	metrics      MetricsCollector
	defaultRole  Role
	now          func() time.Time
}

// ResolverOption customizes the resolver.
type ResolverOption func(*TenantResolver)

// WithResolverLogger overrides the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *TenantResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverLoggerProvider resolves the logger from provider.
func WithResolverLoggerProvider(provider LoggerProvider) ResolverOption {
	return func(r *TenantResolver) {
		_, r.logger = ResolveLogger("tenancy.resolver", provider, r.logger)
	}
}

// WithResolverActivitySink publishes resolution outcomes.
func WithResolverActivitySink(sink ActivitySink) ResolverOption {
	return func(r *TenantResolver) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// WithResolverMetrics records resolution outcomes.
func WithResolverMetrics(m MetricsCollector) ResolverOption {
	return func(r *TenantResolver) {
		r.metrics = normalizeMetrics(m)
	}
}

// WithResolverCache shares cache with other components.
func WithResolverCache(cache *CompanyCache) ResolverOption {
	return func(r *TenantResolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithDefaultRole sets the role used when neither membership nor profile
// carries a valid one. Owner by default.
func WithDefaultRole(role Role) ResolverOption {
	return func(r *TenantResolver) {
		if role.IsValid() {
			r.defaultRole = role
		}
	}
}

// WithResolverClock injects the clock used for activity timestamps.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *TenantResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewTenantResolver builds a resolver reading from store.
func NewTenantResolver(store DocumentStore, opts ...ResolverOption) *TenantResolver {
	r := &TenantResolver{
		store:        store,
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
		metrics:      noopMetrics{},
		defaultRole:  RoleOwner,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cache == nil {
		r.cache = NewCompanyCache(WithCompanyCacheMetrics(r.metrics))
	}
	return r
}

// Cache returns the company cache used by the resolver.
func (r *TenantResolver) Cache() *CompanyCache {
	return r.cache
}

// Resolve runs the full pipeline for identity. The returned error is non-nil
// only when ctx was cancelled; collaborator failures are classified into the
// resolution.
func (r *TenantResolver) Resolve(ctx context.Context, identity Identity) (Resolution, error) {
	res := r.resolve(ctx, identity)
	if err := ctx.Err(); err != nil {
		r.logger.Debug("resolution cancelled", "trace_id", res.TraceID, "user_id", identity.ID)
		return Resolution{TraceID: res.TraceID, Kind: StateResolving}, err
	}

	reason := OnboardingReason("")
	if res.OnboardingError != nil {
		reason = res.OnboardingError.Reason
	}
	r.metrics.RecordResolution(res.Kind, reason)
	r.publish(ctx, identity, res)
	return res, nil
}

func (r *TenantResolver) resolve(ctx context.Context, identity Identity) Resolution {
	traceID := uuid.NewString()
	logger := r.logger.WithContext(ctx)

	blocked := func(reason OnboardingReason, cause error) Resolution {
		if cause != nil {
			logger.Error("tenant resolution failed", "trace_id", traceID, "user_id", identity.ID, "reason", string(reason), "error", cause)
		} else {
			logger.Info("tenant resolution blocked", "trace_id", traceID, "user_id", identity.ID, "reason", string(reason))
		}
		return Resolution{
			TraceID:         traceID,
			Kind:            StateOnboardingBlocked,
			OnboardingError: NewOnboardingError(reason, cause),
		}
	}

	if r.store == nil {
		return blocked(ReasonUnknown, ErrMissingCollaborator)
	}

	var (
		isAdmin bool
		profile *UserProfile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		admin, err := r.store.CheckPlatformAdmin(gctx, identity.ID)
		if err != nil {
			logger.Warn("platform admin check failed", "trace_id", traceID, "user_id", identity.ID, "error", err)
			return nil
		}
		isAdmin = admin
		return nil
	})
	g.Go(func() error {
		p, err := r.store.GetUserProfile(gctx, identity.ID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return blocked(ClassifyFailure(err), err)
	}

	if isAdmin {
		logger.Info("platform administrator resolved", "trace_id", traceID, "user_id", identity.ID)
		return Resolution{
			TraceID:       traceID,
			Kind:          StateAwaitingTenantChoice,
			PlatformAdmin: true,
		}
	}

	if profile == nil {
		return blocked(ReasonNoProfile, nil)
	}
	if profile.TenantID == "" {
		return blocked(ReasonNoTenantLink, nil)
	}
	tenantID := profile.TenantID

	var (
		tenant     *TenantProfile
		cacheHit   bool
		membership *MembershipRecord
		tenantErr  error
	)

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		tenant, cacheHit, tenantErr = r.cache.Resolve(gctx, tenantID, r.store.GetTenant)
		return tenantErr
	})
	g.Go(func() error {
		m, err := r.store.GetMembership(gctx, tenantID, identity.ID)
		if err != nil {
			return err
		}
		membership = m
		return nil
	})
	if err := g.Wait(); err != nil {
		if tenantErr != nil {
			err = tenantErr
		}
		return blocked(ClassifyFailure(err), err)
	}

	logger.Debug("tenant profile loaded", "trace_id", traceID, "tenant_id", tenantID, "cache_hit", cacheHit)

	if tenant == nil {
		return blocked(ReasonTenantNotFound, nil)
	}
	if !tenant.Complete() {
		return blocked(ReasonTenantIncomplete, nil)
	}
	switch tenant.Status {
	case TenantStatusApproved:
	case TenantStatusRejected:
		return blocked(ReasonTenantRejected, nil)
	default:
		return blocked(ReasonTenantPending, nil)
	}

	session := &Session{Identity: identity}

	if membership != nil && membership.Status != "" && membership.Status != MembershipStatusActive {
		logger.Info("membership inactive", "trace_id", traceID, "user_id", identity.ID, "tenant_id", tenantID, "status", string(membership.Status))
		return Resolution{
			TraceID: traceID,
			Kind:    StateNoMembership,
			Session: session,
		}
	}

	role := roleOrDefault(profile.Role, r.defaultRole)
	if membership != nil {
		role = roleOrDefault(membership.Role, role)
	} else {
		logger.Debug("membership missing, using profile role", "trace_id", traceID, "tenant_id", tenantID, "role", string(role))
	}

	session.Memberships = []Membership{{
		TenantID:   tenantID,
		TenantName: tenant.Name,
		Role:       role,
		Status:     MembershipStatusActive,
	}}
	// single membership per identity: activate it directly
	if err := session.activate(tenantID); err != nil {
		return blocked(ReasonUnknown, err)
	}

	logger.Info("tenant resolved", "trace_id", traceID, "user_id", identity.ID, "tenant_id", tenantID, "role", string(role))
	return Resolution{
		TraceID: traceID,
		Kind:    StateActive,
		Session: session,
	}
}

func (r *TenantResolver) publish(ctx context.Context, identity Identity, res Resolution) {
	event := ActivityEvent{
		UserID: identity.ID,
		Metadata: map[string]any{
			"trace_id": res.TraceID,
			"state":    string(res.Kind),
		},
	}

	switch {
	case res.PlatformAdmin:
		event.EventType = ActivityEventResolutionAdmin
	case res.OnboardingError != nil:
		event.EventType = ActivityEventResolutionBlocked
		event.Reason = string(res.OnboardingError.Reason)
	case res.Kind == StateActive && res.Session != nil:
		event.EventType = ActivityEventResolutionActive
		event.TenantID = res.Session.ActiveTenantID
		event.Role = res.Session.ActiveRole
	default:
		return
	}

	recordActivity(ctx, r.activitySink, r.logger, r.now, event)
}
