package tenancy

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Engine wires the tenancy components together and exposes the reactive
// session state to the UI layer.
type Engine struct {
	identity IdentityClient
	store    DocumentStore
	kv       KeyValueStore

	provider     LoggerProvider
	logger       Logger
	activitySink ActivitySink
	metrics      MetricsCollector
	now          func() time.Time

	resolverOpts []ResolverOption
	guardOpts    []GuardOption
	cache        *CompanyCache

	watcher   *IdentityWatcher
	resolver  *TenantResolver
	selector  *ActiveTenantSelector
	guard     *SessionGuard
	isolation *IsolationValidator

	mu          sync.RWMutex
	state       State
	token       uint64
	cancel      context.CancelFunc
	baseCtx     context.Context
	report      IsolationReport
	subscribers map[int]func(State)
	nextSub     int
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithLogger sets the base logger.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLoggerProvider resolves one named logger per component.
func WithLoggerProvider(provider LoggerProvider) EngineOption {
	return func(e *Engine) {
		e.provider = provider
	}
}

// WithActivitySink publishes tenancy events to sink.
func WithActivitySink(sink ActivitySink) EngineOption {
	return func(e *Engine) {
		e.activitySink = normalizeActivitySink(sink)
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m MetricsCollector) EngineOption {
	return func(e *Engine) {
		e.metrics = normalizeMetrics(m)
	}
}

// WithKeyValueStore sets the store for persisted session hints. Defaults to
// an in-memory store.
func WithKeyValueStore(kv KeyValueStore) EngineOption {
	return func(e *Engine) {
		if kv != nil {
			e.kv = kv
		}
	}
}

// WithClock injects the clock used across components.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCompanyCache shares an existing cache.
func WithCompanyCache(cache *CompanyCache) EngineOption {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithResolverOptions forwards options to the resolver.
func WithResolverOptions(opts ...ResolverOption) EngineOption {
	return func(e *Engine) {
		e.resolverOpts = append(e.resolverOpts, opts...)
	}
}

// WithGuardOptions forwards options to the session guard.
func WithGuardOptions(opts ...GuardOption) EngineOption {
	return func(e *Engine) {
		e.guardOpts = append(e.guardOpts, opts...)
	}
}

// NewEngine builds an engine over the identity and document collaborators.
func NewEngine(identity IdentityClient, store DocumentStore, opts ...EngineOption) (*Engine, error) {
	if identity == nil || store == nil {
		return nil, ErrMissingCollaborator
	}

	e := &Engine{
		identity:     identity,
		store:        store,
		activitySink: noopActivitySink{},
		metrics:      noopMetrics{},
		now:          time.Now,
		state:        State{Kind: StateUnresolved},
		report:       IsolationReport{Warnings: []string{}, Errors: []string{}},
		subscribers:  map[int]func(State){},
		baseCtx:      context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.provider, e.logger = ResolveLogger("tenancy.engine", e.provider, e.logger)
	named := func(name string) Logger {
		if l := e.provider.GetLogger(name); l != nil {
			return l
		}
		return e.logger
	}

	if e.kv == nil {
		e.kv = NewMemoryStore()
	}
	if e.cache == nil {
		e.cache = NewCompanyCache(WithCompanyCacheMetrics(e.metrics))
	}

	e.isolation = NewIsolationValidator(e.kv,
		WithIsolationLogger(named("tenancy.isolation")),
		WithIsolationActivitySink(e.activitySink),
		WithIsolationMetrics(e.metrics),
		WithIsolationClock(e.now),
	)

	resolverOpts := append([]ResolverOption{
		WithResolverLogger(named("tenancy.resolver")),
		WithResolverActivitySink(e.activitySink),
		WithResolverMetrics(e.metrics),
		WithResolverCache(e.cache),
		WithResolverClock(e.now),
	}, e.resolverOpts...)
	e.resolver = NewTenantResolver(store, resolverOpts...)

	e.selector = NewActiveTenantSelector(e.isolation,
		WithSelectorLogger(named("tenancy.selector")),
		WithSelectorActivitySink(e.activitySink),
		WithSelectorMetrics(e.metrics),
		WithSelectorClock(e.now),
	)

	guardOpts := append([]GuardOption{
		WithGuardLogger(named("tenancy.guard")),
		WithGuardActivitySink(e.activitySink),
		WithGuardMetrics(e.metrics),
		WithGuardClock(e.now),
	}, e.guardOpts...)
	e.guard = NewSessionGuard(e.SignOut, guardOpts...)

	e.watcher = NewIdentityWatcher(identity, WithWatcherLogger(named("tenancy.watcher")))
	e.watcher.OnChange(e.onIdentity)

	return e, nil
}

// Start subscribes to identity changes. Resolutions triggered by the
// subscription run in the background under ctx.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	if err := e.watcher.Start(); err != nil {
		return err
	}
	e.logger.Info("tenancy engine started")
	return nil
}

// Close detaches from the identity provider, cancels any resolution in
// flight and disarms the session guard.
func (e *Engine) Close() error {
	e.watcher.Stop()
	e.guard.Stop()

	e.mu.Lock()
	e.token++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	e.logger.Info("tenancy engine closed")
	return nil
}

func (e *Engine) onIdentity(identity *Identity) {
	if identity == nil {
		e.teardown(e.context())
		return
	}
	ctx, token := e.begin(e.context(), *identity)
	go e.resolve(ctx, token, *identity)
}

// HandleIdentity processes an identity change synchronously. A nil identity
// tears the session down. Later calls supersede earlier ones still running.
func (e *Engine) HandleIdentity(ctx context.Context, identity *Identity) State {
	identity = identity.Normalize()
	if identity == nil {
		e.teardown(ctx)
		return e.State()
	}
	rctx, token := e.begin(ctx, *identity)
	e.resolve(rctx, token, *identity)
	return e.State()
}

func (e *Engine) context() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseCtx
}

// begin supersedes any resolution in flight and enters Resolving.
func (e *Engine) begin(ctx context.Context, identity Identity) (context.Context, uint64) {
	rctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.token++
	token := e.token
	e.cancel = cancel
	id := identity
	snapshot, ok := e.setStateLocked(State{Kind: StateResolving, Identity: &id})
	e.mu.Unlock()

	e.guard.Update("", "")
	if ok {
		e.notify(snapshot)
	}
	return rctx, token
}

func (e *Engine) resolve(ctx context.Context, token uint64, identity Identity) {
	res, err := e.resolver.Resolve(ctx, identity)

	e.mu.Lock()
	if token != e.token {
		e.mu.Unlock()
		e.logger.Debug("discarding stale resolution", "trace_id", res.TraceID, "user_id", identity.ID)
		return
	}
	if cancel := e.cancel; cancel != nil {
		e.cancel = nil
		defer cancel()
	}
	if err != nil {
		// Not superseded: the caller gave up or the deadline passed.
		ctx = context.WithoutCancel(ctx)
		reason := ClassifyFailure(err)
		e.logger.Warn("resolution interrupted", "trace_id", res.TraceID, "user_id", identity.ID, "reason", string(reason), "error", err)
		e.metrics.RecordResolution(StateOnboardingBlocked, reason)
		res = Resolution{
			TraceID:         res.TraceID,
			Kind:            StateOnboardingBlocked,
			OnboardingError: NewOnboardingError(reason, err),
		}
	}
	id := identity
	snapshot, ok := e.setStateLocked(res.State(&id))
	e.mu.Unlock()

	if !ok {
		return
	}
	e.afterChange(ctx, snapshot)
	if snapshot.Kind == StateActive && !e.persistHints(token, snapshot) {
		return
	}
	e.notify(snapshot)
}

// persistHints stores the active tenant hint of snapshot. A hint written
// after token was superseded is withdrawn again and false is returned.
func (e *Engine) persistHints(token uint64, snapshot State) bool {
	if err := e.isolation.Persist(snapshot.ActiveTenantID(), snapshot.ActiveRole()); err != nil {
		e.logger.Error("failed to persist active tenant", "tenant_id", snapshot.ActiveTenantID(), "error", err)
	}

	e.mu.RLock()
	stale := token != e.token
	keep := e.state.ActiveTenantID()
	e.mu.RUnlock()

	if !stale {
		return true
	}
	e.logger.Debug("withdrawing superseded tenant hint", "tenant_id", snapshot.ActiveTenantID(), "keep", keep)
	if err := e.isolation.CleanupSessionData(keep); err != nil {
		e.logger.Error("failed to withdraw tenant hint", "tenant_id", snapshot.ActiveTenantID(), "error", err)
	}
	return false
}

func (e *Engine) teardown(ctx context.Context) {
	e.guard.Stop()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.token++
	previous := e.state
	snapshot, ok := e.setStateLocked(State{Kind: StateUnresolved})
	e.mu.Unlock()

	e.cache.Invalidate()
	if err := e.isolation.CleanupSessionData(""); err != nil {
		e.logger.Error("failed to clear persisted session data", "error", err)
	}

	if previous.Identity != nil {
		e.logger.Info("session torn down", "user_id", previous.Identity.ID)
		recordActivity(ctx, e.activitySink, e.logger, e.now, ActivityEvent{
			EventType: ActivityEventSessionTeardown,
			UserID:    previous.Identity.ID,
			TenantID:  previous.ActiveTenantID(),
			Metadata:  map[string]any{"previous_state": string(previous.Kind)},
		})
	}

	if ok {
		e.afterChange(ctx, snapshot)
		e.notify(snapshot)
	}
}

// setStateLocked swaps the state when the transition is allowed and returns
// a snapshot for subscribers.
func (e *Engine) setStateLocked(next State) (State, bool) {
	from := e.state.Kind
	if !canTransition(from, next.Kind) {
		e.logger.Error("rejected state transition", "error", transitionError(from, next.Kind))
		return State{}, false
	}
	if err := next.validate(); err != nil {
		e.logger.Error("rejected inconsistent state", "state", string(next.Kind), "error", err)
		return State{}, false
	}
	e.state = next.clone()
	return e.state.clone(), true
}

// afterChange re-arms the guard and runs the isolation check for snapshot.
func (e *Engine) afterChange(ctx context.Context, snapshot State) {
	userID := ""
	if snapshot.Identity != nil {
		userID = snapshot.Identity.ID
	}
	e.guard.Update(userID, snapshot.ActiveTenantID())

	report := e.isolation.Validate(ctx, snapshot.Identity, snapshot.ActiveTenantID())
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()
}

// State returns the current snapshot.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// IsolationReport returns the result of the latest isolation check.
func (e *Engine) IsolationReport() IsolationReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// Subscribe registers fn for every state change and returns a disposer. fn
// is called with the current state right away.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	current := e.state.clone()
	e.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) notify(snapshot State) {
	e.mu.RLock()
	subs := make([]func(State), 0, len(e.subscribers))
	for i := 0; i < e.nextSub; i++ {
		if fn, ok := e.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		fn(snapshot.clone())
	}
}

// SelectTenant switches the active tenant. Unknown or malformed ids are
// logged and ignored; the return value reports whether the switch happened.
func (e *Engine) SelectTenant(ctx context.Context, tenantID string) bool {
	e.mu.RLock()
	current := e.state.clone()
	token := e.token
	e.mu.RUnlock()

	if current.Session == nil || current.Identity == nil {
		e.logger.Warn("tenant selection without session", "tenant_id", tenantID, "state", string(current.Kind))
		return false
	}
	session, ok := e.selector.Prepare(ctx, current.Session, tenantID)
	if !ok {
		return false
	}

	current.Kind = StateActive
	current.Session = session
	snapshot, ok := e.commit(token, current)
	if !ok {
		return false
	}

	if !e.persistHints(token, snapshot) {
		e.logger.Info("tenant selection superseded", "tenant_id", tenantID, "user_id", current.Identity.ID)
		return false
	}
	e.selector.Confirm(ctx, snapshot.Session)
	e.afterChange(ctx, snapshot)
	e.notify(snapshot)
	return true
}

// DeselectTenant clears the active tenant and all persisted session data.
func (e *Engine) DeselectTenant(ctx context.Context) {
	e.mu.RLock()
	current := e.state.clone()
	token := e.token
	e.mu.RUnlock()

	if current.Kind != StateActive {
		e.selector.Deselect(ctx, nil)
		return
	}

	e.selector.Deselect(ctx, current.Session)
	current.Kind = StateAwaitingTenantChoice
	snapshot, ok := e.commit(token, current)
	if ok {
		e.afterChange(ctx, snapshot)
		e.notify(snapshot)
	}
}

// commit applies next unless the identity changed since token was read.
func (e *Engine) commit(token uint64, next State) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token != e.token {
		e.logger.Warn("session changed during tenant selection")
		return State{}, false
	}
	return e.setStateLocked(next)
}

// CanWrite reports whether the active role may write to section.
func (e *Engine) CanWrite(section Section) bool {
	return CanWrite(e.State().ActiveRole(), section)
}

// Touch forwards a user activity signal to the session guard.
func (e *Engine) Touch(signal ActivitySignal) bool {
	return e.guard.Touch(signal)
}

// RecordActivity is an alias of Touch.
func (e *Engine) RecordActivity(signal ActivitySignal) bool {
	return e.Touch(signal)
}

// ClearOnboardingError dismisses a blocking onboarding error. The identity
// stays signed in without a session.
func (e *Engine) ClearOnboardingError() {
	e.mu.Lock()
	if e.state.Kind != StateOnboardingBlocked {
		e.mu.Unlock()
		return
	}
	next := e.state.clone()
	next.Kind = StateNoMembership
	next.OnboardingError = nil
	snapshot, ok := e.setStateLocked(next)
	e.mu.Unlock()

	if ok {
		e.notify(snapshot)
	}
}

// SignOut ends the session at the identity provider and tears down local
// state even when the provider call fails.
func (e *Engine) SignOut(ctx context.Context) error {
	e.guard.Stop()

	err := e.identity.SignOut(ctx)
	e.watcher.Emit(nil)

	if err != nil {
		e.logger.Error("sign out failed", "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, ErrSignOutFailed.Message).
			WithTextCode(TextCodeSignOutFailed).
			WithCode(goerrors.CodeInternal)
	}
	return nil
}

// SignInWithPassword delegates to the identity provider. The resulting
// identity change arrives through the subscription.
func (e *Engine) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	return e.identity.SignInWithPassword(ctx, email, password)
}

// SignInWithProvider delegates to the identity provider and returns the URL
// the user must visit.
func (e *Engine) SignInWithProvider(ctx context.Context, provider string) (string, error) {
	return e.identity.SignInWithProvider(ctx, provider)
}

// Register delegates account creation to the identity provider.
func (e *Engine) Register(ctx context.Context, email, password, displayName string) (*Identity, error) {
	return e.identity.Register(ctx, email, password, displayName)
}

// Cache exposes the shared company cache.
func (e *Engine) Cache() *CompanyCache {
	return e.cache
}

// Isolation exposes the isolation validator.
func (e *Engine) Isolation() *IsolationValidator {
	return e.isolation
}

// Guard exposes the session guard.
func (e *Engine) Guard() *SessionGuard {
	return e.guard
}
