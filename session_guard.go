package tenancy

import (
	"context"
	"sync"
	"time"
)

// DefaultInactivityTimeout is how long a session may stay idle before the
// guard signs the user out.
const DefaultInactivityTimeout = 30 * time.Minute

// ActivitySignal is a user interaction that proves the session is in use.
type ActivitySignal string

const (
	SignalPointerDown ActivitySignal = "pointerdown"
	SignalKeyDown     ActivitySignal = "keydown"
	SignalScroll      ActivitySignal = "scroll"
)

var activitySignals = map[ActivitySignal]struct{}{
	SignalPointerDown: {},
	SignalKeyDown:     {},
	SignalScroll:      {},
}

// IsValid reports whether s is one of the observed activity signals.
func (s ActivitySignal) IsValid() bool {
	_, ok := activitySignals[s]
	return ok
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Stopper

func realScheduler(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// SignOutFunc ends the session at the identity provider.
type SignOutFunc func(ctx context.Context) error

// SessionGuard is an inactivity watchdog. It is Armed while both an identity
// and an active tenant are present and Disarmed otherwise.
type SessionGuard struct {
	mu      sync.Mutex
	armed   bool
	gen     uint64
	timer   Stopper
	userID  string
	tenant  string
	timeout time.Duration

	signOut        SignOutFunc
	signOutTimeout time.Duration
	schedule       Scheduler
	logger         Logger
	activitySink   ActivitySink
	metrics        MetricsCollector
	now            func() time.Time
}

// GuardOption customizes the guard.
type GuardOption func(*SessionGuard)

// WithInactivityTimeout overrides the 30 minute default.
func WithInactivityTimeout(d time.Duration) GuardOption {
	return func(g *SessionGuard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithSignOutTimeout bounds the sign-out request issued on expiry.
func WithSignOutTimeout(d time.Duration) GuardOption {
	return func(g *SessionGuard) {
		if d > 0 {
			g.signOutTimeout = d
		}
	}
}

// WithScheduler replaces time.AfterFunc, mostly for tests.
func WithScheduler(s Scheduler) GuardOption {
	return func(g *SessionGuard) {
		if s != nil {
			g.schedule = s
		}
	}
}

// WithGuardLogger overrides the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *SessionGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardActivitySink publishes session expiries.
func WithGuardActivitySink(sink ActivitySink) GuardOption {
	return func(g *SessionGuard) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithGuardMetrics counts forced sign-outs.
func WithGuardMetrics(m MetricsCollector) GuardOption {
	return func(g *SessionGuard) {
		g.metrics = normalizeMetrics(m)
	}
}

// WithGuardClock injects the clock used for activity timestamps.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *SessionGuard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewSessionGuard builds a disarmed guard calling signOut on expiry.
func NewSessionGuard(signOut SignOutFunc, opts ...GuardOption) *SessionGuard {
	g := &SessionGuard{
		timeout:        DefaultInactivityTimeout,
		signOut:        signOut,
		signOutTimeout: 10 * time.Second,
		schedule:       realScheduler,
		logger:         defaultLogger(),
		activitySink:   noopActivitySink{},
		metrics:        noopMetrics{},
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Update arms the guard when both userID and tenantID are set and disarms it
// otherwise. Re-arming for an unchanged pair keeps the running timer.
func (g *SessionGuard) Update(userID, tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID == "" || tenantID == "" {
		g.disarmLocked()
		return
	}

	if g.armed && g.userID == userID && g.tenant == tenantID {
		return
	}

	g.userID = userID
	g.tenant = tenantID
	g.armed = true
	g.restartLocked()
	g.logger.Debug("session guard armed", "user_id", userID, "tenant_id", tenantID, "timeout", g.timeout.String())
}

// Touch resets the inactivity window. Signals received while disarmed or not
// in the observed set are ignored.
func (g *SessionGuard) Touch(signal ActivitySignal) bool {
	if !signal.IsValid() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed {
		return false
	}
	g.restartLocked()
	return true
}

// Stop disarms the guard and cancels any pending timer.
func (g *SessionGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disarmLocked()
}

// Armed reports whether the timer is running.
func (g *SessionGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

func (g *SessionGuard) restartLocked() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = g.schedule(g.timeout, func() { g.expire(gen) })
}

func (g *SessionGuard) disarmLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.armed {
		g.logger.Debug("session guard disarmed", "user_id", g.userID, "tenant_id", g.tenant)
	}
	// stale callbacks compare against gen and bail out
	g.gen++
	g.armed = false
	g.userID = ""
	g.tenant = ""
}

func (g *SessionGuard) expire(gen uint64) {
	g.mu.Lock()
	if !g.armed || gen != g.gen {
		g.mu.Unlock()
		return
	}
	userID, tenantID := g.userID, g.tenant
	g.timer = nil
	g.disarmLocked()
	g.mu.Unlock()

	g.logger.Info("session expired after inactivity", "user_id", userID, "tenant_id", tenantID, "timeout", g.timeout.String())

	ctx, cancel := context.WithTimeout(context.Background(), g.signOutTimeout)
	defer cancel()

	var err error
	if g.signOut != nil {
		err = g.signOut(ctx)
	}
	g.metrics.RecordGuardSignOut(err != nil)
	if err != nil {
		g.logger.Error("inactivity sign out failed", "user_id", userID, "error", err)
	}

	recordActivity(ctx, g.activitySink, g.logger, g.now, ActivityEvent{
		EventType: ActivityEventSessionExpired,
		UserID:    userID,
		TenantID:  tenantID,
		Metadata: map[string]any{
			"timeout":        g.timeout.String(),
			"sign_out_error": err != nil,
		},
	})
}
