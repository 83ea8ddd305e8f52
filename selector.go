package tenancy

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)

// ValidateTenantID rejects empty or malformed tenant ids.
func ValidateTenantID(tenantID string) error {
	err := validation.Validate(tenantID,
		validation.Required,
		validation.Length(1, 128),
		validation.Match(tenantIDPattern),
	)
	if err == nil {
		return nil
	}

	clone := ErrInvalidTenantID.Clone()
	if clone == nil {
		return ErrInvalidTenantID
	}
	clone.Source = ErrInvalidTenantID
	return clone.WithMetadata(map[string]any{
		"tenant_id": tenantID,
		"reason":    err.Error(),
	})
}

// ActiveTenantSelector validates and persists the user's active tenant.
type ActiveTenantSelector struct {
	isolation    *IsolationValidator
	logger       Logger
	activitySink ActivitySink
	metrics      MetricsCollector
	now          func() time.Time
}

// SelectorOption customizes the selector.
type SelectorOption func(*ActiveTenantSelector)

// WithSelectorLogger overrides the logger.
func WithSelectorLogger(logger Logger) SelectorOption {
	return func(s *ActiveTenantSelector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSelectorActivitySink publishes selections and rejections.
func WithSelectorActivitySink(sink ActivitySink) SelectorOption {
	return func(s *ActiveTenantSelector) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithSelectorMetrics counts rejected switches.
func WithSelectorMetrics(m MetricsCollector) SelectorOption {
	return func(s *ActiveTenantSelector) {
		s.metrics = normalizeMetrics(m)
	}
}

// WithSelectorClock injects the clock used for activity timestamps.
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *ActiveTenantSelector) {
		if now != nil {
			s.now = now
		}
	}
}

// NewActiveTenantSelector persists selections through isolation.
func NewActiveTenantSelector(isolation *IsolationValidator, opts ...SelectorOption) *ActiveTenantSelector {
	if isolation == nil {
		isolation = NewIsolationValidator(nil)
	}
	s := &ActiveTenantSelector{
		isolation:    isolation,
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
		metrics:      noopMetrics{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Select makes tenantID the active tenant of session. Invalid or unauthorized
// ids are logged and leave session untouched; Select then returns false.
func (s *ActiveTenantSelector) Select(ctx context.Context, session *Session, tenantID string) bool {
	next, ok := s.Prepare(ctx, session, tenantID)
	if !ok {
		return false
	}

	*session = *next
	if err := s.isolation.Persist(session.ActiveTenantID, session.ActiveRole); err != nil {
		s.logger.Error("failed to persist active tenant", "tenant_id", tenantID, "error", err)
	}
	s.Confirm(ctx, session)
	return true
}

// Prepare returns a copy of session with tenantID active. Nothing is
// persisted; rejections are logged and recorded like in Select.
func (s *ActiveTenantSelector) Prepare(ctx context.Context, session *Session, tenantID string) (*Session, bool) {
	if session == nil {
		s.logger.Warn("tenant selection without session", "tenant_id", tenantID)
		return nil, false
	}

	if err := ValidateTenantID(tenantID); err != nil {
		s.reject(ctx, session, tenantID, err)
		return nil, false
	}

	next := session.Clone()
	if err := next.activate(tenantID); err != nil {
		s.reject(ctx, session, tenantID, err)
		return nil, false
	}
	return next, true
}

// Confirm announces a selection that took effect.
func (s *ActiveTenantSelector) Confirm(ctx context.Context, session *Session) {
	if session == nil {
		return
	}
	s.logger.Info("active tenant selected", "user_id", session.Identity.ID, "tenant_id", session.ActiveTenantID, "role", string(session.ActiveRole))
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventTenantSelected,
		UserID:    session.Identity.ID,
		TenantID:  session.ActiveTenantID,
		Role:      session.ActiveRole,
	})
}

// Deselect clears the active tenant and runs a full session data cleanup.
func (s *ActiveTenantSelector) Deselect(ctx context.Context, session *Session) {
	previous := ""
	userID := ""
	if session != nil {
		previous = session.ActiveTenantID
		userID = session.Identity.ID
		session.deactivate()
	}

	if err := s.isolation.CleanupSessionData(""); err != nil {
		s.logger.Error("failed to clear persisted tenant", "error", err)
	}

	s.logger.Info("active tenant cleared", "user_id", userID, "previous_tenant_id", previous)
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventTenantDeselected,
		UserID:    userID,
		TenantID:  previous,
	})
}

func (s *ActiveTenantSelector) reject(ctx context.Context, session *Session, tenantID string, cause error) {
	s.metrics.RecordSwitchRejected()
	s.logger.Warn("attempted unauthorized tenant switch",
		"user_id", session.Identity.ID,
		"tenant_id", tenantID,
		"active_tenant_id", session.ActiveTenantID,
		"error", cause,
	)
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventTenantSwitchRejected,
		UserID:    session.Identity.ID,
		TenantID:  tenantID,
		Reason:    cause.Error(),
		Metadata: map[string]any{
			"active_tenant_id": session.ActiveTenantID,
		},
	})
}
