package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventResolutionActive     ActivityEventType = "tenancy.resolution.active"
	ActivityEventResolutionBlocked    ActivityEventType = "tenancy.resolution.blocked"
	ActivityEventResolutionAdmin      ActivityEventType = "tenancy.resolution.platform_admin"
	ActivityEventTenantSelected       ActivityEventType = "tenancy.tenant.selected"
	ActivityEventTenantDeselected     ActivityEventType = "tenancy.tenant.deselected"
	ActivityEventTenantSwitchRejected ActivityEventType = "tenancy.tenant.switch_rejected"
	ActivityEventIsolationWarning     ActivityEventType = "tenancy.isolation.warning"
	ActivityEventIsolationViolation   ActivityEventType = "tenancy.isolation.violation"
	ActivityEventSessionExpired       ActivityEventType = "tenancy.session.expired"
	ActivityEventSessionTeardown      ActivityEventType = "tenancy.session.teardown"
)

// ActivityEvent captures audit-friendly information about a tenancy decision.
type ActivityEvent struct {
	ID         string
	EventType  ActivityEventType
	UserID     string
	TenantID   string
	Role       Role
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity stamps and forwards event; sink failures are only logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink error", "error", err, "event", string(event.EventType))
	}
}
