package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	isolationErrNotAuthenticated = "User not authenticated"
	isolationErrNoCompany        = "No active company ID set"
)

// IsolationReport is the outcome of a consistency check between the persisted
// and in-memory tenant selection.
type IsolationReport struct {
	IsValid   bool     `json:"is_valid"`
	UserID    string   `json:"user_id,omitempty"`
	CompanyID string   `json:"company_id,omitempty"`
	Warnings  []string `json:"warnings"`
	Errors    []string `json:"errors"`
}

// IsolationValidator checks tenant isolation after every session change and
// owns the cleanup of persisted session hints.
type IsolationValidator struct {
	store        KeyValueStore
	logger       Logger
	activitySink ActivitySink
	metrics      MetricsCollector
	now          func() time.Time
}

// IsolationOption customizes the validator.
type IsolationOption func(*IsolationValidator)

// WithIsolationLogger overrides the logger.
func WithIsolationLogger(logger Logger) IsolationOption {
	return func(v *IsolationValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithIsolationActivitySink publishes warnings and violations.
func WithIsolationActivitySink(sink ActivitySink) IsolationOption {
	return func(v *IsolationValidator) {
		v.activitySink = normalizeActivitySink(sink)
	}
}

// WithIsolationMetrics counts reports with warnings or errors.
func WithIsolationMetrics(m MetricsCollector) IsolationOption {
	return func(v *IsolationValidator) {
		v.metrics = normalizeMetrics(m)
	}
}

// WithIsolationClock injects the clock used for activity timestamps.
func WithIsolationClock(now func() time.Time) IsolationOption {
	return func(v *IsolationValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewIsolationValidator builds a validator over the persisted store.
func NewIsolationValidator(store KeyValueStore, opts ...IsolationOption) *IsolationValidator {
	if store == nil {
		store = NewMemoryStore()
	}
	v := &IsolationValidator{
		store:        store,
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
		metrics:      noopMetrics{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Check is the side effect free isolation check. An empty tenantID means no
// active tenant.
func (v *IsolationValidator) Check(identity *Identity, tenantID string) IsolationReport {
	report := IsolationReport{
		Warnings: []string{},
		Errors:   []string{},
	}

	if identity == nil || identity.ID == "" {
		report.Errors = append(report.Errors, isolationErrNotAuthenticated)
		return report
	}
	report.UserID = identity.ID

	if tenantID == "" {
		report.Errors = append(report.Errors, isolationErrNoCompany)
		return report
	}
	report.CompanyID = tenantID

	if persisted, ok := v.store.Get(KeyActiveTenantID); ok && persisted != tenantID {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"Persisted company ID (%s) does not match active company ID (%s)", persisted, tenantID,
		))
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

// Validate runs Check and reports the outcome to logs, metrics and the
// activity sink.
func (v *IsolationValidator) Validate(ctx context.Context, identity *Identity, tenantID string) IsolationReport {
	report := v.Check(identity, tenantID)
	v.metrics.RecordIsolationReport(report)

	if len(report.Errors) > 0 {
		v.logger.Debug("isolation check failed", "user_id", report.UserID, "errors", report.Errors)
		if report.UserID != "" {
			recordActivity(ctx, v.activitySink, v.logger, v.now, ActivityEvent{
				EventType: ActivityEventIsolationViolation,
				UserID:    report.UserID,
				TenantID:  report.CompanyID,
				Reason:    report.Errors[0],
				Metadata:  map[string]any{"errors": report.Errors},
			})
		}
	}

	if len(report.Warnings) > 0 {
		v.logger.Warn("isolation warning", "user_id", report.UserID, "company_id", report.CompanyID, "warnings", report.Warnings)
		recordActivity(ctx, v.activitySink, v.logger, v.now, ActivityEvent{
			EventType: ActivityEventIsolationWarning,
			UserID:    report.UserID,
			TenantID:  report.CompanyID,
			Reason:    report.Warnings[0],
			Metadata:  map[string]any{"warnings": report.Warnings},
		})
	}

	return report
}

// CleanupSessionData prunes persisted session hints. With an empty keep every
// hint is removed; otherwise only hints belonging to keep survive.
func (v *IsolationValidator) CleanupSessionData(keep string) error {
	var errs []error
	remove := func(key string) {
		if err := v.store.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}

	if keep == "" {
		remove(KeyActiveTenantID)
		remove(KeyActiveRole)
	} else if persisted, ok := v.store.Get(KeyActiveTenantID); ok && persisted != keep {
		remove(KeyActiveTenantID)
		remove(KeyActiveRole)
	}

	if lister, ok := v.store.(KeyLister); ok {
		for _, key := range lister.Keys() {
			owner, scoped := scopedTenant(key)
			if !scoped {
				continue
			}
			if keep != "" && owner == keep {
				continue
			}
			remove(key)
		}
	}

	if err := errors.Join(errs...); err != nil {
		v.logger.Error("session data cleanup failed", "keep", keep, "error", err)
		return err
	}
	return nil
}

// Persist writes the active tenant hints.
func (v *IsolationValidator) Persist(tenantID string, role Role) error {
	if err := v.store.Set(KeyActiveTenantID, tenantID); err != nil {
		return err
	}
	return v.store.Set(KeyActiveRole, string(role))
}

// PersistedTenantID returns the advisory tenant id hint.
func (v *IsolationValidator) PersistedTenantID() string {
	id, _ := v.store.Get(KeyActiveTenantID)
	return id
}
