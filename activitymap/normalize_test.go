package activitymap_test

import (
	"context"
	"testing"
	"time"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := tenancy.ActivityEvent{
		ID:        "evt-1",
		EventType: tenancy.ActivityEventTenantSelected,
		UserID:    "user-100",
		TenantID:  "acme",
		Role:      tenancy.RoleManager,
		Metadata: map[string]any{
			"ticket": "SEC-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ID != "evt-1" {
		t.Fatalf("expected id evt-1, got %q", out.ID)
	}
	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(tenancy.ActivityEventTenantSelected) {
		t.Fatalf("expected verb %q, got %q", tenancy.ActivityEventTenantSelected, out.Verb)
	}
	if out.ObjectType != "tenant" {
		t.Fatalf("expected object_type tenant, got %q", out.ObjectType)
	}
	if out.ObjectID != "acme" {
		t.Fatalf("expected object_id acme, got %q", out.ObjectID)
	}
	if out.Channel != "tenancy" {
		t.Fatalf("expected channel tenancy, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "SEC-204" {
		t.Fatalf("expected metadata ticket SEC-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyRole] != string(tenancy.RoleManager) {
		t.Fatalf("expected metadata role manager, got %#v", out.Metadata[activitymap.MetadataKeyRole])
	}
	if out.Metadata[activitymap.MetadataKeyUserID] != "user-100" {
		t.Fatalf("expected metadata user_id user-100, got %#v", out.Metadata[activitymap.MetadataKeyUserID])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeBlockedResolutionUsesUserAsObject(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(tenancy.ActivityEvent{
		EventType: tenancy.ActivityEventResolutionBlocked,
		UserID:    "user-7",
		Reason:    string(tenancy.ReasonTenantPending),
	})

	if out.ObjectID != "user-7" {
		t.Fatalf("expected object_id user-7, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyReason] != string(tenancy.ReasonTenantPending) {
		t.Fatalf("expected reason tenant_pending, got %#v", out.Metadata[activitymap.MetadataKeyReason])
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyUserID]; ok {
		t.Fatalf("expected no user_id metadata without a tenant, got %+v", out.Metadata)
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := tenancy.ActivityEvent{
		EventType: tenancy.ActivityEventIsolationWarning,
		UserID:    "user-200",
		TenantID:  "acme",
		Reason:    "mismatch",
		Metadata: map[string]any{
			"report_id":                   "rep-1",
			activitymap.MetadataKeyReason: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("isolation_report"),
		activitymap.WithObjectIDResolver(func(e tenancy.ActivityEvent) string {
			if v, ok := e.Metadata["report_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "isolation_report" {
		t.Fatalf("expected object_type isolation_report, got %q", out.ObjectType)
	}
	if out.ObjectID != "rep-1" {
		t.Fatalf("expected object_id rep-1, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyReason] != "existing" {
		t.Fatalf("expected existing reason preserved, got %#v", out.Metadata[activitymap.MetadataKeyReason])
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  tenancy.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses user id when present",
			event:  tenancy.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback when user missing",
			event:  tenancy.ActivityEvent{},
			expect: "system",
		},
		{
			name:   "uses configured fallback when user missing",
			event:  tenancy.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("guard")},
			expect: "guard",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSinkForwardsNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), tenancy.ActivityEvent{
		EventType: tenancy.ActivityEventSessionExpired,
		UserID:    "user-1",
		TenantID:  "acme",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].Verb != string(tenancy.ActivityEventSessionExpired) {
		t.Fatalf("unexpected record %+v", got[0])
	}

	if err := activitymap.Sink(nil).Record(context.Background(), tenancy.ActivityEvent{}); err != nil {
		t.Fatalf("expected nil consumer to be a no-op, got %v", err)
	}
}
