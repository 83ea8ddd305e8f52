package tenancy_test

import (
	"context"
	"testing"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoTenantSession() *tenancy.Session {
	return &tenancy.Session{
		Identity: tenancy.Identity{ID: "u1"},
		Memberships: []tenancy.Membership{
			{TenantID: "t1", TenantName: "Acme", Role: tenancy.RoleOwner, Status: tenancy.MembershipStatusActive},
			{TenantID: "t2", TenantName: "Globex", Role: tenancy.RoleViewer, Status: tenancy.MembershipStatusActive},
		},
		ActiveTenantID: "t1",
		ActiveRole:     tenancy.RoleOwner,
	}
}

func TestSelectorSelectsMembership(t *testing.T) {
	store := tenancy.NewMemoryStore()
	sink := &recordingSink{}
	selector := tenancy.NewActiveTenantSelector(
		tenancy.NewIsolationValidator(store),
		tenancy.WithSelectorActivitySink(sink),
		tenancy.WithSelectorLogger(&recordingLogger{}),
	)

	session := twoTenantSession()
	require.True(t, selector.Select(context.Background(), session, "t2"))

	assert.Equal(t, "t2", session.ActiveTenantID)
	assert.Equal(t, tenancy.RoleViewer, session.ActiveRole)

	persisted, _ := store.Get(tenancy.KeyActiveTenantID)
	assert.Equal(t, "t2", persisted)
	role, _ := store.Get(tenancy.KeyActiveRole)
	assert.Equal(t, "viewer", role)
	assert.Equal(t, []tenancy.ActivityEventType{tenancy.ActivityEventTenantSelected}, sink.Types())
}

func TestSelectorRejectsUnauthorizedTenant(t *testing.T) {
	store := tenancy.NewMemoryStore()
	require.NoError(t, store.Set(tenancy.KeyActiveTenantID, "t1"))
	reg := prometheus.NewRegistry()
	sink := &recordingSink{}
	logger := &recordingLogger{}
	selector := tenancy.NewActiveTenantSelector(
		tenancy.NewIsolationValidator(store),
		tenancy.WithSelectorActivitySink(sink),
		tenancy.WithSelectorLogger(logger),
		tenancy.WithSelectorMetrics(tenancy.NewCollector(reg)),
	)

	for _, id := range []string{"t9", "", "bad id"} {
		session := twoTenantSession()
		before := session.Clone()

		assert.False(t, selector.Select(context.Background(), session, id), id)
		assert.Equal(t, before, session, id)
	}

	persisted, _ := store.Get(tenancy.KeyActiveTenantID)
	assert.Equal(t, "t1", persisted)
	assert.True(t, logger.Has("warn", "attempted unauthorized tenant switch"))
	assert.Equal(t, 3, sink.Count(tenancy.ActivityEventTenantSwitchRejected))

	count, err := testutil.GatherAndCount(reg, "tenancy_tenant_switch_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSelectorWithoutSession(t *testing.T) {
	selector := tenancy.NewActiveTenantSelector(nil, tenancy.WithSelectorLogger(&recordingLogger{}))
	assert.False(t, selector.Select(context.Background(), nil, "t1"))
}

func TestSelectorDeselect(t *testing.T) {
	store := tenancy.NewMemoryStore()
	v := tenancy.NewIsolationValidator(store)
	require.NoError(t, v.Persist("t1", tenancy.RoleOwner))
	require.NoError(t, store.Set(tenancy.TenantScopedKey("t1", "filter"), "open"))
	sink := &recordingSink{}
	selector := tenancy.NewActiveTenantSelector(v,
		tenancy.WithSelectorActivitySink(sink),
		tenancy.WithSelectorLogger(&recordingLogger{}),
	)

	session := twoTenantSession()
	selector.Deselect(context.Background(), session)

	assert.Empty(t, session.ActiveTenantID)
	assert.Equal(t, tenancy.RoleNone, session.ActiveRole)
	assert.Len(t, session.Memberships, 2)
	assert.Empty(t, store.Keys())

	require.Len(t, sink.events, 1)
	assert.Equal(t, tenancy.ActivityEventTenantDeselected, sink.events[0].EventType)
	assert.Equal(t, "t1", sink.events[0].TenantID)

	selector.Deselect(context.Background(), nil)
	assert.Empty(t, store.Keys())
}
