package tenancy_test

import (
	"context"
	"errors"
	"testing"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationCheck(t *testing.T) {
	store := tenancy.NewMemoryStore()
	v := tenancy.NewIsolationValidator(store)

	report := v.Check(nil, "t1")
	assert.False(t, report.IsValid)
	assert.Equal(t, []string{"User not authenticated"}, report.Errors)
	assert.Empty(t, report.Warnings)

	report = v.Check(&tenancy.Identity{ID: "u1"}, "")
	assert.False(t, report.IsValid)
	assert.Equal(t, "u1", report.UserID)
	assert.Equal(t, []string{"No active company ID set"}, report.Errors)

	report = v.Check(&tenancy.Identity{ID: "u1"}, "t1")
	assert.True(t, report.IsValid)
	assert.Equal(t, "t1", report.CompanyID)
	assert.Empty(t, report.Warnings)
	assert.Empty(t, report.Errors)
}

func TestIsolationMismatchIsOnlyAWarning(t *testing.T) {
	store := tenancy.NewMemoryStore()
	require.NoError(t, store.Set(tenancy.KeyActiveTenantID, "t0"))
	sink := &recordingSink{}
	logger := &recordingLogger{}
	v := tenancy.NewIsolationValidator(store,
		tenancy.WithIsolationActivitySink(sink),
		tenancy.WithIsolationLogger(logger),
	)

	report := v.Validate(context.Background(), &tenancy.Identity{ID: "u1"}, "t1")

	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Persisted company ID (t0) does not match active company ID (t1)", report.Warnings[0])
	assert.True(t, logger.Has("warn", "isolation warning"))
	assert.Equal(t, []tenancy.ActivityEventType{tenancy.ActivityEventIsolationWarning}, sink.Types())
}

func TestIsolationValidateRecordsViolation(t *testing.T) {
	sink := &recordingSink{}
	v := tenancy.NewIsolationValidator(nil, tenancy.WithIsolationActivitySink(sink))

	report := v.Validate(context.Background(), &tenancy.Identity{ID: "u1"}, "")
	assert.False(t, report.IsValid)
	assert.Equal(t, 1, sink.Count(tenancy.ActivityEventIsolationViolation))

	v.Validate(context.Background(), nil, "")
	assert.Equal(t, 1, sink.Count(tenancy.ActivityEventIsolationViolation))
}

func TestIsolationCleanupSessionData(t *testing.T) {
	store := tenancy.NewMemoryStore()
	v := tenancy.NewIsolationValidator(store)

	require.NoError(t, v.Persist("t1", tenancy.RoleOwner))
	require.NoError(t, store.Set(tenancy.TenantScopedKey("t1", "filter"), "a"))
	require.NoError(t, store.Set(tenancy.TenantScopedKey("t2", "filter"), "b"))
	require.NoError(t, store.Set("theme", "dark"))
	assert.Equal(t, "t1", v.PersistedTenantID())

	require.NoError(t, v.CleanupSessionData("t1"))
	assert.Equal(t, "t1", v.PersistedTenantID())
	assert.Equal(t, []string{
		tenancy.KeyActiveRole,
		tenancy.KeyActiveTenantID,
		tenancy.TenantScopedKey("t1", "filter"),
		"theme",
	}, store.Keys())

	require.NoError(t, v.CleanupSessionData("t2"))
	assert.Empty(t, v.PersistedTenantID())
	assert.Equal(t, []string{"theme"}, store.Keys())

	require.NoError(t, v.CleanupSessionData(""))
	require.NoError(t, v.CleanupSessionData(""))
	assert.Equal(t, []string{"theme"}, store.Keys())
}

type failingStore struct {
	*tenancy.MemoryStore
}

func (failingStore) Remove(string) error { return errors.New("read-only") }

func TestIsolationCleanupReportsRemoveFailures(t *testing.T) {
	store := failingStore{tenancy.NewMemoryStore()}
	logger := &recordingLogger{}
	v := tenancy.NewIsolationValidator(store, tenancy.WithIsolationLogger(logger))

	err := v.CleanupSessionData("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), tenancy.KeyActiveTenantID)
	assert.True(t, logger.Has("error", "session data cleanup failed"))
}
