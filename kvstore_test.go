package tenancy_test

import (
	"testing"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := tenancy.NewMemoryStore()

	_, ok := store.Get(tenancy.KeyActiveTenantID)
	assert.False(t, ok)

	require.NoError(t, store.Set(tenancy.KeyActiveTenantID, "t1"))
	require.NoError(t, store.Set(tenancy.KeyActiveRole, "owner"))
	require.NoError(t, store.Set(tenancy.TenantScopedKey("t1", "filter"), "open"))

	v, ok := store.Get(tenancy.KeyActiveTenantID)
	assert.True(t, ok)
	assert.Equal(t, "t1", v)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, []string{
		tenancy.KeyActiveRole,
		tenancy.KeyActiveTenantID,
		"tenant:t1:filter",
	}, store.Keys())

	require.NoError(t, store.Remove(tenancy.KeyActiveTenantID))
	require.NoError(t, store.Remove(tenancy.KeyActiveTenantID))
	_, ok = store.Get(tenancy.KeyActiveTenantID)
	assert.False(t, ok)
}

func TestMemoryStoreZeroValue(t *testing.T) {
	var store tenancy.MemoryStore
	require.NoError(t, store.Set("k", "v"))
	v, ok := store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
