package tenancy_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/stretchr/testify/assert"
)

func TestSessionContextHelpers(t *testing.T) {
	session := activeState().Session
	ctx := tenancy.WithSessionContext(context.Background(), session)

	got, ok := tenancy.SessionFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, session, got)

	tenantID, ok := tenancy.TenantFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "t1", tenantID)

	assert.True(t, tenancy.CanFromContext(ctx, tenancy.SectionQuotes))
	assert.False(t, tenancy.CanFromContext(ctx, tenancy.SectionUsers))

	empty := context.Background()
	_, ok = tenancy.SessionFromContext(empty)
	assert.False(t, ok)
	_, ok = tenancy.TenantFromContext(empty)
	assert.False(t, ok)
	assert.False(t, tenancy.CanFromContext(empty, tenancy.SectionQuotes))

	_, ok = tenancy.SessionFromContext(tenancy.WithSessionContext(empty, nil))
	assert.False(t, ok)

	_, ok = tenancy.TenantFromContext(tenancy.WithSessionContext(empty, &tenancy.Session{}))
	assert.False(t, ok)
}

func TestRouterSessionHelpers(t *testing.T) {
	session := activeState().Session

	ctx := router.NewMockContext()
	ctx.LocalsMock[tenancy.DefaultLocalsKey] = session

	got, ok := tenancy.GetRouterSession(ctx, "")
	assert.True(t, ok)
	assert.Same(t, session, got)
	assert.True(t, tenancy.CanFromRouter(ctx, tenancy.SectionInvoices))
	assert.False(t, tenancy.CanFromRouter(ctx, tenancy.SectionSettings))

	ctx = router.NewMockContext()
	ctx.LocalsMock["custom"] = "not-a-session"
	_, ok = tenancy.GetRouterSession(ctx, "custom")
	assert.False(t, ok)
	assert.False(t, tenancy.CanFromRouter(ctx, tenancy.SectionInvoices))
}
