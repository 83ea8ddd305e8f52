package tenancy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := tenancy.NewCollector(reg)

	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordResolution(tenancy.StateActive, "")
	c.RecordResolution(tenancy.StateOnboardingBlocked, tenancy.ReasonTenantPending)
	c.RecordSwitchRejected()
	c.RecordGuardSignOut(false)
	c.RecordGuardSignOut(true)
	c.RecordIsolationReport(tenancy.IsolationReport{Warnings: []string{"w"}})
	c.RecordIsolationReport(tenancy.IsolationReport{Errors: []string{"e"}})
	c.RecordIsolationReport(tenancy.IsolationReport{})

	expected := `
# HELP tenancy_company_cache_hits_total Tenant profile lookups served from the company cache
# TYPE tenancy_company_cache_hits_total counter
tenancy_company_cache_hits_total 2
# HELP tenancy_company_cache_misses_total Tenant profile lookups that required a remote fetch
# TYPE tenancy_company_cache_misses_total counter
tenancy_company_cache_misses_total 1
# HELP tenancy_resolutions_total Settled tenant resolutions by outcome
# TYPE tenancy_resolutions_total counter
tenancy_resolutions_total{outcome="active",reason=""} 1
tenancy_resolutions_total{outcome="onboarding_blocked",reason="tenant_pending"} 1
# HELP tenancy_tenant_switch_rejected_total Rejected active tenant selections
# TYPE tenancy_tenant_switch_rejected_total counter
tenancy_tenant_switch_rejected_total 1
# HELP tenancy_guard_sign_outs_total Sign-outs forced by the inactivity guard
# TYPE tenancy_guard_sign_outs_total counter
tenancy_guard_sign_outs_total{result="failed"} 1
tenancy_guard_sign_outs_total{result="ok"} 1
# HELP tenancy_isolation_warnings_total Isolation checks that reported warnings
# TYPE tenancy_isolation_warnings_total counter
tenancy_isolation_warnings_total 1
# HELP tenancy_isolation_failures_total Isolation checks that reported errors
# TYPE tenancy_isolation_failures_total counter
tenancy_isolation_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := tenancy.NewCollector(reg)
	c.RecordCacheMiss()

	srv := httptest.NewServer(tenancy.MetricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tenancy_company_cache_misses_total 1")
}
