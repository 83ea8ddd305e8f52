package tenancy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyCacheResolveReadsThrough(t *testing.T) {
	cache := tenancy.NewCompanyCache()

	var calls int32
	fetch := func(_ context.Context, id string) (*tenancy.TenantProfile, error) {
		atomic.AddInt32(&calls, 1)
		return &tenancy.TenantProfile{TenantID: id, Name: "Acme", Status: tenancy.TenantStatusApproved}, nil
	}

	p, hit, err := cache.Resolve(context.Background(), "t1", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Acme", p.Name)

	p.Name = "mutated"

	p, hit, err = cache.Resolve(context.Background(), "t1", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Acme", p.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, cache.Len())
}

func TestCompanyCacheDoesNotCacheAbsentOrFailed(t *testing.T) {
	cache := tenancy.NewCompanyCache()

	p, hit, err := cache.Resolve(context.Background(), "gone", func(context.Context, string) (*tenancy.TenantProfile, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, hit)

	boom := errors.New("unavailable")
	_, _, err = cache.Resolve(context.Background(), "t1", func(context.Context, string) (*tenancy.TenantProfile, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestCompanyCacheSharesConcurrentMisses(t *testing.T) {
	cache := tenancy.NewCompanyCache()

	release := make(chan struct{})
	var calls int32
	fetch := func(_ context.Context, id string) (*tenancy.TenantProfile, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &tenancy.TenantProfile{TenantID: id, Name: "Acme", Status: tenancy.TenantStatusApproved}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := cache.Resolve(context.Background(), "t1", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "Acme", p.Name)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompanyCacheCancelledCallerDoesNotFailJoiners(t *testing.T) {
	cache := tenancy.NewCompanyCache()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context, id string) (*tenancy.TenantProfile, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &tenancy.TenantProfile{TenantID: id, Name: "Acme", Status: tenancy.TenantStatusApproved}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := cache.Resolve(firstCtx, "t1", fetch)
		firstErr <- err
	}()
	<-started

	type result struct {
		profile *tenancy.TenantProfile
		err     error
	}
	second := make(chan result, 1)
	go func() {
		p, _, err := cache.Resolve(context.Background(), "t1", fetch)
		second <- result{profile: p, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.profile)
	assert.Equal(t, "Acme", got.profile.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, ok := cache.Get("t1")
	assert.True(t, ok)
}

func TestCompanyCacheFetchTimeout(t *testing.T) {
	cache := tenancy.NewCompanyCache(tenancy.WithCompanyCacheFetchTimeout(20 * time.Millisecond))

	_, _, err := cache.Resolve(context.Background(), "t1", func(ctx context.Context, _ string) (*tenancy.TenantProfile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, cache.Len())
}

func TestCompanyCacheInvalidateDuringFetch(t *testing.T) {
	cache := tenancy.NewCompanyCache()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		p, _, err := cache.Resolve(context.Background(), "t1", func(_ context.Context, id string) (*tenancy.TenantProfile, error) {
			close(started)
			<-release
			return &tenancy.TenantProfile{TenantID: id, Name: "Acme"}, nil
		})
		assert.NoError(t, err)
		assert.NotNil(t, p)
	}()

	<-started
	cache.Invalidate()
	close(release)
	<-done

	assert.Equal(t, 0, cache.Len())
}

func TestCompanyCacheSetAndInvalidate(t *testing.T) {
	cache := tenancy.NewCompanyCache()
	cache.Set("t1", tenancy.TenantProfile{TenantID: "t1", Name: "Old"})
	cache.Set("t1", tenancy.TenantProfile{TenantID: "t1", Name: "New"})

	p, ok := cache.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "New", p.Name)

	cache.Invalidate()
	_, ok = cache.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCompanyCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache := tenancy.NewCompanyCache(tenancy.WithCompanyCacheMetrics(tenancy.NewCollector(reg)))

	fetch := func(_ context.Context, id string) (*tenancy.TenantProfile, error) {
		return &tenancy.TenantProfile{TenantID: id, Name: "Acme", Status: tenancy.TenantStatusApproved}, nil
	}
	for i := 0; i < 3; i++ {
		_, _, err := cache.Resolve(context.Background(), "t1", fetch)
		require.NoError(t, err)
	}

	count, err := testutil.GatherAndCount(reg, "tenancy_company_cache_hits_total", "tenancy_company_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["tenancy_company_cache_hits_total"])
	assert.Equal(t, 1.0, values["tenancy_company_cache_misses_total"])
}
