package tenancy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a shared tenant fetch.
const DefaultFetchTimeout = 30 * time.Second

// TenantFetcher loads a tenant profile from the remote store. A nil profile
// with a nil error means the tenant does not exist.
type TenantFetcher func(ctx context.Context, tenantID string) (*TenantProfile, error)

// CompanyCache is a process lifetime read-through cache of tenant profiles.
// Entries never expire; Invalidate drops them all on sign-out.
type CompanyCache struct {
	mu           sync.RWMutex
	entries      map[string]TenantProfile
	generation   uint64
	group        singleflight.Group
	fetchTimeout time.Duration
	metrics      MetricsCollector
}

// CompanyCacheOption customizes the cache.
type CompanyCacheOption func(*CompanyCache)

// WithCompanyCacheMetrics records hit and miss counters.
func WithCompanyCacheMetrics(m MetricsCollector) CompanyCacheOption {
	return func(c *CompanyCache) {
		c.metrics = normalizeMetrics(m)
	}
}

// WithCompanyCacheFetchTimeout bounds shared fetches, which outlive the
// caller that started them.
func WithCompanyCacheFetchTimeout(d time.Duration) CompanyCacheOption {
	return func(c *CompanyCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// NewCompanyCache returns an empty cache.
func NewCompanyCache(opts ...CompanyCacheOption) *CompanyCache {
	c := &CompanyCache{
		entries:      map[string]TenantProfile{},
		fetchTimeout: DefaultFetchTimeout,
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached profile for tenantID.
func (c *CompanyCache) Get(tenantID string) (TenantProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[tenantID]
	return p, ok
}

// Set stores profile under tenantID. Writes for the same id are idempotent,
// the last writer wins.
func (c *CompanyCache) Set(tenantID string, profile TenantProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]TenantProfile{}
	}
	c.entries[tenantID] = profile
}

// Resolve returns the cached profile or loads it through fetch. Concurrent
// misses for the same id share a single fetch. Absent tenants are not cached.
//
// The shared fetch is detached from ctx, so a caller giving up does not fail
// the others waiting on it; the caller itself returns ctx.Err().
func (c *CompanyCache) Resolve(ctx context.Context, tenantID string, fetch TenantFetcher) (*TenantProfile, bool, error) {
	if p, ok := c.Get(tenantID); ok {
		c.metrics.RecordCacheHit()
		return &p, true, nil
	}
	c.metrics.RecordCacheMiss()

	ch := c.group.DoChan(tenantID, func() (any, error) {
		c.mu.RLock()
		generation := c.generation
		c.mu.RUnlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		profile, err := fetch(fctx, tenantID)
		if err != nil || profile == nil {
			return profile, err
		}
		c.setIfGeneration(generation, tenantID, *profile)
		return profile, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		profile, _ := res.Val.(*TenantProfile)
		if profile == nil {
			return nil, false, nil
		}
		out := *profile
		return &out, false, nil
	}
}

// setIfGeneration stores profile unless the cache was invalidated since the
// fetch started.
func (c *CompanyCache) setIfGeneration(generation uint64, tenantID string, profile TenantProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	if c.entries == nil {
		c.entries = map[string]TenantProfile{}
	}
	c.entries[tenantID] = profile
}

// Invalidate drops every cached entry.
func (c *CompanyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]TenantProfile{}
	c.generation++
}

// Len returns the number of cached tenants.
func (c *CompanyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
