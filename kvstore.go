package tenancy

import (
	"sort"
	"strings"
	"sync"
)

// Persisted advisory keys.
const (
	KeyActiveTenantID = "active-tenant-id"
	KeyActiveRole     = "active-role"
)

// tenantScopePrefix marks keys holding data scoped to one tenant, e.g.
// "tenant:t1:last-invoice-filter".
const tenantScopePrefix = "tenant:"

// TenantScopedKey builds a persisted key owned by tenantID.
func TenantScopedKey(tenantID, name string) string {
	return tenantScopePrefix + tenantID + ":" + name
}

func scopedTenant(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, tenantScopePrefix)
	if !ok {
		return "", false
	}
	tenantID, _, ok := strings.Cut(rest, ":")
	return tenantID, ok && tenantID != ""
}

// MemoryStore is a KeyValueStore kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys in lexical order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
