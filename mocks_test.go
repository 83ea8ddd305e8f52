package tenancy_test

import (
	"context"
	"sync"
	"time"

	tenancy "github.com/goliatone/go-tenancy"
	"github.com/stretchr/testify/mock"
)

// MockDocumentStore implements tenancy.DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) GetUserProfile(ctx context.Context, userID string) (*tenancy.UserProfile, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(*tenancy.UserProfile)
	return profile, args.Error(1)
}

func (m *MockDocumentStore) GetTenant(ctx context.Context, tenantID string) (*tenancy.TenantProfile, error) {
	args := m.Called(ctx, tenantID)
	tenant, _ := args.Get(0).(*tenancy.TenantProfile)
	return tenant, args.Error(1)
}

func (m *MockDocumentStore) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.MembershipRecord, error) {
	args := m.Called(ctx, tenantID, userID)
	membership, _ := args.Get(0).(*tenancy.MembershipRecord)
	return membership, args.Error(1)
}

func (m *MockDocumentStore) CheckPlatformAdmin(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// approvedTenantStore wires the happy path for userID in tenantID.
func approvedTenantStore(userID, tenantID string, role tenancy.Role) *MockDocumentStore {
	store := &MockDocumentStore{}
	store.On("CheckPlatformAdmin", mock.Anything, userID).Return(false, nil)
	store.On("GetUserProfile", mock.Anything, userID).Return(&tenancy.UserProfile{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
	}, nil)
	store.On("GetTenant", mock.Anything, tenantID).Return(&tenancy.TenantProfile{
		TenantID: tenantID,
		Name:     "Acme",
		Status:   tenancy.TenantStatusApproved,
	}, nil)
	store.On("GetMembership", mock.Anything, tenantID, userID).Return(&tenancy.MembershipRecord{
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
		Status:   tenancy.MembershipStatusActive,
	}, nil)
	return store
}

// MockIdentityClient implements tenancy.IdentityClient. Subscribe captures the
// handler so tests can emit identity changes.
type MockIdentityClient struct {
	mock.Mock

	mu       sync.Mutex
	onChange func(*tenancy.Identity)
}

func (m *MockIdentityClient) Subscribe(onChange func(*tenancy.Identity)) func() {
	m.mu.Lock()
	m.onChange = onChange
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.onChange = nil
		m.mu.Unlock()
	}
}

func (m *MockIdentityClient) Emit(identity *tenancy.Identity) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
}

func (m *MockIdentityClient) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onChange != nil
}

func (m *MockIdentityClient) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*tenancy.Identity, error) {
	args := m.Called(ctx, email, password)
	identity, _ := args.Get(0).(*tenancy.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityClient) SignInWithProvider(ctx context.Context, provider string) (string, error) {
	args := m.Called(ctx, provider)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityClient) Register(ctx context.Context, email, password, displayName string) (*tenancy.Identity, error) {
	args := m.Called(ctx, email, password, displayName)
	identity, _ := args.Get(0).(*tenancy.Identity)
	return identity, args.Error(1)
}

// fakeScheduler records scheduled callbacks and fires them on Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *fakeScheduler) Schedule(d time.Duration, f func()) tenancy.Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{at: s.now + d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward and runs every due timer.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers still waiting.
func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []tenancy.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event tenancy.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []tenancy.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenancy.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Count(t tenancy.ActivityEventType) int {
	n := 0
	for _, got := range s.Types() {
		if got == t {
			n++
		}
	}
	return n
}

// recordingLogger keeps every log line for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []logLine
}

type logLine struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Trace(msg string, args ...any) { l.add("trace", msg, args...) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args...) }
func (l *recordingLogger) Fatal(msg string, args ...any) { l.add("fatal", msg, args...) }

func (l *recordingLogger) WithContext(context.Context) tenancy.Logger {
	return l
}

func (l *recordingLogger) Has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if line.level == level && line.msg == msg {
			return true
		}
	}
	return false
}
