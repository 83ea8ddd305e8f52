package tenancy

import "sync"

// IdentityHandler receives normalized identity changes. nil means signed out.
type IdentityHandler func(identity *Identity)

// IdentityWatcher subscribes to the identity provider and normalizes its
// events. On sign-out it runs the teardown hooks before notifying handlers.
type IdentityWatcher struct {
	client IdentityClient
	logger Logger

	mu          sync.Mutex
	current     *Identity
	handlers    []IdentityHandler
	teardowns   []func()
	unsubscribe func()
}

// WatcherOption customizes the watcher.
type WatcherOption func(*IdentityWatcher)

// WithWatcherLogger overrides the logger.
func WithWatcherLogger(logger Logger) WatcherOption {
	return func(w *IdentityWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTeardown registers a hook run on every transition to signed out.
func WithTeardown(fn func()) WatcherOption {
	return func(w *IdentityWatcher) {
		if fn != nil {
			w.teardowns = append(w.teardowns, fn)
		}
	}
}

// NewIdentityWatcher builds a watcher over client. Call Start to subscribe.
func NewIdentityWatcher(client IdentityClient, opts ...WatcherOption) *IdentityWatcher {
	w := &IdentityWatcher{
		client: client,
		logger: defaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// OnChange adds a handler. Handlers run in registration order.
func (w *IdentityWatcher) OnChange(handler IdentityHandler) {
	if handler == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start subscribes to the provider. Calling Start twice is a no-op.
func (w *IdentityWatcher) Start() error {
	if w.client == nil {
		return ErrMissingCollaborator
	}

	w.mu.Lock()
	if w.unsubscribe != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	unsubscribe := w.client.Subscribe(w.Emit)

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
	w.logger.Debug("identity watcher subscribed")
	return nil
}

// Stop detaches from the provider.
func (w *IdentityWatcher) Stop() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		w.logger.Debug("identity watcher unsubscribed")
	}
}

// Current returns a copy of the last emitted identity.
func (w *IdentityWatcher) Current() *Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	id := *w.current
	return &id
}

// Emit normalizes raw and dispatches it. Providers call it through the
// subscription; tests may call it directly.
func (w *IdentityWatcher) Emit(raw *Identity) {
	identity := raw.Normalize()

	w.mu.Lock()
	previous := w.current
	w.current = identity
	handlers := append([]IdentityHandler(nil), w.handlers...)
	teardowns := append([]func(){}, w.teardowns...)
	w.mu.Unlock()

	if identity == nil {
		if previous != nil {
			w.logger.Info("identity signed out", "user_id", previous.ID)
		}
		for _, fn := range teardowns {
			fn()
		}
	} else {
		w.logger.Info("identity changed", "user_id", identity.ID)
	}

	for _, h := range handlers {
		var copied *Identity
		if identity != nil {
			id := *identity
			copied = &id
		}
		h(copied)
	}
}
