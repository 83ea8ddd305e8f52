// Package kvstore holds KeyValueStore backends for the session hints.
package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/redis/go-redis/v9"
)

var (
	_ tenancy.KeyValueStore = (*RedisStore)(nil)
	_ tenancy.KeyLister     = (*RedisStore)(nil)
)

const (
	DefaultPrefix  = "tenancy:"
	defaultTimeout = 2 * time.Second
	scanCount      = 100
)

// RedisStore keeps the session hints in Redis under a key prefix so that
// several processes of the same user share them.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	ttl     time.Duration
	logger  tenancy.Logger
}

// RedisOption customizes the store.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(timeout time.Duration) RedisOption {
	return func(s *RedisStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithTTL expires hints that are not rewritten. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithLogger overrides the logger.
func WithLogger(logger tenancy.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: defaultTimeout,
	}
	_, s.logger = tenancy.ResolveLogger("tenancy.kvstore", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewRedisStoreWithURL connects to the Redis server at url.
func NewRedisStoreWithURL(url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid redis url")
	}
	return NewRedisStore(redis.NewClient(options), opts...), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Get implements tenancy.KeyValueStore. Connection failures read as a
// missing hint.
func (s *RedisStore) Get(name string) (string, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	value, err := s.client.Get(ctx, s.key(name)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis get failed", "key", name, "error", err)
		}
		return "", false
	}
	return value, true
}

// Set implements tenancy.KeyValueStore.
func (s *RedisStore) Set(name, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Set(ctx, s.key(name), value, s.ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to store session hint").
			WithMetadata(map[string]any{"key": name})
	}
	return nil
}

// Remove implements tenancy.KeyValueStore. Removing a missing key is a no-op.
func (s *RedisStore) Remove(name string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to remove session hint").
			WithMetadata(map[string]any{"key": name})
	}
	return nil
}

// Keys implements tenancy.KeyLister. It returns the unprefixed names in
// lexical order.
func (s *RedisStore) Keys() []string {
	ctx, cancel := s.ctx()
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("redis scan failed", "prefix", s.prefix, "error", err)
	}

	sort.Strings(keys)
	return keys
}
