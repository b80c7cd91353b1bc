// Package redisstore implements the shared cache store on Redis. Keys are
// namespaced by a configurable prefix so several deployments can share one
// Redis. Errors are returned to the caller, which is expected to fail open.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/core/observability"
)

type Option func(*Store)

func WithPoolSize(n int) Option {
	return func(s *Store) { s.opts.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(s *Store) { s.opts.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *Store) { s.opts.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *Store) { s.opts.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.opts.WriteTimeout = d }
}

// WithOpTimeout bounds every store operation regardless of the caller's
// context deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

type Store struct {
	rdb        *redis.Client
	opts       *redis.Options
	namespace  string
	defaultTTL time.Duration
	opTimeout  time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(ctx context.Context, addr, namespace string, defaultTTL time.Duration, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if namespace == "" {
		return nil, errors.New("cache namespace is required")
	}

	s := &Store{
		opts: &redis.Options{
			Addr:         addr,
			PoolSize:     64,
			MinIdleConns: 4,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		namespace:  namespace,
		defaultTTL: defaultTTL,
	}
	for _, f := range opts {
		f(s)
	}

	s.rdb = redis.NewClient(s.opts)

	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", "redis", err, time.Since(start).Seconds())
	if err != nil {
		_ = s.rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) namespaced(key string) string {
	return s.namespace + ":" + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	val, err := s.rdb.Get(ctx, s.namespaced(key)).Bytes()
	observability.ObserveCacheOp("get", "redis", ignoreNil(err), time.Since(start).Seconds())

	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		observability.IncCacheMiss("redis")
		return nil, false, nil
	}
	if err != nil {
		// the caller fails open and treats a backend fault as a miss,
		// so the counters must agree with what it serves
		s.misses.Add(1)
		observability.IncCacheMiss("redis")
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	s.hits.Add(1)
	observability.IncCacheHit("redis")
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.rdb.Set(ctx, s.namespaced(key), payload, ttl).Err()
	observability.ObserveCacheOp("set", "redis", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix walks the namespace with SCAN and deletes in batches.
// Prefix is relative to the store namespace.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	pattern := s.namespaced(prefix) + "*"
	var cursor uint64
	var deleted int
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 512).Result()
		if err != nil {
			observability.ObserveCacheOp("del_prefix", "redis", err, time.Since(start).Seconds())
			return fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				observability.ObserveCacheOp("del_prefix", "redis", err, time.Since(start).Seconds())
				return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("del_prefix", "redis", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Stats() cache.Stats {
	return cache.Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Ping reports backend reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

var _ cache.Store = (*Store)(nil)
