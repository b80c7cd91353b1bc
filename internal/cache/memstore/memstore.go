// Package memstore implements the in-process cache store. Entries live in a
// single mutex-guarded map; contention is negligible next to the render and
// network time the cache exists to avoid. Contents are scoped to one process
// and lost on restart.
package memstore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/core/observability"
)

type entry struct {
	payload  []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) > e.ttl
}

type Store struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	stop chan struct{}
	once sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithSweepInterval starts a background goroutine that drops expired
// entries every d. Without it expiry is enforced lazily on read only.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d <= 0 {
			return
		}
		go s.sweep(d)
	}
}

func New(defaultTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.expired(time.Now()) {
		delete(s.entries, key)
		ok = false
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("get", "memory", nil, time.Since(start).Seconds())

	if !ok {
		s.misses.Add(1)
		observability.IncCacheMiss("memory")
		return nil, false, nil
	}
	s.hits.Add(1)
	observability.IncCacheHit("memory")

	// hand out a copy; callers must not see later overwrites
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	start := time.Now()
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	s.mu.Lock()
	s.entries[key] = entry{payload: cp, storedAt: time.Now(), ttl: ttl}
	s.mu.Unlock()
	observability.ObserveCacheOp("set", "memory", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) DeleteByPrefix(_ context.Context, prefix string) error {
	start := time.Now()
	s.mu.Lock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("del_prefix", "memory", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Stats() cache.Stats {
	return cache.Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Ping always succeeds; the store lives in process memory.
func (s *Store) Ping(context.Context) error { return nil }

// Len reports live (unexpired) entries; used by tests and debug logging.
func (s *Store) Len() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Store) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ cache.Store = (*Store)(nil)
