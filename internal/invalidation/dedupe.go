package invalidation

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe drops replayed or out-of-order events: an event is applied only
// when its timestamp is newer than the last one seen for the same scope.
type Dedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &Dedupe{lru: c}
}

// IsStale reports whether ts is at or before the last recorded timestamp
// for scope. It does not record; call Record once the event is applied so
// a failed apply stays eligible for redelivery.
func (d *Dedupe) IsStale(scope string, ts time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(scope)
	return ok && ts.UnixNano() <= last
}

// Record remembers ts as the newest applied timestamp for scope.
func (d *Dedupe) Record(scope string, ts time.Time) {
	v := ts.UnixNano()
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(scope); ok && v <= last {
		return
	}
	d.lru.Add(scope, v)
}

// ShouldApply combines IsStale and Record for callers with no failure path.
func (d *Dedupe) ShouldApply(scope string, ts time.Time) bool {
	if d.IsStale(scope, ts) {
		return false
	}
	d.Record(scope, ts)
	return true
}
