package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryDebouncer is a single-process debouncer
type MemoryDebouncer struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDebouncer() *MemoryDebouncer {
	return &MemoryDebouncer{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// NewMemoryDebouncerWithClock is NewMemoryDebouncer with an injected time source
func NewMemoryDebouncerWithClock(now func() time.Time) *MemoryDebouncer {
	d := NewMemoryDebouncer()
	d.now = now
	return d
}

func (d *MemoryDebouncer) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if until, ok := d.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	d.seen[key] = now.Add(window)

	// opportunistic cleanup keeps the map bounded by recent keys
	if len(d.seen) > 4096 {
		for k, until := range d.seen {
			if !now.Before(until) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}
