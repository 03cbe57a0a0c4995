package cooldown

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count    int
	resetsAt time.Time
}

// MemoryStore keeps windows in a mutex-guarded map. Expired windows are
// replaced on the next attempt and dropped by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	sweep   time.Duration
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithStoreClock replaces time.Now for window bookkeeping.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// WithSweepInterval sets how often Run drops expired windows.
func WithSweepInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if interval > 0 {
			ms.sweep = interval
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
		sweep:   time.Minute,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// Take counts one attempt for key, opening a new window when the previous
// one has closed.
func (ms *MemoryStore) Take(_ context.Context, key string, length time.Duration) (Window, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	w, ok := ms.windows[key]
	if !ok || !now.Before(w.resetsAt) {
		w = &window{resetsAt: now.Add(length)}
		ms.windows[key] = w
	}
	w.count++

	return Window{Count: w.count, ResetsAt: w.resetsAt}, nil
}

// Sweep drops closed windows and returns how many were removed.
func (ms *MemoryStore) Sweep() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	removed := 0
	for key, w := range ms.windows {
		if !now.Before(w.resetsAt) {
			delete(ms.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.windows)
}

// Run sweeps periodically until ctx is done.
func (ms *MemoryStore) Run(ctx context.Context) {
	ticker := time.NewTicker(ms.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.Sweep()
		}
	}
}
