package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// errClosed is returned by a closed store; it is classified as an outage.
var errClosed = errors.New("store closed")

// MemoryStore implements Store using an in-process map.
// It is linearizable within one process only and is meant for tests,
// development and single-instance deployments. All data is lost on exit.
type MemoryStore struct {
	// counters maps the rendered key to its entry.
	counters map[string]*memoryEntry

	// mu protects counters and closed.
	mu     sync.Mutex
	closed bool

	// now is the clock used for expiry.
	now func() time.Time

	// done signals the sweep goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// SweepInterval is how often expired counters are removed.
	// 0 disables the background sweeper.
	SweepInterval time.Duration

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// NewMemoryStore creates a memory store with a one minute sweep interval.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{SweepInterval: time.Minute})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &MemoryStore{
		counters: make(map[string]*memoryEntry),
		now:      cfg.Now,
		done:     make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	}

	return s
}

// IncrementAndGet atomically adds amount and returns the new value.
func (s *MemoryStore) IncrementAndGet(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("memory", "increment", key.String(), err)
	}
	if err := ctx.Err(); err != nil {
		return 0, limits.NewStoreError("memory", "increment", key.String(), limits.Unavailable(err))
	}

	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, limits.NewStoreError("memory", "increment", k, limits.Unavailable(errClosed))
	}

	entry, ok := s.counters[k]
	if !ok || s.expiredLocked(entry) {
		entry = &memoryEntry{}
		s.counters[k] = entry
	}
	entry.value += amount

	return entry.value, nil
}

// Peek returns the current value.
func (s *MemoryStore) Peek(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("memory", "peek", key.String(), err)
	}
	if err := ctx.Err(); err != nil {
		return 0, limits.NewStoreError("memory", "peek", key.String(), limits.Unavailable(err))
	}

	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, limits.NewStoreError("memory", "peek", k, limits.Unavailable(errClosed))
	}

	entry, ok := s.counters[k]
	if !ok || s.expiredLocked(entry) {
		return 0, nil
	}
	return entry.value, nil
}

// Expire sets the counter's expiry to now+ttl. No-op for missing counters.
func (s *MemoryStore) Expire(ctx context.Context, key Key, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return limits.NewStoreError("memory", "expire", key.String(), limits.Unavailable(err))
	}

	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return limits.NewStoreError("memory", "expire", k, limits.Unavailable(errClosed))
	}

	if entry, ok := s.counters[k]; ok {
		entry.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// Sweep removes counters that expired before now.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for k, entry := range s.counters {
		if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
			delete(s.counters, k)
			deleted++
		}
	}
	return deleted, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return limits.Unavailable(errClosed)
	}
	return nil
}

// Close stops the sweeper. Subsequent calls fail with ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Size returns the number of stored counters, including expired ones not yet swept.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// expiredLocked reports whether the entry has expired. Caller must hold mu.
func (s *MemoryStore) expiredLocked(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}

// sweepLoop runs periodic sweeps of expired counters.
func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.Sweep(context.Background(), s.now())
		case <-s.done:
			return
		}
	}
}
