package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/turnstile/internal/limitstest"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/storage"
)

// windowFailStore fails increments of one window and cancels the caller's
// context when it does.
type windowFailStore struct {
	storage.Store
	window limits.WindowKind
	cancel context.CancelFunc
}

func (f *windowFailStore) IncrementAndGet(ctx context.Context, key storage.Key, amount int64) (int64, error) {
	if key.Window == f.window && amount > 0 {
		f.cancel()
		return 0, limits.Unavailable(errors.New("i/o timeout"))
	}
	return f.Store.IncrementAndGet(ctx, key, amount)
}

func newTestLimiter(t *testing.T, clock *limitstest.Clock) (*Limiter, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Now: clock.Now})
	t.Cleanup(func() { store.Close() })
	return NewLimiter(Config{Store: store, Now: clock.Now}), store
}

func TestLimiter_CeilingRespected(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int64
	}{
		{"ceiling 1", 1},
		{"ceiling 5", 5},
		{"ceiling 37", 37},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := limitstest.NewClock(limitstest.Epoch)
			limiter, _ := newTestLimiter(t, clock)
			key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", tt.ceiling, limits.Unlimited, limits.Unlimited)
			ctx := context.Background()

			for i := int64(0); i < tt.ceiling; i++ {
				result, err := limiter.Allow(ctx, key)
				if err != nil {
					t.Fatalf("Allow failed: %v", err)
				}
				if !result.Allowed {
					t.Fatalf("Request %d: expected allowed", i+1)
				}
			}

			for i := 0; i < 3; i++ {
				result, err := limiter.Allow(ctx, key)
				if err != nil {
					t.Fatalf("Allow failed: %v", err)
				}
				if result.Allowed {
					t.Errorf("Request %d over ceiling: expected denied", i+1)
				}
			}
		})
	}
}

func TestLimiter_PerMinuteScenario(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, _ := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 5, 100, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("Request %d: expected allowed", i+1)
		}
		clock.Advance(time.Second)
	}

	// 6th within the same minute
	result, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected 6th request to be denied")
	}
	if result.Window != limits.WindowMinute {
		t.Errorf("Expected minute window, got %s", result.Window)
	}
	d := result.Decision()
	if d.Reason != limits.ReasonRateLimited {
		t.Errorf("Expected rate_limited, got %s", d.Reason)
	}
	if secs := d.RetryAfterSeconds(); secs <= 0 || secs > 60 {
		t.Errorf("Expected retry after in (0, 60], got %d", secs)
	}
	if *d.Limit != 5 || *d.Current != 5 {
		t.Errorf("Expected 5 of 5, got %d of %d", *d.Current, *d.Limit)
	}

	// Roll over to the next minute
	clock.Set(limits.WindowMinute.End(clock.Now()))

	result, err = limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected 7th request after rollover to be allowed")
	}
}

func TestLimiter_WindowRolloverResetsCounter(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, store := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 2, limits.Unlimited, limits.Unlimited)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, key); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
	}
	result, _ := limiter.Allow(ctx, key)
	if result.Allowed {
		t.Fatal("Expected denial at ceiling")
	}

	clock.Set(limits.WindowMinute.End(clock.Now()))

	v, err := store.Peek(ctx, storage.RateKey("org-1", "key-1", limits.WindowMinute, clock.Now()))
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Expected new window to start at 0, got %d", v)
	}

	result, err = limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected allowed in new window")
	}
}

func TestLimiter_ZeroCeilingAlwaysDenies(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, store := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 0, 100, 1000)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if result.Allowed {
			t.Fatal("Expected suspended key to be denied")
		}
	}
	if store.Size() != 0 {
		t.Errorf("Expected no counters for denied requests, got %d", store.Size())
	}
}

func TestLimiter_UnlimitedSkipsWindow(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, store := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", limits.Unlimited, limits.Unlimited, limits.Unlimited)

	for i := 0; i < 50; i++ {
		result, err := limiter.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Fatal("Expected unlimited key to be allowed")
		}
	}
	if store.Size() != 0 {
		t.Errorf("Expected no counters for unlimited windows, got %d", store.Size())
	}
}

func TestLimiter_RetryAfterUsesLatestBlockingWindow(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, _ := newTestLimiter(t, clock)
	// Minute and hour both exhausted after 3 requests
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 3, 3, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, key); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
	}

	result, err := limiter.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected denial")
	}
	if result.Window != limits.WindowHour {
		t.Errorf("Expected hour window to block longest, got %s", result.Window)
	}
	want := limits.WindowHour.UntilReset(clock.Now())
	if result.RetryAfter != want {
		t.Errorf("Expected retry after %v, got %v", want, result.RetryAfter)
	}
}

func TestLimiter_CheckDoesNotIncrement(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, store := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 1, 10, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, key)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !result.Allowed {
			t.Fatal("Expected Check to allow without committing")
		}
	}
	if store.Size() != 0 {
		t.Errorf("Expected Check to leave no counters, got %d", store.Size())
	}
}

func TestLimiter_CommitSetsTTL(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, store := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 10, 100, 1000)
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if store.Size() != 3 {
		t.Fatalf("Expected 3 counters, got %d", store.Size())
	}

	// Past the minute TTL only the minute counter is swept.
	deleted, err := store.Sweep(ctx, clock.Now().Add(storage.DefaultTTLs().For(limits.WindowMinute)+time.Second))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 swept counter, got %d", deleted)
	}
}

func TestLimiter_StoreErrorPropagates(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	store := limitstest.NewMockStore(storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Now: clock.Now}))
	defer store.Close()
	limiter := NewLimiter(Config{Store: store, Now: clock.Now})

	outage := limits.Unavailable(errors.New("connection refused"))
	store.FailPeek(outage)

	_, err := limiter.Check(context.Background(), limitstest.TestAPIKey("key-1", "org-1"))
	if !limits.IsStoreUnavailable(err) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
}

func TestLimiter_PartialCommitRollsBack(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	inner := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Now: clock.Now})
	defer inner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := NewLimiter(Config{
		Store: &windowFailStore{Store: inner, window: limits.WindowHour, cancel: cancel},
		Now:   clock.Now,
	})
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", 10, 100, 1000)

	result, err := limiter.Check(ctx, key)
	if err != nil || !result.Allowed {
		t.Fatalf("Check failed: %v, %+v", err, result)
	}
	if err := limiter.Commit(ctx, result.Reservation); !limits.IsStoreUnavailable(err) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}

	for _, w := range limits.RateWindows {
		v, err := inner.Peek(context.Background(), storage.RateKey("org-1", "key-1", w, clock.Now()))
		if err != nil {
			t.Fatalf("Peek(%s) failed: %v", w, err)
		}
		if v != 0 {
			t.Errorf("Expected %s counter 0 after failed commit, got %d", w, v)
		}
	}
}

func TestLimiter_BoundedOvershoot(t *testing.T) {
	const ceiling = 5
	const racers = 20

	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, _ := newTestLimiter(t, clock)
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", ceiling, limits.Unlimited, limits.Unlimited)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := limiter.Allow(context.Background(), key)
			if err != nil {
				t.Errorf("Allow failed: %v", err)
				return
			}
			if result.Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	got := admitted.Load()
	if got < ceiling {
		t.Errorf("Expected at least %d admissions, got %d", ceiling, got)
	}
	if got > ceiling+racers-1 {
		t.Errorf("Expected at most %d admissions, got %d", ceiling+racers-1, got)
	}
}

func TestLimiter_Status(t *testing.T) {
	clock := limitstest.NewClock(limitstest.Epoch)
	limiter, _ := newTestLimiter(t, clock)
	key := limitstest.TestAPIKey("key-1", "org-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, key); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
	}
	clock.Set(limits.WindowMinute.End(clock.Now()))

	status, err := limiter.Status(ctx, key)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status[limits.WindowMinute] != 0 {
		t.Errorf("Expected minute count 0 after rollover, got %d", status[limits.WindowMinute])
	}
	if status[limits.WindowHour] != 3 {
		t.Errorf("Expected hour count 3, got %d", status[limits.WindowHour])
	}
}

func BenchmarkLimiter_Allow(b *testing.B) {
	store := storage.NewMemoryStore()
	defer store.Close()
	limiter := NewLimiter(Config{Store: store})
	key := limitstest.TestAPIKeyWithCeilings("key-1", "org-1", limits.Unlimited, limits.Unlimited, int64(b.N)+1)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = limiter.Allow(ctx, key)
	}
}
