package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// testClock is a settable clock shared by a store and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testEpoch = time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)

// runStoreSuite runs the behavior every backend must share.
// newStore returns a fresh, empty store driven by the given clock.
func runStoreSuite(t *testing.T, newStore func(t *testing.T, clock *testClock) Store) {
	t.Run("PeekMissingIsZero", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		key := QuotaKey("org-1", limits.ResourceAPICall, testEpoch)

		v, err := store.Peek(context.Background(), key)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if v != 0 {
			t.Errorf("Expected 0, got %d", v)
		}
	})

	t.Run("IncrementReturnsPostValue", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		ctx := context.Background()
		key := QuotaKey("org-1", limits.ResourceAPICall, testEpoch)

		for i, want := range []int64{1, 3, 6} {
			got, err := store.IncrementAndGet(ctx, key, int64(i+1))
			if err != nil {
				t.Fatalf("IncrementAndGet failed: %v", err)
			}
			if got != want {
				t.Errorf("Step %d: expected %d, got %d", i, want, got)
			}
		}

		v, err := store.Peek(ctx, key)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if v != 6 {
			t.Errorf("Expected peek 6, got %d", v)
		}
	})

	t.Run("NegativeAmountCompensates", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		ctx := context.Background()
		key := QuotaKey("org-1", limits.ResourceContractAnalysis, testEpoch)

		if _, err := store.IncrementAndGet(ctx, key, 5); err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		got, err := store.IncrementAndGet(ctx, key, -2)
		if err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		if got != 3 {
			t.Errorf("Expected 3, got %d", got)
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		ctx := context.Background()

		keys := []Key{
			QuotaKey("org-1", limits.ResourceAPICall, testEpoch),
			QuotaKey("org-2", limits.ResourceAPICall, testEpoch),
			QuotaKey("org-1", limits.ResourceAIAnalysis, testEpoch),
			RateKey("org-1", "key-1", limits.WindowMinute, testEpoch),
			RateKey("org-1", "key-1", limits.WindowMinute, testEpoch.Add(time.Minute)),
		}
		for _, k := range keys {
			got, err := store.IncrementAndGet(ctx, k, 1)
			if err != nil {
				t.Fatalf("IncrementAndGet(%s) failed: %v", k, err)
			}
			if got != 1 {
				t.Errorf("Key %s: expected 1, got %d", k, got)
			}
		}
	})

	t.Run("ExpiredCounterReadsZeroAndRestarts", func(t *testing.T) {
		clock := newTestClock(testEpoch)
		store := newStore(t, clock)
		ctx := context.Background()
		key := RateKey("org-1", "key-1", limits.WindowMinute, testEpoch)

		if _, err := store.IncrementAndGet(ctx, key, 4); err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		if err := store.Expire(ctx, key, 2*time.Minute); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}

		clock.Advance(3 * time.Minute)

		v, err := store.Peek(ctx, key)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if v != 0 {
			t.Errorf("Expected expired counter to read 0, got %d", v)
		}

		got, err := store.IncrementAndGet(ctx, key, 1)
		if err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		if got != 1 {
			t.Errorf("Expected restarted counter 1, got %d", got)
		}
	})

	t.Run("SweepRemovesExpired", func(t *testing.T) {
		clock := newTestClock(testEpoch)
		store := newStore(t, clock)
		ctx := context.Background()

		expiring := RateKey("org-1", "key-1", limits.WindowMinute, testEpoch)
		lasting := QuotaKey("org-1", limits.ResourceAPICall, testEpoch)

		for _, k := range []Key{expiring, lasting} {
			if _, err := store.IncrementAndGet(ctx, k, 1); err != nil {
				t.Fatalf("IncrementAndGet failed: %v", err)
			}
		}
		if err := store.Expire(ctx, expiring, time.Minute); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}
		if err := store.Expire(ctx, lasting, time.Hour); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}

		if _, err := store.Sweep(ctx, clock.Now().Add(2*time.Minute)); err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}

		v, err := store.Peek(ctx, lasting)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if v != 1 {
			t.Errorf("Expected unexpired counter to survive sweep, got %d", v)
		}
	})

	t.Run("ConcurrentIncrementsAreLinearizable", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		ctx := context.Background()
		key := QuotaKey("org-1", limits.ResourceAPICall, testEpoch)

		const workers = 8
		const perWorker = 25

		var mu sync.Mutex
		seen := make(map[int64]bool)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					v, err := store.IncrementAndGet(ctx, key, 1)
					if err != nil {
						t.Errorf("IncrementAndGet failed: %v", err)
						return
					}
					mu.Lock()
					if seen[v] {
						t.Errorf("Value %d returned twice", v)
					}
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		total := int64(workers * perWorker)
		v, err := store.Peek(ctx, key)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if v != total {
			t.Errorf("Expected %d, got %d", total, v)
		}
		for i := int64(1); i <= total; i++ {
			if !seen[i] {
				t.Errorf("Value %d never returned", i)
			}
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		_, err := store.IncrementAndGet(context.Background(), Key{Subject: "api_call"}, 1)
		if err == nil {
			t.Fatal("Expected error for key without tenant")
		}
		if limits.IsStoreUnavailable(err) {
			t.Error("Invalid key must not be classified as an outage")
		}
	})

	t.Run("CancelledContextIsUnavailable", func(t *testing.T) {
		store := newStore(t, newTestClock(testEpoch))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.IncrementAndGet(ctx, QuotaKey("org-1", limits.ResourceAPICall, testEpoch), 1)
		if err == nil {
			t.Fatal("Expected error for cancelled context")
		}
		if !limits.IsStoreUnavailable(err) {
			t.Errorf("Expected ErrStoreUnavailable, got %v", err)
		}
		var se *limits.StoreError
		if !errors.As(err, &se) {
			t.Errorf("Expected *limits.StoreError, got %T", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *testClock) Store {
		store := NewMemoryStoreWithConfig(MemoryStoreConfig{Now: clock.Now})
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestMemoryStore_SweepCount(t *testing.T) {
	clock := newTestClock(testEpoch)
	store := NewMemoryStoreWithConfig(MemoryStoreConfig{Now: clock.Now})
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		key := RateKey("org-1", id, limits.WindowMinute, testEpoch)
		if _, err := store.IncrementAndGet(ctx, key, 1); err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		if err := store.Expire(ctx, key, time.Minute); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}
	}
	// no TTL: never swept
	if _, err := store.IncrementAndGet(ctx, QuotaKey("org-1", limits.ResourceAPICall, testEpoch), 1); err != nil {
		t.Fatalf("IncrementAndGet failed: %v", err)
	}

	deleted, err := store.Sweep(ctx, testEpoch.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted, got %d", deleted)
	}
	if store.Size() != 1 {
		t.Errorf("Expected 1 remaining, got %d", store.Size())
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	store.Close()
	store.Close() // idempotent

	ctx := context.Background()
	key := QuotaKey("org-1", limits.ResourceAPICall, testEpoch)

	if _, err := store.IncrementAndGet(ctx, key, 1); !limits.IsStoreUnavailable(err) {
		t.Errorf("Expected ErrStoreUnavailable after close, got %v", err)
	}
	if _, err := store.Peek(ctx, key); !limits.IsStoreUnavailable(err) {
		t.Errorf("Expected ErrStoreUnavailable after close, got %v", err)
	}
	if err := store.Ping(ctx); !limits.IsStoreUnavailable(err) {
		t.Errorf("Expected ErrStoreUnavailable from Ping, got %v", err)
	}
}

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "quota",
			key:  QuotaKey("org-1", limits.ResourceAPICall, testEpoch),
			want: "org-1|api_call|month|1772323200",
		},
		{
			name: "rate minute",
			key:  RateKey("org-1", "key-9", limits.WindowMinute, testEpoch),
			want: "org-1|api_key:key-9|minute|1773484200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKey_Validate(t *testing.T) {
	valid := RateKey("org-1", "key-1", limits.WindowHour, testEpoch)
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid key, got %v", err)
	}

	tests := []struct {
		name string
		key  Key
	}{
		{"empty tenant", Key{Subject: "s", Window: limits.WindowDay, Start: testEpoch}},
		{"empty subject", Key{TenantID: "t", Window: limits.WindowDay, Start: testEpoch}},
		{"bad window", Key{TenantID: "t", Subject: "s", Window: "week", Start: testEpoch}},
		{"zero start", Key{TenantID: "t", Subject: "s", Window: limits.WindowDay}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.key.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestTTLs_For(t *testing.T) {
	ttls := TTLs{limits.WindowMinute: 5 * time.Minute}

	if got := ttls.For(limits.WindowMinute); got != 5*time.Minute {
		t.Errorf("Expected override 5m, got %v", got)
	}
	if got := ttls.For(limits.WindowMonth); got != DefaultTTLs()[limits.WindowMonth] {
		t.Errorf("Expected default month TTL, got %v", got)
	}
	for _, w := range []limits.WindowKind{limits.WindowMinute, limits.WindowHour, limits.WindowDay, limits.WindowMonth} {
		start := w.Start(testEpoch)
		if DefaultTTLs().For(w) < w.End(testEpoch).Sub(start) {
			t.Errorf("Default TTL for %s shorter than the window", w)
		}
	}
}

func BenchmarkMemoryStore_IncrementAndGet(b *testing.B) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	key := QuotaKey("org-1", limits.ResourceAPICall, time.Now())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = store.IncrementAndGet(ctx, key, 1)
		}
	})
}
