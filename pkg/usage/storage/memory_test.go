package storage

import (
	"context"
	"strconv"
	"testing"

	"mercator-hq/turnstile/pkg/usage"
)

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) usage.Storage {
		s := NewMemoryStorage()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestMemoryStorage_EventIsolation tests that stored events are isolated from mutations.
func TestMemoryStorage_EventIsolation(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	original := admittedEvent("evt-1", "org-1", testEpoch)
	storeAll(t, s, original)

	original.TenantID = "mutated"
	if got := s.GetByID("evt-1"); got.TenantID != "org-1" {
		t.Errorf("Expected stored event unaffected by caller mutation, got %s", got.TenantID)
	}

	results, _ := s.Query(ctx, &usage.Query{})
	results[0].TenantID = "mutated"
	if got := s.GetByID("evt-1"); got.TenantID != "org-1" {
		t.Errorf("Expected stored event unaffected by result mutation, got %s", got.TenantID)
	}
}

func TestMemoryStorage_Close(t *testing.T) {
	s := NewMemoryStorage()
	storeAll(t, s, admittedEvent("evt-1", "org-1", testEpoch))

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("Expected storage to be cleared after Close(), got %d events", s.Size())
	}
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	s := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Store(ctx, admittedEvent("evt-1", "org-1", testEpoch)); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func BenchmarkMemoryStorage_Store(b *testing.B) {
	s := NewMemoryStorage()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Store(ctx, admittedEvent(strconv.Itoa(i), "org-1", testEpoch))
	}
}
