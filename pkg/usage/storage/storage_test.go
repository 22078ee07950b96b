package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
)

var testEpoch = time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)

func admittedEvent(id, tenantID string, at time.Time) *usage.Event {
	return &usage.Event{
		ID:        id,
		TenantID:  tenantID,
		APIKeyID:  "key-" + tenantID,
		Resource:  limits.ResourceAPICall,
		Amount:    1,
		Timestamp: at,
		Outcome:   usage.OutcomeAdmitted,
	}
}

func deniedEvent(id, tenantID string, at time.Time, reason limits.Reason) *usage.Event {
	e := admittedEvent(id, tenantID, at)
	e.Outcome = usage.OutcomeDenied
	e.DenialReason = reason
	return e
}

func storeAll(t *testing.T, s usage.Storage, events ...*usage.Event) {
	t.Helper()
	for _, e := range events {
		if err := s.Store(context.Background(), e); err != nil {
			t.Fatalf("Store(%s) failed: %v", e.ID, err)
		}
	}
}

// runStorageSuite checks the behavior every usage.Storage backend shares.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) usage.Storage) {
	ctx := context.Background()

	t.Run("store and query", func(t *testing.T) {
		s := newStorage(t)
		event := admittedEvent("evt-1", "org-1", testEpoch)
		event.Overage = true
		storeAll(t, s, event)

		results, err := s.Query(ctx, &usage.Query{})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(results))
		}
		got := results[0]
		if got.ID != "evt-1" || got.TenantID != "org-1" || got.Resource != limits.ResourceAPICall {
			t.Errorf("Unexpected event: %+v", got)
		}
		if !got.Timestamp.Equal(testEpoch) {
			t.Errorf("Expected timestamp %v, got %v", testEpoch, got.Timestamp)
		}
		if !got.Overage || got.FailOpen {
			t.Errorf("Expected overage only, got overage=%v fail_open=%v", got.Overage, got.FailOpen)
		}
	})

	t.Run("duplicate id is ignored", func(t *testing.T) {
		s := newStorage(t)
		first := admittedEvent("evt-dup", "org-1", testEpoch)
		second := admittedEvent("evt-dup", "org-2", testEpoch.Add(time.Minute))
		storeAll(t, s, first, second)

		count, err := s.Count(ctx, &usage.Query{})
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("Expected 1 event after duplicate store, got %d", count)
		}
		results, _ := s.Query(ctx, &usage.Query{})
		if results[0].TenantID != "org-1" {
			t.Errorf("Expected first write to win, got tenant %s", results[0].TenantID)
		}
	})

	t.Run("invalid event rejected", func(t *testing.T) {
		s := newStorage(t)
		event := deniedEvent("evt-bad", "org-1", testEpoch, "")
		if err := s.Store(ctx, event); err == nil {
			t.Fatal("Expected validation error for denied event without reason")
		}
	})

	t.Run("filters", func(t *testing.T) {
		s := newStorage(t)
		overage := admittedEvent("evt-4", "org-1", testEpoch.Add(3*time.Hour))
		overage.Overage = true
		storeAll(t, s,
			admittedEvent("evt-1", "org-1", testEpoch),
			deniedEvent("evt-2", "org-1", testEpoch.Add(time.Hour), limits.ReasonRateLimited),
			deniedEvent("evt-3", "org-2", testEpoch.Add(2*time.Hour), limits.ReasonQuotaExceeded),
			overage,
		)

		start := testEpoch.Add(30 * time.Minute)
		end := testEpoch.Add(2 * time.Hour)

		tests := []struct {
			name  string
			query *usage.Query
			want  int64
		}{
			{"all", &usage.Query{}, 4},
			{"tenant", &usage.Query{TenantID: "org-1"}, 3},
			{"api key", &usage.Query{APIKeyID: "key-org-2"}, 1},
			{"outcome denied", &usage.Query{Outcome: usage.OutcomeDenied}, 2},
			{"denial reason", &usage.Query{DenialReason: limits.ReasonQuotaExceeded}, 1},
			{"overage only", &usage.Query{OverageOnly: true}, 1},
			{"resource", &usage.Query{Resource: limits.ResourceAIAnalysis}, 0},
			{"time range inclusive", &usage.Query{StartTime: &start, EndTime: &end}, 2},
			{"tenant and outcome", &usage.Query{TenantID: "org-1", Outcome: usage.OutcomeAdmitted}, 2},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				count, err := s.Count(ctx, tt.query)
				if err != nil {
					t.Fatalf("Count() failed: %v", err)
				}
				if count != tt.want {
					t.Errorf("Count: expected %d, got %d", tt.want, count)
				}
				results, err := s.Query(ctx, tt.query)
				if err != nil {
					t.Fatalf("Query() failed: %v", err)
				}
				if int64(len(results)) != tt.want {
					t.Errorf("Query: expected %d events, got %d", tt.want, len(results))
				}
			})
		}
	})

	t.Run("sorting and pagination", func(t *testing.T) {
		s := newStorage(t)
		for i := 0; i < 10; i++ {
			storeAll(t, s, admittedEvent(fmt.Sprintf("evt-%02d", i), "org-1", testEpoch.Add(time.Duration(i)*time.Minute)))
		}

		results, err := s.Query(ctx, &usage.Query{Limit: 3})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(results) != 3 || results[0].ID != "evt-09" {
			t.Fatalf("Expected newest first, got %d events starting at %s", len(results), results[0].ID)
		}

		results, err = s.Query(ctx, &usage.Query{Limit: 3, Offset: 3, SortBy: "timestamp", SortOrder: "asc"})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(results) != 3 || results[0].ID != "evt-03" || results[2].ID != "evt-05" {
			t.Errorf("Expected evt-03..evt-05, got %v", eventIDs(results))
		}

		results, err = s.Query(ctx, &usage.Query{Offset: 50})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("Expected no events past the end, got %d", len(results))
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStorage(t)
		storeAll(t, s,
			admittedEvent("old-1", "org-1", testEpoch.Add(-48*time.Hour)),
			admittedEvent("old-2", "org-2", testEpoch.Add(-25*time.Hour)),
			admittedEvent("new-1", "org-1", testEpoch),
		)

		cutoff := testEpoch.Add(-24 * time.Hour)
		deleted, err := s.Delete(ctx, &usage.Query{EndTime: &cutoff})
		if err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("Expected 2 deleted, got %d", deleted)
		}
		count, _ := s.Count(ctx, &usage.Query{})
		if count != 1 {
			t.Errorf("Expected 1 remaining, got %d", count)
		}
	})

	t.Run("concurrent writes", func(t *testing.T) {
		s := newStorage(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e := admittedEvent(fmt.Sprintf("evt-%d", i), "org-1", testEpoch)
				if err := s.Store(ctx, e); err != nil {
					t.Errorf("Store() failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		count, err := s.Count(ctx, &usage.Query{})
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if count != 20 {
			t.Errorf("Expected 20 events, got %d", count)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStorage(t).Ping(ctx); err != nil {
			t.Errorf("Ping() failed: %v", err)
		}
	})
}

func eventIDs(events []*usage.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
