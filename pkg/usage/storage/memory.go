package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"mercator-hq/turnstile/pkg/usage"
)

// MemoryStorage implements usage.Storage using an in-memory map.
// Events are lost on restart; use it for tests and single-process demos.
type MemoryStorage struct {
	events map[string]*usage.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events: make(map[string]*usage.Event),
	}
}

// Store persists a usage event. An event whose ID is already stored is
// ignored.
func (s *MemoryStorage) Store(ctx context.Context, event *usage.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return usage.NewStorageError("memory", "store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return nil
	}
	eventCopy := *event
	s.events[event.ID] = &eventCopy

	return nil
}

// Query retrieves usage events matching the query filters, sorted and
// paginated like the SQLite backend.
func (s *MemoryStorage) Query(ctx context.Context, query *usage.Query) ([]*usage.Event, error) {
	if query == nil {
		query = &usage.Query{}
	}

	s.mu.RLock()
	results := []*usage.Event{}
	for _, event := range s.events {
		if matchesQuery(event, query) {
			eventCopy := *event
			results = append(results, &eventCopy)
		}
	}
	s.mu.RUnlock()

	sortEvents(results, query.SortBy, strings.EqualFold(query.SortOrder, "asc"))

	start := query.Offset
	if start > len(results) {
		return []*usage.Event{}, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	end := min(start+limit, len(results))

	return results[start:end], nil
}

// Count returns the number of usage events matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, query *usage.Query) (int64, error) {
	if query == nil {
		query = &usage.Query{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, event := range s.events {
		if matchesQuery(event, query) {
			count++
		}
	}
	return count, nil
}

// Delete removes usage events matching the query filters.
func (s *MemoryStorage) Delete(ctx context.Context, query *usage.Query) (int64, error) {
	if query == nil {
		query = &usage.Query{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, event := range s.events {
		if matchesQuery(event, query) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close releases resources held by the storage backend.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string]*usage.Event)
	return nil
}

// GetByID retrieves a single event by ID, or nil.
func (s *MemoryStorage) GetByID(id string) *usage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil
	}
	eventCopy := *event
	return &eventCopy
}

// Size returns the number of stored events.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// matchesQuery checks if an event matches the query filters.
func matchesQuery(event *usage.Event, query *usage.Query) bool {
	if query.StartTime != nil && event.Timestamp.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && event.Timestamp.After(*query.EndTime) {
		return false
	}

	if query.TenantID != "" && event.TenantID != query.TenantID {
		return false
	}
	if query.APIKeyID != "" && event.APIKeyID != query.APIKeyID {
		return false
	}
	if query.Resource != "" && event.Resource != query.Resource {
		return false
	}

	if query.Outcome != "" && event.Outcome != query.Outcome {
		return false
	}
	if query.DenialReason != "" && event.DenialReason != query.DenialReason {
		return false
	}
	if query.OverageOnly && !event.Overage {
		return false
	}

	return true
}

func sortEvents(events []*usage.Event, sortBy string, asc bool) {
	slices.SortFunc(events, func(a, b *usage.Event) int {
		var c int
		switch sortBy {
		case "amount":
			c = cmp.Compare(a.Amount, b.Amount)
		case "tenant_id":
			c = strings.Compare(a.TenantID, b.TenantID)
		case "resource_type":
			c = strings.Compare(string(a.Resource), string(b.Resource))
		default:
			c = a.Timestamp.Compare(b.Timestamp)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if !asc {
			c = -c
		}
		return c
	})
}
