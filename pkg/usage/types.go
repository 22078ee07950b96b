package usage

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/turnstile/pkg/limits"
)

// Outcome is the result of the admission an event describes.
type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeDenied   Outcome = "denied"
)

// Event is an immutable record of one admission decision.
// Events are append-only; only retention deletes them.
type Event struct {
	// ID uniquely identifies the event. Storage de-duplicates on it, which
	// makes retried writes idempotent.
	ID string `json:"id"`

	// Identity
	TenantID string `json:"tenant_id"`
	APIKeyID string `json:"api_key_id"`

	// Resource and amount requested
	Resource limits.ResourceType `json:"resource_type"`
	Amount   int64               `json:"amount"`

	// Timestamp is the admission time (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Decision
	Outcome      Outcome       `json:"outcome"`
	DenialReason limits.Reason `json:"denial_reason,omitempty"`

	// Overage marks an admission billed beyond the included quota.
	Overage bool `json:"overage,omitempty"`

	// FailOpen marks an admission made while a store outage was tolerated.
	FailOpen bool `json:"fail_open,omitempty"`
}

// NewEvent builds an event for a decision.
func NewEvent(tenantID, apiKeyID string, resource limits.ResourceType, amount int64, at time.Time, d limits.Decision) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		APIKeyID:  apiKeyID,
		Resource:  resource,
		Amount:    amount,
		Timestamp: at.UTC(),
		Outcome:   OutcomeAdmitted,
		Overage:   d.Overage,
		FailOpen:  d.FailOpen,
	}
	if !d.Admitted {
		e.Outcome = OutcomeDenied
		e.DenialReason = d.Reason
	}
	return e
}

// Validate checks that the event is well-formed.
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return NewValidationError("id", "cannot be empty")
	case e.TenantID == "":
		return NewValidationError("tenant_id", "cannot be empty")
	case e.Timestamp.IsZero():
		return NewValidationError("timestamp", "cannot be zero")
	case e.Outcome != OutcomeAdmitted && e.Outcome != OutcomeDenied:
		return NewValidationError("outcome", "must be admitted or denied")
	case e.Outcome == OutcomeDenied && (e.DenialReason == "" || e.DenialReason == limits.ReasonNone):
		return NewValidationError("denial_reason", "required for denied events")
	case e.Outcome == OutcomeAdmitted && e.DenialReason != "" && e.DenialReason != limits.ReasonNone:
		return NewValidationError("denial_reason", "must be empty for admitted events")
	}
	return nil
}

// Query defines filter parameters for querying usage events.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	TenantID     string              `json:"tenant_id,omitempty"`
	APIKeyID     string              `json:"api_key_id,omitempty"`
	Resource     limits.ResourceType `json:"resource_type,omitempty"`
	Outcome      Outcome             `json:"outcome,omitempty"`
	DenialReason limits.Reason       `json:"denial_reason,omitempty"`
	OverageOnly  bool                `json:"overage_only,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`  // Max events to return
	Offset int `json:"offset,omitempty"` // Skip N events

	// Sorting
	SortBy    string `json:"sort_by,omitempty"`    // "timestamp", "amount"
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc"
}

// Summary aggregates events of one tenant and resource.
type Summary struct {
	TenantID string              `json:"tenant_id"`
	Resource limits.ResourceType `json:"resource_type"`
	Admitted int64               `json:"admitted"`
	Denied   int64               `json:"denied"`
	Amount   int64               `json:"amount"`
	Overage  int64               `json:"overage"`
}

// Summarize aggregates events per tenant and resource, ordered by tenant
// then resource.
func Summarize(events []*Event) []Summary {
	type key struct {
		tenant   string
		resource limits.ResourceType
	}
	index := make(map[key]int)
	var out []Summary

	for _, e := range events {
		k := key{e.TenantID, e.Resource}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Summary{TenantID: e.TenantID, Resource: e.Resource})
		}
		s := &out[i]
		if e.Outcome == OutcomeDenied {
			s.Denied++
			continue
		}
		s.Admitted++
		s.Amount += e.Amount
		if e.Overage {
			s.Overage += e.Amount
		}
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if c := strings.Compare(a.TenantID, b.TenantID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Resource), string(b.Resource))
	})
	return out
}

// Storage defines the interface for usage event storage backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// Store persists an event. Storing an event whose ID already exists is a
	// no-op, so at-least-once delivery never duplicates an event.
	Store(ctx context.Context, event *Event) error

	// Query retrieves events matching the query filters.
	// Returns an empty slice if no events match.
	Query(ctx context.Context, query *Query) ([]*Event, error)

	// Count returns the number of events matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes events matching the query filters.
	// Returns the number of events deleted. Used for retention.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the storage backend.
	Close() error
}

// Exporter defines the interface for exporting usage events to various formats.
type Exporter interface {
	// Export writes events to the provided writer in the exporter's format.
	Export(ctx context.Context, events []*Event, w io.Writer) error
}
