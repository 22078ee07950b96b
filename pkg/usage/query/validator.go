package query

import (
	"fmt"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
)

const (
	// DefaultLimit is the default number of events to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of events that can be returned in a single query.
	MaxLimit = 10000
)

// ValidSortFields contains the fields that can be used for sorting.
var ValidSortFields = map[string]bool{
	"timestamp":     true,
	"amount":        true,
	"tenant_id":     true,
	"resource_type": true,
}

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// Validate validates a query and returns an error if any parameters are invalid.
func Validate(q *usage.Query) error {
	if q.Limit < 0 {
		return usage.NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return usage.NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return usage.NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}

	if q.SortBy != "" && !ValidSortFields[q.SortBy] {
		return usage.NewQueryError(q, fmt.Errorf("invalid sort field: %s", q.SortBy))
	}
	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return usage.NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}

	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return usage.NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}

	if q.Resource != "" && !q.Resource.Valid() {
		return usage.NewQueryError(q, fmt.Errorf("invalid resource type: %s", q.Resource))
	}
	if q.Outcome != "" && q.Outcome != usage.OutcomeAdmitted && q.Outcome != usage.OutcomeDenied {
		return usage.NewQueryError(q, fmt.Errorf("invalid outcome: %s (must be 'admitted' or 'denied')", q.Outcome))
	}
	if q.DenialReason != "" {
		switch q.DenialReason {
		case limits.ReasonRateLimited, limits.ReasonQuotaExceeded, limits.ReasonKeyInvalid, limits.ReasonInternalError:
		default:
			return usage.NewQueryError(q, fmt.Errorf("invalid denial reason: %s", q.DenialReason))
		}
	}

	return nil
}

// ApplyDefaults applies default values to a query.
func ApplyDefaults(q *usage.Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = "timestamp"
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
