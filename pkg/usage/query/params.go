package query

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
)

// FromValues builds a query from URL parameters:
//
//	tenant_id, api_key_id, resource_type, outcome, denial_reason,
//	overage_only, since, until (RFC 3339), limit, offset, sort_by, sort_order
//
// The result is validated and has defaults applied.
func FromValues(v url.Values) (*usage.Query, error) {
	q := &usage.Query{
		TenantID:     v.Get("tenant_id"),
		APIKeyID:     v.Get("api_key_id"),
		Resource:     limits.ResourceType(v.Get("resource_type")),
		Outcome:      usage.Outcome(v.Get("outcome")),
		DenialReason: limits.Reason(v.Get("denial_reason")),
		SortBy:       v.Get("sort_by"),
		SortOrder:    v.Get("sort_order"),
	}

	var err error
	if q.StartTime, err = parseTime(v, "since"); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseTime(v, "until"); err != nil {
		return nil, err
	}
	if q.Limit, err = parseInt(v, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = parseInt(v, "offset"); err != nil {
		return nil, err
	}
	if s := v.Get("overage_only"); s != "" {
		if q.OverageOnly, err = strconv.ParseBool(s); err != nil {
			return nil, fmt.Errorf("invalid overage_only %q: %w", s, err)
		}
	}

	if err := Validate(q); err != nil {
		return nil, err
	}
	ApplyDefaults(q)
	return q, nil
}

func parseTime(v url.Values, name string) (*time.Time, error) {
	s := v.Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: must be RFC 3339", name, s)
	}
	return &t, nil
}

func parseInt(v url.Values, name string) (int, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}
