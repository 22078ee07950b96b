// Package query validates usage event queries and builds them from request
// parameters.
//
// # Validation
//
//   - 0 <= limit <= MaxLimit and offset >= 0
//   - sort field is one of timestamp, amount, tenant_id, resource_type
//   - sort order is asc or desc
//   - start time is not after end time
//   - resource type, outcome and denial reason are known values
//
// # Basic Usage
//
//	q, err := query.FromValues(r.URL.Query())
//	if err != nil {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	    return
//	}
//	events, err := store.Query(ctx, q)
package query
