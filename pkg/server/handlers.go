package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/admission"
	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/export"
	"mercator-hq/turnstile/pkg/usage/query"
)

// AdmitResponse is the body of POST /v1/admit.
type AdmitResponse struct {
	limits.Decision

	// RetryAfterSeconds mirrors the Retry-After header of rate-limit denials.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`

	// Message explains a denial.
	Message string `json:"message,omitempty"`
}

// decisionStatus maps a decision to its HTTP status and denial message.
// err is the error returned with the decision by Gateway.Admit.
func decisionStatus(d limits.Decision, err error) (int, string) {
	if d.Admitted {
		return http.StatusOK, ""
	}
	switch d.Reason {
	case limits.ReasonRateLimited:
		return http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded for the %s window", d.Window)
	case limits.ReasonQuotaExceeded:
		return http.StatusPaymentRequired, "monthly quota exhausted; upgrade plan to continue"
	case limits.ReasonKeyInvalid:
		return http.StatusForbidden, "api key is invalid, inactive or expired"
	}
	if limits.IsStoreUnavailable(err) {
		return http.StatusServiceUnavailable, "usage counters are temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal admission error"
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	var req admission.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorTypeInvalidRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	switch {
	case req.TenantID == "" || req.APIKeyID == "":
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, "tenant_id and api_key_id are required")
		return
	case !req.Resource.Valid():
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, fmt.Sprintf("unknown resource_type %q", req.Resource))
		return
	case req.Amount < 0:
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, "amount must not be negative")
		return
	case req.Amount > admission.MaxAmount:
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, fmt.Sprintf("amount must not exceed %d", admission.MaxAmount))
		return
	}

	decision, err := s.gateway.Admit(r.Context(), req)
	if s.metrics != nil {
		s.metrics.RecordTenantAdmission(req.TenantID, decision.Admitted)
	}

	status, message := decisionStatus(decision, err)
	resp := AdmitResponse{Decision: decision, Message: message}
	resp.RetryAfterSeconds = setLimitHeaders(w, decision)

	writeJSON(w, status, resp)
}

// setLimitHeaders describes the deciding limit in response headers and
// returns the Retry-After value in seconds, 0 when none applies.
func setLimitHeaders(w http.ResponseWriter, d limits.Decision) int64 {
	if d.Reason == limits.ReasonRateLimited {
		if d.Limit != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(*d.Limit, 10))
		}
		w.Header().Set("X-RateLimit-Window", string(d.Window))
		secs := d.RetryAfterSeconds()
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		return secs
	}

	if d.Limit != nil && d.Current != nil {
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(*d.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(*d.Current, 10))
	}
	return 0
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	report, err := s.gateway.Usage(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.writeLookupError(w, r, "usage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RateStatusResponse is the body of GET /v1/keys/{key}/rate.
type RateStatusResponse struct {
	APIKeyID string                      `json:"api_key_id"`
	Windows  map[limits.WindowKind]int64 `json:"windows"`
}

func (s *Server) handleRateStatus(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("key")
	windows, err := s.gateway.RateStatus(r.Context(), keyID)
	if err != nil {
		s.writeLookupError(w, r, "rate status", err)
		return
	}
	writeJSON(w, http.StatusOK, RateStatusResponse{APIKeyID: keyID, Windows: windows})
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, what string, err error) {
	switch {
	case limits.IsNotFound(err):
		writeError(w, http.StatusNotFound, errorTypeNotFound, err.Error())
	case limits.IsStoreUnavailable(err):
		s.logger.WarnContext(r.Context(), what+" lookup hit unavailable store", "error", err)
		writeError(w, http.StatusServiceUnavailable, errorTypeServiceUnavailable, "usage counters are temporarily unavailable")
	default:
		s.logger.ErrorContext(r.Context(), what+" lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, errorTypeServer, "internal error")
	}
}

// handleEvents serves GET /v1/events. The format parameter selects json
// (default), jsonl or csv.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, errorTypeNotFound, "event storage is not configured")
		return
	}

	params := r.URL.Query()
	q, err := query.FromValues(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, err.Error())
		return
	}
	if params.Get("limit") == "" {
		q.Limit = s.queryConfig.DefaultLimit
	}
	if s.queryConfig.MaxLimit > 0 && q.Limit > s.queryConfig.MaxLimit {
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest,
			fmt.Sprintf("limit must be <= %d", s.queryConfig.MaxLimit))
		return
	}

	format := params.Get("format")
	exporter, err := export.NewWithOptions(format, export.Options{
		JSONPretty:       s.exportConfig.JSONPretty,
		CSVIncludeHeader: s.exportConfig.CSVIncludeHeader,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, errorTypeInvalidRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.queryConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryConfig.Timeout)
		defer cancel()
	}

	events, err := s.events.Query(ctx, q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "event query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errorTypeServer, "event query failed")
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	if err := exporter.Export(ctx, events, w); err != nil {
		s.logger.ErrorContext(r.Context(), "event export failed", "error", err)
	}
}

// EventQuerier reads usage events.
type EventQuerier interface {
	Query(ctx context.Context, query *usage.Query) ([]*usage.Event, error)
}
