package limits

import (
	"errors"
	"fmt"
)

// Error types for admission failures. Every denial reason maps to one sentinel.
var (
	// ErrKeyInvalid is returned for unknown, inactive, expired or foreign API keys.
	// Terminal: the caller must re-authenticate or rotate the key.
	ErrKeyInvalid = errors.New("api key invalid")

	// ErrRateLimited is returned when a per-key rate ceiling is reached.
	// Transient: retry after the window resets.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQuotaExceeded is returned when a monthly quota is exhausted.
	// Terminal until the next billing cycle.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable is returned when the counter store cannot be reached
	// or does not answer within the store timeout.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInternal covers unclassified failures. Always fails closed.
	ErrInternal = errors.New("internal admission error")

	// ErrNotFound is returned by lookups for unknown tenants or keys.
	ErrNotFound = errors.New("not found")

	// ErrUnknownTier is returned when a tenant references a tier with no policy.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrInvalidRequest is returned for malformed admission requests.
	ErrInvalidRequest = errors.New("invalid admission request")
)

// ReasonError returns the sentinel error for a decision reason.
func ReasonError(r Reason) error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonQuotaExceeded:
		return ErrQuotaExceeded
	case ReasonKeyInvalid:
		return ErrKeyInvalid
	}
	return ErrInternal
}

// LimitError provides detailed context about a denial.
type LimitError struct {
	// Reason is the denial reason.
	Reason Reason

	// TenantID is the tenant the decision applied to, when known.
	TenantID string

	// Limit is the configured limit value.
	Limit int64

	// Current is the usage observed when the decision was made.
	Current int64

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	switch e.Reason {
	case ReasonQuotaExceeded, ReasonRateLimited:
		return fmt.Sprintf("%v: current=%d, limit=%d", e.Err, e.Current, e.Limit)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}

// StoreError records a failed counter store operation.
type StoreError struct {
	// Backend is the store type ("memory", "sqlite", "redis").
	Backend string

	// Operation is the failed operation ("increment", "peek", "expire", ...).
	Operation string

	// Key is the rendered counter key, if any.
	Key string

	// Cause is the underlying error. Wrapping ErrStoreUnavailable classifies the
	// failure as an outage.
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("counter store error [backend=%s, operation=%s, key=%s]: %v", e.Backend, e.Operation, e.Key, e.Cause)
	}
	return fmt.Sprintf("counter store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a StoreError.
func NewStoreError(backend, operation, key string, cause error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Key: key, Cause: cause}
}

// Unavailable wraps cause so that errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(cause error) error {
	if cause == nil || errors.Is(cause, ErrStoreUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, cause)
}

// IsStoreUnavailable reports whether err is a classified store outage.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
