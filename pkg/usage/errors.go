package usage

import "fmt"

// ValidationError reports a malformed event.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid usage event: %s %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("store", "query", "delete", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// QueryError represents an error during query execution or validation.
type QueryError struct {
	Query *Query // Query that failed
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(query *Query, cause error) *QueryError {
	return &QueryError{
		Query: query,
		Cause: cause,
	}
}

// RetentionError represents an error during retention policy enforcement.
type RetentionError struct {
	RetentionDays int   // Configured retention period
	Cause         error // Underlying error
}

// Error implements the error interface.
func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention error [retention_days=%d]: %v", e.RetentionDays, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetentionError) Unwrap() error {
	return e.Cause
}

// NewRetentionError creates a new RetentionError.
func NewRetentionError(retentionDays int, cause error) *RetentionError {
	return &RetentionError{
		RetentionDays: retentionDays,
		Cause:         cause,
	}
}

// ExportError represents an error during event export.
type ExportError struct {
	Format     string // Export format ("json", "csv", etc.)
	EventCount int    // Number of events being exported
	Cause      error  // Underlying error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, event_count=%d]: %v", e.Format, e.EventCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, eventCount int, cause error) *ExportError {
	return &ExportError{
		Format:     format,
		EventCount: eventCount,
		Cause:      cause,
	}
}
