package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/usage.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// sortColumns maps accepted sort fields to columns.
var sortColumns = map[string]string{
	"timestamp":     "timestamp",
	"amount":        "amount",
	"tenant_id":     "tenant_id",
	"resource_type": "resource_type",
}

// SQLiteStorage implements usage.Storage using SQLite.
type SQLiteStorage struct {
	db         *sql.DB
	config     *SQLiteConfig
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
}

// NewSQLiteStorage creates a new SQLite storage backend.
// It initializes the database schema and enables WAL mode if configured.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, usage.NewStorageError("sqlite", "open", fmt.Errorf("database path cannot be empty"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "usage.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite usage storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return usage.NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return usage.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return usage.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return usage.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return usage.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return usage.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	stmt, err := s.db.Prepare(insertEvent)
	if err != nil {
		return usage.NewStorageError("sqlite", "prepare", err)
	}
	s.insertStmt = stmt

	return nil
}

// Store persists a usage event. An event whose ID is already stored is
// ignored.
func (s *SQLiteStorage) Store(ctx context.Context, event *usage.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return usage.NewStorageError("sqlite", "store", sql.ErrConnDone)
	}

	var reason any
	if event.DenialReason != "" && event.DenialReason != limits.ReasonNone {
		reason = string(event.DenialReason)
	}

	_, err := s.insertStmt.ExecContext(ctx,
		event.ID, event.TenantID, event.APIKeyID,
		string(event.Resource), event.Amount, event.Timestamp.UTC(),
		string(event.Outcome), reason, event.Overage, event.FailOpen,
	)
	if err != nil {
		return usage.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query retrieves usage events matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, query *usage.Query) ([]*usage.Event, error) {
	if query == nil {
		query = &usage.Query{}
	}
	whereClause, args := buildWhereClause(query)

	sqlQuery := "SELECT " + selectColumns + " FROM usage_events"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	sortBy := "timestamp"
	if col, ok := sortColumns[query.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(query.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	sqlQuery += fmt.Sprintf(" ORDER BY %s %s, id %s", sortBy, sortOrder, sortOrder)

	limit := 100
	if query.Limit > 0 {
		limit = query.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	events := []*usage.Event{}
	for rows.Next() {
		event, err := scanRow(rows)
		if err != nil {
			return nil, usage.NewStorageError("sqlite", "scan", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, usage.NewStorageError("sqlite", "query", err)
	}

	return events, nil
}

// Count returns the number of usage events matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, query *usage.Query) (int64, error) {
	if query == nil {
		query = &usage.Query{}
	}
	whereClause, args := buildWhereClause(query)

	sqlQuery := "SELECT COUNT(*) FROM usage_events"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, usage.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes usage events matching the query filters.
// Returns the number of events deleted.
func (s *SQLiteStorage) Delete(ctx context.Context, query *usage.Query) (int64, error) {
	if query == nil {
		query = &usage.Query{}
	}
	whereClause, args := buildWhereClause(query)

	sqlQuery := "DELETE FROM usage_events"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "delete", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return usage.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return usage.NewStorageError("sqlite", "close", err)
	}

	s.logger.Info("SQLite usage storage closed")
	return nil
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the WHERE clause (without "WHERE" keyword) and the query arguments.
func buildWhereClause(query *usage.Query) (string, []any) {
	var conditions []string
	var args []any

	if query.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.StartTime.UTC())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.EndTime.UTC())
	}

	if query.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, query.TenantID)
	}
	if query.APIKeyID != "" {
		conditions = append(conditions, "api_key_id = ?")
		args = append(args, query.APIKeyID)
	}
	if query.Resource != "" {
		conditions = append(conditions, "resource_type = ?")
		args = append(args, string(query.Resource))
	}

	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(query.Outcome))
	}
	if query.DenialReason != "" {
		conditions = append(conditions, "denial_reason = ?")
		args = append(args, string(query.DenialReason))
	}
	if query.OverageOnly {
		conditions = append(conditions, "overage = 1")
	}

	return strings.Join(conditions, " AND "), args
}

// scanRow scans a database row into an Event.
func scanRow(rows *sql.Rows) (*usage.Event, error) {
	var event usage.Event
	var resource, outcome string
	var reason sql.NullString

	err := rows.Scan(
		&event.ID, &event.TenantID, &event.APIKeyID,
		&resource, &event.Amount, &event.Timestamp,
		&outcome, &reason, &event.Overage, &event.FailOpen,
	)
	if err != nil {
		return nil, err
	}

	event.Resource = limits.ResourceType(resource)
	event.Outcome = usage.Outcome(outcome)
	if reason.Valid {
		event.DenialReason = limits.Reason(reason.String)
	}
	event.Timestamp = event.Timestamp.UTC()

	return &event, nil
}
