package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mercator-hq/turnstile/pkg/limits"
)

// SQLiteStore implements Store using SQLite for persistence.
// Counters survive restarts and are shared by every process that opens the
// same database file. Updates run through a single connection, which makes
// each increment linearizable.
//
// SQLiteStore uses a write-ahead log (WAL) and checkpoints it periodically.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	now                func() time.Time
	logger             *slog.Logger
	done               chan struct{}
	closeOnce          sync.Once

	// prepared statements
	incrStmt   *sql.Stmt
	peekStmt   *sql.Stmt
	expireStmt *sql.Stmt
	sweepStmt  *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Now overrides the clock used for expiry. Default: time.Now.
	Now func() time.Time
}

// NewSQLiteStore creates a new SQLite counter store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a new SQLite counter store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		now:                cfg.Now,
		logger:             slog.Default().With("component", "limits.storage.sqlite"),
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
// expires_at is unix milliseconds; 0 means no expiry.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		counter_key TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		window_kind TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		count INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_counters_expires_at ON counters(expires_at);
	CREATE INDEX IF NOT EXISTS idx_counters_tenant ON counters(tenant_id, window_kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	// An expired row is restarted from the increment instead of accumulated.
	s.incrStmt, err = s.db.Prepare(`
		INSERT INTO counters (counter_key, tenant_id, subject, window_kind, window_start, count, expires_at)
		VALUES (?2, ?3, ?4, ?5, ?6, ?7, 0)
		ON CONFLICT (counter_key) DO UPDATE SET
			count = CASE
				WHEN counters.expires_at > 0 AND counters.expires_at <= ?1 THEN excluded.count
				ELSE counters.count + excluded.count
			END,
			expires_at = CASE
				WHEN counters.expires_at > 0 AND counters.expires_at <= ?1 THEN 0
				ELSE counters.expires_at
			END
		RETURNING count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.peekStmt, err = s.db.Prepare(`
		SELECT count FROM counters
		WHERE counter_key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare peek statement: %w", err)
	}

	s.expireStmt, err = s.db.Prepare(`
		UPDATE counters SET expires_at = ? WHERE counter_key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare expire statement: %w", err)
	}

	s.sweepStmt, err = s.db.Prepare(`
		DELETE FROM counters WHERE expires_at > 0 AND expires_at < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sweep statement: %w", err)
	}

	return nil
}

// IncrementAndGet atomically adds amount and returns the new value.
func (s *SQLiteStore) IncrementAndGet(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("sqlite", "increment", key.String(), err)
	}

	// ?1 is the current time in unix milliseconds.
	var value int64
	err := s.incrStmt.QueryRowContext(ctx,
		s.now().UnixMilli(),
		key.String(),
		key.TenantID,
		key.Subject,
		string(key.Window),
		key.Start.Unix(),
		amount,
	).Scan(&value)
	if err != nil {
		return 0, limits.NewStoreError("sqlite", "increment", key.String(), classifySQLite(err))
	}

	return value, nil
}

// Peek returns the current value. Missing or expired counters read as 0.
func (s *SQLiteStore) Peek(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("sqlite", "peek", key.String(), err)
	}

	var value int64
	err := s.peekStmt.QueryRowContext(ctx, key.String(), s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, limits.NewStoreError("sqlite", "peek", key.String(), classifySQLite(err))
	}

	return value, nil
}

// Expire sets the counter's expiry to now+ttl.
func (s *SQLiteStore) Expire(ctx context.Context, key Key, ttl time.Duration) error {
	_, err := s.expireStmt.ExecContext(ctx, s.now().Add(ttl).UnixMilli(), key.String())
	if err != nil {
		return limits.NewStoreError("sqlite", "expire", key.String(), classifySQLite(err))
	}
	return nil
}

// Sweep deletes counters that expired before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	result, err := s.sweepStmt.ExecContext(ctx, now.UnixMilli())
	if err != nil {
		return 0, limits.NewStoreError("sqlite", "sweep", "", classifySQLite(err))
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return limits.NewStoreError("sqlite", "ping", "", classifySQLite(err))
	}
	return nil
}

// Close stops the checkpoint loop and closes the database.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.incrStmt, s.peekStmt, s.expireStmt, s.sweepStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		// Final checkpoint before closing
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("final checkpoint failed", "error", err)
		}

		closeErr = s.db.Close()
	})
	return closeErr
}

// checkpointLoop periodically checkpoints the WAL to the main database.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("checkpoint failed", "path", s.dbPath, "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// classifySQLite marks lock contention, cancelled contexts and closed
// handles as outages. Everything else stays unclassified.
func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) {
		return limits.Unavailable(err)
	}
	if err.Error() == "sql: database is closed" || err.Error() == "sql: statement is closed" {
		return limits.Unavailable(err)
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return limits.Unavailable(err)
		}
	}
	return err
}
