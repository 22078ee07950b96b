package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the usage event schema.
const Schema = `
-- Usage events table (append-only)
CREATE TABLE IF NOT EXISTS usage_events (
    id TEXT PRIMARY KEY,

    -- Identity
    tenant_id TEXT NOT NULL,
    api_key_id TEXT NOT NULL,

    -- Request
    resource_type TEXT NOT NULL,
    amount INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,

    -- Decision
    outcome TEXT NOT NULL,
    denial_reason TEXT,
    overage BOOLEAN NOT NULL DEFAULT 0,
    fail_open BOOLEAN NOT NULL DEFAULT 0
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_usage_events_timestamp ON usage_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_time ON usage_events(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_events_api_key ON usage_events(api_key_id);
CREATE INDEX IF NOT EXISTS idx_usage_events_outcome ON usage_events(outcome);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

// insertEvent ignores duplicate IDs so redelivered events are no-ops.
const insertEvent = `
INSERT OR IGNORE INTO usage_events (
    id, tenant_id, api_key_id,
    resource_type, amount, timestamp,
    outcome, denial_reason, overage, fail_open
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `id, tenant_id, api_key_id, resource_type, amount, timestamp, outcome, denial_reason, overage, fail_open`
