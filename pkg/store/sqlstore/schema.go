package sqlstore

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the gatekeeper tables. It is valid for both SQLite and
// PostgreSQL; timestamps are stored as unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS queue_items (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    proposal_id TEXT NOT NULL,
    proposal TEXT NOT NULL,
    domain TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    state TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,

    assignee TEXT,
    resolver TEXT,
    resolution_notes TEXT,
    escalation_target TEXT,
    escalation_reason TEXT,

    guardrail_action TEXT,
    requires_quorum INTEGER NOT NULL DEFAULT 0,
    quorum_size INTEGER NOT NULL DEFAULT 0,
    sandbox_only INTEGER NOT NULL DEFAULT 0,

    expires_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    assigned_at BIGINT,
    resolved_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_queue_items_org_state ON queue_items(org_id, state);
CREATE INDEX IF NOT EXISTS idx_queue_items_state_expires ON queue_items(state, expires_at);

CREATE TABLE IF NOT EXISTS votes (
    id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    voter_id TEXT NOT NULL,
    role TEXT NOT NULL,
    vote_value TEXT NOT NULL,
    weight INTEGER NOT NULL,
    reason TEXT,
    is_override INTEGER NOT NULL DEFAULT 0,
    cast_at BIGINT NOT NULL,
    PRIMARY KEY (item_id, voter_id)
);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    conflict_type TEXT NOT NULL,
    description TEXT NOT NULL,
    affected_voters TEXT NOT NULL,
    status TEXT NOT NULL,
    resolution TEXT,
    resolved_by TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    resolved_at BIGINT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_open ON conflicts(item_id, conflict_type) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_conflicts_item ON conflicts(item_id);

CREATE TABLE IF NOT EXISTS activity (
    id TEXT PRIMARY KEY,
    sequence BIGINT NOT NULL UNIQUE,
    org_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    kind TEXT NOT NULL,
    subject TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT,
    ts BIGINT NOT NULL,
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_org ON activity(org_id, sequence);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, ?)
ON CONFLICT (version) DO NOTHING
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`
