package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/store"
)

// Config contains configuration for the SQL store.
type Config struct {
	// Driver is the database/sql driver name: "sqlite" (pure Go),
	// "sqlite3" (cgo) or "postgres".
	// Default: "sqlite"
	Driver string

	// DSN is the data source name. For SQLite this is a file path.
	// Default: "data/gatekeeper.db"
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	// SQLite drivers are always capped at 1.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging on SQLite.
	// Default: true
	WALMode bool

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default SQL store configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverSQLite,
		DSN:          "data/gatekeeper.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Store implements store.Store on SQLite or PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect Dialect
	backend string
	logger  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dialect, err := DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, store.NewError(cfg.Driver, "open", err)
	}
	if cfg.DSN == "" {
		return nil, store.NewError(cfg.Driver, "open", errors.New("dsn cannot be empty"))
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, store.NewError(cfg.Driver, "open", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := New(db, dialect, logger)
	s.backend = cfg.Driver

	if dialect == DialectSQLite {
		if err := s.configureSQLite(ctx, cfg); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQL store initialized",
		"driver", cfg.Driver,
		"wal_mode", cfg.WALMode && dialect == DialectSQLite,
		"schema_version", SchemaVersion,
	)
	return s, nil
}

// New wraps an existing connection pool. The schema is not applied; call
// Migrate when the database may be fresh.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		backend: string(dialect),
		logger:  logger.With("component", "store.sql", "dialect", string(dialect)),
	}
}

func (s *Store) configureSQLite(ctx context.Context, cfg *Config) error {
	if cfg.WALMode {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return s.wrap("enable_wal", err)
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds())); err != nil {
		return s.wrap("set_busy_timeout", err)
	}
	return nil
}

// Migrate creates the schema if needed and records its version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return s.wrap("create_schema", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(InsertSchemaVersion), SchemaVersion, time.Now().UnixNano()); err != nil {
		return s.wrap("schema_version", err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, GetSchemaVersion).Scan(&v); err != nil {
		return 0, s.wrap("schema_version", err)
	}
	return v, nil
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return s.wrap("close", err)
	}
	return nil
}

func (s *Store) wrap(op string, err error) error {
	return store.NewError(s.backend, op, err)
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- queue items ---

const itemColumns = `id, org_id, proposal_id, proposal, domain, risk_level, state, priority,
	assignee, resolver, resolution_notes, escalation_target, escalation_reason,
	guardrail_action, requires_quorum, quorum_size, sandbox_only,
	expires_at, created_at, updated_at, assigned_at, resolved_at`

// CreateItem inserts a new queue item.
func (s *Store) CreateItem(ctx context.Context, item *governance.QueueItem) error {
	proposal, err := json.Marshal(item.Proposal)
	if err != nil {
		return s.wrap("create_item", err)
	}

	res, err := s.exec(ctx, s.db, `
		INSERT INTO queue_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.OrgID, item.Proposal.ID, string(proposal), item.Proposal.Domain,
		string(item.Proposal.RiskLevel), string(item.State), item.Priority,
		nullString(item.Assignee), nullString(item.Resolver), nullString(item.ResolutionNotes),
		nullString(item.EscalationTarget), nullString(item.EscalationReason),
		nullString(item.GuardrailAction), boolInt(item.RequiresQuorum), item.QuorumSize, boolInt(item.SandboxOnly),
		toNanos(item.ExpiresAt), toNanos(item.CreatedAt), toNanos(item.UpdatedAt),
		nullTime(item.AssignedAt), nullTime(item.ResolvedAt),
	)
	if err != nil {
		return s.wrap("create_item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("create_item", err)
	}
	if n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// GetItem returns the item or store.ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (*governance.QueueItem, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get_item", err)
	}
	return item, nil
}

// UpdateItem replaces the mutable fields of an item whose state is still from.
func (s *Store) UpdateItem(ctx context.Context, item *governance.QueueItem, from governance.State) error {
	res, err := s.exec(ctx, s.db, `
		UPDATE queue_items SET
			state = ?, priority = ?,
			assignee = ?, resolver = ?, resolution_notes = ?,
			escalation_target = ?, escalation_reason = ?,
			guardrail_action = ?, requires_quorum = ?, quorum_size = ?, sandbox_only = ?,
			expires_at = ?, updated_at = ?, assigned_at = ?, resolved_at = ?
		WHERE id = ? AND state = ?`,
		string(item.State), item.Priority,
		nullString(item.Assignee), nullString(item.Resolver), nullString(item.ResolutionNotes),
		nullString(item.EscalationTarget), nullString(item.EscalationReason),
		nullString(item.GuardrailAction), boolInt(item.RequiresQuorum), item.QuorumSize, boolInt(item.SandboxOnly),
		toNanos(item.ExpiresAt), toNanos(item.UpdatedAt), nullTime(item.AssignedAt), nullTime(item.ResolvedAt),
		item.ID, string(from),
	)
	if err != nil {
		return s.wrap("update_item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("update_item", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.queryRow(ctx, s.db, `SELECT 1 FROM queue_items WHERE id = ?`, item.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return s.wrap("update_item", err)
	}
	return store.ErrStateConflict
}

// ListItems returns matching items ordered by priority desc, then creation time.
func (s *Store) ListItems(ctx context.Context, filter store.ItemFilter) ([]*governance.QueueItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.Assignee != "" {
		where = append(where, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}

	q := `SELECT ` + itemColumns + ` FROM queue_items`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY priority DESC, created_at ASC, id ASC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, s.wrap("list_items", err)
	}
	defer rows.Close()

	var out []*governance.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, s.wrap("list_items", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list_items", err)
	}
	return out, nil
}

// ExpireItems transitions overdue non-terminal items to EXPIRED in one statement.
func (s *Store) ExpireItems(ctx context.Context, now time.Time) ([]string, error) {
	ts := toNanos(now)
	rows, err := s.query(ctx, s.db, `
		UPDATE queue_items
		SET state = 'EXPIRED', updated_at = ?, resolved_at = ?
		WHERE state IN ('PENDING', 'ASSIGNED', 'ESCALATED') AND expires_at > 0 AND expires_at < ?
		RETURNING id`,
		ts, ts, ts,
	)
	if err != nil {
		return nil, s.wrap("expire_items", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.wrap("expire_items", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("expire_items", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- votes ---

const voteColumns = `id, item_id, voter_id, role, vote_value, weight, reason, is_override, cast_at`

// UpsertVote inserts or replaces the vote keyed by (item, voter) while the
// item is non-terminal. The item row is locked for the duration.
func (s *Store) UpsertVote(ctx context.Context, vote *governance.Vote) (*governance.Vote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap("upsert_vote", err)
	}
	defer tx.Rollback()

	var state string
	err = s.queryRow(ctx, tx, `SELECT state FROM queue_items WHERE id = ?`+s.dialect.forUpdate(), vote.ItemID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("upsert_vote", err)
	}
	if governance.State(state).Terminal() {
		return nil, store.ErrStateConflict
	}

	_, err = s.exec(ctx, tx, `
		INSERT INTO votes (`+voteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id, voter_id) DO UPDATE SET
			role = excluded.role,
			vote_value = excluded.vote_value,
			weight = excluded.weight,
			reason = excluded.reason,
			is_override = excluded.is_override,
			cast_at = excluded.cast_at`,
		vote.ID, vote.ItemID, vote.VoterID, string(vote.Role), string(vote.Value), vote.Weight,
		nullString(vote.Reason), boolInt(vote.IsOverride), toNanos(vote.CastAt),
	)
	if err != nil {
		return nil, s.wrap("upsert_vote", err)
	}

	row := s.queryRow(ctx, tx, `SELECT `+voteColumns+` FROM votes WHERE item_id = ? AND voter_id = ?`, vote.ItemID, vote.VoterID)
	stored, err := scanVote(row)
	if err != nil {
		return nil, s.wrap("upsert_vote", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.wrap("upsert_vote", err)
	}
	return stored, nil
}

// ListVotes returns all votes on an item ordered by cast time.
func (s *Store) ListVotes(ctx context.Context, itemID string) ([]*governance.Vote, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+voteColumns+` FROM votes WHERE item_id = ? ORDER BY cast_at ASC, voter_id ASC`, itemID)
	if err != nil {
		return nil, s.wrap("list_votes", err)
	}
	defer rows.Close()

	var out []*governance.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, s.wrap("list_votes", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list_votes", err)
	}
	return out, nil
}

// --- conflicts ---

const conflictColumns = `id, item_id, org_id, conflict_type, description, affected_voters, status,
	resolution, resolved_by, created_at, updated_at, resolved_at`

// maxUpsertAttempts bounds the insert/refresh loop when a concurrent resolve
// closes the open conflict between the two statements.
const maxUpsertAttempts = 3

// UpsertConflict opens a conflict or refreshes the open one of the same type.
// The partial unique index on open conflicts makes the insert race-free.
func (s *Store) UpsertConflict(ctx context.Context, c *governance.Conflict) (*governance.Conflict, bool, error) {
	voters, err := json.Marshal(nonNil(c.AffectedVoters))
	if err != nil {
		return nil, false, s.wrap("upsert_conflict", err)
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res, err := s.exec(ctx, s.db, `
			INSERT INTO conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, 'OPEN', NULL, NULL, ?, ?, NULL)
			ON CONFLICT (item_id, conflict_type) WHERE status = 'OPEN' DO NOTHING`,
			c.ID, c.ItemID, c.OrgID, string(c.Type), c.Description, string(voters),
			toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
		)
		if err != nil {
			return nil, false, s.wrap("upsert_conflict", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored, err := s.GetConflict(ctx, c.ID)
			return stored, true, err
		}

		res, err = s.exec(ctx, s.db, `
			UPDATE conflicts SET description = ?, affected_voters = ?, updated_at = ?
			WHERE item_id = ? AND conflict_type = ? AND status = 'OPEN'`,
			c.Description, string(voters), toNanos(c.UpdatedAt), c.ItemID, string(c.Type),
		)
		if err != nil {
			return nil, false, s.wrap("upsert_conflict", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		row := s.queryRow(ctx, s.db, `SELECT `+conflictColumns+` FROM conflicts
			WHERE item_id = ? AND conflict_type = ? AND status = 'OPEN'`, c.ItemID, string(c.Type))
		stored, err := scanConflict(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, s.wrap("upsert_conflict", err)
		}
		return stored, false, nil
	}
	return nil, false, s.wrap("upsert_conflict", store.ErrStateConflict)
}

// GetConflict returns the conflict or store.ErrNotFound.
func (s *Store) GetConflict(ctx context.Context, id string) (*governance.Conflict, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get_conflict", err)
	}
	return c, nil
}

// ResolveConflict marks an OPEN conflict resolved.
func (s *Store) ResolveConflict(ctx context.Context, id, resolver, resolution string, at time.Time) (*governance.Conflict, error) {
	ts := toNanos(at)
	res, err := s.exec(ctx, s.db, `
		UPDATE conflicts SET status = 'RESOLVED', resolved_by = ?, resolution = ?, updated_at = ?, resolved_at = ?
		WHERE id = ? AND status = 'OPEN'`,
		resolver, resolution, ts, ts, id,
	)
	if err != nil {
		return nil, s.wrap("resolve_conflict", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, s.wrap("resolve_conflict", err)
	}

	c, err := s.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrStateConflict
	}
	return c, nil
}

// ListConflicts returns conflicts ordered by creation time.
func (s *Store) ListConflicts(ctx context.Context, itemID string, status governance.ConflictStatus) ([]*governance.Conflict, error) {
	var (
		where []string
		args  []any
	)
	if itemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, itemID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	q := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, s.wrap("list_conflicts", err)
	}
	defer rows.Close()

	var out []*governance.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, s.wrap("list_conflicts", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list_conflicts", err)
	}
	return out, nil
}

// --- activity ---

const activityColumns = `id, sequence, org_id, actor, kind, subject, summary, details, ts, prev_hash, hash`

// AppendActivity appends an audit entry.
func (s *Store) AppendActivity(ctx context.Context, a *governance.Activity) error {
	var details sql.NullString
	if len(a.Details) > 0 {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return s.wrap("append_activity", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.exec(ctx, s.db, `
		INSERT INTO activity (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sequence) DO NOTHING`,
		a.ID, a.Sequence, a.OrgID, a.Actor, a.Kind, a.Subject, a.Summary, details,
		toNanos(a.Timestamp), a.PrevHash, a.Hash,
	)
	if err != nil {
		return s.wrap("append_activity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("append_activity", err)
	}
	if n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// ListActivity returns activity ordered by sequence.
func (s *Store) ListActivity(ctx context.Context, orgID string, limit int) ([]*governance.Activity, error) {
	q := `SELECT ` + activityColumns + ` FROM activity`
	var args []any
	if orgID != "" {
		q += " WHERE org_id = ?"
		args = append(args, orgID)
	}
	q += " ORDER BY sequence ASC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, s.wrap("list_activity", err)
	}
	defer rows.Close()

	var out []*governance.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, s.wrap("list_activity", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list_activity", err)
	}
	return out, nil
}

// LastActivity returns the entry with the highest sequence, or nil.
func (s *Store) LastActivity(ctx context.Context) (*governance.Activity, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+activityColumns+` FROM activity ORDER BY sequence DESC LIMIT 1`)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("last_activity", err)
	}
	return a, nil
}
