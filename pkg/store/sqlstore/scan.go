package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*governance.QueueItem, error) {
	var (
		item                                  governance.QueueItem
		proposalID, proposal, domain, risk    string
		state                                 string
		assignee, resolver, notes             sql.NullString
		escTarget, escReason, guardrailAction sql.NullString
		requiresQuorum, sandboxOnly           int64
		expiresAt, createdAt, updatedAt       int64
		assignedAt, resolvedAt                sql.NullInt64
	)
	err := sc.Scan(
		&item.ID, &item.OrgID, &proposalID, &proposal, &domain, &risk, &state, &item.Priority,
		&assignee, &resolver, &notes, &escTarget, &escReason,
		&guardrailAction, &requiresQuorum, &item.QuorumSize, &sandboxOnly,
		&expiresAt, &createdAt, &updatedAt, &assignedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(proposal), &item.Proposal); err != nil {
		return nil, fmt.Errorf("decode proposal for item %s: %w", item.ID, err)
	}
	item.State = governance.State(state)
	item.Assignee = assignee.String
	item.Resolver = resolver.String
	item.ResolutionNotes = notes.String
	item.EscalationTarget = escTarget.String
	item.EscalationReason = escReason.String
	item.GuardrailAction = guardrailAction.String
	item.RequiresQuorum = requiresQuorum != 0
	item.SandboxOnly = sandboxOnly != 0
	item.ExpiresAt = fromNanos(expiresAt)
	item.CreatedAt = fromNanos(createdAt)
	item.UpdatedAt = fromNanos(updatedAt)
	item.AssignedAt = fromNullNanos(assignedAt)
	item.ResolvedAt = fromNullNanos(resolvedAt)
	return &item, nil
}

func scanVote(sc scanner) (*governance.Vote, error) {
	var (
		v           governance.Vote
		role, value string
		reason      sql.NullString
		isOverride  int64
		castAt      int64
	)
	if err := sc.Scan(&v.ID, &v.ItemID, &v.VoterID, &role, &value, &v.Weight, &reason, &isOverride, &castAt); err != nil {
		return nil, err
	}
	v.Role = governance.Role(role)
	v.Value = governance.VoteValue(value)
	v.Reason = reason.String
	v.IsOverride = isOverride != 0
	v.CastAt = fromNanos(castAt)
	return &v, nil
}

func scanConflict(sc scanner) (*governance.Conflict, error) {
	var (
		c                     governance.Conflict
		ctype, voters, status string
		resolution, resolver  sql.NullString
		createdAt, updatedAt  int64
		resolvedAt            sql.NullInt64
	)
	err := sc.Scan(&c.ID, &c.ItemID, &c.OrgID, &ctype, &c.Description, &voters, &status,
		&resolution, &resolver, &createdAt, &updatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(voters), &c.AffectedVoters); err != nil {
		return nil, fmt.Errorf("decode affected voters for conflict %s: %w", c.ID, err)
	}
	c.Type = governance.ConflictType(ctype)
	c.Status = governance.ConflictStatus(status)
	c.Resolution = resolution.String
	c.ResolvedBy = resolver.String
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	c.ResolvedAt = fromNullNanos(resolvedAt)
	return &c, nil
}

func scanActivity(sc scanner) (*governance.Activity, error) {
	var (
		a       governance.Activity
		details sql.NullString
		ts      int64
	)
	err := sc.Scan(&a.ID, &a.Sequence, &a.OrgID, &a.Actor, &a.Kind, &a.Subject, &a.Summary,
		&details, &ts, &a.PrevHash, &a.Hash)
	if err != nil {
		return nil, err
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
			return nil, fmt.Errorf("decode details for activity %s: %w", a.ID, err)
		}
	}
	a.Timestamp = fromNanos(ts)
	return &a, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
