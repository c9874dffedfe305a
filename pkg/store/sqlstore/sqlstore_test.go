package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "gatekeeper.db")
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string, now time.Time) *governance.QueueItem {
	return &governance.QueueItem{
		ID:    id,
		OrgID: "org-1",
		Proposal: governance.Proposal{
			ID:        "p-" + id,
			Domain:    "pricing",
			RiskLevel: governance.RiskMedium,
			Diff:      "- a\n+ b",
		},
		State:     governance.StatePending,
		Priority:  1,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_ItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := testItem("item-1", now)
	item.RequiresQuorum = true
	item.QuorumSize = 3
	require.NoError(t, s.CreateItem(ctx, item))

	err := s.CreateItem(ctx, item)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, item.Proposal, got.Proposal)
	assert.Equal(t, governance.StatePending, got.State)
	assert.True(t, got.RequiresQuorum)
	assert.Equal(t, 3, got.QuorumSize)
	assert.True(t, item.ExpiresAt.Equal(got.ExpiresAt))
	assert.Nil(t, got.AssignedAt)

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestStore_UpdateItemConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateItem(ctx, testItem("item-1", now)))

	item, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	item.State = governance.StateAssigned
	item.Assignee = "alice"
	at := now.Add(time.Minute)
	item.AssignedAt = &at
	require.NoError(t, s.UpdateItem(ctx, item, governance.StatePending))

	// A second writer holding the stale PENDING view loses.
	item.State = governance.StateApproved
	err = s.UpdateItem(ctx, item, governance.StatePending)
	assert.ErrorIs(t, err, store.ErrStateConflict)

	item.ID = "missing"
	err = s.UpdateItem(ctx, item, governance.StatePending)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, governance.StateAssigned, got.State)
	assert.Equal(t, "alice", got.Assignee)
	require.NotNil(t, got.AssignedAt)
	assert.True(t, at.Equal(*got.AssignedAt))
}

func TestStore_ListItemsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := testItem("a-low", now)
	high := testItem("b-high", now.Add(time.Second))
	high.Priority = 5
	other := testItem("c-other", now)
	other.OrgID = "org-2"
	for _, it := range []*governance.QueueItem{low, high, other} {
		require.NoError(t, s.CreateItem(ctx, it))
	}

	items, err := s.ListItems(ctx, store.ItemFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b-high", items[0].ID)
	assert.Equal(t, "a-low", items[1].ID)

	items, err = s.ListItems(ctx, store.ItemFilter{States: []governance.State{governance.StateApproved}})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = s.ListItems(ctx, store.ItemFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_ExpireItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := testItem("overdue", now.Add(-2*time.Hour))
	overdue.ExpiresAt = now.Add(-time.Minute)
	fresh := testItem("fresh", now)
	done := testItem("done", now.Add(-2*time.Hour))
	done.ExpiresAt = now.Add(-time.Minute)
	done.State = governance.StateApproved
	for _, it := range []*governance.QueueItem{overdue, fresh, done} {
		require.NoError(t, s.CreateItem(ctx, it))
	}

	ids, err := s.ExpireItems(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"overdue"}, ids)

	got, err := s.GetItem(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, governance.StateExpired, got.State)
	require.NotNil(t, got.ResolvedAt)

	ids, err = s.ExpireItems(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_UpsertVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateItem(ctx, testItem("item-1", now)))

	first, err := s.UpsertVote(ctx, &governance.Vote{
		ID: "vote-1", ItemID: "item-1", VoterID: "alice", Role: governance.RoleManager,
		Value: governance.VoteApprove, Weight: 2, CastAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "vote-1", first.ID)

	second, err := s.UpsertVote(ctx, &governance.Vote{
		ID: "vote-2", ItemID: "item-1", VoterID: "alice", Role: governance.RoleManager,
		Value: governance.VoteReject, Weight: 2, Reason: "changed mind", CastAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "vote-1", second.ID, "re-vote keeps the original record id")
	assert.Equal(t, governance.VoteReject, second.Value)

	votes, err := s.ListVotes(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "changed mind", votes[0].Reason)

	_, err = s.UpsertVote(ctx, &governance.Vote{ID: "vote-3", ItemID: "missing", VoterID: "bob", CastAt: now})
	assert.ErrorIs(t, err, store.ErrNotFound)

	item, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	item.State = governance.StateRejected
	require.NoError(t, s.UpdateItem(ctx, item, governance.StatePending))

	_, err = s.UpsertVote(ctx, &governance.Vote{
		ID: "vote-4", ItemID: "item-1", VoterID: "bob", Role: governance.RoleOwner,
		Value: governance.VoteApprove, Weight: 10, CastAt: now,
	})
	assert.ErrorIs(t, err, store.ErrStateConflict)
}

func TestStore_ConflictLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &governance.Conflict{
		ID: "c-1", ItemID: "item-1", OrgID: "org-1", Type: governance.ConflictConflictingVotes,
		Description: "split", AffectedVoters: []string{"alice", "bob"},
		CreatedAt: now, UpdatedAt: now,
	}
	stored, created, err := s.UpsertConflict(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, governance.ConflictOpen, stored.Status)

	dup := *c
	dup.ID = "c-2"
	dup.Description = "still split"
	dup.AffectedVoters = []string{"alice", "bob", "carol"}
	stored, created, err = s.UpsertConflict(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c-1", stored.ID)
	assert.Equal(t, []string{"alice", "bob", "carol"}, stored.AffectedVoters)

	resolved, err := s.ResolveConflict(ctx, "c-1", "owner-1", "owner decided", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, governance.ConflictResolved, resolved.Status)
	assert.Equal(t, "owner-1", resolved.ResolvedBy)

	_, err = s.ResolveConflict(ctx, "c-1", "owner-1", "again", now)
	assert.ErrorIs(t, err, store.ErrStateConflict)
	_, err = s.ResolveConflict(ctx, "missing", "owner-1", "x", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Once resolved, the same type may open again.
	_, created, err = s.UpsertConflict(ctx, &dup)
	require.NoError(t, err)
	assert.True(t, created)

	open, err := s.ListConflicts(ctx, "item-1", governance.ConflictOpen)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	all, err := s.ListConflicts(ctx, "item-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Activity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	last, err := s.LastActivity(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	for i, org := range []string{"org-1", "org-2", "org-1"} {
		require.NoError(t, s.AppendActivity(ctx, &governance.Activity{
			ID: "a-" + string(rune('0'+i)), Sequence: int64(i + 1), OrgID: org,
			Actor: "alice", Kind: governance.ActivityVoteCast, Subject: "item-1",
			Summary: "vote", Details: map[string]any{"value": "APPROVE"},
			Timestamp: now, PrevHash: "p", Hash: "h",
		}))
	}

	list, err := s.ListActivity(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].Sequence)
	assert.Equal(t, "APPROVE", list[0].Details["value"])

	last, err = s.LastActivity(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.Sequence)

	err = s.AppendActivity(ctx, &governance.Activity{
		ID: "a-dup", Sequence: 3, OrgID: "org-2", Actor: "bob",
		Kind: governance.ActivityVoteCast, Subject: "item-2", Summary: "vote",
		Timestamp: now, PrevHash: "h", Hash: "h2",
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "oracle"
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)

	var storeErr *store.Error
	assert.True(t, errors.As(err, &storeErr))
}

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectSQLite, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{DialectPostgres, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := tt.dialect.rebind(tt.in); got != tt.want {
			t.Errorf("%s rebind(%q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestPostgres_GetItemUsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, DialectPostgres, nil)
	now := time.Now().UTC()

	cols := []string{"id", "org_id", "proposal_id", "proposal", "domain", "risk_level", "state", "priority",
		"assignee", "resolver", "resolution_notes", "escalation_target", "escalation_reason",
		"guardrail_action", "requires_quorum", "quorum_size", "sandbox_only",
		"expires_at", "created_at", "updated_at", "assigned_at", "resolved_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"item-1", "org-1", "p-1", `{"id":"p-1","domain":"pricing","risk_level":"HIGH"}`, "pricing", "HIGH", "PENDING", 2,
		nil, nil, nil, nil, nil,
		"REQUIRE_QUORUM", 1, 3, 0,
		now.Add(time.Hour).UnixNano(), now.UnixNano(), now.UnixNano(), nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM queue_items WHERE id = $1")).
		WithArgs("item-1").
		WillReturnRows(rows)

	item, err := s.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, governance.RiskHigh, item.Proposal.RiskLevel)
	assert.True(t, item.RequiresQuorum)
	assert.Equal(t, "REQUIRE_QUORUM", item.GuardrailAction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertVoteLocksItemRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, DialectPostgres, nil)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM queue_items WHERE id = $1 FOR UPDATE")).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("APPROVED"))
	mock.ExpectRollback()

	_, err = s.UpsertVote(context.Background(), &governance.Vote{
		ID: "v-1", ItemID: "item-1", VoterID: "alice", Value: governance.VoteApprove, CastAt: now,
	})
	assert.ErrorIs(t, err, store.ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ResolveConflictNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, DialectPostgres, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE conflicts SET status = 'RESOLVED'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM conflicts WHERE id = $1")).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = s.ResolveConflict(context.Background(), "c-1", "owner", "done", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
