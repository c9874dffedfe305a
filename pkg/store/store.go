package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStateConflict indicates a conditional write lost: the record was no
	// longer in the expected state when the write was applied.
	ErrStateConflict = errors.New("state precondition failed")

	// ErrDuplicate indicates a record with the same id already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// Error wraps a backend failure with the operation that caused it.
type Error struct {
	Backend string
	Op      string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store error [backend=%s, op=%s]: %v", e.Backend, e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new Error.
func NewError(backend, op string, cause error) *Error {
	return &Error{Backend: backend, Op: op, Cause: cause}
}

// Store is the backing store and sole serialization point for queue items,
// votes, conflicts and activity. Every method is atomic on its own; state
// transitions are linearized through conditional writes.
type Store interface {
	// CreateItem inserts a new queue item. Returns ErrDuplicate if the id exists.
	CreateItem(ctx context.Context, item *governance.QueueItem) error

	// GetItem returns the item or ErrNotFound.
	GetItem(ctx context.Context, id string) (*governance.QueueItem, error)

	// UpdateItem replaces the item only if its stored state still equals from.
	// Returns ErrStateConflict when the precondition fails and ErrNotFound when
	// the item does not exist.
	UpdateItem(ctx context.Context, item *governance.QueueItem, from governance.State) error

	// ListItems returns items matching the filter ordered by priority desc, created_at asc.
	ListItems(ctx context.Context, filter ItemFilter) ([]*governance.QueueItem, error)

	// ExpireItems transitions every non-terminal item whose deadline is before
	// now to EXPIRED and returns the ids it transitioned.
	ExpireItems(ctx context.Context, now time.Time) ([]string, error)

	// UpsertVote inserts or replaces the vote keyed by (item, voter). The write
	// only applies while the item is non-terminal; otherwise ErrStateConflict.
	UpsertVote(ctx context.Context, vote *governance.Vote) (*governance.Vote, error)

	// ListVotes returns a consistent snapshot of all votes on an item.
	ListVotes(ctx context.Context, itemID string) ([]*governance.Vote, error)

	// UpsertConflict opens a conflict or refreshes the existing OPEN conflict of
	// the same (item, type). created reports whether a new record was inserted.
	UpsertConflict(ctx context.Context, c *governance.Conflict) (stored *governance.Conflict, created bool, err error)

	// GetConflict returns the conflict or ErrNotFound.
	GetConflict(ctx context.Context, id string) (*governance.Conflict, error)

	// ResolveConflict marks an OPEN conflict resolved. Returns ErrStateConflict
	// if it is no longer open.
	ResolveConflict(ctx context.Context, id, resolver, resolution string, at time.Time) (*governance.Conflict, error)

	// ListConflicts returns conflicts for an item; an empty status matches all.
	ListConflicts(ctx context.Context, itemID string, status governance.ConflictStatus) ([]*governance.Conflict, error)

	// AppendActivity appends an audit entry. Returns ErrDuplicate if the
	// sequence is already taken.
	AppendActivity(ctx context.Context, a *governance.Activity) error

	// ListActivity returns activity ordered by sequence. An empty orgID matches all.
	ListActivity(ctx context.Context, orgID string, limit int) ([]*governance.Activity, error)

	// LastActivity returns the entry with the highest sequence, or nil.
	LastActivity(ctx context.Context) (*governance.Activity, error)

	// Close releases resources held by the store.
	Close() error
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	OrgID    string
	States   []governance.State
	Assignee string
	Limit    int
}

func (f ItemFilter) matches(item *governance.QueueItem) bool {
	if f.OrgID != "" && item.OrgID != f.OrgID {
		return false
	}
	if f.Assignee != "" && item.Assignee != f.Assignee {
		return false
	}
	if len(f.States) > 0 {
		for _, s := range f.States {
			if item.State == s {
				return true
			}
		}
		return false
	}
	return true
}
