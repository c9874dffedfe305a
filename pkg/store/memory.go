package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

// MemoryStore is an in-memory Store. A single mutex serializes all writes,
// which gives the same per-item linearizability as the SQL backends.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*governance.QueueItem
	votes     map[string]map[string]*governance.Vote // item -> voter -> vote
	conflicts map[string]*governance.Conflict
	activity  []*governance.Activity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*governance.QueueItem),
		votes:     make(map[string]map[string]*governance.Vote),
		conflicts: make(map[string]*governance.Conflict),
	}
}

// CreateItem inserts a new queue item.
func (m *MemoryStore) CreateItem(ctx context.Context, item *governance.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; ok {
		return ErrDuplicate
	}
	m.items[item.ID] = item.Clone()
	return nil
}

// GetItem returns a copy of the item.
func (m *MemoryStore) GetItem(ctx context.Context, id string) (*governance.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// UpdateItem replaces the item if its state still equals from.
func (m *MemoryStore) UpdateItem(ctx context.Context, item *governance.QueueItem, from governance.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if current.State != from {
		return ErrStateConflict
	}
	m.items[item.ID] = item.Clone()
	return nil
}

// ListItems returns matching items ordered by priority desc, then creation time.
func (m *MemoryStore) ListItems(ctx context.Context, filter ItemFilter) ([]*governance.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*governance.QueueItem
	for _, item := range m.items {
		if filter.matches(item) {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ExpireItems transitions overdue non-terminal items to EXPIRED.
func (m *MemoryStore) ExpireItems(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, item := range m.items {
		if item.State.Terminal() || item.ExpiresAt.IsZero() || !item.ExpiresAt.Before(now) {
			continue
		}
		item.State = governance.StateExpired
		item.UpdatedAt = now
		at := now
		item.ResolvedAt = &at
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired, nil
}

// UpsertVote inserts or replaces the vote keyed by (item, voter).
func (m *MemoryStore) UpsertVote(ctx context.Context, vote *governance.Vote) (*governance.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[vote.ItemID]
	if !ok {
		return nil, ErrNotFound
	}
	if item.State.Terminal() {
		return nil, ErrStateConflict
	}

	byVoter, ok := m.votes[vote.ItemID]
	if !ok {
		byVoter = make(map[string]*governance.Vote)
		m.votes[vote.ItemID] = byVoter
	}

	stored := *vote
	if prior, ok := byVoter[vote.VoterID]; ok {
		// Re-votes keep the original record id.
		stored.ID = prior.ID
	}
	byVoter[vote.VoterID] = &stored

	out := stored
	return &out, nil
}

// ListVotes returns all votes on an item ordered by cast time.
func (m *MemoryStore) ListVotes(ctx context.Context, itemID string) ([]*governance.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*governance.Vote
	for _, v := range m.votes[itemID] {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].VoterID < out[j].VoterID
	})
	return out, nil
}

// UpsertConflict opens a conflict or refreshes the open one of the same type.
func (m *MemoryStore) UpsertConflict(ctx context.Context, c *governance.Conflict) (*governance.Conflict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.conflicts {
		if existing.ItemID == c.ItemID && existing.Type == c.Type && existing.Status == governance.ConflictOpen {
			existing.Description = c.Description
			existing.AffectedVoters = append([]string(nil), c.AffectedVoters...)
			existing.UpdatedAt = c.UpdatedAt
			return existing.Clone(), false, nil
		}
	}

	stored := c.Clone()
	stored.Status = governance.ConflictOpen
	m.conflicts[stored.ID] = stored
	return stored.Clone(), true, nil
}

// GetConflict returns a copy of the conflict.
func (m *MemoryStore) GetConflict(ctx context.Context, id string) (*governance.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// ResolveConflict marks an open conflict resolved.
func (m *MemoryStore) ResolveConflict(ctx context.Context, id, resolver, resolution string, at time.Time) (*governance.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != governance.ConflictOpen {
		return nil, ErrStateConflict
	}
	c.Status = governance.ConflictResolved
	c.ResolvedBy = resolver
	c.Resolution = resolution
	c.UpdatedAt = at
	resolvedAt := at
	c.ResolvedAt = &resolvedAt
	return c.Clone(), nil
}

// ListConflicts returns conflicts for an item ordered by creation time.
func (m *MemoryStore) ListConflicts(ctx context.Context, itemID string, status governance.ConflictStatus) ([]*governance.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*governance.Conflict
	for _, c := range m.conflicts {
		if itemID != "" && c.ItemID != itemID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendActivity appends an audit entry.
func (m *MemoryStore) AppendActivity(ctx context.Context, a *governance.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.activity {
		if existing.Sequence == a.Sequence {
			return ErrDuplicate
		}
	}
	c := *a
	m.activity = append(m.activity, &c)
	return nil
}

// ListActivity returns activity ordered by sequence.
func (m *MemoryStore) ListActivity(ctx context.Context, orgID string, limit int) ([]*governance.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*governance.Activity
	for _, a := range m.activity {
		if orgID != "" && a.OrgID != orgID {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastActivity returns the entry with the highest sequence.
func (m *MemoryStore) LastActivity(ctx context.Context) (*governance.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *governance.Activity
	for _, a := range m.activity {
		if last == nil || a.Sequence > last.Sequence {
			last = a
		}
	}
	if last == nil {
		return nil, nil
	}
	c := *last
	return &c, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
