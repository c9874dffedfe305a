package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/store"
	"mercator-hq/gatekeeper/pkg/store/sqlstore"
)

func activity(i int) *governance.Activity {
	return &governance.Activity{
		ID:        fmt.Sprintf("a-%d", i),
		OrgID:     "acme",
		Actor:     "alice",
		Kind:      governance.ActivityVoteCast,
		Subject:   "item-1",
		Summary:   fmt.Sprintf("vote %d", i),
		Details:   map[string]any{"weight": i, "override": false, "voters": []string{"alice", "bob"}},
		Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestRecorder_ChainsEntries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	r, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, r.Record(ctx, activity(i)))
	}
	require.NoError(t, r.Close())

	entries, err := st.ListActivity(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	prev := GenesisHash
	for i, a := range entries {
		assert.Equal(t, int64(i+1), a.Sequence)
		assert.Equal(t, prev, a.PrevHash)
		assert.Len(t, a.Hash, 64)
		prev = a.Hash
	}

	res, err := Verify(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Entries)
	assert.Equal(t, int64(5), res.HeadSeq)
	assert.Equal(t, prev, res.HeadHash)
}

func TestRecorder_ContinuesExistingChain(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	first, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, activity(1)))
	require.NoError(t, first.Close())

	second, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	require.NoError(t, second.Record(ctx, activity(2)))
	require.NoError(t, second.Close())

	res, err := Verify(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
}

func TestRecorder_Disabled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	r, err := NewRecorder(ctx, st, &Config{Enabled: false}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, activity(1)))
	require.NoError(t, r.Close())

	entries, err := st.ListActivity(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	ctx := context.Background()
	r, err := NewRecorder(ctx, store.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Record(ctx, activity(1)), ErrClosed)
}

func TestRecorder_DoesNotMutateCaller(t *testing.T) {
	ctx := context.Background()
	r, err := NewRecorder(ctx, store.NewMemoryStore(), nil, nil)
	require.NoError(t, err)

	a := activity(1)
	require.NoError(t, r.Record(ctx, a))
	require.NoError(t, r.Close())

	assert.Zero(t, a.Sequence)
	assert.Empty(t, a.Hash)
}

// failingStore rejects the first n appends.
type failingStore struct {
	*store.MemoryStore

	mu   sync.Mutex
	fail int
}

func (s *failingStore) AppendActivity(ctx context.Context, a *governance.Activity) error {
	s.mu.Lock()
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.MemoryStore.AppendActivity(ctx, a)
}

func TestRecorder_FailedWriteKeepsChainIntact(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), fail: 1}

	r, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, r.Record(ctx, activity(i)))
	}
	require.NoError(t, r.Close())

	res, err := Verify(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(entries []*governance.Activity) []*governance.Activity
		reason string
	}{
		{
			name: "edited summary",
			tamper: func(e []*governance.Activity) []*governance.Activity {
				e[1].Summary = "vote rewritten"
				return e
			},
			reason: "content hash",
		},
		{
			name: "removed entry",
			tamper: func(e []*governance.Activity) []*governance.Activity {
				return append(e[:1], e[2:]...)
			},
			reason: "expected sequence 2",
		},
		{
			name: "rehashed entry breaks the next link",
			tamper: func(e []*governance.Activity) []*governance.Activity {
				e[1].Details["weight"] = 100
				e[1].Hash, _ = Hash(e[1])
				return e
			},
			reason: "previous hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			src := store.NewMemoryStore()
			r, err := NewRecorder(ctx, src, nil, nil)
			require.NoError(t, err)
			for i := range 3 {
				require.NoError(t, r.Record(ctx, activity(i)))
			}
			require.NoError(t, r.Close())

			entries, err := src.ListActivity(ctx, "", 0)
			require.NoError(t, err)

			dst := store.NewMemoryStore()
			for _, a := range tt.tamper(entries) {
				require.NoError(t, dst.AppendActivity(ctx, a))
			}

			_, err = Verify(ctx, dst)
			require.ErrorIs(t, err, ErrChainBroken)
			var chainErr *ChainError
			require.ErrorAs(t, err, &chainErr)
			assert.Contains(t, chainErr.Reason, tt.reason)
		})
	}
}

func TestHash_NumberRepresentation(t *testing.T) {
	a := activity(1)
	a.Details = map[string]any{"weight": 2}
	b := activity(1)
	b.Details = map[string]any{"weight": float64(2)}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestVerify_SQLRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "audit.db")
	st, err := sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	for i := range 4 {
		require.NoError(t, r.Record(ctx, activity(i)))
	}
	require.NoError(t, r.Close())

	res, err := Verify(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Entries)
}

func TestRecorder_RechainsAfterAnotherWriter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	mine, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)

	other, err := NewRecorder(ctx, st, nil, nil)
	require.NoError(t, err)
	require.NoError(t, other.Record(ctx, activity(1)))
	require.NoError(t, other.Close())

	require.NoError(t, mine.Record(ctx, activity(2)))
	require.NoError(t, mine.Record(ctx, activity(3)))
	require.NoError(t, mine.Close())

	res, err := Verify(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, int64(3), res.HeadSeq)
}

func TestRecorder_SharedSQLStore(t *testing.T) {
	ctx := context.Background()
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "shared.db")

	open := func() *sqlstore.Store {
		st, err := sqlstore.Open(ctx, cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}
	first, second := open(), open()

	r1, err := NewRecorder(ctx, first, nil, nil)
	require.NoError(t, err)
	r2, err := NewRecorder(ctx, second, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r1.Record(ctx, activity(1)))
	require.NoError(t, r1.Close())
	require.NoError(t, r2.Record(ctx, activity(2)))
	require.NoError(t, r2.Close())

	res, err := Verify(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
}
