package audit

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/gatekeeper/pkg/store"
)

// ErrChainBroken indicates the activity log was altered or has gaps.
var ErrChainBroken = errors.New("activity chain broken")

// ChainError locates the first entry that fails verification.
type ChainError struct {
	Sequence int64
	ID       string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("activity chain broken at sequence %d (%s): %s", e.Sequence, e.ID, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// VerifyResult summarizes a successful verification.
type VerifyResult struct {
	Entries  int    `json:"entries"`
	HeadSeq  int64  `json:"head_sequence"`
	HeadHash string `json:"head_hash"`
}

// Verify walks the whole activity log in sequence order and recomputes
// every hash. It returns a ChainError at the first gap, broken link, or
// mismatched hash.
func Verify(ctx context.Context, st store.Store) (*VerifyResult, error) {
	entries, err := st.ListActivity(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	res := &VerifyResult{}
	prev := GenesisHash
	var seq int64
	for _, a := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.Sequence != seq+1 {
			return nil, &ChainError{Sequence: a.Sequence, ID: a.ID, Reason: fmt.Sprintf("expected sequence %d", seq+1)}
		}
		if a.PrevHash != prev {
			return nil, &ChainError{Sequence: a.Sequence, ID: a.ID, Reason: "previous hash does not match"}
		}
		want, err := Hash(a)
		if err != nil {
			return nil, err
		}
		if a.Hash != want {
			return nil, &ChainError{Sequence: a.Sequence, ID: a.ID, Reason: "content hash does not match"}
		}
		seq = a.Sequence
		prev = a.Hash
		res.Entries++
	}
	res.HeadSeq = seq
	res.HeadHash = prev
	return res, nil
}
