// Package governance defines the domain model shared by the guardrail engine,
// the approval queue and the consensus engine: proposals, queue items and their
// lifecycle states, votes, consensus snapshots, conflicts and audit activity.
//
// It also defines the error taxonomy returned by every core operation. Each
// typed error unwraps to a sentinel so callers can branch with errors.Is:
//
//	if errors.Is(err, governance.ErrInvalidState) {
//	    // item already terminal
//	}
package governance
