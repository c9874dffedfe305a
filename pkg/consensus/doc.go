// Package consensus implements weighted multi-voter agreement on a single
// queue item.
//
// Each role carries a fixed weight (OWNER 10, MANAGER 2, ANALYST 0 by
// default) and an OWNER override vote carries 100 and decides the outcome
// outright. Analysts may only abstain. Each risk level has a quorum rule
// giving the minimum binding vote count and the minimum winning weight.
// Consensus is recomputed from the full vote set on every read; nothing is
// tallied incrementally.
//
// After every vote the engine looks for conflicts: managers split between
// approve and reject, owners who disagree, an expired but still open review,
// and a tie across three or more votes. Each condition opens at most one
// OPEN conflict per type, and conflicts stay open until ResolveConflict is
// called.
package consensus
