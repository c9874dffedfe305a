package consensus

import (
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/governance"
)

// Consensus reasons.
const (
	ReasonOverride = "Owner override used"
	ReasonTied     = "Tied votes: needs tie-breaker"
)

// Tally computes the consensus for a vote snapshot. It is a pure function
// of the votes and the thresholds.
//
// Every non-abstain vote counts toward the minimum vote count, DEFER
// included. Binding (APPROVE or REJECT) non-override votes add their weight
// to their side. If an override vote exists, the latest one replaces its
// side's weight and decides the outcome. Otherwise a side wins only when the
// counted votes and the winning weight both meet the quorum and it strictly
// exceeds the other side.
func Tally(itemID string, votes []*governance.Vote, q QuorumRule) *governance.ConsensusResult {
	r := &governance.ConsensusResult{ItemID: itemID, TotalVotes: len(votes)}

	var override *governance.Vote
	binding := 0
	for _, v := range votes {
		if v.Value.CountsTowardQuorum() {
			r.QuorumVotes++
		}
		if !v.Value.Binding() {
			continue
		}
		binding++
		if v.IsOverride {
			if override == nil || v.CastAt.After(override.CastAt) {
				override = v
			}
			continue
		}
		if v.Value == governance.VoteApprove {
			r.ApproveWeight += v.Weight
		} else {
			r.RejectWeight += v.Weight
		}
	}

	if override != nil {
		r.OverrideUsed = true
		if override.Value == governance.VoteApprove {
			r.ApproveWeight = override.Weight
		} else {
			r.RejectWeight = override.Weight
		}
	}

	leading := max(r.ApproveWeight, r.RejectWeight)
	r.QuorumMet = r.QuorumVotes >= q.MinVotes
	r.WeightMet = leading >= q.MinWeight
	r.RemainingVotes = max(0, q.MinVotes-r.QuorumVotes)
	r.RemainingWeight = max(0, q.MinWeight-leading)

	switch {
	case override != nil:
		r.Reached = true
		r.Outcome = outcomeOf(override.Value)
		r.Reason = ReasonOverride
	case r.QuorumMet && r.WeightMet && r.ApproveWeight != r.RejectWeight:
		r.Reached = true
		if r.ApproveWeight > r.RejectWeight {
			r.Outcome = governance.OutcomeApproved
		} else {
			r.Outcome = governance.OutcomeRejected
		}
		r.Reason = fmt.Sprintf("%s by weight %d to %d", r.Outcome, leading, min(r.ApproveWeight, r.RejectWeight))
	case r.QuorumMet && r.WeightMet:
		r.Reason = ReasonTied
	default:
		r.Reason = unmet(r, q, binding)
	}
	return r
}

func unmet(r *governance.ConsensusResult, q QuorumRule, binding int) string {
	var parts []string
	if !r.QuorumMet {
		parts = append(parts, fmt.Sprintf("quorum not met: %d of %d votes", r.QuorumVotes, q.MinVotes))
	}
	if !r.WeightMet {
		parts = append(parts, fmt.Sprintf("weight threshold not met: %d of %d", max(r.ApproveWeight, r.RejectWeight), q.MinWeight))
	}
	if r.ApproveWeight == r.RejectWeight && binding > 0 {
		parts = append(parts, fmt.Sprintf("votes tied at %d", r.ApproveWeight))
	}
	return strings.Join(parts, "; ")
}

func outcomeOf(v governance.VoteValue) governance.Outcome {
	if v == governance.VoteApprove {
		return governance.OutcomeApproved
	}
	return governance.OutcomeRejected
}
