package consensus

import (
	"fmt"
	"sort"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

// deadlockMinVotes is the vote count at which a tie is treated as a
// deadlock rather than an incomplete vote.
const deadlockMinVotes = 3

// finding is a detected conflict condition before it is stored.
type finding struct {
	Type        governance.ConflictType
	Description string
	Voters      []string
}

// detect evaluates every conflict condition independently against a vote
// snapshot and its tally.
func detect(item *governance.QueueItem, votes []*governance.Vote, result *governance.ConsensusResult, now time.Time) []finding {
	var out []finding

	if f, ok := splitVotes(votes, governance.RoleManager); ok {
		f.Type = governance.ConflictConflictingVotes
		f.Description = fmt.Sprintf("%d managers split between approve and reject", len(f.Voters))
		out = append(out, f)
	}

	if f, ok := splitVotes(votes, governance.RoleOwner); ok {
		f.Type = governance.ConflictAuthorityConflict
		f.Description = fmt.Sprintf("%d owners disagree", len(f.Voters))
		out = append(out, f)
	}

	if !item.State.Terminal() && item.Expired(now) {
		out = append(out, finding{
			Type:        governance.ConflictExpiredReview,
			Description: fmt.Sprintf("review deadline %s passed while item is %s", item.ExpiresAt.UTC().Format(time.RFC3339), item.State),
			Voters:      voterIDs(votes),
		})
	}

	if len(votes) >= deadlockMinVotes && !result.Reached && result.ApproveWeight == result.RejectWeight {
		out = append(out, finding{
			Type:        governance.ConflictQuorumDeadlock,
			Description: fmt.Sprintf("%d votes tied at weight %d", len(votes), result.ApproveWeight),
			Voters:      voterIDs(votes),
		})
	}

	return out
}

// splitVotes reports whether at least two binding votes from role include
// both an approve and a reject.
func splitVotes(votes []*governance.Vote, role governance.Role) (finding, bool) {
	var approve, reject bool
	var voters []string
	for _, v := range votes {
		if v.Role != role || !v.Value.Binding() {
			continue
		}
		voters = append(voters, v.VoterID)
		if v.Value == governance.VoteApprove {
			approve = true
		} else {
			reject = true
		}
	}
	if len(voters) < 2 || !approve || !reject {
		return finding{}, false
	}
	sort.Strings(voters)
	return finding{Voters: voters}, true
}

func voterIDs(votes []*governance.Vote) []string {
	ids := make([]string, 0, len(votes))
	for _, v := range votes {
		ids = append(ids, v.VoterID)
	}
	sort.Strings(ids)
	return ids
}
