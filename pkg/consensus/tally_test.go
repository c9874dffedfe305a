package consensus

import (
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

var (
	quorumLow    = QuorumRule{MinVotes: 1, MinWeight: 2}
	quorumMedium = QuorumRule{MinVotes: 2, MinWeight: 4}
	quorumHigh   = QuorumRule{MinVotes: 2, MinWeight: 6}
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func vote(voter string, role governance.Role, value governance.VoteValue, weight int) *governance.Vote {
	return &governance.Vote{VoterID: voter, Role: role, Value: value, Weight: weight, CastAt: epoch}
}

func override(voter string, value governance.VoteValue, at time.Time) *governance.Vote {
	return &governance.Vote{VoterID: voter, Role: governance.RoleOwner, Value: value, Weight: 100, IsOverride: true, CastAt: at}
}

func TestTally_Scenarios(t *testing.T) {
	const (
		approve  = governance.VoteApprove
		reject   = governance.VoteReject
		abstain  = governance.VoteAbstain
		deferred = governance.VoteDefer
		owner    = governance.RoleOwner
		manager  = governance.RoleManager
		analyst  = governance.RoleAnalyst
	)

	tests := []struct {
		name        string
		quorum      QuorumRule
		votes       []*governance.Vote
		wantReached bool
		wantOutcome governance.Outcome
		wantApprove int
		wantReject  int
		wantReason  string
	}{
		{
			name:        "low risk single manager approve",
			quorum:      quorumLow,
			votes:       []*governance.Vote{vote("m1", manager, approve, 2)},
			wantReached: true,
			wantOutcome: governance.OutcomeApproved,
			wantApprove: 2,
		},
		{
			name:   "medium risk split managers leave weight unmet",
			quorum: quorumMedium,
			votes: []*governance.Vote{
				vote("m1", manager, approve, 2),
				vote("m2", manager, reject, 2),
			},
			wantApprove: 2,
			wantReject:  2,
			wantReason:  "weight threshold not met",
		},
		{
			name:   "owner outweighs managers",
			quorum: quorumHigh,
			votes: []*governance.Vote{
				vote("o1", owner, reject, 10),
				vote("m1", manager, approve, 2),
				vote("m2", manager, approve, 2),
			},
			wantReached: true,
			wantOutcome: governance.OutcomeRejected,
			wantApprove: 4,
			wantReject:  10,
		},
		{
			name:   "tie with both thresholds met",
			quorum: quorumMedium,
			votes: []*governance.Vote{
				vote("o1", owner, approve, 10),
				vote("o2", owner, reject, 10),
			},
			wantApprove: 10,
			wantReject:  10,
			wantReason:  ReasonTied,
		},
		{
			name:   "abstain does not count toward quorum",
			quorum: quorumMedium,
			votes: []*governance.Vote{
				vote("o1", owner, approve, 10),
				vote("a1", analyst, abstain, 0),
			},
			wantApprove: 10,
			wantReason:  "quorum not met: 1 of 2",
		},
		{
			name:   "defer counts toward quorum without weight",
			quorum: quorumMedium,
			votes: []*governance.Vote{
				vote("o1", owner, approve, 10),
				vote("a1", analyst, abstain, 0),
				vote("m1", manager, deferred, 0),
			},
			wantReached: true,
			wantOutcome: governance.OutcomeApproved,
			wantApprove: 10,
		},
		{
			name:       "no votes",
			quorum:     quorumLow,
			wantReason: "quorum not met: 0 of 1",
		},
		{
			name:   "override beats heavier opposition",
			quorum: quorumHigh,
			votes: []*governance.Vote{
				vote("o1", owner, reject, 10),
				vote("o2", owner, reject, 10),
				override("o3", approve, epoch),
			},
			wantReached: true,
			wantOutcome: governance.OutcomeApproved,
			wantApprove: 100,
			wantReject:  20,
			wantReason:  ReasonOverride,
		},
		{
			name:   "latest override wins",
			quorum: quorumLow,
			votes: []*governance.Vote{
				override("o1", approve, epoch),
				override("o2", reject, epoch.Add(time.Minute)),
			},
			wantReached: true,
			wantOutcome: governance.OutcomeRejected,
			wantReject:  100,
			wantReason:  ReasonOverride,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tally("item", tt.votes, tt.quorum)
			if got.Reached != tt.wantReached {
				t.Errorf("Reached = %v, want %v (reason %q)", got.Reached, tt.wantReached, got.Reason)
			}
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", got.Outcome, tt.wantOutcome)
			}
			if got.ApproveWeight != tt.wantApprove || got.RejectWeight != tt.wantReject {
				t.Errorf("weights = %d/%d, want %d/%d", got.ApproveWeight, got.RejectWeight, tt.wantApprove, tt.wantReject)
			}
			if tt.wantReason != "" && !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestTally_MediumSplitReportsThresholds(t *testing.T) {
	got := Tally("item", []*governance.Vote{
		vote("m1", governance.RoleManager, governance.VoteApprove, 2),
		vote("m2", governance.RoleManager, governance.VoteReject, 2),
	}, quorumMedium)

	if !got.QuorumMet {
		t.Error("QuorumMet = false with 2 counted votes")
	}
	if got.WeightMet {
		t.Error("WeightMet = true with leading weight 2 of 4")
	}
	if got.RemainingVotes != 0 || got.RemainingWeight != 2 {
		t.Errorf("remaining = %d votes, %d weight, want 0 and 2", got.RemainingVotes, got.RemainingWeight)
	}
	if strings.Contains(got.Reason, "quorum not met") {
		t.Errorf("Reason = %q blames quorum, which is met", got.Reason)
	}
}

func TestDetect(t *testing.T) {
	open := &governance.QueueItem{ID: "item", State: governance.StatePending, ExpiresAt: epoch.Add(time.Hour)}
	expired := &governance.QueueItem{ID: "item", State: governance.StateAssigned, ExpiresAt: epoch.Add(-time.Minute)}

	tests := []struct {
		name  string
		item  *governance.QueueItem
		votes []*governance.Vote
		want  []governance.ConflictType
	}{
		{
			name: "deadlock across three votes",
			item: open,
			votes: []*governance.Vote{
				vote("m1", governance.RoleManager, governance.VoteApprove, 2),
				vote("m2", governance.RoleManager, governance.VoteReject, 2),
				vote("o1", governance.RoleOwner, governance.VoteAbstain, 0),
			},
			want: []governance.ConflictType{governance.ConflictConflictingVotes, governance.ConflictQuorumDeadlock},
		},
		{
			name: "two-vote tie is not a deadlock",
			item: open,
			votes: []*governance.Vote{
				vote("m1", governance.RoleManager, governance.VoteApprove, 2),
				vote("m2", governance.RoleManager, governance.VoteReject, 2),
			},
			want: []governance.ConflictType{governance.ConflictConflictingVotes},
		},
		{
			name: "owners disagree",
			item: open,
			votes: []*governance.Vote{
				vote("o1", governance.RoleOwner, governance.VoteApprove, 10),
				vote("o2", governance.RoleOwner, governance.VoteReject, 10),
				vote("m1", governance.RoleManager, governance.VoteApprove, 2),
			},
			want: []governance.ConflictType{governance.ConflictAuthorityConflict},
		},
		{
			name:  "expired review",
			item:  expired,
			votes: []*governance.Vote{vote("m1", governance.RoleManager, governance.VoteApprove, 2)},
			want:  []governance.ConflictType{governance.ConflictExpiredReview},
		},
		{
			name: "agreeing managers",
			item: open,
			votes: []*governance.Vote{
				vote("m1", governance.RoleManager, governance.VoteApprove, 2),
				vote("m2", governance.RoleManager, governance.VoteApprove, 2),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Tally(tt.item.ID, tt.votes, quorumMedium)
			got := detect(tt.item, tt.votes, result, epoch)
			if len(got) != len(tt.want) {
				t.Fatalf("detect() = %+v, want types %v", got, tt.want)
			}
			for i, f := range got {
				if f.Type != tt.want[i] {
					t.Errorf("finding[%d] = %s, want %s", i, f.Type, tt.want[i])
				}
			}
		})
	}
}

func TestTally_DeferMeetsQuorumButNotWeight(t *testing.T) {
	got := Tally("item", []*governance.Vote{
		vote("m1", governance.RoleManager, governance.VoteApprove, 2),
		vote("m2", governance.RoleManager, governance.VoteDefer, 0),
	}, quorumMedium)

	if !got.QuorumMet || got.QuorumVotes != 2 {
		t.Errorf("QuorumMet = %v, QuorumVotes = %d, want true and 2", got.QuorumMet, got.QuorumVotes)
	}
	if got.ApproveWeight != 2 || got.RejectWeight != 0 {
		t.Errorf("weights = %d/%d, want 2/0", got.ApproveWeight, got.RejectWeight)
	}
	if got.Reached {
		t.Errorf("Reached = true with leading weight 2 of 4, reason %q", got.Reason)
	}
	if !strings.Contains(got.Reason, "weight threshold not met") || strings.Contains(got.Reason, "quorum not met") {
		t.Errorf("Reason = %q, want only the weight threshold unmet", got.Reason)
	}
}
