package governance

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel classifies how dangerous a proposed action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel parses a case-insensitive risk level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("unknown risk level %q", s)
	}
}

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Role is an approver's authority inside an organization.
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleManager Role = "MANAGER"
	RoleAnalyst Role = "ANALYST"
)

// ParseRole parses a case-insensitive role name.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleManager:
		return RoleManager, nil
	case RoleAnalyst:
		return RoleAnalyst, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Authority ranks roles for escalation target selection. Higher wins.
func (r Role) Authority() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleManager:
		return 2
	case RoleAnalyst:
		return 1
	default:
		return 0
	}
}

// State is the lifecycle state of a queue item.
type State string

const (
	StatePending   State = "PENDING"
	StateAssigned  State = "ASSIGNED"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateEscalated State = "ESCALATED"
	StateExpired   State = "EXPIRED"
)

// AllStates lists every queue state in lifecycle order.
var AllStates = []State{StatePending, StateAssigned, StateEscalated, StateApproved, StateRejected, StateExpired}

// Terminal reports whether no further mutation is permitted in this state.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}

// OpenStates are the states an expiry sweep may transition.
var OpenStates = []State{StatePending, StateAssigned, StateEscalated}

// VoteValue is an approver's decision.
type VoteValue string

const (
	VoteApprove VoteValue = "APPROVE"
	VoteReject  VoteValue = "REJECT"
	VoteAbstain VoteValue = "ABSTAIN"
	VoteDefer   VoteValue = "DEFER"
)

// ParseVoteValue parses a case-insensitive vote value.
func ParseVoteValue(s string) (VoteValue, error) {
	switch VoteValue(strings.ToUpper(strings.TrimSpace(s))) {
	case VoteApprove:
		return VoteApprove, nil
	case VoteReject:
		return VoteReject, nil
	case VoteAbstain:
		return VoteAbstain, nil
	case VoteDefer:
		return VoteDefer, nil
	default:
		return "", fmt.Errorf("unknown vote value %q", s)
	}
}

// Binding reports whether the vote carries weight toward an outcome.
// ABSTAIN and DEFER are recorded but carry no weight.
func (v VoteValue) Binding() bool {
	return v == VoteApprove || v == VoteReject
}

// CountsTowardQuorum reports whether the vote is counted against the
// minimum vote count. Every value except ABSTAIN is.
func (v VoteValue) CountsTowardQuorum() bool {
	return v != "" && v != VoteAbstain
}

// Proposal is an opaque reference to an action awaiting review.
// It is immutable once queued.
type Proposal struct {
	ID        string    `json:"id" yaml:"id"`
	Domain    string    `json:"domain" yaml:"domain"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
	Diff      string    `json:"diff,omitempty" yaml:"diff"`
	Rationale string    `json:"rationale,omitempty" yaml:"rationale"`
	Proposer  string    `json:"proposer,omitempty" yaml:"proposer"`
}

// QueueItem is the reviewable unit wrapping a Proposal with state and deadline.
type QueueItem struct {
	ID       string   `json:"id"`
	OrgID    string   `json:"org_id"`
	Proposal Proposal `json:"proposal"`
	State    State    `json:"state"`

	// Priority orders the queue; higher is more urgent.
	Priority int `json:"priority"`

	Assignee         string `json:"assignee,omitempty"`
	Resolver         string `json:"resolver,omitempty"`
	ResolutionNotes  string `json:"resolution_notes,omitempty"`
	EscalationTarget string `json:"escalation_target,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`

	// Guardrail verdict captured at enqueue time.
	GuardrailAction string `json:"guardrail_action,omitempty"`
	RequiresQuorum  bool   `json:"requires_quorum"`
	QuorumSize      int    `json:"quorum_size,omitempty"`
	SandboxOnly     bool   `json:"sandbox_only"`

	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the item.
func (i *QueueItem) Clone() *QueueItem {
	if i == nil {
		return nil
	}
	c := *i
	if i.AssignedAt != nil {
		t := *i.AssignedAt
		c.AssignedAt = &t
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Expired reports whether the deadline has passed at now.
func (i *QueueItem) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Vote is one approver's decision on one queue item.
// At most one vote exists per (item, voter); a re-vote replaces it.
type Vote struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	VoterID    string    `json:"voter_id"`
	Role       Role      `json:"role"`
	Value      VoteValue `json:"value"`
	Weight     int       `json:"weight"`
	Reason     string    `json:"reason,omitempty"`
	IsOverride bool      `json:"is_override"`
	CastAt     time.Time `json:"cast_at"`
}

// Outcome is the side a consensus resolved to.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// State returns the queue state an outcome resolves to.
func (o Outcome) State() State {
	switch o {
	case OutcomeApproved:
		return StateApproved
	case OutcomeRejected:
		return StateRejected
	default:
		return ""
	}
}

// ConsensusResult is a snapshot computed from the full vote set.
type ConsensusResult struct {
	ItemID        string  `json:"item_id"`
	Reached       bool    `json:"reached"`
	Outcome       Outcome `json:"outcome,omitempty"`
	ApproveWeight int     `json:"approve_weight"`
	RejectWeight  int     `json:"reject_weight"`
	TotalVotes    int     `json:"total_votes"`
	QuorumVotes   int     `json:"quorum_votes"`
	QuorumMet     bool    `json:"quorum_met"`
	WeightMet     bool    `json:"weight_met"`
	OverrideUsed  bool    `json:"override_used"`
	Reason        string  `json:"reason"`

	// RemainingVotes and RemainingWeight describe what is still missing.
	RemainingVotes  int `json:"remaining_votes"`
	RemainingWeight int `json:"remaining_weight"`
}

// ConflictType classifies a voting anomaly.
type ConflictType string

const (
	ConflictConflictingVotes  ConflictType = "CONFLICTING_VOTES"
	ConflictExpiredReview     ConflictType = "EXPIRED_REVIEW"
	ConflictDomainDispute     ConflictType = "DOMAIN_DISPUTE"
	ConflictQuorumDeadlock    ConflictType = "QUORUM_DEADLOCK"
	ConflictAuthorityConflict ConflictType = "AUTHORITY_CONFLICT"
)

// ParseConflictType parses a conflict type name.
func ParseConflictType(s string) (ConflictType, error) {
	switch ConflictType(strings.ToUpper(strings.TrimSpace(s))) {
	case ConflictConflictingVotes:
		return ConflictConflictingVotes, nil
	case ConflictExpiredReview:
		return ConflictExpiredReview, nil
	case ConflictDomainDispute:
		return ConflictDomainDispute, nil
	case ConflictQuorumDeadlock:
		return ConflictQuorumDeadlock, nil
	case ConflictAuthorityConflict:
		return ConflictAuthorityConflict, nil
	default:
		return "", fmt.Errorf("unknown conflict type %q", s)
	}
}

// ConflictStatus is OPEN until explicitly resolved.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// Conflict is a detected anomaly in the voting process.
// At most one OPEN conflict exists per (item, type).
type Conflict struct {
	ID             string         `json:"id"`
	ItemID         string         `json:"item_id"`
	OrgID          string         `json:"org_id"`
	Type           ConflictType   `json:"type"`
	Description    string         `json:"description"`
	AffectedVoters []string       `json:"affected_voters"`
	Status         ConflictStatus `json:"status"`
	Resolution     string         `json:"resolution,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the conflict.
func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	out := *c
	out.AffectedVoters = append([]string(nil), c.AffectedVoters...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// Activity is one append-only audit log entry.
type Activity struct {
	ID        string         `json:"id"`
	Sequence  int64          `json:"sequence"`
	OrgID     string         `json:"org_id"`
	Actor     string         `json:"actor"`
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Activity kinds written by the core.
const (
	ActivityGuardrailEvaluated = "guardrail.evaluated"
	ActivityItemEnqueued       = "queue.enqueued"
	ActivityItemBlocked        = "queue.blocked"
	ActivityItemAssigned       = "queue.assigned"
	ActivityItemResolved       = "queue.resolved"
	ActivityItemEscalated      = "queue.escalated"
	ActivityItemExpired        = "queue.expired"
	ActivityVoteCast           = "vote.cast"
	ActivityConsensusReached   = "consensus.reached"
	ActivityConflictOpened     = "conflict.opened"
	ActivityConflictResolved   = "conflict.resolved"
)
