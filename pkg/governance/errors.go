package governance

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. Every typed error below unwraps to one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRoleNotEligible    = errors.New("role not eligible")
	ErrNoEscalationTarget = errors.New("no escalation target")
	ErrQuorumConfig       = errors.New("invalid quorum configuration")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// NotFoundError indicates an unknown queue item or conflict id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError indicates a transition attempted from a terminal or incompatible state.
type InvalidStateError struct {
	ItemID string
	State  State
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s item %q in state %s", e.Op, e.ItemID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// PermissionDeniedError indicates a failed role, domain or risk check.
type PermissionDeniedError struct {
	OperatorID string
	Reason     string
}

func (e *PermissionDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("operator %q: permission denied", e.OperatorID)
	}
	return fmt.Sprintf("operator %q: permission denied: %s", e.OperatorID, e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// RoleNotEligibleError indicates a role attempting a vote it may not cast.
type RoleNotEligibleError struct {
	VoterID string
	Role    Role
	Value   VoteValue
}

func (e *RoleNotEligibleError) Error() string {
	return fmt.Sprintf("voter %q with role %s may not cast %s", e.VoterID, e.Role, e.Value)
}

func (e *RoleNotEligibleError) Unwrap() error { return ErrRoleNotEligible }

// NoEscalationTargetError indicates no eligible operator exists for escalation.
type NoEscalationTargetError struct {
	OrgID string
}

func (e *NoEscalationTargetError) Error() string {
	return fmt.Sprintf("no eligible escalation target in organization %q", e.OrgID)
}

func (e *NoEscalationTargetError) Unwrap() error { return ErrNoEscalationTarget }

// QuorumConfigError indicates an unknown risk level or malformed quorum rule.
type QuorumConfigError struct {
	RiskLevel RiskLevel
	Message   string
}

func (e *QuorumConfigError) Error() string {
	if e.RiskLevel == "" {
		return fmt.Sprintf("quorum config: %s", e.Message)
	}
	return fmt.Sprintf("quorum config for risk level %q: %s", e.RiskLevel, e.Message)
}

func (e *QuorumConfigError) Unwrap() error { return ErrQuorumConfig }

// InvalidArgumentError indicates malformed caller input.
type InvalidArgumentError struct {
	Field   string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }
