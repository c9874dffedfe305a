package guardrail

import (
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/governance"
)

// Action is the disposition a guardrail rule assigns to a proposal.
type Action string

const (
	ActionAllow         Action = "ALLOW"
	ActionCoach         Action = "COACH"
	ActionNotify        Action = "NOTIFY"
	ActionSimulate      Action = "SIMULATE"
	ActionRequireQuorum Action = "REQUIRE_QUORUM"
	ActionEscalate      Action = "ESCALATE"
	ActionBlock         Action = "BLOCK"
)

// restriction is the fixed total order over actions. Higher is more restrictive.
var restriction = map[Action]int{
	ActionAllow:         0,
	ActionCoach:         1,
	ActionNotify:        2,
	ActionSimulate:      3,
	ActionRequireQuorum: 4,
	ActionEscalate:      5,
	ActionBlock:         6,
}

// AllActions lists every action from least to most restrictive.
var AllActions = []Action{
	ActionAllow, ActionCoach, ActionNotify, ActionSimulate,
	ActionRequireQuorum, ActionEscalate, ActionBlock,
}

// ParseAction parses a case-insensitive action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := restriction[a]
	return ok
}

// Rank returns the position of a in the restriction order, or -1 if unknown.
func (a Action) Rank() int {
	if r, ok := restriction[a]; ok {
		return r
	}
	return -1
}

// MoreRestrictiveThan reports whether a is strictly more restrictive than b.
func (a Action) MoreRestrictiveThan(b Action) bool {
	return a.Rank() > b.Rank()
}

// RuleType controls how a matching rule influences the decision.
type RuleType string

const (
	// RuleTypeGuardrail rules may tighten the running decision.
	RuleTypeGuardrail RuleType = "GUARDRAIL"

	// RuleTypeCoaching rules only append coaching hints.
	RuleTypeCoaching RuleType = "COACHING"

	// RuleTypeEscalation rules escalate the proposal.
	RuleTypeEscalation RuleType = "ESCALATION"
)

// Params carries action parameters.
type Params struct {
	// QuorumSize is the approvals needed for REQUIRE_QUORUM. Zero uses the engine default.
	QuorumSize int `yaml:"quorum_size,omitempty" json:"quorum_size,omitempty"`

	// Message is the coaching text or the safe-alternative shown on BLOCK.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// Severity of a coaching hint: info, warning or critical.
	Severity string `yaml:"severity,omitempty" json:"severity,omitempty"`

	// HintType categorizes a coaching hint.
	HintType string `yaml:"hint_type,omitempty" json:"hint_type,omitempty"`

	// Reason is recorded as the escalation reason.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Rule is a named, prioritized, conditionally scoped policy entry.
type Rule struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Type       RuleType    `yaml:"type"`
	Conditions []Condition `yaml:"conditions"`
	Action     Action      `yaml:"action"`
	Params     Params      `yaml:"params"`
	Priority   int         `yaml:"priority"`

	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// IsActive reports whether the rule participates in evaluation.
func (r *Rule) IsActive() bool {
	return r.Active == nil || *r.Active
}

// Policy groups rules and is the unit of role assignment.
type Policy struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	OrgID string `yaml:"org_id"`

	// Domain and RiskLevel restrict the policy to matching proposals.
	// Empty matches everything.
	Domain    string               `yaml:"domain"`
	RiskLevel governance.RiskLevel `yaml:"risk_level"`

	// Roles the policy is assigned to. Empty applies to every role.
	Roles []governance.Role `yaml:"roles"`

	Active *bool  `yaml:"active"`
	Rules  []Rule `yaml:"rules"`
}

// IsActive reports whether the policy participates in evaluation.
func (p *Policy) IsActive() bool {
	return p.Active == nil || *p.Active
}

func (p *Policy) appliesToOrg(orgID string) bool {
	return p.OrgID == "" || p.OrgID == orgID
}

func (p *Policy) appliesToRole(role governance.Role) bool {
	if len(p.Roles) == 0 {
		return true
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p *Policy) appliesTo(domain string, risk governance.RiskLevel) bool {
	if p.Domain != "" && !strings.EqualFold(p.Domain, domain) {
		return false
	}
	if p.RiskLevel != "" && p.RiskLevel != risk {
		return false
	}
	return true
}

// EvalContext is the input to a guardrail evaluation.
type EvalContext struct {
	OperatorID string `json:"operator_id"`
	OrgID      string `json:"org_id"`

	Domain    string               `json:"domain,omitempty"`
	RiskLevel governance.RiskLevel `json:"risk_level,omitempty"`

	// OperatorScore is the 0-100 reliability score. Nil when unknown.
	OperatorScore *float64 `json:"operator_score,omitempty"`

	ProposalID string `json:"proposal_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Sandbox    bool   `json:"sandbox"`
}

// CoachingHint is advice attached to a decision by a COACHING rule.
type CoachingHint struct {
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	HintType string `json:"hint_type"`
}

// Decision is the outcome of a guardrail evaluation.
type Decision struct {
	Action Action `json:"action"`

	BlockingRuleID   string `json:"blocking_rule_id,omitempty"`
	BlockingRuleName string `json:"blocking_rule_name,omitempty"`
	BlockingMessage  string `json:"blocking_message,omitempty"`

	// EvaluatedRuleIDs lists every candidate rule consulted, in evaluation order.
	EvaluatedRuleIDs []string `json:"evaluated_rule_ids"`

	// MatchedRuleIDs lists the candidates whose conditions held.
	MatchedRuleIDs []string `json:"matched_rule_ids"`

	CoachingHints []CoachingHint `json:"coaching_hints,omitempty"`

	RequiresQuorum bool `json:"requires_quorum"`
	QuorumSize     int  `json:"quorum_size,omitempty"`
	SandboxOnly    bool `json:"sandbox_only"`

	EscalationReason string `json:"escalation_reason,omitempty"`
	RuleSetVersion   string `json:"rule_set_version,omitempty"`
}

// Blocked reports whether the decision is BLOCK.
func (d *Decision) Blocked() bool {
	return d.Action == ActionBlock
}
