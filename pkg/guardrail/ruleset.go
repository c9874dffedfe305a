package guardrail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/governance"
)

// RuleSet is an immutable, validated collection of policies.
type RuleSet struct {
	// Version identifies the rule-set revision (schema version or commit SHA).
	Version  string    `yaml:"version"`
	Policies []*Policy `yaml:"policies"`
}

// Candidate is a rule together with the policy that scopes it.
type Candidate struct {
	Policy *Policy
	Rule   *Rule
}

// Compile normalizes and validates the rule set. All problems are collected
// and returned joined; each is a *RuleError.
func (rs *RuleSet) Compile() error {
	var errs []error
	policyIDs := make(map[string]struct{})
	ruleIDs := make(map[string]string)

	for i, p := range rs.Policies {
		if p == nil {
			errs = append(errs, &RuleError{Message: "policy entry is empty"})
			continue
		}
		if p.ID == "" {
			errs = append(errs, &RuleError{PolicyID: "#" + strconv.Itoa(i), Field: "id", Message: "is required"})
			continue
		}
		if _, dup := policyIDs[p.ID]; dup {
			errs = append(errs, &RuleError{PolicyID: p.ID, Field: "id", Message: "duplicate policy id"})
		}
		policyIDs[p.ID] = struct{}{}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.RiskLevel != "" {
			level, err := governance.ParseRiskLevel(string(p.RiskLevel))
			if err != nil {
				errs = append(errs, &RuleError{PolicyID: p.ID, Field: "risk_level", Message: err.Error()})
			}
			p.RiskLevel = level
		}
		for j, r := range p.Roles {
			role, err := governance.ParseRole(string(r))
			if err != nil {
				errs = append(errs, &RuleError{PolicyID: p.ID, Field: "roles", Message: err.Error()})
			}
			p.Roles[j] = role
		}

		for k := range p.Rules {
			r := &p.Rules[k]
			if r.ID == "" {
				errs = append(errs, &RuleError{PolicyID: p.ID, RuleID: "#" + strconv.Itoa(k), Field: "id", Message: "is required"})
				continue
			}
			if owner, dup := ruleIDs[r.ID]; dup {
				errs = append(errs, &RuleError{PolicyID: p.ID, RuleID: r.ID, Field: "id", Message: "duplicate rule id (also in policy " + owner + ")"})
			}
			ruleIDs[r.ID] = p.ID
			errs = append(errs, compileRule(p.ID, r)...)
		}
	}

	return errors.Join(errs...)
}

func compileRule(policyID string, r *Rule) []error {
	var errs []error
	fail := func(field, msg string) {
		errs = append(errs, &RuleError{PolicyID: policyID, RuleID: r.ID, Field: field, Message: msg})
	}

	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Type == "" {
		r.Type = RuleTypeGuardrail
	}
	r.Type = RuleType(strings.ToUpper(string(r.Type)))
	if r.Action != "" {
		a, err := ParseAction(string(r.Action))
		if err != nil {
			fail("action", err.Error())
		}
		r.Action = a
	}

	switch r.Type {
	case RuleTypeGuardrail:
		if r.Action == "" {
			fail("action", "is required")
		}
	case RuleTypeCoaching:
		if r.Action == "" {
			r.Action = ActionCoach
		}
		if r.Params.Message == "" {
			fail("params.message", "is required for coaching rules")
		}
		if r.Params.Severity == "" {
			r.Params.Severity = "info"
		}
		if r.Params.HintType == "" {
			r.Params.HintType = "general"
		}
	case RuleTypeEscalation:
		if r.Action == "" {
			r.Action = ActionEscalate
		}
		if r.Action != ActionEscalate {
			fail("action", "escalation rules must use ESCALATE")
		}
	default:
		fail("type", "must be one of: GUARDRAIL, COACHING, ESCALATION (got "+string(r.Type)+")")
	}

	if r.Params.QuorumSize < 0 {
		fail("params.quorum_size", "must be positive")
	}

	for i := range r.Conditions {
		if err := r.Conditions[i].validate(); err != nil {
			fail("conditions["+strconv.Itoa(i)+"]", err.Error())
		}
	}
	return errs
}

// Candidates returns the active rules reachable by an operator with the given
// role in orgID for a proposal with the given domain and risk level, in
// evaluation order.
func (rs *RuleSet) Candidates(orgID string, role governance.Role, domain string, risk governance.RiskLevel) []Candidate {
	var out []Candidate
	for _, p := range rs.Policies {
		if !p.IsActive() || !p.appliesToOrg(orgID) || !p.appliesToRole(role) || !p.appliesTo(domain, risk) {
			continue
		}
		for i := range p.Rules {
			if p.Rules[i].IsActive() {
				out = append(out, Candidate{Policy: p, Rule: &p.Rules[i]})
			}
		}
	}
	sortCandidates(out)
	return out
}

// ActiveRules returns every active rule of every active policy visible to
// orgID regardless of role, domain or risk level, in evaluation order.
func (rs *RuleSet) ActiveRules(orgID string) []Candidate {
	var out []Candidate
	for _, p := range rs.Policies {
		if !p.IsActive() || !p.appliesToOrg(orgID) {
			continue
		}
		for i := range p.Rules {
			if p.Rules[i].IsActive() {
				out = append(out, Candidate{Policy: p, Rule: &p.Rules[i]})
			}
		}
	}
	sortCandidates(out)
	return out
}

// sortCandidates orders by priority descending, then name, then id.
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i].Rule, c[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// effectiveConditions folds the policy's domain and risk scope into the
// rule's own conditions.
func (c Candidate) effectiveConditions() []Condition {
	conds := append([]Condition(nil), c.Rule.Conditions...)
	if c.Policy.Domain != "" {
		conds = append(conds, Condition{Field: FieldDomain, Op: OpEQ, Value: String(c.Policy.Domain)})
	}
	if c.Policy.RiskLevel != "" {
		conds = append(conds, Condition{Field: FieldRiskLevel, Op: OpEQ, Value: String(string(c.Policy.RiskLevel))})
	}
	return conds
}

// Parse decodes and compiles a YAML rule document. Unknown keys are rejected.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := rs.Compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Merge combines compiled rule sets into one and recompiles it so that
// duplicate ids across sets are reported.
func Merge(version string, sets ...*RuleSet) (*RuleSet, error) {
	out := &RuleSet{Version: version}
	for _, s := range sets {
		out.Policies = append(out.Policies, s.Policies...)
	}
	if err := out.Compile(); err != nil {
		return nil, err
	}
	return out, nil
}

// StaticRules serves one rule set to every organization.
type StaticRules struct {
	Set *RuleSet
}

// Rules implements RuleProvider.
func (s StaticRules) Rules(context.Context, string) (*RuleSet, error) {
	if s.Set == nil {
		return &RuleSet{}, nil
	}
	return s.Set, nil
}
