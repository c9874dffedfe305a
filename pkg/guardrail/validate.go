package guardrail

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RuleRef identifies a rule in a validation report.
type RuleRef struct {
	PolicyID string `json:"policy_id"`
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Priority int    `json:"priority"`
	Action   Action `json:"action"`
}

// RuleConflict is a pair of rules with identical conditions whose actions
// contradict each other.
type RuleConflict struct {
	First      RuleRef `json:"first"`
	Second     RuleRef `json:"second"`
	Conditions string  `json:"conditions"`
}

// UnreachableRule is a rule that can never influence the outcome because a
// BLOCK rule evaluated before it matches whenever it does.
type UnreachableRule struct {
	Rule       RuleRef `json:"rule"`
	ShadowedBy RuleRef `json:"shadowed_by"`
}

// DuplicateGroup lists rules sharing one condition set.
type DuplicateGroup struct {
	Conditions string    `json:"conditions"`
	Rules      []RuleRef `json:"rules"`
}

// ValidationReport is the result of a consistency check over one
// organization's active rules.
type ValidationReport struct {
	OrgID               string            `json:"org_id"`
	IsValid             bool              `json:"is_valid"`
	Conflicts           []RuleConflict    `json:"conflicts"`
	UnreachableRules    []UnreachableRule `json:"unreachable_rules"`
	DuplicateConditions []DuplicateGroup  `json:"duplicate_conditions"`
	Warnings            []string          `json:"warnings"`
}

// Validate checks the active rules visible to orgID for consistency.
func (e *Engine) Validate(ctx context.Context, orgID string) (*ValidationReport, error) {
	ctx, span := e.tracer.Start(ctx, "guardrail.Validate")
	defer span.End()

	rs, err := e.rules.Rules(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for org %s: %w", orgID, err)
	}
	report := ValidateRuleSet(rs, orgID)

	e.logger.InfoContext(ctx, "guardrails validated",
		"org_id", orgID,
		"valid", report.IsValid,
		"conflicts", len(report.Conflicts),
		"unreachable", len(report.UnreachableRules),
		"duplicates", len(report.DuplicateConditions),
		"warnings", len(report.Warnings),
	)
	return report, nil
}

type validationEntry struct {
	ref   RuleRef
	keys  []string
	key   string
	roles map[string]struct{}
}

// ValidateRuleSet pairwise-compares the active GUARDRAIL and ESCALATION rules
// visible to orgID. Policy domain and risk scope are folded into each rule's
// conditions before comparison. Coaching rules never change the action and
// are ignored.
func ValidateRuleSet(rs *RuleSet, orgID string) *ValidationReport {
	report := &ValidationReport{
		OrgID:               orgID,
		Conflicts:           []RuleConflict{},
		UnreachableRules:    []UnreachableRule{},
		DuplicateConditions: []DuplicateGroup{},
		Warnings:            []string{},
	}

	var entries []validationEntry
	for _, c := range rs.ActiveRules(orgID) {
		if c.Rule.Type == RuleTypeCoaching {
			continue
		}
		keys := conditionKeys(c.effectiveConditions())
		entries = append(entries, validationEntry{
			ref: RuleRef{
				PolicyID: c.Policy.ID,
				RuleID:   c.Rule.ID,
				RuleName: c.Rule.Name,
				Priority: c.Rule.Priority,
				Action:   c.Rule.Action,
			},
			keys:  keys,
			key:   strings.Join(keys, " && "),
			roles: roleSet(c.Policy),
		})
	}

	if len(entries) == 0 {
		report.Warnings = append(report.Warnings, "no active guardrail rules: every evaluation resolves to ALLOW")
	}

	for i := range entries {
		a := &entries[i]
		if a.ref.Action == ActionBlock && len(a.keys) == 0 && a.roles == nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"rule %s blocks every proposal unconditionally (full lockout)", a.ref.RuleID))
		}

		for j := i + 1; j < len(entries); j++ {
			b := &entries[j]
			if a.key == b.key && incompatible(a.ref.Action, b.ref.Action) {
				report.Conflicts = append(report.Conflicts, RuleConflict{
					First:      a.ref,
					Second:     b.ref,
					Conditions: displayKey(a.key),
				})
			}
		}
	}

	// Entries are in evaluation order, so only earlier BLOCK rules can shadow.
	for j := range entries {
		b := &entries[j]
		if b.ref.Action == ActionBlock {
			continue
		}
		for i := 0; i < j; i++ {
			a := &entries[i]
			if a.ref.Action == ActionBlock && subset(a.keys, b.keys) && rolesCover(a.roles, b.roles) {
				report.UnreachableRules = append(report.UnreachableRules, UnreachableRule{Rule: b.ref, ShadowedBy: a.ref})
				break
			}
		}
	}

	groups := make(map[string][]RuleRef)
	var order []string
	for _, e := range entries {
		if _, ok := groups[e.key]; !ok {
			order = append(order, e.key)
		}
		groups[e.key] = append(groups[e.key], e.ref)
	}
	sort.Strings(order)
	for _, k := range order {
		if len(groups[k]) > 1 {
			report.DuplicateConditions = append(report.DuplicateConditions, DuplicateGroup{
				Conditions: displayKey(k),
				Rules:      groups[k],
			})
		}
	}

	report.IsValid = len(report.Conflicts) == 0 && len(report.UnreachableRules) == 0
	return report
}

func incompatible(a, b Action) bool {
	return (a == ActionBlock && b == ActionAllow) || (a == ActionAllow && b == ActionBlock)
}

func displayKey(k string) string {
	if k == "" {
		return "(unconditional)"
	}
	return k
}

// subset reports whether every key in a is in b. Both are sorted.
func subset(a, b []string) bool {
	j := 0
	for _, k := range a {
		for j < len(b) && b[j] < k {
			j++
		}
		if j == len(b) || b[j] != k {
			return false
		}
		j++
	}
	return true
}

// roleSet returns nil for policies that apply to every role.
func roleSet(p *Policy) map[string]struct{} {
	if len(p.Roles) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		out[string(r)] = struct{}{}
	}
	return out
}

// rolesCover reports whether every role reaching b also reaches a.
func rolesCover(a, b map[string]struct{}) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	for r := range b {
		if _, ok := a[r]; !ok {
			return false
		}
	}
	return true
}
