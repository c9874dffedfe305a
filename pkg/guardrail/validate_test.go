package guardrail

import (
	"context"
	"strings"
	"testing"

	"mercator-hq/gatekeeper/pkg/governance"
)

func TestValidateRuleSet(t *testing.T) {
	rs := mustCompile(t,
		&Policy{ID: "base", Rules: []Rule{
			{ID: "fin-block", Conditions: []Condition{cond(t, `domain = "financial"`)}, Action: ActionBlock, Priority: 50},
			{ID: "fin-allow", Conditions: []Condition{cond(t, `domain = "financial"`)}, Action: ActionAllow, Priority: 10},
			{ID: "fin-high-quorum", Conditions: []Condition{cond(t, `domain = "financial"`), cond(t, "risk_level = HIGH")}, Action: ActionRequireQuorum, Priority: 5},
			{ID: "infra-notify", Conditions: []Condition{cond(t, `domain = "infra"`)}, Action: ActionNotify, Priority: 1},
			{ID: "hint", Type: RuleTypeCoaching, Conditions: []Condition{cond(t, `domain = "financial"`)}, Params: Params{Message: "m"}},
		}},
	)

	report := ValidateRuleSet(rs, "org1")

	if report.IsValid {
		t.Error("IsValid = true, want false")
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("Conflicts = %+v, want 1", report.Conflicts)
	}
	c := report.Conflicts[0]
	if c.First.RuleID != "fin-block" || c.Second.RuleID != "fin-allow" {
		t.Errorf("conflict pair = %s/%s", c.First.RuleID, c.Second.RuleID)
	}

	unreachable := map[string]string{}
	for _, u := range report.UnreachableRules {
		unreachable[u.Rule.RuleID] = u.ShadowedBy.RuleID
	}
	if unreachable["fin-allow"] != "fin-block" || unreachable["fin-high-quorum"] != "fin-block" {
		t.Errorf("UnreachableRules = %v", unreachable)
	}
	if _, ok := unreachable["infra-notify"]; ok {
		t.Error("infra-notify should be reachable")
	}

	if len(report.DuplicateConditions) != 1 || len(report.DuplicateConditions[0].Rules) != 2 {
		t.Errorf("DuplicateConditions = %+v, want one group of two", report.DuplicateConditions)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", report.Warnings)
	}
}

func TestValidateRuleSet_PolicyScopeIsPartOfConditions(t *testing.T) {
	rs := mustCompile(t,
		&Policy{ID: "fin", Domain: "financial", Rules: []Rule{{ID: "block", Action: ActionBlock, Priority: 10}}},
		&Policy{ID: "anywhere", Rules: []Rule{{ID: "allow", Action: ActionAllow}}},
		&Policy{ID: "fin-rule", Rules: []Rule{{ID: "fin-allow", Conditions: []Condition{cond(t, `domain = "FINANCIAL"`)}, Action: ActionAllow}}},
	)
	report := ValidateRuleSet(rs, "org1")

	if len(report.Conflicts) != 1 || report.Conflicts[0].Second.RuleID != "fin-allow" {
		t.Errorf("Conflicts = %+v, want block vs fin-allow", report.Conflicts)
	}
	for _, u := range report.UnreachableRules {
		if u.Rule.RuleID == "allow" {
			t.Error("unscoped allow rule is reachable outside the financial domain")
		}
	}
}

func TestValidateRuleSet_RoleScopedBlockDoesNotShadowWiderRule(t *testing.T) {
	rs := mustCompile(t,
		&Policy{ID: "analysts", Roles: []governance.Role{governance.RoleAnalyst}, Rules: []Rule{{ID: "block", Action: ActionBlock, Priority: 10}}},
		&Policy{ID: "all", Rules: []Rule{{ID: "notify", Action: ActionNotify}}},
	)
	report := ValidateRuleSet(rs, "org1")
	if len(report.UnreachableRules) != 0 {
		t.Errorf("UnreachableRules = %+v, want none", report.UnreachableRules)
	}
	for _, w := range report.Warnings {
		if strings.Contains(w, "lockout") {
			t.Errorf("role-scoped block reported as lockout: %q", w)
		}
	}
}

func TestValidateRuleSet_Warnings(t *testing.T) {
	empty := ValidateRuleSet(mustCompile(t), "org1")
	if !empty.IsValid || len(empty.Warnings) != 1 || !strings.Contains(empty.Warnings[0], "no active") {
		t.Errorf("empty rule set report = %+v", empty)
	}

	lockout := ValidateRuleSet(mustCompile(t, &Policy{ID: "p", Rules: []Rule{
		{ID: "everything", Action: ActionBlock, Priority: 100},
		{ID: "notify", Action: ActionNotify},
	}}), "org1")
	var found bool
	for _, w := range lockout.Warnings {
		if strings.Contains(w, "everything") && strings.Contains(w, "lockout") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want full lockout warning", lockout.Warnings)
	}
	if len(lockout.UnreachableRules) != 1 || lockout.UnreachableRules[0].Rule.RuleID != "notify" {
		t.Errorf("UnreachableRules = %+v, want notify", lockout.UnreachableRules)
	}
}

func TestEngineValidate(t *testing.T) {
	rs := mustCompile(t, &Policy{ID: "p", Rules: []Rule{{ID: "r", Action: ActionNotify}}})
	e := newTestEngine(t, rs, nil)

	report, err := e.Validate(context.Background(), "org1")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.IsValid || report.OrgID != "org1" {
		t.Errorf("report = %+v", report)
	}
}
