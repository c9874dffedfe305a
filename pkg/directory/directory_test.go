package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
)

const operatorsYAML = `
organizations:
  - id: acme
    operators:
      - id: alice
        role: owner
        can_approve_low: true
        can_approve_medium: true
        can_approve_high: true
        reliability_score: 92
      - id: bob
        role: Manager
        allowed_domains: [Financial]
        can_approve_low: true
        can_approve_medium: true
        daily_limit: 2
      - id: carol
        role: analyst
  - id: globex
    operators:
      - id: alice
        role: manager
        can_approve_low: true
`

func newTestDirectory(t *testing.T) *StaticDirectory {
	t.Helper()
	d, err := Parse([]byte(operatorsYAML), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return d
}

func TestGetOperator(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	bob, err := d.GetOperator(ctx, "bob", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if bob.Role != governance.RoleManager || bob.OrgID != "acme" {
		t.Errorf("bob = %+v", bob)
	}

	alice, err := d.GetOperator(ctx, "alice", "globex")
	if err != nil {
		t.Fatal(err)
	}
	if alice.Role != governance.RoleManager {
		t.Errorf("alice in globex role = %s, want MANAGER", alice.Role)
	}

	if _, err := d.GetOperator(ctx, "bob", "globex"); !errors.Is(err, governance.ErrNotFound) {
		t.Errorf("GetOperator(bob, globex) error = %v, want ErrNotFound", err)
	}
}

func TestListOperators(t *testing.T) {
	ops, err := newTestDirectory(t).ListOperators(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	if len(ids) != 3 || ids[0] != "alice" || ids[2] != "carol" {
		t.Errorf("ListOperators() = %v, want [alice bob carol]", ids)
	}
}

func TestCanApproveProposal(t *testing.T) {
	d := newTestDirectory(t)

	tests := []struct {
		name     string
		operator string
		org      string
		level    governance.RiskLevel
		domain   string
		allowed  bool
	}{
		{"owner high", "alice", "acme", governance.RiskHigh, "infra", true},
		{"manager medium in domain", "bob", "acme", governance.RiskMedium, "financial", true},
		{"manager high", "bob", "acme", governance.RiskHigh, "financial", false},
		{"manager outside domain", "bob", "acme", governance.RiskLow, "infra", false},
		{"analyst", "carol", "acme", governance.RiskLow, "", false},
		{"non member", "dave", "acme", governance.RiskLow, "", false},
		{"other org permissions", "alice", "globex", governance.RiskMedium, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := d.CanApproveProposal(context.Background(), tt.operator, tt.org, tt.level, tt.domain)
			if err != nil {
				t.Fatal(err)
			}
			if p.Allowed != tt.allowed {
				t.Errorf("Allowed = %v (%s), want %v", p.Allowed, p.Reason, tt.allowed)
			}
			if !p.Allowed && p.Reason == "" {
				t.Error("denied without a reason")
			}
		})
	}
}

func TestDailyLimit(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := d.RecordApproval(ctx, "bob", "acme"); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := d.CanApproveProposal(ctx, "bob", "acme", governance.RiskLow, "financial")
	if p.Allowed {
		t.Error("approval allowed past the daily limit")
	}
	if op, _ := d.GetOperator(ctx, "bob", "acme"); op.ApprovalsToday != 2 {
		t.Errorf("ApprovalsToday = %d, want 2", op.ApprovalsToday)
	}

	now = now.Add(2 * time.Hour)
	p, _ = d.CanApproveProposal(ctx, "bob", "acme", governance.RiskLow, "financial")
	if !p.Allowed {
		t.Errorf("limit did not reset on a new day: %s", p.Reason)
	}

	if err := d.RecordApproval(ctx, "dave", "acme"); !errors.Is(err, governance.ErrNotFound) {
		t.Errorf("RecordApproval(dave) error = %v, want ErrNotFound", err)
	}
}

func TestRoleAndScore(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	role, err := d.OperatorRole(ctx, "alice", "acme")
	if err != nil || role != governance.RoleOwner {
		t.Errorf("OperatorRole(alice) = %s, %v", role, err)
	}
	if _, err := d.OperatorRole(ctx, "nobody", "acme"); !errors.Is(err, governance.ErrNotFound) {
		t.Errorf("OperatorRole(nobody) error = %v, want ErrNotFound", err)
	}

	score, ok, err := d.ReliabilityScore(ctx, "alice", "acme")
	if err != nil || !ok || score != 92 {
		t.Errorf("ReliabilityScore(alice) = %v, %v, %v", score, ok, err)
	}
	if _, ok, _ := d.ReliabilityScore(ctx, "bob", "acme"); ok {
		t.Error("bob has no score but ok = true")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown role":     "organizations:\n  - id: a\n    operators:\n      - {id: x, role: intern}\n",
		"duplicate op":     "organizations:\n  - id: a\n    operators:\n      - {id: x, role: owner}\n      - {id: x, role: manager}\n",
		"missing org id":   "organizations:\n  - operators: []\n",
		"negative limit":   "organizations:\n  - id: a\n    operators:\n      - {id: x, role: owner, daily_limit: -1}\n",
		"score over 100":   "organizations:\n  - id: a\n    operators:\n      - {id: x, role: owner, reliability_score: 101}\n",
		"unknown field":    "organizations:\n  - id: a\n    operators:\n      - {id: x, role: owner, superuser: true}\n",
		"duplicate org id": "organizations:\n  - id: a\n  - id: a\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data), nil); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

func TestLoad_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operators.yaml")
	if err := os.WriteFile(path, []byte(operatorsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewStaticDirectory(path, nil)
	ctx := context.Background()
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("organizations: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(ctx); err == nil {
		t.Fatal("Load() of broken file error = nil")
	}
	if _, err := d.GetOperator(ctx, "alice", "acme"); err != nil {
		t.Errorf("previous operators lost: %v", err)
	}
}
