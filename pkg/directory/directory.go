package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/governance"
)

// Operator is a reviewer's role and approval permissions in one organization.
type Operator struct {
	ID    string          `yaml:"id" json:"id"`
	OrgID string          `yaml:"-" json:"org_id"`
	Name  string          `yaml:"name" json:"name,omitempty"`
	Role  governance.Role `yaml:"role" json:"role"`

	// AllowedDomains restricts approvals to these domains. Empty allows all.
	AllowedDomains []string `yaml:"allowed_domains" json:"allowed_domains,omitempty"`

	CanApproveLow    bool `yaml:"can_approve_low" json:"can_approve_low"`
	CanApproveMedium bool `yaml:"can_approve_medium" json:"can_approve_medium"`
	CanApproveHigh   bool `yaml:"can_approve_high" json:"can_approve_high"`

	// DailyLimit caps approvals per UTC day. Zero is unlimited.
	DailyLimit     int `yaml:"daily_limit" json:"daily_limit"`
	ApprovalsToday int `yaml:"-" json:"approvals_today"`

	// ReliabilityScore is an externally computed 0-100 score.
	ReliabilityScore *float64 `yaml:"reliability_score" json:"reliability_score,omitempty"`
}

func (o *Operator) canApprove(level governance.RiskLevel) bool {
	switch level {
	case governance.RiskLow:
		return o.CanApproveLow
	case governance.RiskMedium:
		return o.CanApproveMedium
	case governance.RiskHigh:
		return o.CanApproveHigh
	default:
		return false
	}
}

func (o *Operator) allowsDomain(domain string) bool {
	if len(o.AllowedDomains) == 0 || domain == "" {
		return true
	}
	for _, d := range o.AllowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Permission is the answer to an approval check.
type Permission struct {
	Allowed bool
	Reason  string
}

// Directory is the role and permission lookup consulted by the queue.
type Directory interface {
	GetOperator(ctx context.Context, operatorID, orgID string) (*Operator, error)
	ListOperators(ctx context.Context, orgID string) ([]*Operator, error)
	CanApproveProposal(ctx context.Context, operatorID, orgID string, level governance.RiskLevel, domain string) (Permission, error)
	RecordApproval(ctx context.Context, operatorID, orgID string) error
}

type file struct {
	Organizations []struct {
		ID        string      `yaml:"id"`
		Operators []*Operator `yaml:"operators"`
	} `yaml:"organizations"`
}

type approvalCount struct {
	day   string
	count int
}

// StaticDirectory serves operators from a YAML file. Approval counters are
// kept in memory and reset at UTC midnight.
type StaticDirectory struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	operators map[string]map[string]*Operator
	approvals map[string]approvalCount
}

// NewStaticDirectory creates an empty directory. Call Load or use Parse.
func NewStaticDirectory(path string, logger *slog.Logger) *StaticDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticDirectory{
		path:      path,
		logger:    logger.With("component", "directory"),
		now:       time.Now,
		operators: make(map[string]map[string]*Operator),
		approvals: make(map[string]approvalCount),
	}
}

// Parse builds a directory from YAML data.
func Parse(data []byte, logger *slog.Logger) (*StaticDirectory, error) {
	d := NewStaticDirectory("", logger)
	ops, err := parse(data)
	if err != nil {
		return nil, err
	}
	d.operators = ops
	return d, nil
}

// Load reads the directory file, replacing the current operators. Approval
// counters survive reloads. On error the previous operators stay in effect.
func (d *StaticDirectory) Load(ctx context.Context) error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read operator directory %q: %w", d.path, err)
	}
	ops, err := parse(data)
	if err != nil {
		return fmt.Errorf("failed to load operator directory %q: %w", d.path, err)
	}

	d.mu.Lock()
	d.operators = ops
	d.mu.Unlock()

	count := 0
	for _, org := range ops {
		count += len(org)
	}
	d.logger.InfoContext(ctx, "loaded operator directory", "path", d.path, "organizations", len(ops), "operators", count)
	return nil
}

// Path returns the directory file path.
func (d *StaticDirectory) Path() string {
	return d.path
}

func parse(data []byte) (map[string]map[string]*Operator, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid operator directory: %w", err)
	}

	var errs []error
	out := make(map[string]map[string]*Operator, len(f.Organizations))
	for _, org := range f.Organizations {
		if org.ID == "" {
			errs = append(errs, errors.New("organization id is required"))
			continue
		}
		if _, dup := out[org.ID]; dup {
			errs = append(errs, fmt.Errorf("organization %q listed twice", org.ID))
			continue
		}
		byID := make(map[string]*Operator, len(org.Operators))
		for _, op := range org.Operators {
			if op.ID == "" {
				errs = append(errs, fmt.Errorf("organization %q: operator id is required", org.ID))
				continue
			}
			if _, dup := byID[op.ID]; dup {
				errs = append(errs, fmt.Errorf("organization %q: operator %q listed twice", org.ID, op.ID))
				continue
			}
			role, err := governance.ParseRole(string(op.Role))
			if err != nil {
				errs = append(errs, fmt.Errorf("organization %q: operator %q: %w", org.ID, op.ID, err))
				continue
			}
			if op.DailyLimit < 0 {
				errs = append(errs, fmt.Errorf("organization %q: operator %q: daily_limit cannot be negative", org.ID, op.ID))
				continue
			}
			if s := op.ReliabilityScore; s != nil && (*s < 0 || *s > 100) {
				errs = append(errs, fmt.Errorf("organization %q: operator %q: reliability_score must be within 0-100", org.ID, op.ID))
				continue
			}
			op.Role = role
			op.OrgID = org.ID
			byID[op.ID] = op
		}
		out[org.ID] = byID
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (d *StaticDirectory) lookup(operatorID, orgID string) (*Operator, bool) {
	org, ok := d.operators[orgID]
	if !ok {
		return nil, false
	}
	op, ok := org[operatorID]
	return op, ok
}

func (d *StaticDirectory) snapshot(op *Operator) *Operator {
	c := *op
	c.AllowedDomains = append([]string(nil), op.AllowedDomains...)
	if op.ReliabilityScore != nil {
		s := *op.ReliabilityScore
		c.ReliabilityScore = &s
	}
	c.ApprovalsToday = d.approvalsToday(op.OrgID, op.ID)
	return &c
}

func (d *StaticDirectory) approvalsToday(orgID, operatorID string) int {
	a := d.approvals[orgID+"/"+operatorID]
	if a.day != d.today() {
		return 0
	}
	return a.count
}

func (d *StaticDirectory) today() string {
	return d.now().UTC().Format(time.DateOnly)
}

// GetOperator returns a copy of the operator or a NotFoundError.
func (d *StaticDirectory) GetOperator(_ context.Context, operatorID, orgID string) (*Operator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.lookup(operatorID, orgID)
	if !ok {
		return nil, &governance.NotFoundError{Kind: "operator", ID: orgID + "/" + operatorID}
	}
	return d.snapshot(op), nil
}

// ListOperators returns the organization's operators sorted by id.
func (d *StaticDirectory) ListOperators(_ context.Context, orgID string) ([]*Operator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org := d.operators[orgID]
	out := make([]*Operator, 0, len(org))
	for _, op := range org {
		out = append(out, d.snapshot(op))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CanApproveProposal checks membership, the per-risk permission, allowed
// domains and the daily limit, in that order.
func (d *StaticDirectory) CanApproveProposal(_ context.Context, operatorID, orgID string, level governance.RiskLevel, domain string) (Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	op, ok := d.lookup(operatorID, orgID)
	if !ok {
		return Permission{Reason: "not a member of organization " + orgID}, nil
	}
	if !op.canApprove(level) {
		return Permission{Reason: fmt.Sprintf("not permitted to approve %s risk proposals", level)}, nil
	}
	if !op.allowsDomain(domain) {
		return Permission{Reason: fmt.Sprintf("domain %q is outside allowed domains", domain)}, nil
	}
	if op.DailyLimit > 0 && d.approvalsToday(orgID, operatorID) >= op.DailyLimit {
		return Permission{Reason: fmt.Sprintf("daily approval limit of %d reached", op.DailyLimit)}, nil
	}
	return Permission{Allowed: true}, nil
}

// RecordApproval increments the operator's approval counter for today.
func (d *StaticDirectory) RecordApproval(_ context.Context, operatorID, orgID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.lookup(operatorID, orgID); !ok {
		return &governance.NotFoundError{Kind: "operator", ID: orgID + "/" + operatorID}
	}
	key := orgID + "/" + operatorID
	today := d.today()
	a := d.approvals[key]
	if a.day != today {
		a = approvalCount{day: today}
	}
	a.count++
	d.approvals[key] = a
	return nil
}

// OperatorRole returns governance.ErrNotFound for unknown operators.
func (d *StaticDirectory) OperatorRole(_ context.Context, operatorID, orgID string) (governance.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.lookup(operatorID, orgID)
	if !ok {
		return "", &governance.NotFoundError{Kind: "operator", ID: orgID + "/" + operatorID}
	}
	return op.Role, nil
}

// ReliabilityScore returns ok=false when the operator has no score.
func (d *StaticDirectory) ReliabilityScore(_ context.Context, operatorID, orgID string) (float64, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.lookup(operatorID, orgID)
	if !ok || op.ReliabilityScore == nil {
		return 0, false, nil
	}
	return *op.ReliabilityScore, true, nil
}
