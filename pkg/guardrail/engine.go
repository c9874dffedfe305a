package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// DefaultQuorumSize applies to REQUIRE_QUORUM rules without an explicit size.
const DefaultQuorumSize = 2

// RuleProvider supplies the current rule set for an organization.
type RuleProvider interface {
	Rules(ctx context.Context, orgID string) (*RuleSet, error)
}

// Directory resolves operator roles and reliability scores.
type Directory interface {
	// OperatorRole returns governance.ErrNotFound for unknown operators.
	OperatorRole(ctx context.Context, operatorID, orgID string) (governance.Role, error)

	// ReliabilityScore returns ok=false when no score is known.
	ReliabilityScore(ctx context.Context, operatorID, orgID string) (score float64, ok bool, err error)
}

// Config contains configuration for the guardrail engine.
type Config struct {
	// DefaultQuorumSize is used by REQUIRE_QUORUM rules without quorum_size.
	// Default: 2.
	DefaultQuorumSize int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{DefaultQuorumSize: DefaultQuorumSize}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.DefaultQuorumSize < 1 {
		return fmt.Errorf("%w: default quorum size must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Engine evaluates guardrail rules. It never mutates rules.
type Engine struct {
	config   *Config
	rules    RuleProvider
	dir      Directory
	recorder governance.Recorder
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder writes every evaluation to the activity log.
func WithRecorder(r governance.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics records evaluation metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer wraps evaluations in spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates a guardrail engine. dir may be nil, in which case every
// operator has no role and no reliability score.
func NewEngine(cfg *Config, rules RuleProvider, dir Directory, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rules == nil {
		return nil, fmt.Errorf("rule provider cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:   cfg,
		rules:    rules,
		dir:      dir,
		recorder: governance.NopRecorder{},
		logger:   logger.With("component", "guardrail"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every candidate rule for the context and returns the decision.
//
// Rules are consulted in descending priority. A GUARDRAIL or ESCALATION rule
// replaces the running action only when strictly more restrictive, and once
// the action is BLOCK nothing further can change it. COACHING rules append
// hints without touching the action. An operator reachable by no rules is
// allowed.
func (e *Engine) Evaluate(ctx context.Context, ec EvalContext) (*Decision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "guardrail.Evaluate")
	defer span.End()
	tracing.SetSubjectAttributes(span, ec.OrgID, ec.OperatorID, ec.ItemID)

	if ec.OrgID == "" {
		err := &governance.InvalidArgumentError{Field: "org_id", Message: "is required"}
		tracing.SetError(span, err)
		return nil, err
	}

	rs, err := e.rules.Rules(ctx, ec.OrgID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("failed to load rules for org %s: %w", ec.OrgID, err)
	}

	role, err := e.operatorRole(ctx, ec.OperatorID, ec.OrgID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	if ec.OperatorScore == nil && e.dir != nil && ec.OperatorID != "" {
		score, ok, err := e.dir.ReliabilityScore(ctx, ec.OperatorID, ec.OrgID)
		if err != nil {
			tracing.SetError(span, err)
			return nil, fmt.Errorf("failed to read reliability score: %w", err)
		}
		if ok {
			ec.OperatorScore = &score
		}
	}

	candidates := rs.Candidates(ec.OrgID, role, ec.Domain, ec.RiskLevel)
	decision := evaluate(candidates, &ec, e.config.DefaultQuorumSize)
	decision.RuleSetVersion = rs.Version

	if len(candidates) == 0 {
		e.logger.WarnContext(ctx, "no guardrail rules reachable, allowing by default",
			"org_id", ec.OrgID,
			"operator_id", ec.OperatorID,
			"role", role,
			"domain", ec.Domain,
			"risk_level", ec.RiskLevel,
		)
	}

	e.logger.InfoContext(ctx, "guardrail evaluated",
		"org_id", ec.OrgID,
		"operator_id", ec.OperatorID,
		"proposal_id", ec.ProposalID,
		"action", decision.Action,
		"blocking_rule", decision.BlockingRuleID,
		"evaluated_rules", decision.EvaluatedRuleIDs,
		"matched_rules", decision.MatchedRuleIDs,
		"rule_set_version", decision.RuleSetVersion,
	)

	e.metrics.RecordGuardrailEvaluation(string(decision.Action), time.Since(start), decision.MatchedRuleIDs)
	tracing.SetGuardrailAttributes(span, string(decision.Action), decision.BlockingRuleID,
		len(decision.EvaluatedRuleIDs), len(decision.MatchedRuleIDs), decision.RequiresQuorum, decision.RuleSetVersion)

	e.record(ctx, &ec, decision)

	return decision, nil
}

func (e *Engine) operatorRole(ctx context.Context, operatorID, orgID string) (governance.Role, error) {
	if e.dir == nil || operatorID == "" {
		return "", nil
	}
	role, err := e.dir.OperatorRole(ctx, operatorID, orgID)
	if errors.Is(err, governance.ErrNotFound) {
		e.logger.DebugContext(ctx, "operator not in directory", "operator_id", operatorID, "org_id", orgID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve operator role: %w", err)
	}
	return role, nil
}

func (e *Engine) record(ctx context.Context, ec *EvalContext, d *Decision) {
	subject := ec.ProposalID
	if ec.ItemID != "" {
		subject = ec.ItemID
	}
	activity := &governance.Activity{
		ID:      uuid.NewString(),
		OrgID:   ec.OrgID,
		Actor:   ec.OperatorID,
		Kind:    governance.ActivityGuardrailEvaluated,
		Subject: subject,
		Summary: fmt.Sprintf("guardrail verdict %s", d.Action),
		Details: map[string]any{
			"action":             string(d.Action),
			"blocking_rule_id":   d.BlockingRuleID,
			"evaluated_rule_ids": d.EvaluatedRuleIDs,
			"matched_rule_ids":   d.MatchedRuleIDs,
			"requires_quorum":    d.RequiresQuorum,
			"sandbox_only":       d.SandboxOnly,
			"rule_set_version":   d.RuleSetVersion,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := e.recorder.Record(ctx, activity); err != nil {
		e.logger.WarnContext(ctx, "failed to record guardrail evaluation", "error", err)
	}
}

// evaluate folds the candidates, already in evaluation order, into a decision.
func evaluate(candidates []Candidate, ec *EvalContext, defaultQuorum int) *Decision {
	d := &Decision{
		Action:           ActionAllow,
		EvaluatedRuleIDs: make([]string, 0, len(candidates)),
		MatchedRuleIDs:   []string{},
	}

	for _, c := range candidates {
		r := c.Rule
		d.EvaluatedRuleIDs = append(d.EvaluatedRuleIDs, r.ID)
		if !matchAll(r.Conditions, ec) {
			continue
		}
		d.MatchedRuleIDs = append(d.MatchedRuleIDs, r.ID)

		if r.Type == RuleTypeCoaching {
			d.CoachingHints = append(d.CoachingHints, CoachingHint{
				RuleID:   r.ID,
				Message:  r.Params.Message,
				Severity: r.Params.Severity,
				HintType: r.Params.HintType,
			})
			continue
		}

		if d.Action == ActionBlock || !r.Action.MoreRestrictiveThan(d.Action) {
			continue
		}
		d.Action = r.Action

		switch r.Action {
		case ActionBlock:
			d.BlockingRuleID = r.ID
			d.BlockingRuleName = r.Name
			d.BlockingMessage = r.Params.Message
		case ActionEscalate:
			d.EscalationReason = r.Params.Reason
			if d.EscalationReason == "" {
				d.EscalationReason = "escalated by rule " + r.Name
			}
		case ActionRequireQuorum:
			d.RequiresQuorum = true
			d.QuorumSize = r.Params.QuorumSize
			if d.QuorumSize == 0 {
				d.QuorumSize = defaultQuorum
			}
		case ActionSimulate:
			d.SandboxOnly = true
		}
	}

	return d
}
