package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/directory"
	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/guardrail"
	"mercator-hq/gatekeeper/pkg/notify"
	"mercator-hq/gatekeeper/pkg/store"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Resolvers recorded for transitions made without a human operator.
const (
	ResolverGuardrail = "guardrail"
	ResolverConsensus = "consensus"
	ResolverExpiry    = "expiry"
)

// Evaluator returns the guardrail verdict for a proposal.
type Evaluator interface {
	Evaluate(ctx context.Context, ec guardrail.EvalContext) (*guardrail.Decision, error)
}

// Config contains configuration for the approval queue.
type Config struct {
	// DefaultTTL is the review deadline when a request sets none.
	// Default: 24h.
	DefaultTTL time.Duration

	// AutoApproveAllowed resolves ALLOW verdicts that need no quorum
	// straight to APPROVED.
	// Default: false.
	AutoApproveAllowed bool
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{DefaultTTL: config.DefaultQueueTTL}
}

// Validate validates the queue configuration.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default TTL must be positive, got %s", c.DefaultTTL)
	}
	return nil
}

// EnqueueRequest submits a proposal for review.
type EnqueueRequest struct {
	Proposal governance.Proposal
	OrgID    string

	// OperatorID is the operator the guardrails are evaluated for.
	OperatorID string

	Priority int

	// TTL overrides the default review deadline.
	TTL time.Duration

	OperatorScore *float64
	Sandbox       bool
}

// EnqueueResult is the stored item together with the verdict that shaped it.
type EnqueueResult struct {
	Item     *governance.QueueItem `json:"item"`
	Decision *guardrail.Decision   `json:"decision"`
}

// ResolveRequest closes an item with a human decision.
type ResolveRequest struct {
	ItemID     string
	OperatorID string
	Decision   governance.Outcome
	Notes      string
}

// Service owns the queue item lifecycle. Every transition is a conditional
// store write, so concurrent transitions on one item serialize and the
// loser sees an InvalidStateError.
type Service struct {
	config    *Config
	store     store.Store
	guardrail Evaluator
	dir       directory.Directory
	notifier  notify.Notifier
	recorder  governance.Recorder
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier announces items needing approval and escalations.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRecorder writes every transition to the activity log.
func WithRecorder(r governance.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMetrics records transition and latency metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithTracer wraps operations in spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the approval queue.
func NewService(cfg *Config, st store.Store, eval Evaluator, dir directory.Directory, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if eval == nil {
		return nil, fmt.Errorf("guardrail evaluator cannot be nil")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config:    cfg,
		store:     st,
		guardrail: eval,
		dir:       dir,
		recorder:  governance.NopRecorder{},
		logger:    logger.With("component", "queue"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enqueue evaluates the proposal's guardrails and stores the resulting item.
//
// A BLOCK verdict stores a REJECTED item naming the blocking rule. An
// ESCALATE verdict stores an ESCALATED item assigned to the highest-authority
// operator. An ALLOW verdict that needs no quorum is stored APPROVED when
// AutoApproveAllowed is set. Everything else is stored PENDING. If any step
// fails nothing is stored.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Enqueue")
	defer span.End()
	tracing.SetSubjectAttributes(span, req.OrgID, req.OperatorID, "")

	result, err := s.enqueue(ctx, req)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetTransitionAttributes(span, "", string(result.Item.State))
	return result, nil
}

func (s *Service) enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if req.OrgID == "" {
		return nil, &governance.InvalidArgumentError{Field: "org_id", Message: "is required"}
	}
	if req.Proposal.ID == "" {
		return nil, &governance.InvalidArgumentError{Field: "proposal.id", Message: "is required"}
	}
	risk, err := governance.ParseRiskLevel(string(req.Proposal.RiskLevel))
	if err != nil {
		return nil, &governance.InvalidArgumentError{Field: "proposal.risk_level", Message: err.Error()}
	}
	req.Proposal.RiskLevel = risk
	if req.TTL < 0 {
		return nil, &governance.InvalidArgumentError{Field: "ttl", Message: "cannot be negative"}
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	itemID := uuid.NewString()
	decision, err := s.guardrail.Evaluate(ctx, guardrail.EvalContext{
		OperatorID:    req.OperatorID,
		OrgID:         req.OrgID,
		Domain:        req.Proposal.Domain,
		RiskLevel:     risk,
		OperatorScore: req.OperatorScore,
		ProposalID:    req.Proposal.ID,
		ItemID:        itemID,
		Sandbox:       req.Sandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail evaluation failed: %w", err)
	}

	now := s.now().UTC()
	item := &governance.QueueItem{
		ID:              itemID,
		OrgID:           req.OrgID,
		Proposal:        req.Proposal,
		State:           governance.StatePending,
		Priority:        req.Priority,
		GuardrailAction: string(decision.Action),
		RequiresQuorum:  decision.RequiresQuorum,
		QuorumSize:      decision.QuorumSize,
		SandboxOnly:     decision.SandboxOnly,
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch {
	case decision.Blocked():
		item.State = governance.StateRejected
		item.Resolver = ResolverGuardrail
		item.ResolutionNotes = blockedNotes(decision)
		item.ResolvedAt = &now
	case decision.Action == guardrail.ActionEscalate:
		target, err := s.escalationTarget(ctx, req.OrgID, req.OperatorID)
		if err != nil {
			return nil, err
		}
		item.State = governance.StateEscalated
		item.Assignee = target
		item.EscalationTarget = target
		item.EscalationReason = decision.EscalationReason
		item.AssignedAt = &now
	case decision.Action == guardrail.ActionAllow && !decision.RequiresQuorum && s.config.AutoApproveAllowed:
		item.State = governance.StateApproved
		item.Resolver = ResolverGuardrail
		item.ResolutionNotes = "auto-approved: no guardrail requires review"
		item.ResolvedAt = &now
	}

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to store queue item: %w", err)
	}

	s.metrics.RecordQueueTransition("NEW", string(item.State))
	s.logger.InfoContext(ctx, "proposal enqueued",
		"org_id", item.OrgID,
		"item_id", item.ID,
		"proposal_id", item.Proposal.ID,
		"state", item.State,
		"guardrail_action", decision.Action,
		"priority", item.Priority,
		"expires_at", item.ExpiresAt,
	)

	switch item.State {
	case governance.StateRejected:
		s.record(ctx, item, req.OperatorID, governance.ActivityItemBlocked, item.ResolutionNotes, map[string]any{
			"blocking_rule_id":   decision.BlockingRuleID,
			"blocking_rule_name": decision.BlockingRuleName,
			"proposal_id":        item.Proposal.ID,
		})
	case governance.StateEscalated:
		s.record(ctx, item, req.OperatorID, governance.ActivityItemEscalated,
			fmt.Sprintf("escalated to %s on enqueue", item.EscalationTarget),
			map[string]any{"target": item.EscalationTarget, "reason": item.EscalationReason})
		notify.Dispatch(ctx, s.notifier, s.logger, notify.Event{
			Type:       notify.EventEscalated,
			OrgID:      item.OrgID,
			ItemID:     item.ID,
			Recipients: []string{item.EscalationTarget},
			Summary:    item.EscalationReason,
		})
	default:
		s.record(ctx, item, req.OperatorID, governance.ActivityItemEnqueued,
			fmt.Sprintf("proposal %s enqueued as %s", item.Proposal.ID, item.State),
			map[string]any{
				"proposal_id":      item.Proposal.ID,
				"guardrail_action": item.GuardrailAction,
				"requires_quorum":  item.RequiresQuorum,
				"quorum_size":      item.QuorumSize,
			})
		if item.State == governance.StatePending {
			notify.Dispatch(ctx, s.notifier, s.logger, notify.Event{
				Type:    notify.EventApprovalNeeded,
				OrgID:   item.OrgID,
				ItemID:  item.ID,
				Summary: fmt.Sprintf("%s risk %s proposal %s needs approval", item.Proposal.RiskLevel, item.Proposal.Domain, item.Proposal.ID),
				Details: map[string]any{"priority": item.Priority, "requires_quorum": item.RequiresQuorum},
			})
		}
	}

	return &EnqueueResult{Item: item, Decision: decision}, nil
}

func blockedNotes(d *guardrail.Decision) string {
	name := d.BlockingRuleName
	if name == "" {
		name = d.BlockingRuleID
	}
	notes := "blocked by guardrail " + name
	if d.BlockingMessage != "" {
		notes += ": " + d.BlockingMessage
	}
	return notes
}

// Get returns an item or a NotFoundError.
func (s *Service) Get(ctx context.Context, id string) (*governance.QueueItem, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	return item, nil
}

// List returns items matching the filter, most urgent first.
func (s *Service) List(ctx context.Context, filter store.ItemFilter) ([]*governance.QueueItem, error) {
	items, err := s.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}

// Assign gives an open item to an operator. PENDING items become ASSIGNED;
// ASSIGNED and ESCALATED items change assignee and keep their state.
func (s *Service) Assign(ctx context.Context, itemID, operatorID string) (*governance.QueueItem, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Assign")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", operatorID, itemID)

	item, from, err := s.assign(ctx, itemID, operatorID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetTransitionAttributes(span, string(from), string(item.State))
	return item, nil
}

func (s *Service) assign(ctx context.Context, itemID, operatorID string) (*governance.QueueItem, governance.State, error) {
	if operatorID == "" {
		return nil, "", &governance.InvalidArgumentError{Field: "operator_id", Message: "is required"}
	}
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, "", err
	}
	from := item.State
	if from.Terminal() {
		return nil, from, &governance.InvalidStateError{ItemID: item.ID, State: from, Op: "assign"}
	}
	if _, err := s.dir.GetOperator(ctx, operatorID, item.OrgID); err != nil {
		if errors.Is(err, governance.ErrNotFound) {
			return nil, from, &governance.PermissionDeniedError{OperatorID: operatorID, Reason: "not a member of organization " + item.OrgID}
		}
		return nil, from, fmt.Errorf("failed to look up operator: %w", err)
	}

	now := s.now().UTC()
	if from == governance.StatePending {
		item.State = governance.StateAssigned
	}
	item.Assignee = operatorID
	item.AssignedAt = &now
	item.UpdatedAt = now

	if err := s.update(ctx, item, from, "assign"); err != nil {
		return nil, from, err
	}

	s.logger.InfoContext(ctx, "item assigned", "org_id", item.OrgID, "item_id", item.ID, "assignee", operatorID, "state", item.State)
	s.record(ctx, item, operatorID, governance.ActivityItemAssigned, "assigned to "+operatorID,
		map[string]any{"assignee": operatorID, "from": string(from)})
	return item, from, nil
}

// Resolve closes an item with a human decision after checking that the
// operator may approve the proposal's risk level and domain. Resolving an
// already closed item succeeds without change when the decision matches
// and fails with an InvalidStateError otherwise.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*governance.QueueItem, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Resolve")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", req.OperatorID, req.ItemID)

	item, from, err := s.resolve(ctx, req)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetTransitionAttributes(span, string(from), string(item.State))
	return item, nil
}

func (s *Service) resolve(ctx context.Context, req ResolveRequest) (*governance.QueueItem, governance.State, error) {
	if req.OperatorID == "" {
		return nil, "", &governance.InvalidArgumentError{Field: "operator_id", Message: "is required"}
	}
	target := governance.Outcome(strings.ToUpper(string(req.Decision))).State()
	if target == "" {
		return nil, "", &governance.InvalidArgumentError{Field: "decision", Message: fmt.Sprintf("must be APPROVED or REJECTED, got %q", req.Decision)}
	}

	item, err := s.Get(ctx, req.ItemID)
	if err != nil {
		return nil, "", err
	}

	perm, err := s.dir.CanApproveProposal(ctx, req.OperatorID, item.OrgID, item.Proposal.RiskLevel, item.Proposal.Domain)
	if err != nil {
		return nil, item.State, fmt.Errorf("permission check failed: %w", err)
	}
	if !perm.Allowed {
		return nil, item.State, &governance.PermissionDeniedError{OperatorID: req.OperatorID, Reason: perm.Reason}
	}

	from := item.State
	if from.Terminal() {
		if from == target {
			return item, from, nil
		}
		return nil, from, &governance.InvalidStateError{ItemID: item.ID, State: from, Op: "resolve", Reason: "already closed with a different decision"}
	}

	if err := s.close(ctx, item, target, req.OperatorID, req.Notes, "resolve"); err != nil {
		return nil, from, err
	}

	if err := s.dir.RecordApproval(ctx, req.OperatorID, item.OrgID); err != nil {
		s.logger.WarnContext(ctx, "failed to record approval", "operator_id", req.OperatorID, "error", err)
	}
	return item, from, nil
}

// ApplyConsensus closes an item with a reached consensus outcome. It does
// not check permissions; the votes already carry them.
func (s *Service) ApplyConsensus(ctx context.Context, itemID string, result *governance.ConsensusResult) (*governance.QueueItem, error) {
	ctx, span := s.tracer.Start(ctx, "queue.ApplyConsensus")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", ResolverConsensus, itemID)

	if result == nil || !result.Reached {
		err := &governance.InvalidArgumentError{Field: "result", Message: "consensus not reached"}
		tracing.SetError(span, err)
		return nil, err
	}
	target := result.Outcome.State()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	from := item.State
	if from.Terminal() {
		if from == target {
			return item, nil
		}
		err := &governance.InvalidStateError{ItemID: item.ID, State: from, Op: "apply consensus to"}
		tracing.SetError(span, err)
		return nil, err
	}

	if err := s.close(ctx, item, target, ResolverConsensus, result.Reason, "apply consensus to"); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetTransitionAttributes(span, string(from), string(item.State))
	return item, nil
}

func (s *Service) close(ctx context.Context, item *governance.QueueItem, target governance.State, resolver, notes, op string) error {
	from := item.State
	now := s.now().UTC()
	item.State = target
	item.Resolver = resolver
	item.ResolutionNotes = notes
	item.ResolvedAt = &now
	item.UpdatedAt = now

	if err := s.update(ctx, item, from, op); err != nil {
		return err
	}

	latency := now.Sub(item.CreatedAt)
	s.metrics.RecordResolutionLatency(string(target), latency)
	s.logger.InfoContext(ctx, "item resolved",
		"org_id", item.OrgID,
		"item_id", item.ID,
		"state", target,
		"resolver", resolver,
		"latency", latency,
	)
	s.record(ctx, item, resolver, governance.ActivityItemResolved, fmt.Sprintf("%s by %s", target, resolver),
		map[string]any{"from": string(from), "to": string(target), "notes": notes})
	return nil
}

// Escalate moves a PENDING or ASSIGNED item to ESCALATED and assigns it to
// the highest-authority operator other than by.
func (s *Service) Escalate(ctx context.Context, itemID, by, reason string) (*governance.QueueItem, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Escalate")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", by, itemID)

	item, err := s.Get(ctx, itemID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	from := item.State
	if from != governance.StatePending && from != governance.StateAssigned {
		err := &governance.InvalidStateError{ItemID: item.ID, State: from, Op: "escalate"}
		tracing.SetError(span, err)
		return nil, err
	}

	target, err := s.escalationTarget(ctx, item.OrgID, by)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	now := s.now().UTC()
	item.State = governance.StateEscalated
	item.Assignee = target
	item.EscalationTarget = target
	item.EscalationReason = reason
	item.AssignedAt = &now
	item.UpdatedAt = now

	if err := s.update(ctx, item, from, "escalate"); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetTransitionAttributes(span, string(from), string(item.State))

	s.logger.InfoContext(ctx, "item escalated", "org_id", item.OrgID, "item_id", item.ID, "target", target, "by", by, "reason", reason)
	s.record(ctx, item, by, governance.ActivityItemEscalated, "escalated to "+target,
		map[string]any{"from": string(from), "target": target, "reason": reason})
	notify.Dispatch(ctx, s.notifier, s.logger, notify.Event{
		Type:       notify.EventEscalated,
		OrgID:      item.OrgID,
		ItemID:     item.ID,
		Recipients: []string{target},
		Summary:    reason,
		Details:    map[string]any{"escalated_by": by},
	})
	return item, nil
}

// escalationTarget picks the highest-authority OWNER or MANAGER in the
// organization, excluding exclude. Ties go to the lowest operator id.
func (s *Service) escalationTarget(ctx context.Context, orgID, exclude string) (string, error) {
	ops, err := s.dir.ListOperators(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("failed to list operators: %w", err)
	}
	var best *directory.Operator
	for _, op := range ops {
		if op.ID == exclude {
			continue
		}
		if op.Role != governance.RoleOwner && op.Role != governance.RoleManager {
			continue
		}
		if best == nil || op.Role.Authority() > best.Role.Authority() ||
			(op.Role.Authority() == best.Role.Authority() && op.ID < best.ID) {
			best = op
		}
	}
	if best == nil {
		return "", &governance.NoEscalationTargetError{OrgID: orgID}
	}
	return best.ID, nil
}

// ExpireStale moves every open item past its deadline to EXPIRED and
// returns how many it moved. Concurrent sweeps never expire an item twice.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "queue.ExpireStale")
	defer span.End()

	now := s.now().UTC()
	ids, err := s.store.ExpireItems(ctx, now)
	if err != nil {
		tracing.SetError(span, err)
		return 0, fmt.Errorf("expiry sweep failed: %w", err)
	}

	s.metrics.RecordExpirySweep(len(ids))
	for _, id := range ids {
		s.metrics.RecordQueueTransition("OPEN", string(governance.StateExpired))
		item, err := s.store.GetItem(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to read expired item", "item_id", id, "error", err)
			continue
		}
		s.metrics.RecordResolutionLatency(string(governance.StateExpired), now.Sub(item.CreatedAt))
		s.record(ctx, item, ResolverExpiry, governance.ActivityItemExpired, "review deadline passed",
			map[string]any{"expires_at": item.ExpiresAt})
	}

	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "expired stale items", "count", len(ids))
	}
	return len(ids), nil
}

func (s *Service) update(ctx context.Context, item *governance.QueueItem, from governance.State, op string) error {
	err := s.store.UpdateItem(ctx, item, from)
	if errors.Is(err, store.ErrStateConflict) {
		state := governance.State("")
		if current, getErr := s.store.GetItem(ctx, item.ID); getErr == nil {
			state = current.State
		}
		return &governance.InvalidStateError{ItemID: item.ID, State: state, Op: op, Reason: "item changed concurrently"}
	}
	if err != nil {
		return translate(err, item.ID)
	}
	s.metrics.RecordQueueTransition(string(from), string(item.State))
	return nil
}

func (s *Service) record(ctx context.Context, item *governance.QueueItem, actor, kind, summary string, details map[string]any) {
	err := s.recorder.Record(ctx, &governance.Activity{
		ID:        uuid.NewString(),
		OrgID:     item.OrgID,
		Actor:     actor,
		Kind:      kind,
		Subject:   item.ID,
		Summary:   summary,
		Details:   details,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record activity", "kind", kind, "item_id", item.ID, "error", err)
	}
}

func translate(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &governance.NotFoundError{Kind: "queue item", ID: id}
	}
	return err
}
