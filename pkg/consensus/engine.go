package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/notify"
	"mercator-hq/gatekeeper/pkg/store"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Applier resolves a queue item from a reached consensus.
type Applier interface {
	ApplyConsensus(ctx context.Context, itemID string, result *governance.ConsensusResult) (*governance.QueueItem, error)
}

// RoleDirectory confirms a voter's role in an organization.
type RoleDirectory interface {
	// OperatorRole returns governance.ErrNotFound for unknown operators.
	OperatorRole(ctx context.Context, operatorID, orgID string) (governance.Role, error)
}

// CastRequest is a single vote.
type CastRequest struct {
	ItemID     string
	VoterID    string
	Role       governance.Role
	Value      governance.VoteValue
	Reason     string
	IsOverride bool
}

// ReportRequest raises a conflict that detection cannot infer, such as a
// domain dispute.
type ReportRequest struct {
	ItemID      string
	Type        governance.ConflictType
	Description string
	ReportedBy  string
	Voters      []string
}

// Engine collects weighted votes, computes consensus and tracks conflicts.
// All state lives in the store; the engine keeps none between calls.
type Engine struct {
	config   *Config
	store    store.Store
	applier  Applier
	dir      RoleDirectory
	recorder governance.Recorder
	notifier notify.Notifier
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithApplier hands reached outcomes to the queue when AutoApply is set.
func WithApplier(a Applier) Option {
	return func(e *Engine) { e.applier = a }
}

// WithDirectory checks each voter's claimed role against the directory.
func WithDirectory(d RoleDirectory) Option {
	return func(e *Engine) { e.dir = d }
}

// WithRecorder writes votes, consensus and conflicts to the activity log.
func WithRecorder(r governance.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithNotifier announces reached consensus and new conflicts.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics records vote, consensus and conflict metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer wraps operations in spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a consensus engine.
func NewEngine(cfg *Config, st store.Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:   cfg,
		store:    st,
		recorder: governance.NopRecorder{},
		logger:   logger.With("component", "consensus"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CastVote records a vote, replacing any earlier vote by the same voter,
// then recomputes consensus from a fresh snapshot. Conflict detection and
// the activity log are best-effort and never fail the vote.
func (e *Engine) CastVote(ctx context.Context, req CastRequest) (*governance.Vote, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.CastVote")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", req.VoterID, req.ItemID)

	vote, item, err := e.castVote(ctx, req)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	e.metrics.RecordVote(string(vote.Role), string(vote.Value), vote.IsOverride)
	e.logger.InfoContext(ctx, "vote cast",
		"org_id", item.OrgID,
		"item_id", item.ID,
		"voter_id", vote.VoterID,
		"role", vote.Role,
		"value", vote.Value,
		"weight", vote.Weight,
		"override", vote.IsOverride,
	)
	e.record(ctx, item.OrgID, vote.VoterID, governance.ActivityVoteCast, item.ID,
		fmt.Sprintf("%s voted %s", vote.VoterID, vote.Value),
		map[string]any{
			"role":        string(vote.Role),
			"value":       string(vote.Value),
			"weight":      vote.Weight,
			"is_override": vote.IsOverride,
			"reason":      vote.Reason,
		})

	votes, err := e.store.ListVotes(ctx, item.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read votes after cast", "item_id", item.ID, "error", err)
		return vote, nil
	}
	q, _ := e.quorumFor(item)
	result := Tally(item.ID, votes, q)
	e.metrics.RecordConsensus(outcomeLabel(result))

	if result.Reached {
		e.onReached(ctx, item, result)
	}
	if _, err := e.detectAndStore(ctx, item, votes, result); err != nil {
		e.logger.WarnContext(ctx, "conflict detection failed", "item_id", item.ID, "error", err)
	}

	return vote, nil
}

func (e *Engine) castVote(ctx context.Context, req CastRequest) (*governance.Vote, *governance.QueueItem, error) {
	if req.ItemID == "" {
		return nil, nil, &governance.InvalidArgumentError{Field: "item_id", Message: "is required"}
	}
	if req.VoterID == "" {
		return nil, nil, &governance.InvalidArgumentError{Field: "voter_id", Message: "is required"}
	}
	role, err := governance.ParseRole(string(req.Role))
	if err != nil {
		return nil, nil, &governance.InvalidArgumentError{Field: "role", Message: err.Error()}
	}
	value, err := governance.ParseVoteValue(string(req.Value))
	if err != nil {
		return nil, nil, &governance.InvalidArgumentError{Field: "value", Message: err.Error()}
	}

	if role == governance.RoleAnalyst && value != governance.VoteAbstain {
		return nil, nil, &governance.RoleNotEligibleError{VoterID: req.VoterID, Role: role, Value: value}
	}
	if req.IsOverride {
		if role != governance.RoleOwner {
			return nil, nil, &governance.PermissionDeniedError{OperatorID: req.VoterID, Reason: "only owners may override"}
		}
		if !value.Binding() {
			return nil, nil, &governance.InvalidArgumentError{Field: "value", Message: "override must approve or reject"}
		}
	}

	item, err := e.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, nil, translate(err, "queue item", req.ItemID)
	}
	if item.State.Terminal() {
		return nil, nil, &governance.InvalidStateError{ItemID: item.ID, State: item.State, Op: "vote on"}
	}
	if err := e.checkRole(ctx, req.VoterID, item.OrgID, role); err != nil {
		return nil, nil, err
	}
	if _, err := e.quorumFor(item); err != nil {
		return nil, nil, err
	}

	weights := e.config.WeightsFor(item.OrgID)
	weight := 0
	switch {
	case req.IsOverride:
		weight = weights.Override
	case value.Binding():
		weight = weights.For(role)
	}

	vote := &governance.Vote{
		ID:         uuid.NewString(),
		ItemID:     item.ID,
		VoterID:    req.VoterID,
		Role:       role,
		Value:      value,
		Weight:     weight,
		Reason:     req.Reason,
		IsOverride: req.IsOverride,
		CastAt:     e.now().UTC(),
	}

	stored, err := e.store.UpsertVote(ctx, vote)
	if errors.Is(err, store.ErrStateConflict) {
		// The item reached a terminal state after it was read.
		state := governance.State("")
		if current, getErr := e.store.GetItem(ctx, item.ID); getErr == nil {
			state = current.State
		}
		return nil, nil, &governance.InvalidStateError{ItemID: item.ID, State: state, Op: "vote on"}
	}
	if err != nil {
		return nil, nil, translate(err, "queue item", item.ID)
	}
	return stored, item, nil
}

// quorumFor returns the thresholds for item. A quorum size required by the
// guardrail raises the minimum vote count of the configured rule.
func (e *Engine) quorumFor(item *governance.QueueItem) (QuorumRule, error) {
	q, err := e.config.QuorumFor(item.OrgID, item.Proposal.RiskLevel)
	if err != nil {
		return q, err
	}
	if item.RequiresQuorum && item.QuorumSize > q.MinVotes {
		q.MinVotes = item.QuorumSize
	}
	return q, nil
}

func (e *Engine) checkRole(ctx context.Context, voterID, orgID string, claimed governance.Role) error {
	if e.dir == nil {
		return nil
	}
	role, err := e.dir.OperatorRole(ctx, voterID, orgID)
	if errors.Is(err, governance.ErrNotFound) {
		return &governance.PermissionDeniedError{OperatorID: voterID, Reason: "not a member of organization " + orgID}
	}
	if err != nil {
		return fmt.Errorf("failed to resolve voter role: %w", err)
	}
	if role != claimed {
		return &governance.PermissionDeniedError{OperatorID: voterID, Reason: fmt.Sprintf("voter holds role %s, not %s", role, claimed)}
	}
	return nil
}

func (e *Engine) onReached(ctx context.Context, item *governance.QueueItem, result *governance.ConsensusResult) {
	e.logger.InfoContext(ctx, "consensus reached",
		"org_id", item.OrgID,
		"item_id", item.ID,
		"outcome", result.Outcome,
		"approve_weight", result.ApproveWeight,
		"reject_weight", result.RejectWeight,
		"override", result.OverrideUsed,
	)
	e.record(ctx, item.OrgID, "consensus", governance.ActivityConsensusReached, item.ID,
		fmt.Sprintf("consensus reached: %s", result.Outcome),
		map[string]any{
			"outcome":        string(result.Outcome),
			"approve_weight": result.ApproveWeight,
			"reject_weight":  result.RejectWeight,
			"quorum_votes":   result.QuorumVotes,
			"override_used":  result.OverrideUsed,
			"reason":         result.Reason,
		})
	notify.Dispatch(ctx, e.notifier, e.logger, notify.Event{
		Type:    notify.EventConsensusReached,
		OrgID:   item.OrgID,
		ItemID:  item.ID,
		Summary: result.Reason,
		Details: map[string]any{"outcome": string(result.Outcome)},
	})

	if !e.config.AutoApply || e.applier == nil {
		return
	}
	if _, err := e.applier.ApplyConsensus(ctx, item.ID, result); err != nil {
		if errors.Is(err, governance.ErrInvalidState) {
			e.logger.DebugContext(ctx, "consensus outcome already applied", "item_id", item.ID, "error", err)
			return
		}
		e.logger.ErrorContext(ctx, "failed to apply consensus", "item_id", item.ID, "error", err)
	}
}

// CheckConsensus computes the consensus for an item from a single snapshot
// of its votes.
func (e *Engine) CheckConsensus(ctx context.Context, itemID string) (*governance.ConsensusResult, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.CheckConsensus")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", "", itemID)

	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		err = translate(err, "queue item", itemID)
		tracing.SetError(span, err)
		return nil, err
	}
	q, err := e.quorumFor(item)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	votes, err := e.store.ListVotes(ctx, itemID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	result := Tally(itemID, votes, q)
	e.metrics.RecordConsensus(outcomeLabel(result))
	return result, nil
}

// DetectConflicts evaluates every conflict condition for an item and opens
// or refreshes one OPEN conflict per detected type. Conflicts whose
// condition no longer holds stay open until resolved.
func (e *Engine) DetectConflicts(ctx context.Context, itemID string) ([]*governance.Conflict, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.DetectConflicts")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", "", itemID)

	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		err = translate(err, "queue item", itemID)
		tracing.SetError(span, err)
		return nil, err
	}
	q, err := e.quorumFor(item)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	votes, err := e.store.ListVotes(ctx, itemID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	conflicts, err := e.detectAndStore(ctx, item, votes, Tally(itemID, votes, q))
	if err != nil {
		tracing.SetError(span, err)
	}
	return conflicts, err
}

func (e *Engine) detectAndStore(ctx context.Context, item *governance.QueueItem, votes []*governance.Vote, result *governance.ConsensusResult) ([]*governance.Conflict, error) {
	findings := detect(item, votes, result, e.now())
	out := make([]*governance.Conflict, 0, len(findings))
	var errs []error
	for _, f := range findings {
		c, err := e.openConflict(ctx, item, f, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

func (e *Engine) openConflict(ctx context.Context, item *governance.QueueItem, f finding, actor string) (*governance.Conflict, error) {
	now := e.now().UTC()
	stored, created, err := e.store.UpsertConflict(ctx, &governance.Conflict{
		ID:             uuid.NewString(),
		ItemID:         item.ID,
		OrgID:          item.OrgID,
		Type:           f.Type,
		Description:    f.Description,
		AffectedVoters: f.Voters,
		Status:         governance.ConflictOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store %s conflict: %w", f.Type, err)
	}
	if !created {
		return stored, nil
	}

	e.metrics.RecordConflictOpened(string(f.Type))
	e.logger.WarnContext(ctx, "conflict opened",
		"org_id", item.OrgID,
		"item_id", item.ID,
		"conflict_id", stored.ID,
		"type", f.Type,
		"voters", f.Voters,
	)
	if actor == "" {
		actor = "consensus"
	}
	e.record(ctx, item.OrgID, actor, governance.ActivityConflictOpened, item.ID, f.Description,
		map[string]any{
			"conflict_id": stored.ID,
			"type":        string(f.Type),
			"voters":      f.Voters,
		})
	notify.Dispatch(ctx, e.notifier, e.logger, notify.Event{
		Type:    notify.EventConflictOpened,
		OrgID:   item.OrgID,
		ItemID:  item.ID,
		Summary: fmt.Sprintf("%s: %s", f.Type, f.Description),
		Details: map[string]any{"conflict_id": stored.ID, "type": string(f.Type)},
	})
	return stored, nil
}

// ReportConflict opens a conflict raised by an operator. Reporting a type
// that is already open returns the existing conflict.
func (e *Engine) ReportConflict(ctx context.Context, req ReportRequest) (*governance.Conflict, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.ReportConflict")
	defer span.End()
	tracing.SetSubjectAttributes(span, "", req.ReportedBy, req.ItemID)

	if req.ReportedBy == "" {
		return nil, &governance.InvalidArgumentError{Field: "reported_by", Message: "is required"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, &governance.InvalidArgumentError{Field: "description", Message: "is required"}
	}
	if _, err := governance.ParseConflictType(string(req.Type)); err != nil {
		return nil, &governance.InvalidArgumentError{Field: "type", Message: err.Error()}
	}

	item, err := e.store.GetItem(ctx, req.ItemID)
	if err != nil {
		err = translate(err, "queue item", req.ItemID)
		tracing.SetError(span, err)
		return nil, err
	}
	if item.State.Terminal() {
		return nil, &governance.InvalidStateError{ItemID: item.ID, State: item.State, Op: "report conflict on"}
	}

	voters := append([]string(nil), req.Voters...)
	if len(voters) == 0 {
		voters = []string{req.ReportedBy}
	}
	c, err := e.openConflict(ctx, item, finding{
		Type:        governance.ConflictType(strings.ToUpper(string(req.Type))),
		Description: req.Description,
		Voters:      voters,
	}, req.ReportedBy)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	return c, nil
}

// ResolveConflict closes an OPEN conflict. Resolving a closed conflict fails
// with an InvalidStateError.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, resolver, resolution string) (*governance.Conflict, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.ResolveConflict")
	defer span.End()

	if resolver == "" {
		return nil, &governance.InvalidArgumentError{Field: "resolver", Message: "is required"}
	}

	c, err := e.store.ResolveConflict(ctx, conflictID, resolver, resolution, e.now().UTC())
	if errors.Is(err, store.ErrStateConflict) {
		err = &governance.InvalidStateError{
			ItemID: conflictID,
			State:  governance.State(governance.ConflictResolved),
			Op:     "resolve conflict",
			Reason: "conflict is already resolved",
		}
	} else if err != nil {
		err = translate(err, "conflict", conflictID)
	}
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	tracing.SetSubjectAttributes(span, c.OrgID, resolver, c.ItemID)

	e.metrics.RecordConflictResolved(string(c.Type))
	e.logger.InfoContext(ctx, "conflict resolved",
		"org_id", c.OrgID,
		"item_id", c.ItemID,
		"conflict_id", c.ID,
		"type", c.Type,
		"resolver", resolver,
	)
	e.record(ctx, c.OrgID, resolver, governance.ActivityConflictResolved, c.ItemID,
		fmt.Sprintf("%s conflict resolved by %s", c.Type, resolver),
		map[string]any{
			"conflict_id": c.ID,
			"type":        string(c.Type),
			"resolution":  resolution,
		})
	return c, nil
}

// ListConflicts returns an item's conflicts. An empty status matches all.
func (e *Engine) ListConflicts(ctx context.Context, itemID string, status governance.ConflictStatus) ([]*governance.Conflict, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, translate(err, "queue item", itemID)
	}
	conflicts, err := e.store.ListConflicts(ctx, itemID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return conflicts, nil
}

func (e *Engine) record(ctx context.Context, orgID, actor, kind, subject, summary string, details map[string]any) {
	err := e.recorder.Record(ctx, &governance.Activity{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Actor:     actor,
		Kind:      kind,
		Subject:   subject,
		Summary:   summary,
		Details:   details,
		Timestamp: e.now().UTC(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to record activity", "kind", kind, "subject", subject, "error", err)
	}
}

func outcomeLabel(r *governance.ConsensusResult) string {
	if !r.Reached {
		return "NONE"
	}
	return string(r.Outcome)
}

func translate(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &governance.NotFoundError{Kind: kind, ID: id}
	}
	return err
}
