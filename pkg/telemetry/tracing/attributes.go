package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "gatekeeper.*" namespace.
const (
	AttrOrgID      = "gatekeeper.org_id"
	AttrOperatorID = "gatekeeper.operator_id"
	AttrItemID     = "gatekeeper.item_id"
	AttrProposalID = "gatekeeper.proposal_id"
	AttrDomain     = "gatekeeper.domain"
	AttrRiskLevel  = "gatekeeper.risk_level"

	AttrAction          = "gatekeeper.guardrail.action"
	AttrBlockingRule    = "gatekeeper.guardrail.blocking_rule"
	AttrRulesEvaluated  = "gatekeeper.guardrail.rules_evaluated"
	AttrRulesMatched    = "gatekeeper.guardrail.rules_matched"
	AttrRuleSetVersion  = "gatekeeper.guardrail.rule_set_version"
	AttrRequiresQuorum  = "gatekeeper.guardrail.requires_quorum"
	AttrFromState       = "gatekeeper.queue.from_state"
	AttrToState         = "gatekeeper.queue.to_state"
	AttrVoteValue       = "gatekeeper.vote.value"
	AttrVoteOverride    = "gatekeeper.vote.override"
	AttrConsensusResult = "gatekeeper.consensus.outcome"
	AttrConflictType    = "gatekeeper.conflict.type"
)

// SetSubjectAttributes records who acted on which item in which organization.
// Empty values are skipped.
func SetSubjectAttributes(span trace.Span, orgID, operatorID, itemID string) {
	var attrs []attribute.KeyValue
	if orgID != "" {
		attrs = append(attrs, attribute.String(AttrOrgID, orgID))
	}
	if operatorID != "" {
		attrs = append(attrs, attribute.String(AttrOperatorID, operatorID))
	}
	if itemID != "" {
		attrs = append(attrs, attribute.String(AttrItemID, itemID))
	}
	span.SetAttributes(attrs...)
}

// SetGuardrailAttributes records a guardrail decision on a span.
func SetGuardrailAttributes(span trace.Span, action, blockingRule string, evaluated, matched int, requiresQuorum bool, version string) {
	span.SetAttributes(
		attribute.String(AttrAction, action),
		attribute.Int(AttrRulesEvaluated, evaluated),
		attribute.Int(AttrRulesMatched, matched),
		attribute.Bool(AttrRequiresQuorum, requiresQuorum),
	)
	if blockingRule != "" {
		span.SetAttributes(attribute.String(AttrBlockingRule, blockingRule))
	}
	if version != "" {
		span.SetAttributes(attribute.String(AttrRuleSetVersion, version))
	}
}

// SetTransitionAttributes records a queue state transition.
func SetTransitionAttributes(span trace.Span, from, to string) {
	span.SetAttributes(
		attribute.String(AttrFromState, from),
		attribute.String(AttrToState, to),
	)
}

// AddEvent adds an event to a span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
