// Package guardrail implements the guardrail policy engine.
//
// Rules are grouped into policies. A policy is scoped to an organization,
// optionally to a domain and risk level, and assigned to roles. Each rule
// carries a condition set, an action and a priority:
//
//	policies:
//	  - id: finance
//	    domain: financial
//	    rules:
//	      - id: low-score
//	        conditions: ["operator_score < 50"]
//	        action: BLOCK
//	        priority: 100
//	      - id: quorum
//	        conditions: ["risk_level = HIGH"]
//	        action: REQUIRE_QUORUM
//	        params: {quorum_size: 3}
//	        priority: 50
//
// Conditions are a closed set of comparisons over a fixed context schema:
// numeric comparisons on operator_score and equality on domain, risk_level
// and sandbox. Malformed rules fail when the rule set is compiled.
//
// # Evaluation
//
// Candidate rules are consulted in descending priority. A matching rule may
// only move the decision along the restriction order
//
//	ALLOW < COACH < NOTIFY < SIMULATE < REQUIRE_QUORUM < ESCALATE < BLOCK
//
// and once BLOCK is reached the decision is final. Coaching rules add hints.
// When no rule is reachable the decision is ALLOW.
//
// # Validation
//
// ValidateRuleSet reports contradictory rules, rules shadowed by an earlier
// BLOCK, duplicate condition sets and likely lockouts.
package guardrail
