// Package queue implements the approval queue: every proposal is evaluated
// against the guardrails on entry and then moves through a small state
// machine until it is approved, rejected, or expires.
//
// # States
//
//	PENDING ──assign──▶ ASSIGNED ──resolve──▶ APPROVED | REJECTED
//	   │                   │
//	   └──────escalate─────┴──▶ ESCALATED ──resolve──▶ APPROVED | REJECTED
//
// Any open item past its deadline is moved to EXPIRED by ExpireStale, which
// the Scheduler runs on a cron schedule. APPROVED, REJECTED and EXPIRED are
// terminal: no operation changes a terminal item.
//
// # Enqueue
//
// The guardrail verdict decides the initial state. BLOCK stores a REJECTED
// item naming the blocking rule, so a blocked proposal is still on record.
// ESCALATE stores an ESCALATED item assigned to the highest-authority
// operator. ALLOW without a quorum requirement stores an APPROVED item when
// auto-approval is enabled. Every other verdict stores a PENDING item.
//
// # Concurrency
//
// Transitions are conditional writes against the store, keyed on the state
// the service read. Of two racing transitions exactly one succeeds; the
// other returns an InvalidStateError describing the state it lost to.
package queue
