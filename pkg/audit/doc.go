// Package audit records the activity log.
//
// Every queue transition, vote and conflict event is written as a
// governance.Activity. Writes happen on a background worker so a slow or
// failing store never blocks or fails the operation that produced the
// entry. The worker numbers entries and links each one to its predecessor:
//
//	Hash = sha256(JCS(entry without Hash))
//	PrevHash = Hash of the entry with Sequence-1
//
// Verify recomputes the chain, so an edited, removed or reordered entry is
// detected.
package audit
