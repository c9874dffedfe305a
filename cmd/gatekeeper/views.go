package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/guardrail"
	"mercator-hq/gatekeeper/pkg/queue"
)

// Views wrap domain values so text and CSV output stay readable while JSON
// output is the value itself.

type itemView struct {
	*governance.QueueItem
}

func (v itemView) RenderText(w io.Writer) error {
	i := v.QueueItem
	fmt.Fprintf(w, "Item:      %s\n", i.ID)
	fmt.Fprintf(w, "Org:       %s\n", i.OrgID)
	fmt.Fprintf(w, "Proposal:  %s (%s, %s risk)\n", i.Proposal.ID, i.Proposal.Domain, i.Proposal.RiskLevel)
	fmt.Fprintf(w, "State:     %s\n", i.State)
	fmt.Fprintf(w, "Priority:  %d\n", i.Priority)
	fmt.Fprintf(w, "Guardrail: %s", i.GuardrailAction)
	if i.RequiresQuorum {
		fmt.Fprintf(w, " (quorum %d)", i.QuorumSize)
	}
	if i.SandboxOnly {
		fmt.Fprint(w, " (sandbox only)")
	}
	fmt.Fprintln(w)
	if i.Assignee != "" {
		fmt.Fprintf(w, "Assignee:  %s\n", i.Assignee)
	}
	if i.EscalationTarget != "" {
		fmt.Fprintf(w, "Escalated: %s (%s)\n", i.EscalationTarget, i.EscalationReason)
	}
	fmt.Fprintf(w, "Expires:   %s\n", i.ExpiresAt.Format(time.RFC3339))
	if i.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved:  %s by %s\n", i.ResolvedAt.Format(time.RFC3339), i.Resolver)
		if i.ResolutionNotes != "" {
			fmt.Fprintf(w, "Notes:     %s\n", i.ResolutionNotes)
		}
	}
	return nil
}

type itemList []*governance.QueueItem

func (l itemList) Header() []string {
	return []string{"ID", "ORG", "STATE", "PRIORITY", "RISK", "DOMAIN", "ASSIGNEE", "EXPIRES"}
}

func (l itemList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, i := range l {
		rows = append(rows, []string{
			i.ID,
			i.OrgID,
			string(i.State),
			strconv.Itoa(i.Priority),
			string(i.Proposal.RiskLevel),
			i.Proposal.Domain,
			i.Assignee,
			i.ExpiresAt.Format(time.RFC3339),
		})
	}
	return rows
}

type enqueueView struct {
	*queue.EnqueueResult
}

func (v enqueueView) RenderText(w io.Writer) error {
	if err := (decisionView{v.Decision}).RenderText(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return itemView{v.Item}.RenderText(w)
}

type decisionView struct {
	*guardrail.Decision
}

func (v decisionView) RenderText(w io.Writer) error {
	d := v.Decision
	fmt.Fprintf(w, "Action:    %s\n", d.Action)
	if d.Blocked() {
		fmt.Fprintf(w, "Blocked:   %s (%s) %s\n", d.BlockingRuleName, d.BlockingRuleID, d.BlockingMessage)
	}
	if d.RequiresQuorum {
		fmt.Fprintf(w, "Quorum:    %d\n", d.QuorumSize)
	}
	if d.SandboxOnly {
		fmt.Fprintln(w, "Sandbox:   required")
	}
	if d.EscalationReason != "" {
		fmt.Fprintf(w, "Escalate:  %s\n", d.EscalationReason)
	}
	fmt.Fprintf(w, "Evaluated: %s\n", joinOrNone(d.EvaluatedRuleIDs))
	fmt.Fprintf(w, "Matched:   %s\n", joinOrNone(d.MatchedRuleIDs))
	for _, h := range d.CoachingHints {
		fmt.Fprintf(w, "Hint:      [%s] %s (%s)\n", h.Severity, h.Message, h.RuleID)
	}
	if d.RuleSetVersion != "" {
		fmt.Fprintf(w, "Rules:     %s\n", d.RuleSetVersion)
	}
	return nil
}

type reportView struct {
	*guardrail.ValidationReport
}

func (v reportView) RenderText(w io.Writer) error {
	r := v.ValidationReport
	if r.IsValid {
		fmt.Fprintf(w, "✓ Guardrails for %s are consistent\n", orgLabel(r.OrgID))
	} else {
		fmt.Fprintf(w, "✗ Guardrails for %s have %d conflict(s)\n", orgLabel(r.OrgID), len(r.Conflicts))
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "  conflict: %s (%s) vs %s (%s) when %s\n",
			c.First.RuleID, c.First.Action, c.Second.RuleID, c.Second.Action, c.Conditions)
	}
	for _, u := range r.UnreachableRules {
		fmt.Fprintf(w, "  unreachable: %s shadowed by %s\n", u.Rule.RuleID, u.ShadowedBy.RuleID)
	}
	for _, d := range r.DuplicateConditions {
		ids := make([]string, 0, len(d.Rules))
		for _, ref := range d.Rules {
			ids = append(ids, ref.RuleID)
		}
		fmt.Fprintf(w, "  duplicate conditions: %s\n", strings.Join(ids, ", "))
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}

type voteView struct {
	*governance.Vote
}

func (v voteView) RenderText(w io.Writer) error {
	override := ""
	if v.IsOverride {
		override = " (override)"
	}
	_, err := fmt.Fprintf(w, "✓ %s voted %s as %s with weight %d%s on %s\n",
		v.VoterID, v.Value, v.Role, v.Weight, override, v.ItemID)
	return err
}

type consensusView struct {
	*governance.ConsensusResult
}

func (v consensusView) RenderText(w io.Writer) error {
	r := v.ConsensusResult
	if r.Reached {
		fmt.Fprintf(w, "Consensus: %s\n", r.Outcome)
	} else {
		fmt.Fprintln(w, "Consensus: not reached")
	}
	fmt.Fprintf(w, "Weights:   approve %d, reject %d\n", r.ApproveWeight, r.RejectWeight)
	fmt.Fprintf(w, "Votes:     %d counted of %d\n", r.QuorumVotes, r.TotalVotes)
	if !r.Reached {
		fmt.Fprintf(w, "Missing:   %d vote(s), %d weight\n", r.RemainingVotes, r.RemainingWeight)
	}
	fmt.Fprintf(w, "Reason:    %s\n", r.Reason)
	return nil
}

type conflictList []*governance.Conflict

func (l conflictList) Header() []string {
	return []string{"ID", "ITEM", "TYPE", "STATUS", "VOTERS", "DESCRIPTION"}
}

func (l conflictList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{
			c.ID,
			c.ItemID,
			string(c.Type),
			string(c.Status),
			strings.Join(c.AffectedVoters, ","),
			c.Description,
		})
	}
	return rows
}

type conflictView struct {
	*governance.Conflict
}

func (v conflictView) RenderText(w io.Writer) error {
	c := v.Conflict
	fmt.Fprintf(w, "Conflict:  %s\n", c.ID)
	fmt.Fprintf(w, "Item:      %s\n", c.ItemID)
	fmt.Fprintf(w, "Type:      %s\n", c.Type)
	fmt.Fprintf(w, "Status:    %s\n", c.Status)
	fmt.Fprintf(w, "Voters:    %s\n", joinOrNone(c.AffectedVoters))
	fmt.Fprintf(w, "Details:   %s\n", c.Description)
	if c.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved:  %s by %s: %s\n", c.ResolvedAt.Format(time.RFC3339), c.ResolvedBy, c.Resolution)
	}
	return nil
}

type statsView struct {
	*queue.Stats
}

func (v statsView) RenderText(w io.Writer) error {
	s := v.Stats
	fmt.Fprintf(w, "Organization: %s\n", orgLabel(s.OrgID))
	fmt.Fprintf(w, "Total items:  %d\n", s.Total)
	for _, state := range governance.AllStates {
		fmt.Fprintf(w, "  %-10s %d\n", state, s.ByState[state])
	}
	fmt.Fprintf(w, "Mean resolution latency: %s\n", s.MeanResolutionLatency.Round(time.Second))
	fmt.Fprintf(w, "Oldest open item age:    %s\n", s.OldestPendingAge.Round(time.Second))
	return nil
}

type verifyView struct {
	*audit.VerifyResult
}

func (v verifyView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ Activity chain intact: %d entries, head %d (%s)\n",
		v.Entries, v.HeadSeq, shortHash(v.HeadHash))
	return err
}

type activityList []*governance.Activity

func (l activityList) Header() []string {
	return []string{"SEQ", "TIME", "ORG", "ACTOR", "KIND", "SUBJECT", "SUMMARY", "HASH"}
}

func (l activityList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			strconv.FormatInt(e.Sequence, 10),
			e.Timestamp.Format(time.RFC3339),
			e.OrgID,
			e.Actor,
			e.Kind,
			e.Subject,
			e.Summary,
			shortHash(e.Hash),
		})
	}
	return rows
}

type expireView struct {
	Expired int `json:"expired"`
}

func (v expireView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ Expired %d item(s)\n", v.Expired)
	return err
}

func joinOrNone(ss []string) string {
	if len(ss) == 0 {
		return "none"
	}
	return strings.Join(ss, ", ")
}

func orgLabel(org string) string {
	if org == "" {
		return "all organizations"
	}
	return org
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "empty"
	}
	return h
}
