package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/queue"
	"mercator-hq/gatekeeper/pkg/store"
)

var queueFlags struct {
	org          string
	operator     string
	proposalID   string
	proposalFile string
	domain       string
	risk         string
	diff         string
	rationale    string
	priority     int
	ttl          time.Duration
	score        float64
	sandbox      bool

	states   []string
	assignee string
	limit    int

	decision string
	notes    string
	reason   string
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the approval queue",
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a proposal for review",
	Long: `Submit a proposal for review. Guardrails are evaluated first: a BLOCK
verdict stores a rejected item, an ESCALATE verdict routes the item to an
owner or manager, anything else leaves it pending.

Examples:
  # Submit a high-risk financial change made by bob
  gatekeeper queue enqueue --org acme --operator bob --proposal-id p-1 --domain financial --risk high

  # Submit a proposal described in a YAML file with a one hour deadline
  gatekeeper queue enqueue --org acme --operator bob --proposal-file proposal.yaml --ttl 1h`,
	RunE: enqueueItem,
}

var queueGetCmd = &cobra.Command{
	Use:   "get ITEM_ID",
	Short: "Show a queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.queue.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, itemView{item})
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	Long: `List queue items ordered by priority, then age.

Examples:
  # Everything waiting for review in acme
  gatekeeper queue list --org acme --state pending --state assigned

  # Items assigned to alice as CSV
  gatekeeper queue list --assignee alice -o csv`,
	RunE: listItems,
}

var queueAssignCmd = &cobra.Command{
	Use:   "assign ITEM_ID",
	Short: "Assign a queue item to an operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.queue.Assign(cmd.Context(), args[0], queueFlags.operator)
		if err != nil {
			return err
		}
		return render(cmd, itemView{item})
	},
}

var queueResolveCmd = &cobra.Command{
	Use:   "resolve ITEM_ID",
	Short: "Approve or reject a queue item",
	Long: `Approve or reject a queue item. The operator must be allowed to approve
the item's risk level and domain and must be within the daily limit.
Repeating the same decision on a resolved item succeeds without change.

Examples:
  gatekeeper queue resolve 3f2a... --operator alice --decision approved --notes "reviewed diff"
  gatekeeper queue resolve 3f2a... --operator alice --decision rejected`,
	Args: cobra.ExactArgs(1),
	RunE: resolveItem,
}

var queueEscalateCmd = &cobra.Command{
	Use:   "escalate ITEM_ID",
	Short: "Escalate a queue item to an owner or manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.queue.Escalate(cmd.Context(), args[0], queueFlags.operator, queueFlags.reason)
		if err != nil {
			return err
		}
		return render(cmd, itemView{item})
	},
}

var queueExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire every open item past its deadline",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.queue.ExpireStale(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd, expireView{Expired: n})
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts and latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.queue.Stats(cmd.Context(), queueFlags.org)
		if err != nil {
			return err
		}
		return render(cmd, statsView{st})
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(
		queueEnqueueCmd,
		queueGetCmd,
		queueListCmd,
		queueAssignCmd,
		queueResolveCmd,
		queueEscalateCmd,
		queueExpireCmd,
		queueStatsCmd,
	)

	f := queueEnqueueCmd.Flags()
	f.StringVar(&queueFlags.org, "org", "", "organization id (required)")
	f.StringVar(&queueFlags.operator, "operator", "", "operator who made the proposal")
	f.StringVar(&queueFlags.proposalID, "proposal-id", "", "proposal id")
	f.StringVar(&queueFlags.proposalFile, "proposal-file", "", "YAML file describing the proposal")
	f.StringVar(&queueFlags.domain, "domain", "", "proposal domain")
	f.StringVar(&queueFlags.risk, "risk", "", "risk level: low, medium, high")
	f.StringVar(&queueFlags.diff, "diff", "", "proposed change")
	f.StringVar(&queueFlags.rationale, "rationale", "", "why the change is proposed")
	f.IntVar(&queueFlags.priority, "priority", 0, "review priority; higher is reviewed first")
	f.DurationVar(&queueFlags.ttl, "ttl", 0, "review deadline; zero uses the configured default")
	f.Float64Var(&queueFlags.score, "score", -1, "operator reliability score (0-100); negative uses the directory")
	f.BoolVar(&queueFlags.sandbox, "sandbox", false, "the proposal targets a sandbox")
	_ = queueEnqueueCmd.MarkFlagRequired("org")
	_ = queueEnqueueCmd.RegisterFlagCompletionFunc("risk", completeValues(riskCompletions))

	l := queueListCmd.Flags()
	l.StringVar(&queueFlags.org, "org", "", "organization id")
	l.StringSliceVar(&queueFlags.states, "state", nil, "filter by state (repeatable)")
	l.StringVar(&queueFlags.assignee, "assignee", "", "filter by assignee")
	l.IntVar(&queueFlags.limit, "limit", 0, "maximum number of items")
	_ = queueListCmd.RegisterFlagCompletionFunc("state", completeValues(stateCompletions))

	queueAssignCmd.Flags().StringVar(&queueFlags.operator, "operator", "", "operator to assign (required)")
	_ = queueAssignCmd.MarkFlagRequired("operator")

	r := queueResolveCmd.Flags()
	r.StringVar(&queueFlags.operator, "operator", "", "resolving operator (required)")
	r.StringVar(&queueFlags.decision, "decision", "", "approved or rejected (required)")
	r.StringVar(&queueFlags.notes, "notes", "", "resolution notes")
	_ = queueResolveCmd.MarkFlagRequired("operator")
	_ = queueResolveCmd.MarkFlagRequired("decision")
	_ = queueResolveCmd.RegisterFlagCompletionFunc("decision", completeValues(decisionCompletions))

	e := queueEscalateCmd.Flags()
	e.StringVar(&queueFlags.operator, "operator", "", "operator escalating the item")
	e.StringVar(&queueFlags.reason, "reason", "", "why the item is escalated")

	queueStatsCmd.Flags().StringVar(&queueFlags.org, "org", "", "organization id (empty covers all)")
}

func enqueueItem(cmd *cobra.Command, args []string) error {
	proposal, err := proposalFromFlags()
	if err != nil {
		return err
	}

	a, err := setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := queue.EnqueueRequest{
		Proposal:   proposal,
		OrgID:      queueFlags.org,
		OperatorID: queueFlags.operator,
		Priority:   queueFlags.priority,
		TTL:        queueFlags.ttl,
		Sandbox:    queueFlags.sandbox,
	}
	if queueFlags.score >= 0 {
		score := queueFlags.score
		req.OperatorScore = &score
	}

	res, err := a.queue.Enqueue(cmd.Context(), req)
	if err != nil {
		return err
	}
	return render(cmd, enqueueView{res})
}

// proposalFromFlags reads --proposal-file when set; individual flags
// override fields from the file.
func proposalFromFlags() (governance.Proposal, error) {
	var p governance.Proposal
	if queueFlags.proposalFile != "" {
		data, err := os.ReadFile(queueFlags.proposalFile)
		if err != nil {
			return p, fmt.Errorf("failed to read proposal file: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, &governance.InvalidArgumentError{Field: "proposal-file", Message: err.Error()}
		}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.ID, queueFlags.proposalID)
	set(&p.Domain, queueFlags.domain)
	set(&p.Diff, queueFlags.diff)
	set(&p.Rationale, queueFlags.rationale)
	set(&p.Proposer, queueFlags.operator)
	if queueFlags.risk != "" {
		p.RiskLevel = governance.RiskLevel(queueFlags.risk)
	}
	return p, nil
}

func listItems(cmd *cobra.Command, args []string) error {
	filter := store.ItemFilter{
		OrgID:    queueFlags.org,
		Assignee: queueFlags.assignee,
		Limit:    queueFlags.limit,
	}
	for _, s := range queueFlags.states {
		state, err := parseState(s)
		if err != nil {
			return err
		}
		filter.States = append(filter.States, state)
	}

	a, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.queue.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return render(cmd, itemList(items))
}

func resolveItem(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.queue.Resolve(cmd.Context(), queue.ResolveRequest{
		ItemID:     args[0],
		OperatorID: queueFlags.operator,
		Decision:   governance.Outcome(queueFlags.decision),
		Notes:      queueFlags.notes,
	})
	if err != nil {
		return err
	}
	return render(cmd, itemView{item})
}

func parseState(s string) (governance.State, error) {
	want := governance.State(strings.ToUpper(strings.TrimSpace(s)))
	for _, state := range governance.AllStates {
		if state == want {
			return state, nil
		}
	}
	return "", &governance.InvalidArgumentError{Field: "state", Message: fmt.Sprintf("unknown state %q", s)}
}
