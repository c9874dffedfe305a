package main

import (
	"errors"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/consensus"
	"mercator-hq/gatekeeper/pkg/governance"
)

var voteFlags struct {
	voter    string
	role     string
	value    string
	reason   string
	override bool
}

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Cast votes and check consensus",
}

var voteCastCmd = &cobra.Command{
	Use:   "cast ITEM_ID",
	Short: "Cast or replace a vote on a queue item",
	Long: `Cast a weighted vote on a queue item. A later vote by the same voter
replaces the earlier one. When the vote completes the quorum, the item is
resolved with the consensus outcome.

The voter's role is read from the operator directory unless --role is given,
in which case it must match the directory.

Examples:
  gatekeeper vote cast 3f2a... --voter alice --value approve
  gatekeeper vote cast 3f2a... --voter alice --value reject --override --reason "policy breach"`,
	Args: cobra.ExactArgs(1),
	RunE: castVote,
}

var voteConsensusCmd = &cobra.Command{
	Use:   "consensus ITEM_ID",
	Short: "Compute the current consensus for a queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.consensus.CheckConsensus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, consensusView{result})
	},
}

func init() {
	rootCmd.AddCommand(voteCmd)
	voteCmd.AddCommand(voteCastCmd, voteConsensusCmd)

	f := voteCastCmd.Flags()
	f.StringVar(&voteFlags.voter, "voter", "", "voting operator (required)")
	f.StringVar(&voteFlags.role, "role", "", "voter role; defaults to the directory role")
	f.StringVar(&voteFlags.value, "value", "", "approve, reject, abstain or defer (required)")
	f.StringVar(&voteFlags.reason, "reason", "", "reason for the vote")
	f.BoolVar(&voteFlags.override, "override", false, "owner override that decides the outcome")
	_ = voteCastCmd.MarkFlagRequired("voter")
	_ = voteCastCmd.MarkFlagRequired("value")
	_ = voteCastCmd.RegisterFlagCompletionFunc("role", completeValues(roleCompletions))
	_ = voteCastCmd.RegisterFlagCompletionFunc("value", completeValues(voteCompletions))
}

func castVote(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	role := governance.Role(voteFlags.role)
	if role == "" {
		item, err := a.queue.Get(ctx, args[0])
		if err != nil {
			return err
		}
		role, err = a.dir.OperatorRole(ctx, voteFlags.voter, item.OrgID)
		if errors.Is(err, governance.ErrNotFound) {
			return &governance.PermissionDeniedError{OperatorID: voteFlags.voter, Reason: "not a member of organization " + item.OrgID}
		}
		if err != nil {
			return err
		}
	}

	vote, err := a.consensus.CastVote(ctx, consensus.CastRequest{
		ItemID:     args[0],
		VoterID:    voteFlags.voter,
		Role:       role,
		Value:      governance.VoteValue(voteFlags.value),
		Reason:     voteFlags.reason,
		IsOverride: voteFlags.override,
	})
	if err != nil {
		return err
	}
	return render(cmd, voteView{vote})
}
