package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/governance"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for gatekeeper.

Besides subcommand names, the script completes the fixed values of
--risk, --value, --role, --decision, --state, --status, --type and --format.

Bash:
  $ source <(gatekeeper completion bash)
  # To load permanently:
  $ gatekeeper completion bash > /etc/bash_completion.d/gatekeeper

Zsh:
  $ gatekeeper completion zsh > "${fpath[1]}/_gatekeeper"
  $ compinit

Fish:
  $ gatekeeper completion fish > ~/.config/fish/completions/gatekeeper.fish

PowerShell:
  PS> gatekeeper completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return &governance.InvalidArgumentError{Field: "shell", Message: fmt.Sprintf("unsupported shell %q", args[0])}
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// Completion values, lower-cased the way the flags are usually typed.
var (
	riskCompletions     = lowered(governance.RiskLow, governance.RiskMedium, governance.RiskHigh)
	roleCompletions     = lowered(governance.RoleOwner, governance.RoleManager, governance.RoleAnalyst)
	voteCompletions     = lowered(governance.VoteApprove, governance.VoteReject, governance.VoteAbstain, governance.VoteDefer)
	decisionCompletions = lowered(governance.OutcomeApproved, governance.OutcomeRejected)
	stateCompletions    = lowered(governance.AllStates...)
	statusCompletions   = lowered(governance.ConflictOpen, governance.ConflictResolved)
	conflictCompletions = lowered(
		governance.ConflictDomainDispute,
		governance.ConflictConflictingVotes,
		governance.ConflictExpiredReview,
		governance.ConflictQuorumDeadlock,
		governance.ConflictAuthorityConflict,
	)
	formatCompletions = []string{"text", "json", "csv"}
)

func lowered[T ~string](values ...T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(string(v))
	}
	return out
}

// completeValues offers a fixed set of flag values and no file names.
func completeValues(values []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, v := range values {
			if strings.HasPrefix(v, strings.ToLower(toComplete)) {
				out = append(out, v)
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}
