package main

import (
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/consensus"
	"mercator-hq/gatekeeper/pkg/governance"
)

var conflictFlags struct {
	status      string
	resolver    string
	resolution  string
	kind        string
	description string
	reporter    string
	voters      []string
}

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Inspect and resolve voting conflicts",
}

var conflictListCmd = &cobra.Command{
	Use:   "list ITEM_ID",
	Short: "List conflicts on a queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := governance.ConflictStatus(strings.ToUpper(conflictFlags.status))
		switch status {
		case "", governance.ConflictOpen, governance.ConflictResolved:
		default:
			return &governance.InvalidArgumentError{Field: "status", Message: "must be open or resolved"}
		}

		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.consensus.ListConflicts(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		return render(cmd, conflictList(conflicts))
	},
}

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve CONFLICT_ID",
	Short: "Mark a conflict resolved",
	Long: `Mark an open conflict resolved. Conflicts never resolve themselves,
even after the item they were raised on is closed.

Examples:
  gatekeeper conflict resolve 81c0... --resolver alice --resolution "discussed, approve stands"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.consensus.ResolveConflict(cmd.Context(), args[0], conflictFlags.resolver, conflictFlags.resolution)
		if err != nil {
			return err
		}
		return render(cmd, conflictView{c})
	},
}

var conflictReportCmd = &cobra.Command{
	Use:   "report ITEM_ID",
	Short: "Report a conflict that detection cannot infer",
	Long: `Report a conflict on an open queue item, such as a dispute over which
domain a proposal belongs to. Reporting a type that is already open returns
the existing conflict.

Examples:
  gatekeeper conflict report 3f2a... --type domain_dispute --reporter bob \
    --description "this is a legal change, not financial"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.consensus.ReportConflict(cmd.Context(), consensus.ReportRequest{
			ItemID:      args[0],
			Type:        governance.ConflictType(conflictFlags.kind),
			Description: conflictFlags.description,
			ReportedBy:  conflictFlags.reporter,
			Voters:      conflictFlags.voters,
		})
		if err != nil {
			return err
		}
		return render(cmd, conflictView{c})
	},
}

func init() {
	rootCmd.AddCommand(conflictCmd)
	conflictCmd.AddCommand(conflictListCmd, conflictResolveCmd, conflictReportCmd)

	conflictListCmd.Flags().StringVar(&conflictFlags.status, "status", "", "filter by status: open, resolved")
	_ = conflictListCmd.RegisterFlagCompletionFunc("status", completeValues(statusCompletions))

	r := conflictResolveCmd.Flags()
	r.StringVar(&conflictFlags.resolver, "resolver", "", "operator resolving the conflict (required)")
	r.StringVar(&conflictFlags.resolution, "resolution", "", "how the conflict was settled")
	_ = conflictResolveCmd.MarkFlagRequired("resolver")

	p := conflictReportCmd.Flags()
	p.StringVar(&conflictFlags.kind, "type", "domain_dispute", "conflict type")
	p.StringVar(&conflictFlags.description, "description", "", "what the conflict is about (required)")
	p.StringVar(&conflictFlags.reporter, "reporter", "", "reporting operator (required)")
	p.StringSliceVar(&conflictFlags.voters, "voter", nil, "affected voter (repeatable); defaults to the reporter")
	_ = conflictReportCmd.MarkFlagRequired("description")
	_ = conflictReportCmd.MarkFlagRequired("reporter")
	_ = conflictReportCmd.RegisterFlagCompletionFunc("type", completeValues(conflictCompletions))
}
