package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/governance"
)

var auditFlags struct {
	org   string
	limit int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the activity log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the activity hash chain",
	Long: `Walk the activity log in sequence order and check that every entry
links to its predecessor and that its content hash matches. The command
exits non-zero on the first broken link.

Examples:
  gatekeeper audit verify
  gatekeeper audit verify -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := audit.Verify(cmd.Context(), a.store)
		if err != nil {
			return err
		}
		return render(cmd, verifyView{res})
	},
}

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List activity entries",
	Long: `List activity entries in sequence order.

Examples:
  # The first 20 entries for acme
  gatekeeper audit log --org acme --limit 20

  # Export the whole log as CSV
  gatekeeper audit log -o csv > activity.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditFlags.limit < 0 {
			return &governance.InvalidArgumentError{Field: "limit", Message: "must not be negative"}
		}

		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.store.ListActivity(cmd.Context(), auditFlags.org, auditFlags.limit)
		if err != nil {
			return err
		}
		return render(cmd, activityList(entries))
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditLogCmd)

	auditLogCmd.Flags().StringVar(&auditFlags.org, "org", "", "organization id (empty lists all)")
	auditLogCmd.Flags().IntVar(&auditFlags.limit, "limit", 0, "maximum number of entries; zero lists all")
}
