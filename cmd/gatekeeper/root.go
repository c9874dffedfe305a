package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - human review for automated agent actions",
	Long: `Gatekeeper gates automated agent actions behind human review.

Every proposal passes through:
  - Guardrail rules that allow, block, escalate or demand a quorum
  - An approval queue with assignment, escalation and expiry
  - Weighted operator voting with override and conflict detection
  - A hash-chained activity log`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := cli.ParseFormat(outputFormat)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "gatekeeper.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text, json, csv")
	_ = rootCmd.RegisterFlagCompletionFunc("format", completeValues(formatCompletions))
}

// render writes data to the command's output in the selected format.
func render(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
