package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/guardrail"
	"mercator-hq/gatekeeper/pkg/guardrail/source"
)

var guardrailFlags struct {
	org        string
	operator   string
	domain     string
	risk       string
	score      float64
	sandbox    bool
	proposalID string
	file       string
}

var guardrailCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Evaluate and validate guardrail rules",
}

var guardrailEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate guardrails for a hypothetical proposal",
	Long: `Evaluate the guardrail rules for an operator and proposal without
enqueueing anything.

Examples:
  # What happens when bob submits a high-risk financial change?
  gatekeeper guardrail evaluate --org acme --operator bob --domain financial --risk high

  # With an explicit reliability score, as JSON
  gatekeeper guardrail evaluate --org acme --operator bob --domain financial --risk low --score 42 -o json`,
	RunE: evaluateGuardrail,
}

var guardrailValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check guardrail rules for conflicts and unreachable rules",
	Long: `Check the active guardrail rules for contradictory actions on identical
conditions, rules shadowed by an earlier BLOCK, and duplicate condition sets.

The command exits non-zero when conflicts are found.

Examples:
  # Validate the configured rules for one organization
  gatekeeper guardrail validate --org acme

  # Validate a rules file or directory before committing it
  gatekeeper guardrail validate --file ./guardrails`,
	RunE: validateGuardrails,
}

func init() {
	rootCmd.AddCommand(guardrailCmd)
	guardrailCmd.AddCommand(guardrailEvaluateCmd, guardrailValidateCmd)

	f := guardrailEvaluateCmd.Flags()
	f.StringVar(&guardrailFlags.org, "org", "", "organization id (required)")
	f.StringVar(&guardrailFlags.operator, "operator", "", "operator id")
	f.StringVar(&guardrailFlags.domain, "domain", "", "proposal domain")
	f.StringVar(&guardrailFlags.risk, "risk", "low", "risk level: low, medium, high")
	f.Float64Var(&guardrailFlags.score, "score", -1, "operator reliability score (0-100); negative uses the directory")
	f.BoolVar(&guardrailFlags.sandbox, "sandbox", false, "evaluate for a sandbox run")
	f.StringVar(&guardrailFlags.proposalID, "proposal-id", "", "proposal id to record")
	_ = guardrailEvaluateCmd.MarkFlagRequired("org")
	_ = guardrailEvaluateCmd.RegisterFlagCompletionFunc("risk", completeValues(riskCompletions))

	guardrailValidateCmd.Flags().StringVar(&guardrailFlags.org, "org", "", "organization id (empty checks global rules)")
	guardrailValidateCmd.Flags().StringVar(&guardrailFlags.file, "file", "", "rules file or directory to validate instead of the configured source")
}

func evaluateGuardrail(cmd *cobra.Command, args []string) error {
	risk, err := governance.ParseRiskLevel(guardrailFlags.risk)
	if err != nil {
		return &governance.InvalidArgumentError{Field: "risk", Message: err.Error()}
	}

	a, err := setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	ec := guardrail.EvalContext{
		OperatorID: guardrailFlags.operator,
		OrgID:      guardrailFlags.org,
		Domain:     guardrailFlags.domain,
		RiskLevel:  risk,
		ProposalID: guardrailFlags.proposalID,
		Sandbox:    guardrailFlags.sandbox,
	}
	if guardrailFlags.score >= 0 {
		score := guardrailFlags.score
		ec.OperatorScore = &score
	}

	d, err := a.guardrail.Evaluate(cmd.Context(), ec)
	if err != nil {
		return err
	}
	return render(cmd, decisionView{d})
}

func validateGuardrails(cmd *cobra.Command, args []string) error {
	var report *guardrail.ValidationReport
	if guardrailFlags.file != "" {
		rs, err := source.NewFileSource(guardrailFlags.file, 0, nil).Load(cmd.Context())
		if err != nil {
			return err
		}
		report = guardrail.ValidateRuleSet(rs, guardrailFlags.org)
	} else {
		a, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err = a.guardrail.Validate(cmd.Context(), guardrailFlags.org)
		if err != nil {
			return err
		}
	}

	if err := render(cmd, reportView{report}); err != nil {
		return err
	}
	if !report.IsValid {
		return fmt.Errorf("guardrail validation found %d conflict(s)", len(report.Conflicts))
	}
	return nil
}
