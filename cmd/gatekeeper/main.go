// Gatekeeper gates automated agent actions behind human review.
//
// Proposed actions are evaluated against guardrail rules, routed into an
// approval queue, optionally decided by weighted operator votes, and
// resolved with a hash-chained audit trail.
//
// Usage:
//
//	# Start the expiry scheduler, rule watcher and metrics endpoint
//	gatekeeper run --config gatekeeper.yaml
//
//	# Submit a proposal for review
//	gatekeeper queue enqueue --org acme --operator bob --proposal-id p-1 --domain financial --risk high
//
//	# Cast a vote
//	gatekeeper vote cast <item-id> --voter alice --value approve
//
//	# Verify the audit chain
//	gatekeeper audit verify
package main

import (
	"fmt"
	"os"

	"mercator-hq/gatekeeper/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
