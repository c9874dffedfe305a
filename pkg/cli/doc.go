/*
Package cli provides command-line helpers used by the gatekeeper command.

Output Formatting:

Results are written as text, JSON or CSV. Values implementing Tabular are
rendered as aligned columns in text mode and as rows in CSV mode; values
implementing TextRenderer control their own text form:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, items); err != nil {
		return err
	}

Exit Codes:

ExitCode maps governance errors to distinct process exit codes so scripts
can tell a missing item from a permission failure.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
