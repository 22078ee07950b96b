/*
Package cli provides command-line interface utilities for the turnstile command.

Output Formatting:

Command results implement Table to be rendered as aligned text or CSV, and
are marshaled as-is for JSON:

	formatter, err := cli.NewFormatter(cli.FormatText)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, report); err != nil {
		return err
	}

Progress Reporting:

Long exports report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr, "events")
	progress.Start(total)
	for written < total {
		// Write a page
		progress.Update(written)
	}
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for configuration
errors, 1 for everything else.
*/
package cli
